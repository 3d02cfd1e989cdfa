package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aquamarinepk/aqm"
	aqmevents "github.com/aquamarinepk/aqm/events"
	"github.com/aquamarinepk/aqm/middleware"

	"github.com/opentaverna/taverna/internal/classify"
	"github.com/opentaverna/taverna/internal/mongo"
	"github.com/opentaverna/taverna/internal/ordersrv"
	"github.com/opentaverna/taverna/pkg"
)

const (
	appNamespace = "ORDERSRV"
	appName      = "ordersrv"
	appVersion   = "0.1.0"
)

func main() {
	config, err := aqm.LoadConfig(appNamespace, os.Args[1:])
	if err != nil {
		log.Fatalf("Cannot setup %s(%s): %v", appName, appVersion, err)
	}

	logLevel, _ := config.GetString("log.level")
	logger := aqm.NewLogger(logLevel)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer stop()

	orderRepo := mongo.NewOrderRepo(config, logger)

	natsURL, _ := config.GetString("nats.url")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	var orderStream *pkg.NATSStream
	var streamConsumer aqmevents.StreamConsumer
	var publisher aqmevents.Publisher

	streamEnabled, _ := config.GetString("nats.stream.enabled")
	if streamEnabled == "true" {
		streamCfg := pkg.NATSStreamConfig{
			URL:          natsURL,
			StreamName:   pkg.OrderEventsStream,
			Topic:        pkg.OrderEventsTopic,
			ConsumerName: "ordersrv",
			MaxAge:       24 * time.Hour,
		}
		orderStream, err = pkg.NewNATSStream(streamCfg)
		if err != nil {
			log.Fatalf("Cannot connect to NATS stream: %v", err)
		}
		streamConsumer = orderStream
		publisher = orderStream
		logger.Info("NATS stream initialized for persistent order events")
	} else {
		corePublisher, err := pkg.NewNATSPublisher(natsURL)
		if err != nil {
			log.Fatalf("Cannot connect to NATS publisher: %v", err)
		}
		publisher = corePublisher
	}

	subscriber, err := pkg.NewNATSSubscriber(natsURL)
	if err != nil {
		log.Fatalf("Cannot connect to NATS subscriber: %v", err)
	}

	classifier := classify.New()
	menuSub := ordersrv.NewMenuSubscriber(subscriber, classifier, logger)

	store := ordersrv.NewStore(classifier, streamConsumer, publisher, orderRepo, logger)
	hub := ordersrv.NewHub(store, logger)
	store.SetBroadcaster(hub)
	handler := ordersrv.NewHandler(store, hub, config, logger)

	stack := middleware.DefaultStack(middleware.StackOptions{
		Logger: logger,
	})

	lifecycles := []interface{}{orderRepo, menuSub}

	// Warm after the repo is up so the MongoDB fallback can serve.
	warmLifecycle := aqm.LifecycleHooks{
		OnStart: func(ctx context.Context) error {
			if err := store.Warm(ctx); err != nil {
				logger.Info("failed to warm order store", "error", err)
			}
			return nil
		},
	}
	lifecycles = append(lifecycles, warmLifecycle)

	if orderStream != nil {
		streamLifecycle := aqm.LifecycleHooks{
			OnStop: func(context.Context) error { return orderStream.Close() },
		}
		lifecycles = append(lifecycles, streamLifecycle)
	}

	options := []aqm.Option{
		aqm.WithConfig(config),
		aqm.WithLogger(logger),
		aqm.WithHTTPMiddleware(stack...),
		aqm.WithHTTPServerModules("web.port", handler, hub),
		aqm.WithLifecycle(lifecycles...),
		aqm.WithHealthChecks(appName),
	}

	ms := aqm.NewMicro(options...)
	logger.Infof("Starting %s(%s)", appName, appVersion)

	if err := ms.Run(ctx); err != nil {
		log.Fatalf("%s(%s) stopped with error: %v", appName, appVersion, err)
	}

	logger.Infof("%s(%s) stopped", appName, appVersion)
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aquamarinepk/aqm"
	"github.com/aquamarinepk/aqm/middleware"

	"github.com/opentaverna/taverna/internal/aggregate"
	"github.com/opentaverna/taverna/internal/board"
	"github.com/opentaverna/taverna/internal/dispatch"
	"github.com/opentaverna/taverna/internal/menu"
	"github.com/opentaverna/taverna/internal/protocol"
	"github.com/opentaverna/taverna/internal/session"
	"github.com/opentaverna/taverna/internal/station"
	"github.com/opentaverna/taverna/pkg"
)

const (
	appNamespace = "STATION"
	appName      = "station"
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

	stationName, _ := config.GetString("station.name")
	if stationName == "" {
		stationName = protocol.CategoryKitchen
	}

	orderURL, _ := config.GetString("order.url")
	if orderURL == "" {
		orderURL = "http://localhost:8080"
	}

	wsURL, _ := config.GetString("order.ws.url")
	if wsURL == "" {
		wsURL = "ws://localhost:8080"
	}

	menuURL, _ := config.GetString("menu.url")

	routing := routingFor(stationName)
	reducer := station.NewReducer(stationName, routing, logger)
	reducer.OnNewOrder(func(item protocol.OrderItem) {
		logger.Info("new order", "station", stationName, "table", item.Table, "text", item.DisplayText())
	})

	menuClient := menu.NewClient(menuURL, logger)
	engine := aggregate.NewEngine(routing, menuClient)

	lifecycles := []interface{}{}

	// NATS is optional for a station; without it the menu cache just never
	// invalidates until restart.
	if natsURL, _ := config.GetString("nats.url"); natsURL != "" {
		subscriber, err := pkg.NewNATSSubscriber(natsURL)
		if err != nil {
			log.Fatalf("Cannot connect to NATS subscriber: %v", err)
		}
		lifecycles = append(lifecycles, menu.NewSubscriber(subscriber, menuClient, logger))
	}

	sess := session.Open(session.Config{
		Endpoint:  wsURL,
		Station:   stationName,
		Dialer:    session.WebsocketDialer{},
		OnMessage: reducer.Apply,
		OnResync: func(initial bool) {
			// The server pushes the authoritative init snapshot right after
			// the connect; nothing to request here.
			if initial {
				logger.Info("connected to order service", "station", stationName)
				return
			}
			logger.Info("reconnected, awaiting snapshot", "station", stationName)
		},
		Logger: logger,
	})

	orderClient := dispatch.NewClient(orderURL)
	dispatcher := dispatch.New(orderClient, sess, reducer, logger)

	handler := board.NewHandler(reducer, engine, dispatcher, sess, orderClient, logger)

	stack := middleware.DefaultStack(middleware.StackOptions{
		Logger: logger,
	})

	lifecycles = append(lifecycles, aqm.LifecycleHooks{
		OnStop: func(context.Context) error {
			sess.Close()
			return nil
		},
	})

	options := []aqm.Option{
		aqm.WithConfig(config),
		aqm.WithLogger(logger),
		aqm.WithHTTPMiddleware(stack...),
		aqm.WithHTTPServerModules("web.port", handler),
		aqm.WithLifecycle(lifecycles...),
		aqm.WithHealthChecks(appName),
	}

	ms := aqm.NewMicro(options...)
	logger.Infof("Starting %s(%s) for station %s", appName, appVersion, stationName)

	if err := ms.Run(ctx); err != nil {
		log.Fatalf("%s(%s) stopped with error: %v", appName, appVersion, err)
	}

	logger.Infof("%s(%s) stopped", appName, appVersion)
}

// routingFor maps a station name to the categories it displays. The waiter
// view sees everything.
func routingFor(name string) station.Routing {
	if name == "waiter" {
		return station.NewRouting(protocol.CategoryKitchen, protocol.CategoryGrill, protocol.CategoryDrinks)
	}
	return station.NewRouting(name)
}

package ordersrv

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aquamarinepk/aqm"
	"github.com/aquamarinepk/aqm/events"

	"github.com/opentaverna/taverna/internal/classify"
	"github.com/opentaverna/taverna/pkg"
)

// MenuSubscriber listens for menu changes and folds new item names into the
// classifier stem sets, so freshly added dishes route to the right station
// without a restart.
type MenuSubscriber struct {
	subscriber events.Subscriber
	classifier *classify.Classifier
	logger     aqm.Logger
}

func NewMenuSubscriber(subscriber events.Subscriber, classifier *classify.Classifier, logger aqm.Logger) *MenuSubscriber {
	return &MenuSubscriber{
		subscriber: subscriber,
		classifier: classifier,
		logger:     logger,
	}
}

func (s *MenuSubscriber) Start(ctx context.Context) error {
	if err := s.subscriber.Subscribe(ctx, pkg.MenuUpdatesTopic, s.handleEvent); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", pkg.MenuUpdatesTopic, err)
	}
	s.logger.Info("menu subscriber started", "topic", pkg.MenuUpdatesTopic)
	return nil
}

func (s *MenuSubscriber) handleEvent(ctx context.Context, msg []byte) error {
	var evt pkg.MenuUpdatedEvent
	if err := json.Unmarshal(msg, &evt); err != nil {
		s.logger.Errorf("Failed to unmarshal menu event: %v", err)
		return nil
	}

	if evt.Name == "" || evt.Category == "" {
		return nil
	}

	s.classifier.AddMenu([]classify.MenuEntry{{Name: evt.Name, Category: evt.Category}})
	s.logger.Info("classifier updated from menu", "name", evt.Name, "category", evt.Category)
	return nil
}

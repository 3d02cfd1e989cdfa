package menu

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aquamarinepk/aqm"
	"github.com/aquamarinepk/aqm/events"

	"github.com/opentaverna/taverna/pkg"
)

// Subscriber drops cached display names when the menu service announces a
// change, so the next aggregation fetches the fresh name.
type Subscriber struct {
	subscriber events.Subscriber
	client     *Client
	logger     aqm.Logger
}

func NewSubscriber(subscriber events.Subscriber, client *Client, logger aqm.Logger) *Subscriber {
	return &Subscriber{
		subscriber: subscriber,
		client:     client,
		logger:     logger,
	}
}

func (s *Subscriber) Start(ctx context.Context) error {
	if err := s.subscriber.Subscribe(ctx, pkg.MenuUpdatesTopic, s.handleEvent); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", pkg.MenuUpdatesTopic, err)
	}
	s.logger.Info("menu subscriber started", "topic", pkg.MenuUpdatesTopic)
	return nil
}

func (s *Subscriber) handleEvent(ctx context.Context, msg []byte) error {
	var evt pkg.MenuUpdatedEvent
	if err := json.Unmarshal(msg, &evt); err != nil {
		s.logger.Errorf("Failed to unmarshal menu event: %v", err)
		return nil
	}
	if evt.ID == "" {
		return nil
	}

	s.client.Forget(evt.ID)
	return nil
}

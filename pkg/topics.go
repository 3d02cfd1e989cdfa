package pkg

const (
	// OrderEventsTopic carries every order mutation as a wire frame; the
	// order service replays it on startup to rebuild table state.
	OrderEventsTopic = "orders.events"
	// OrderEventsStream is the JetStream stream name backing the topic.
	OrderEventsStream = "ORDER_EVENTS"
	// MenuUpdatesTopic announces menu item changes so consumers can drop
	// cached names and pick up new classification hints.
	MenuUpdatesTopic = "menu.updates"
)

// MenuUpdatedEvent is the payload on MenuUpdatesTopic.
type MenuUpdatedEvent struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

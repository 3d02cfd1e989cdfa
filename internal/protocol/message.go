package protocol

import (
	"encoding/json"
	"fmt"
)

// Actions pushed by the order service to station sessions. Unknown actions
// are ignored by clients (forward compatibility).
const (
	ActionInit           = "init"
	ActionNew            = "new"
	ActionUpdate         = "update"
	ActionDelete         = "delete"
	ActionMetaUpdate     = "meta_update"
	ActionTableFinalized = "table_finalized"
	ActionNotify         = "notify"
)

// Actions sent by station clients over the push channel.
const (
	ActionMarkDone      = "mark_done"
	ActionFinalizeTable = "finalize_table"
)

// Item statuses. Done and cancelled are terminal: once an item leaves
// pending it disappears from every active station view.
const (
	StatusPending   = "pending"
	StatusDone      = "done"
	StatusCancelled = "cancelled"
)

// Station categories used as routing keys.
const (
	CategoryKitchen = "kitchen"
	CategoryGrill   = "grill"
	CategoryDrinks  = "drinks"
)

// TableMeta is table-level context piggybacked on item messages.
type TableMeta struct {
	People *int `json:"people"`
	Bread  bool `json:"bread"`
}

// Message is one wire frame, JSON-encoded, one object per frame.
type Message struct {
	Action string      `json:"action"`
	Item   *OrderItem  `json:"item,omitempty"`
	ItemID string      `json:"item_id,omitempty"`
	Items  []OrderItem `json:"items,omitempty"`
	Meta   *TableMeta  `json:"meta,omitempty"`
	Table  *int        `json:"table,omitempty"`

	// Notify payload.
	Text string `json:"message,omitempty"`
	ID   string `json:"id,omitempty"`
}

// Decode parses a single inbound frame. Frames with no action are rejected
// so the session can drop them without touching reducer state.
func Decode(frame []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return Message{}, fmt.Errorf("cannot decode frame: %w", err)
	}
	if msg.Action == "" {
		return Message{}, fmt.Errorf("frame has no action")
	}
	return msg, nil
}

// Encode serializes an outbound frame.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("cannot encode frame: %w", err)
	}
	return data, nil
}

// MarkDone builds the outbound command a station sends to complete an item.
func MarkDone(itemID string) Message {
	return Message{Action: ActionMarkDone, ItemID: itemID}
}

// FinalizeTable builds the outbound command that closes out a table.
func FinalizeTable(table int) Message {
	return Message{Action: ActionFinalizeTable, Table: &table}
}

package protocol

import (
	"encoding/json"
	"time"
)

// OrderItem is one ordered unit of food or drink. The id is stable across
// reconnects; routing to stations is partitioned by Category.
type OrderItem struct {
	ID        string     `json:"id"`
	Table     int        `json:"table"`
	Category  string     `json:"category"`
	Status    string     `json:"status"`
	Text      string     `json:"text,omitempty"`
	MenuName  string     `json:"menu_name,omitempty"`
	Qty       *float64   `json:"qty,omitempty"`
	WeightKg  *float64   `json:"weight_kg,omitempty"`
	MenuID    string     `json:"menu_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	Meta      *TableMeta `json:"meta,omitempty"`
}

// Terminal reports whether the item left the pending state. Terminal items
// are removed from every active view, never archived client-side.
func (it OrderItem) Terminal() bool {
	return it.Status == StatusDone || it.Status == StatusCancelled
}

// DisplayText returns the canonical name when linked to a menu entry,
// the raw order line otherwise.
func (it OrderItem) DisplayText() string {
	if it.MenuName != "" {
		return it.MenuName
	}
	return it.Text
}

// Quantity is a tagged variant: an item is either count-based or
// weight-based, never both.
type Quantity struct {
	weight bool
	value  float64
}

func Count(n float64) Quantity { return Quantity{value: n} }

func Weight(kg float64) Quantity { return Quantity{weight: true, value: kg} }

func (q Quantity) IsWeight() bool { return q.weight }
func (q Quantity) Value() float64 { return q.value }

// Add sums two quantities of the same kind. Mixing kinds is a programming
// error; callers partition by kind before summing.
func (q Quantity) Add(other Quantity) Quantity {
	return Quantity{weight: q.weight, value: q.value + other.value}
}

// MarshalJSON renders the variant with its tag explicit.
func (q Quantity) MarshalJSON() ([]byte, error) {
	kind := "count"
	if q.weight {
		kind = "weight"
	}
	return json.Marshal(struct {
		Kind  string  `json:"kind"`
		Value float64 `json:"value"`
	}{kind, q.value})
}

package station

import (
	"sort"
	"sync"

	"github.com/aquamarinepk/aqm"

	"github.com/opentaverna/taverna/internal/protocol"
)

// TableOrder is the per-station view of one table: its pending items in
// chronological order plus the last meta snapshot received.
type TableOrder struct {
	Table int
	Items []protocol.OrderItem
	Meta  protocol.TableMeta
}

// Routing decides which item categories a station accepts.
type Routing struct {
	categories map[string]bool
}

// NewRouting builds a predicate accepting exactly the given categories.
func NewRouting(categories ...string) Routing {
	set := make(map[string]bool, len(categories))
	for _, c := range categories {
		set[c] = true
	}
	return Routing{categories: set}
}

// Accepts reports whether items with the given category belong to this
// station.
func (r Routing) Accepts(category string) bool {
	return r.categories[category]
}

// Reducer owns the canonical in-memory view of active tables for one
// station. All mutations funnel through a single mutex so inbound messages
// apply atomically and in order; nothing else holds a reference to the
// TableOrder instances it tracks.
type Reducer struct {
	mu       sync.Mutex
	station  string
	routing  Routing
	tables   map[int]*TableOrder
	selected map[string]bool
	logger   aqm.Logger

	// onNewOrder fires once per `new` item accepted by this station, after
	// the upsert. Used for the new-order notification side channel.
	onNewOrder func(protocol.OrderItem)
}

// NewReducer creates an empty reducer for a station key and its routing
// predicate.
func NewReducer(station string, routing Routing, logger aqm.Logger) *Reducer {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Reducer{
		station:  station,
		routing:  routing,
		tables:   make(map[int]*TableOrder),
		selected: make(map[string]bool),
		logger:   logger,
	}
}

// OnNewOrder registers the notification callback. Must be set before the
// reducer starts receiving messages.
func (r *Reducer) OnNewOrder(fn func(protocol.OrderItem)) {
	r.onNewOrder = fn
}

// Station returns the station key this reducer serves.
func (r *Reducer) Station() string {
	return r.station
}

// Apply routes one inbound protocol message to the matching mutation.
// Unknown actions are ignored. An update whose item reached a terminal
// status is a removal regardless of the action name.
func (r *Reducer) Apply(msg protocol.Message) {
	switch msg.Action {
	case protocol.ActionInit:
		// The init snapshot is authoritative: local state is replaced
		// wholesale, which reconciles optimistic removals after a reconnect.
		r.mu.Lock()
		r.tables = make(map[int]*TableOrder)
		r.mu.Unlock()
		for _, item := range msg.Items {
			if item.Meta == nil && msg.Meta != nil {
				meta := *msg.Meta
				item.Meta = &meta
			}
			r.Upsert(item)
		}
		r.pruneSelections()
	case protocol.ActionNew:
		if msg.Item == nil {
			return
		}
		item := *msg.Item
		if item.Meta == nil && msg.Meta != nil {
			item.Meta = msg.Meta
		}
		if r.Upsert(item) && r.onNewOrder != nil {
			r.onNewOrder(item)
		}
	case protocol.ActionUpdate:
		if msg.Item == nil {
			return
		}
		if msg.Item.Terminal() {
			r.Remove(msg.Item.ID)
			return
		}
		item := *msg.Item
		if item.Meta == nil && msg.Meta != nil {
			item.Meta = msg.Meta
		}
		r.Upsert(item)
	case protocol.ActionDelete:
		r.Remove(msg.ItemID)
	case protocol.ActionMetaUpdate:
		if msg.Table == nil || msg.Meta == nil {
			return
		}
		r.ApplyMetaUpdate(*msg.Table, *msg.Meta)
	case protocol.ActionTableFinalized:
		if msg.Table == nil {
			return
		}
		r.FinalizeTable(*msg.Table)
	default:
		r.logger.Info("ignoring unknown action", "station", r.station, "action", msg.Action)
	}
}

// Upsert inserts or merges one item into its table. Items routed to other
// stations are ignored. Replaying the same item is a no-op beyond the
// merge, which makes upsert idempotent. Returns whether the item was
// accepted.
func (r *Reducer) Upsert(item protocol.OrderItem) bool {
	if !r.routing.Accepts(item.Category) {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	to, ok := r.tables[item.Table]
	if !ok {
		to = &TableOrder{Table: item.Table}
		r.tables[item.Table] = to
	}

	// Table meta is last-writer-wins, replaced wholesale.
	if item.Meta != nil {
		to.Meta = *item.Meta
	}

	merged := false
	for i := range to.Items {
		if to.Items[i].ID == item.ID {
			to.Items[i] = mergeItem(to.Items[i], item)
			merged = true
			break
		}
	}
	if !merged {
		item.Meta = nil
		to.Items = append(to.Items, item)
	}

	sort.SliceStable(to.Items, func(i, j int) bool {
		return to.Items[i].CreatedAt.Before(to.Items[j].CreatedAt)
	})
	return true
}

// mergeItem shallow-merges an incoming item over an existing one: fields
// present on the update win, unspecified fields are retained.
func mergeItem(old, in protocol.OrderItem) protocol.OrderItem {
	out := old
	if in.Status != "" {
		out.Status = in.Status
	}
	if in.Category != "" {
		out.Category = in.Category
	}
	if in.Text != "" {
		out.Text = in.Text
	}
	if in.MenuName != "" {
		out.MenuName = in.MenuName
	}
	if in.MenuID != "" {
		out.MenuID = in.MenuID
	}
	if in.Qty != nil {
		out.Qty = in.Qty
	}
	if in.WeightKg != nil {
		out.WeightKg = in.WeightKg
	}
	if !in.CreatedAt.IsZero() {
		out.CreatedAt = in.CreatedAt
	}
	if in.Table != 0 {
		out.Table = in.Table
	}
	return out
}

// Remove strips the item from whichever table holds it and deletes the
// table once its sequence is empty. Unknown ids are a no-op. Any pending
// selection marker for the id is cleared.
func (r *Reducer) Remove(itemID string) {
	if itemID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.selected, itemID)

	for table, to := range r.tables {
		for i := range to.Items {
			if to.Items[i].ID != itemID {
				continue
			}
			to.Items = append(to.Items[:i], to.Items[i+1:]...)
			if len(to.Items) == 0 {
				delete(r.tables, table)
			}
			return
		}
	}
}

// ApplyMetaUpdate replaces a table's meta only when the table is already
// tracked. A meta ping alone never creates a table entry.
func (r *Reducer) ApplyMetaUpdate(table int, meta protocol.TableMeta) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if to, ok := r.tables[table]; ok {
		to.Meta = meta
	}
}

// FinalizeTable deletes the table outright and prunes selection markers
// that no longer reference a live item anywhere in the station's state.
func (r *Reducer) FinalizeTable(table int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.tables, table)
	r.pruneSelectionsLocked()
}

// pruneSelections drops selection markers that no longer reference a live
// item anywhere in the station's state.
func (r *Reducer) pruneSelections() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneSelectionsLocked()
}

func (r *Reducer) pruneSelectionsLocked() {
	live := make(map[string]bool)
	for _, to := range r.tables {
		for _, item := range to.Items {
			live[item.ID] = true
		}
	}
	for id := range r.selected {
		if !live[id] {
			delete(r.selected, id)
		}
	}
}

// ToggleSelection flips the local mark-for-completion flag on an item id.
// Selection is display state only; it survives upserts but is pruned when
// the item or its table goes away.
func (r *Reducer) ToggleSelection(itemID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.selected[itemID] {
		delete(r.selected, itemID)
		return
	}
	r.selected[itemID] = true
}

// Selected returns the currently marked item ids in table order.
func (r *Reducer) Selected() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for _, to := range r.snapshotLocked() {
		for _, item := range to.Items {
			if r.selected[item.ID] {
				ids = append(ids, item.ID)
			}
		}
	}
	return ids
}

// IsSelected reports whether the id carries a selection marker.
func (r *Reducer) IsSelected(itemID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selected[itemID]
}

// Snapshot copies the current table state, ordered by table number. The
// aggregation engine derives its rows from this copy, never from the live
// maps.
func (r *Reducer) Snapshot() []TableOrder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Reducer) snapshotLocked() []TableOrder {
	out := make([]TableOrder, 0, len(r.tables))
	for _, to := range r.tables {
		copied := TableOrder{Table: to.Table, Meta: to.Meta}
		copied.Items = append([]protocol.OrderItem(nil), to.Items...)
		out = append(out, copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Table < out[j].Table })
	return out
}

// TableCount returns the number of tracked tables.
func (r *Reducer) TableCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tables)
}

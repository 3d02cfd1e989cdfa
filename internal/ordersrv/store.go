// Package ordersrv is the order service: it owns table state, appends every
// mutation to a persistent event stream, archives items in MongoDB and fans
// state changes out to station sessions.
package ordersrv

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/aquamarinepk/aqm/events"
	"github.com/google/uuid"

	"github.com/opentaverna/taverna/internal/classify"
	"github.com/opentaverna/taverna/internal/greek"
	"github.com/opentaverna/taverna/internal/protocol"
	"github.com/opentaverna/taverna/pkg"
)

// Archive is the MongoDB-backed history the store falls back to when the
// event stream is unavailable on warm-up.
type Archive interface {
	Save(ctx context.Context, item *protocol.OrderItem, meta *protocol.TableMeta) error
	SetTableMeta(ctx context.Context, table int, meta protocol.TableMeta) error
	ListAll(ctx context.Context) ([]protocol.OrderItem, error)
	DeleteTable(ctx context.Context, table int) error
}

// Broadcaster pushes wire frames to connected station sessions.
type Broadcaster interface {
	// BroadcastItem delivers a frame to the item's station and to waiters.
	BroadcastItem(msg protocol.Message, category string)
	// BroadcastAll delivers a frame to every connected session.
	BroadcastAll(msg protocol.Message)
}

// Store maintains the in-memory order state for every open table. It is the
// source of truth while the service runs; the stream and the archive exist
// to survive restarts.
type Store struct {
	mu     sync.RWMutex
	tables map[int][]*protocol.OrderItem
	byID   map[string]*protocol.OrderItem
	meta   map[int]protocol.TableMeta

	classifier *classify.Classifier
	stream     events.StreamConsumer
	publisher  events.Publisher
	archive    Archive
	logger     aqm.Logger

	broadcaster Broadcaster

	now   func() time.Time
	newID func() string
}

// NewStore creates a store. Stream, publisher and archive may be nil; the
// store then runs memory-only.
func NewStore(classifier *classify.Classifier, stream events.StreamConsumer, publisher events.Publisher, archive Archive, logger aqm.Logger) *Store {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	if classifier == nil {
		classifier = classify.New()
	}
	return &Store{
		tables:     make(map[int][]*protocol.OrderItem),
		byID:       make(map[string]*protocol.OrderItem),
		meta:       make(map[int]protocol.TableMeta),
		classifier: classifier,
		stream:     stream,
		publisher:  publisher,
		archive:    archive,
		logger:     logger,
		now:        time.Now,
		newID:      func() string { return uuid.NewString() },
	}
}

// SetBroadcaster wires the websocket hub (called after initialization).
func (s *Store) SetBroadcaster(b Broadcaster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcaster = b
}

// Warm rebuilds table state by replaying the event stream, falling back to
// the MongoDB archive when the stream is unavailable.
func (s *Store) Warm(ctx context.Context) error {
	if s.stream != nil {
		if err := s.warmFromStream(ctx); err != nil {
			s.logger.Info("stream replay failed, falling back to MongoDB", "error", err)
		} else {
			return nil
		}
	}

	if s.archive == nil {
		s.logger.Info("neither stream nor archive configured, store starts empty")
		return nil
	}

	return s.warmFromArchive(ctx)
}

func (s *Store) warmFromStream(ctx context.Context) error {
	// Stream implementations may panic on half-configured connections.
	defer func() {
		if r := recover(); r != nil {
			s.logger.Info("stream panic recovered, falling back to MongoDB", "panic", r)
		}
	}()

	s.logger.Info("warming store from event stream")

	messages, err := s.stream.Fetch(ctx, 10000)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range messages {
		frame, err := protocol.Decode(msg.Data)
		if err != nil {
			s.logger.Error("skipping malformed stream frame", "error", err)
			continue
		}
		s.applyFrameLocked(frame)
	}

	s.logger.Info("store warmed from stream", "tables", len(s.tables), "items", len(s.byID))
	return nil
}

func (s *Store) warmFromArchive(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Info("MongoDB panic recovered, store starts empty", "panic", r)
			err = nil
		}
	}()

	s.logger.Info("warming store from MongoDB")

	items, dbErr := s.archive.ListAll(ctx)
	if dbErr != nil {
		s.logger.Info("cannot warm store from MongoDB, store starts empty", "error", dbErr)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range items {
		item := items[i]
		if item.Meta != nil {
			s.meta[item.Table] = *item.Meta
		}
		item.Meta = nil
		s.insertLocked(&item)
	}

	s.logger.Info("store warmed from MongoDB", "count", len(items))
	return nil
}

// applyFrameLocked replays one stream frame. Must hold s.mu.
func (s *Store) applyFrameLocked(frame protocol.Message) {
	switch frame.Action {
	case protocol.ActionNew:
		if frame.Item == nil {
			return
		}
		item := *frame.Item
		if item.Meta != nil {
			s.meta[item.Table] = *item.Meta
			item.Meta = nil
		}
		s.insertLocked(&item)
	case protocol.ActionUpdate:
		if frame.Item == nil {
			return
		}
		if existing := s.byID[frame.Item.ID]; existing != nil {
			existing.Status = frame.Item.Status
		}
	case protocol.ActionMetaUpdate:
		if frame.Table != nil && frame.Meta != nil {
			s.meta[*frame.Table] = *frame.Meta
		}
	case protocol.ActionTableFinalized:
		if frame.Table != nil {
			s.dropTableLocked(*frame.Table)
		}
	default:
		// Unknown frames are skipped (forward compatibility).
	}
}

// insertLocked adds or replaces an item, keeping the table slice
// chronological. Replays of the same frame stay idempotent.
func (s *Store) insertLocked(item *protocol.OrderItem) {
	if existing := s.byID[item.ID]; existing != nil {
		*existing = *item
		s.byID[item.ID] = existing
		return
	}
	s.byID[item.ID] = item
	list := append(s.tables[item.Table], item)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	s.tables[item.Table] = list
}

func (s *Store) dropTableLocked(table int) {
	for _, item := range s.tables[table] {
		delete(s.byID, item.ID)
	}
	delete(s.tables, table)
	delete(s.meta, table)
}

// CreateOrder classifies free-text order lines, creates one pending item per
// line and pushes new-item frames to stations.
func (s *Store) CreateOrder(ctx context.Context, table int, orderText string, people *int, bread bool) ([]protocol.OrderItem, error) {
	lines := s.classifier.Classify(orderText)
	if len(lines) == 0 {
		return nil, fmt.Errorf("order text has no lines")
	}

	meta := protocol.TableMeta{People: people, Bread: bread}

	s.mu.Lock()
	metaChanged := !metaEqual(s.meta[table], meta)
	s.meta[table] = meta

	created := make([]protocol.OrderItem, 0, len(lines))
	for _, line := range lines {
		item := s.buildItemLocked(table, line)
		s.insertLocked(item)
		created = append(created, *item)
	}
	s.mu.Unlock()

	if metaChanged {
		s.emitMetaUpdate(ctx, table, meta)
	}
	for i := range created {
		s.emitItem(ctx, protocol.ActionNew, created[i], &meta)
	}
	return created, nil
}

// buildItemLocked turns one classified line into a pending item, parsing the
// quantity prefix into count or weight.
func (s *Store) buildItemLocked(table int, line classify.Classified) *protocol.OrderItem {
	item := &protocol.OrderItem{
		ID:        s.newID(),
		Table:     table,
		Category:  line.Category,
		Status:    protocol.StatusPending,
		Text:      line.Text,
		CreatedAt: s.now(),
	}

	parsed := greek.ParseLine(line.Text)
	if parsed.HasQty {
		if greek.IsWeightUnit(parsed.Unit) {
			kg := parsed.Qty
			item.WeightKg = &kg
		} else {
			qty := parsed.Multiplier
			item.Qty = &qty
		}
	}
	return item
}

// ReplaceOrder swaps a table's active order for new text. Pending items whose
// normalized text and category match a new line are kept; unmatched pending
// items are cancelled; the rest of the new lines become fresh items. Done
// items are never touched.
func (s *Store) ReplaceOrder(ctx context.Context, table int, orderText string, people *int, bread bool) (created, cancelled []protocol.OrderItem, err error) {
	lines := s.classifier.Classify(orderText)
	meta := protocol.TableMeta{People: people, Bread: bread}

	s.mu.Lock()
	metaChanged := !metaEqual(s.meta[table], meta)
	s.meta[table] = meta

	type key struct {
		text     string
		category string
	}

	remaining := make(map[key]int, len(lines))
	for _, line := range lines {
		remaining[key{greek.Normalize(line.Text), line.Category}]++
	}

	for _, item := range s.tables[table] {
		if item.Status != protocol.StatusPending {
			continue
		}
		k := key{greek.Normalize(item.Text), item.Category}
		if remaining[k] > 0 {
			remaining[k]--
			continue
		}
		item.Status = protocol.StatusCancelled
		cancelled = append(cancelled, *item)
	}

	for _, line := range lines {
		k := key{greek.Normalize(line.Text), line.Category}
		if remaining[k] <= 0 {
			continue
		}
		remaining[k]--
		item := s.buildItemLocked(table, line)
		s.insertLocked(item)
		created = append(created, *item)
	}
	s.mu.Unlock()

	if metaChanged {
		s.emitMetaUpdate(ctx, table, meta)
	}
	for i := range cancelled {
		s.emitItem(ctx, protocol.ActionUpdate, cancelled[i], nil)
	}
	for i := range created {
		s.emitItem(ctx, protocol.ActionNew, created[i], &meta)
	}
	return created, cancelled, nil
}

// MarkDone completes a pending item. Completing an already-terminal item is
// a no-op so retried commands stay idempotent.
func (s *Store) MarkDone(ctx context.Context, itemID string) (*protocol.OrderItem, error) {
	s.mu.Lock()
	item := s.byID[itemID]
	if item == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("item %s not found", itemID)
	}
	if item.Terminal() {
		snapshot := *item
		s.mu.Unlock()
		return &snapshot, nil
	}
	item.Status = protocol.StatusDone
	snapshot := *item
	s.mu.Unlock()

	s.emitItem(ctx, protocol.ActionUpdate, snapshot, nil)
	return &snapshot, nil
}

// CancelItem cancels a pending item on a table.
func (s *Store) CancelItem(ctx context.Context, table int, itemID string) error {
	s.mu.Lock()
	item := s.byID[itemID]
	if item == nil || item.Table != table {
		s.mu.Unlock()
		return fmt.Errorf("item %s not found on table %d", itemID, table)
	}
	if item.Terminal() {
		s.mu.Unlock()
		return nil
	}
	item.Status = protocol.StatusCancelled
	snapshot := *item
	s.mu.Unlock()

	s.emitItem(ctx, protocol.ActionUpdate, snapshot, nil)
	return nil
}

// FinalizeTable closes out a table: refused while pending items remain,
// otherwise the table and its history are dropped everywhere.
func (s *Store) FinalizeTable(ctx context.Context, table int) error {
	s.mu.Lock()
	items, ok := s.tables[table]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("table %d not found", table)
	}
	for _, item := range items {
		if item.Status == protocol.StatusPending {
			s.mu.Unlock()
			return fmt.Errorf("table %d still has pending items", table)
		}
	}
	s.dropTableLocked(table)
	s.mu.Unlock()

	frame := protocol.Message{Action: protocol.ActionTableFinalized, Table: &table}
	s.appendFrame(ctx, frame)
	if s.archive != nil {
		if err := s.archive.DeleteTable(ctx, table); err != nil {
			s.logger.Errorf("cannot drop archived table %d: %v", table, err)
		}
	}
	if b := s.currentBroadcaster(); b != nil {
		b.BroadcastAll(frame)
	}
	return nil
}

// PurgeDone removes terminal items from memory. The archive keeps them.
func (s *Store) PurgeDone() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int
	for table, items := range s.tables {
		kept := items[:0]
		for _, item := range items {
			if item.Terminal() {
				delete(s.byID, item.ID)
				removed++
				continue
			}
			kept = append(kept, item)
		}
		if len(kept) == 0 {
			delete(s.tables, table)
			delete(s.meta, table)
			continue
		}
		s.tables[table] = kept
	}
	return removed
}

// TableState is the waiter-facing view of one open table.
type TableState struct {
	Table int                  `json:"table"`
	Items []protocol.OrderItem `json:"items"`
	Meta  protocol.TableMeta   `json:"meta"`
}

// Tables returns every open table. With history included, terminal items
// show up too; otherwise only pending ones.
func (s *Store) Tables(includeHistory bool) []TableState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TableState, 0, len(s.tables))
	for table, items := range s.tables {
		state := TableState{Table: table, Meta: s.meta[table], Items: []protocol.OrderItem{}}
		for _, item := range items {
			if !includeHistory && item.Status != protocol.StatusPending {
				continue
			}
			state.Items = append(state.Items, *item)
		}
		if len(state.Items) == 0 && !includeHistory {
			continue
		}
		out = append(out, state)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Table < out[j].Table })
	return out
}

// PendingForStation returns pending items routed to the given categories in
// chronological order, each stamped with its table's meta. An empty category
// list means every category (the waiter view).
func (s *Store) PendingForStation(categories ...string) []protocol.OrderItem {
	accepts := func(string) bool { return true }
	if len(categories) > 0 {
		set := make(map[string]bool, len(categories))
		for _, c := range categories {
			set[c] = true
		}
		accepts = func(c string) bool { return set[c] }
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []protocol.OrderItem
	for table, items := range s.tables {
		meta := s.meta[table]
		for _, item := range items {
			if item.Status != protocol.StatusPending || !accepts(item.Category) {
				continue
			}
			copied := *item
			m := meta
			copied.Meta = &m
			out = append(out, copied)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Table < out[j].Table
	})
	return out
}

// MetaFor returns a table's metadata.
func (s *Store) MetaFor(table int) (protocol.TableMeta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.meta[table]
	if !ok {
		_, ok = s.tables[table]
	}
	return meta, ok
}

// SetMeta updates a table's metadata and pushes the change to every session.
func (s *Store) SetMeta(ctx context.Context, table int, meta protocol.TableMeta) {
	s.mu.Lock()
	changed := !metaEqual(s.meta[table], meta)
	s.meta[table] = meta
	s.mu.Unlock()

	if changed {
		s.emitMetaUpdate(ctx, table, meta)
	}
}

// ItemByID returns a snapshot of one item.
func (s *Store) ItemByID(itemID string) (protocol.OrderItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item := s.byID[itemID]
	if item == nil {
		return protocol.OrderItem{}, false
	}
	return *item, true
}

func (s *Store) currentBroadcaster() Broadcaster {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.broadcaster
}

// emitItem appends the frame to the event stream, archives the item and
// fans the frame out to sessions. Stream and archive failures are logged,
// never propagated; the in-memory state already changed.
func (s *Store) emitItem(ctx context.Context, action string, item protocol.OrderItem, meta *protocol.TableMeta) {
	withMeta := item
	withMeta.Meta = meta
	frame := protocol.Message{Action: action, Item: &withMeta}
	s.appendFrame(ctx, frame)

	if s.archive != nil {
		if err := s.archive.Save(ctx, &item, meta); err != nil {
			s.logger.Errorf("cannot archive item %s: %v", item.ID, err)
		}
	}

	if b := s.currentBroadcaster(); b != nil {
		b.BroadcastItem(frame, item.Category)
	}
}

func (s *Store) emitMetaUpdate(ctx context.Context, table int, meta protocol.TableMeta) {
	m := meta
	frame := protocol.Message{Action: protocol.ActionMetaUpdate, Table: &table, Meta: &m}
	s.appendFrame(ctx, frame)

	if s.archive != nil {
		if err := s.archive.SetTableMeta(ctx, table, meta); err != nil {
			s.logger.Errorf("cannot archive meta for table %d: %v", table, err)
		}
	}

	if b := s.currentBroadcaster(); b != nil {
		b.BroadcastAll(frame)
	}
}

func (s *Store) appendFrame(ctx context.Context, frame protocol.Message) {
	if s.publisher == nil {
		return
	}
	data, err := protocol.Encode(frame)
	if err != nil {
		s.logger.Errorf("cannot encode stream frame: %v", err)
		return
	}
	if err := s.publisher.Publish(ctx, pkg.OrderEventsTopic, data); err != nil {
		s.logger.Errorf("cannot append frame to stream: %v", err)
	}
}

// metaEqual compares metadata by value; People is a pointer on the wire.
func metaEqual(a, b protocol.TableMeta) bool {
	if a.Bread != b.Bread {
		return false
	}
	if (a.People == nil) != (b.People == nil) {
		return false
	}
	return a.People == nil || *a.People == *b.People
}

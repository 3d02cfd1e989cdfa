package ordersrv

import (
	"context"
	"sync"
	"testing"

	"github.com/aquamarinepk/aqm/events"

	"github.com/opentaverna/taverna/internal/protocol"
)

// MockStreamConsumer is a test mock for events.StreamConsumer.
type MockStreamConsumer struct {
	messages  []events.StreamMessage
	FetchFunc func(ctx context.Context, maxMessages int) ([]events.StreamMessage, error)
}

func NewMockStreamConsumer() *MockStreamConsumer {
	return &MockStreamConsumer{
		messages: make([]events.StreamMessage, 0),
	}
}

func (m *MockStreamConsumer) Fetch(ctx context.Context, maxMessages int) ([]events.StreamMessage, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, maxMessages)
	}
	return m.messages, nil
}

func (m *MockStreamConsumer) SubscribeStream(ctx context.Context, handler events.HandlerFunc) error {
	return nil
}

func (m *MockStreamConsumer) AddMessage(data []byte) {
	m.messages = append(m.messages, events.StreamMessage{Data: data})
}

func (m *MockStreamConsumer) AddFrame(frame protocol.Message) {
	data, err := protocol.Encode(frame)
	if err != nil {
		panic(err)
	}
	m.AddMessage(data)
}

// MockPublisher records published frames.
type MockPublisher struct {
	mu        sync.Mutex
	Published []PublishedEvent
}

type PublishedEvent struct {
	Topic string
	Data  []byte
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{Published: make([]PublishedEvent, 0)}
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Published = append(m.Published, PublishedEvent{Topic: topic, Data: data})
	return nil
}

func (m *MockPublisher) Frames() []protocol.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	frames := make([]protocol.Message, 0, len(m.Published))
	for _, e := range m.Published {
		frame, err := protocol.Decode(e.Data)
		if err != nil {
			continue
		}
		frames = append(frames, frame)
	}
	return frames
}

// MockArchive is a test mock for Archive.
type MockArchive struct {
	mu      sync.Mutex
	Saved   []protocol.OrderItem
	Deleted []int
	Items   []protocol.OrderItem
	ListErr error
}

func NewMockArchive() *MockArchive {
	return &MockArchive{}
}

func (m *MockArchive) Save(ctx context.Context, item *protocol.OrderItem, meta *protocol.TableMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *item
	copied.Meta = meta
	m.Saved = append(m.Saved, copied)
	return nil
}

func (m *MockArchive) SetTableMeta(ctx context.Context, table int, meta protocol.TableMeta) error {
	return nil
}

func (m *MockArchive) ListAll(ctx context.Context) ([]protocol.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	return append([]protocol.OrderItem(nil), m.Items...), nil
}

func (m *MockArchive) DeleteTable(ctx context.Context, table int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deleted = append(m.Deleted, table)
	return nil
}

// MockSubscriber captures the registered handler so tests can inject events.
type MockSubscriber struct {
	Topic   string
	handler events.HandlerFunc
}

func NewMockSubscriber() *MockSubscriber {
	return &MockSubscriber{}
}

func (m *MockSubscriber) Subscribe(ctx context.Context, topic string, handler events.HandlerFunc) error {
	m.Topic = topic
	m.handler = handler
	return nil
}

func (m *MockSubscriber) Deliver(t testing.TB, payload string) {
	t.Helper()
	if m.handler == nil {
		t.Fatal("no handler registered")
	}
	if err := m.handler(context.Background(), []byte(payload)); err != nil {
		t.Fatalf("handler returned %v", err)
	}
}

// MockBroadcaster records fan-out frames.
type MockBroadcaster struct {
	mu       sync.Mutex
	ItemMsgs []BroadcastRecord
	AllMsgs  []protocol.Message
}

type BroadcastRecord struct {
	Msg      protocol.Message
	Category string
}

func NewMockBroadcaster() *MockBroadcaster {
	return &MockBroadcaster{}
}

func (m *MockBroadcaster) BroadcastItem(msg protocol.Message, category string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ItemMsgs = append(m.ItemMsgs, BroadcastRecord{Msg: msg, Category: category})
}

func (m *MockBroadcaster) BroadcastAll(msg protocol.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AllMsgs = append(m.AllMsgs, msg)
}

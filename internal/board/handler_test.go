package board

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/go-chi/chi/v5"

	"github.com/opentaverna/taverna/internal/aggregate"
	"github.com/opentaverna/taverna/internal/dispatch"
	"github.com/opentaverna/taverna/internal/protocol"
	"github.com/opentaverna/taverna/internal/station"
)

type mockOrderAPI struct {
	err    error
	marked []string
}

func (m *mockOrderAPI) MarkItemDone(ctx context.Context, itemID string) error {
	m.marked = append(m.marked, itemID)
	return m.err
}

type mockSender struct {
	err  error
	sent []protocol.Message
}

func (m *mockSender) Send(msg protocol.Message) error {
	m.sent = append(m.sent, msg)
	return m.err
}

type mockOrderWriter struct {
	err       error
	submitted []dispatch.SubmitOrderRequest
	replaced  []dispatch.SubmitOrderRequest
}

func (m *mockOrderWriter) SubmitOrder(ctx context.Context, in dispatch.SubmitOrderRequest) (*dispatch.SubmitOrderResponse, error) {
	m.submitted = append(m.submitted, in)
	if m.err != nil {
		return nil, m.err
	}
	return &dispatch.SubmitOrderResponse{Status: "created"}, nil
}

func (m *mockOrderWriter) ReplaceOrder(ctx context.Context, in dispatch.SubmitOrderRequest) error {
	m.replaced = append(m.replaced, in)
	return m.err
}

type handlerFixture struct {
	handler *Handler
	reducer *station.Reducer
	api     *mockOrderAPI
	sender  *mockSender
	writer  *mockOrderWriter
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	routing := station.NewRouting(protocol.CategoryKitchen)
	reducer := station.NewReducer(protocol.CategoryKitchen, routing, aqm.NewNoopLogger())
	engine := aggregate.NewEngine(routing, nil)
	api := &mockOrderAPI{}
	sender := &mockSender{}
	writer := &mockOrderWriter{}
	dispatcher := dispatch.New(api, sender, reducer, aqm.NewNoopLogger())

	return &handlerFixture{
		handler: NewHandler(reducer, engine, dispatcher, sender, writer, aqm.NewNoopLogger()),
		reducer: reducer,
		api:     api,
		sender:  sender,
		writer:  writer,
	}
}

func (f *handlerFixture) serve(method, path, body string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	f.handler.RegisterRoutes(r)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func (f *handlerFixture) seed(ids ...string) {
	for i, id := range ids {
		f.reducer.Upsert(protocol.OrderItem{
			ID:        id,
			Table:     3,
			Category:  protocol.CategoryKitchen,
			Status:    protocol.StatusPending,
			Text:      "σαλάτα",
			CreatedAt: time.Date(2026, 8, 1, 12, 0, i, 0, time.UTC),
		})
	}
}

func TestBoardIncludesTablesAndTotals(t *testing.T) {
	f := newHandlerFixture(t)
	f.seed("a", "b")
	f.reducer.ToggleSelection("a")

	rec := f.serve(http.MethodGet, "/board", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	body := rec.Body.String()
	if !strings.Contains(body, `"station":"kitchen"`) {
		t.Errorf("board missing station key: %s", body)
	}
	if !strings.Contains(body, `"selected":true`) {
		t.Errorf("board missing selection marker: %s", body)
	}
	if !strings.Contains(body, `"totals"`) {
		t.Errorf("board missing totals: %s", body)
	}
}

func TestToggleSelectionEndpoint(t *testing.T) {
	f := newHandlerFixture(t)
	f.seed("a")

	rec := f.serve(http.MethodPost, "/items/a/select", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !f.reducer.IsSelected("a") {
		t.Error("selection not applied")
	}

	f.serve(http.MethodPost, "/items/a/select", "")
	if f.reducer.IsSelected("a") {
		t.Error("second toggle did not clear the selection")
	}
}

func TestConfirmItemEndpoint(t *testing.T) {
	f := newHandlerFixture(t)
	f.seed("a")

	rec := f.serve(http.MethodPost, "/items/a/done", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(f.api.marked) != 1 || f.api.marked[0] != "a" {
		t.Errorf("api calls = %v, want [a]", f.api.marked)
	}
	if f.reducer.TableCount() != 0 {
		t.Error("item not removed locally")
	}
}

func TestConfirmSelectedEndpoint(t *testing.T) {
	f := newHandlerFixture(t)
	f.seed("a", "b")
	f.reducer.ToggleSelection("b")

	rec := f.serve(http.MethodPost, "/confirm", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(f.api.marked) != 1 || f.api.marked[0] != "b" {
		t.Errorf("api calls = %v, want [b]", f.api.marked)
	}
}

func TestFinalizeTableGoesOverPushChannel(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.serve(http.MethodPost, "/tables/3/finalize", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if len(f.sender.sent) != 1 || f.sender.sent[0].Action != protocol.ActionFinalizeTable {
		t.Errorf("sent = %+v, want one finalize_table", f.sender.sent)
	}
}

func TestFinalizeTableClosedChannel(t *testing.T) {
	f := newHandlerFixture(t)
	f.sender.err = errors.New("session closed")

	rec := f.serve(http.MethodPost, "/tables/3/finalize", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestSubmitOrderForwards(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.serve(http.MethodPost, "/orders", `{"table":3,"order_text":"2 μπύρες","people":4}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if len(f.writer.submitted) != 1 || f.writer.submitted[0].Table != 3 {
		t.Errorf("submitted = %+v", f.writer.submitted)
	}
}

func TestSubmitOrderValidation(t *testing.T) {
	f := newHandlerFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{"badJSON", `{`},
		{"zeroTable", `{"table":0,"order_text":"σαλάτα"}`},
		{"emptyText", `{"table":3,"order_text":""}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.serve(http.MethodPost, "/orders", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
	if len(f.writer.submitted) != 0 {
		t.Errorf("invalid payloads reached the order service: %+v", f.writer.submitted)
	}
}

func TestSubmitOrderServiceDown(t *testing.T) {
	f := newHandlerFixture(t)
	f.writer.err = errors.New("connection refused")

	rec := f.serve(http.MethodPost, "/orders", `{"table":3,"order_text":"σαλάτα"}`)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestReplaceOrderUsesTableFromPath(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.serve(http.MethodPut, "/orders/7", `{"order_text":"σούπα"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if len(f.writer.replaced) != 1 || f.writer.replaced[0].Table != 7 {
		t.Errorf("replaced = %+v, want table 7", f.writer.replaced)
	}
}

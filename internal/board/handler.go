// Package board is the HTTP surface of one station display: the per-table
// board, the aggregated prep list and the waiter's order entry.
package board

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/aquamarinepk/aqm"
	"github.com/aquamarinepk/aqm/telemetry"
	"github.com/go-chi/chi/v5"

	"github.com/opentaverna/taverna/internal/aggregate"
	"github.com/opentaverna/taverna/internal/dispatch"
	"github.com/opentaverna/taverna/internal/protocol"
	"github.com/opentaverna/taverna/internal/station"
)

// OrderWriter submits and replaces table orders on the waiter's behalf.
type OrderWriter interface {
	SubmitOrder(ctx context.Context, in dispatch.SubmitOrderRequest) (*dispatch.SubmitOrderResponse, error)
	ReplaceOrder(ctx context.Context, in dispatch.SubmitOrderRequest) error
}

// Handler serves the board UI of one station display: the per-table view,
// the aggregated prep list, the selection/confirm actions and, for the
// waiter view, order entry.
type Handler struct {
	reducer    *station.Reducer
	engine     *aggregate.Engine
	dispatcher *dispatch.Dispatcher
	sender     dispatch.Sender
	orders     OrderWriter
	logger     aqm.Logger
	tlm        *telemetry.HTTP
}

func NewHandler(reducer *station.Reducer, engine *aggregate.Engine, dispatcher *dispatch.Dispatcher, sender dispatch.Sender, orders OrderWriter, logger aqm.Logger) *Handler {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Handler{
		reducer:    reducer,
		engine:     engine,
		dispatcher: dispatcher,
		sender:     sender,
		orders:     orders,
		logger:     logger,
		tlm:        telemetry.NewHTTP(),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/board", h.GetBoard)
	r.Post("/items/{item_id}/select", h.ToggleSelection)
	r.Post("/items/{item_id}/done", h.ConfirmItem)
	r.Post("/confirm", h.ConfirmSelected)
	r.Post("/tables/{table}/finalize", h.FinalizeTable)
	r.Post("/orders", h.SubmitOrder)
	r.Put("/orders/{table}", h.ReplaceOrder)
}

func (h *Handler) log(r *http.Request) aqm.Logger {
	return h.logger.With("request_id", aqm.RequestIDFrom(r.Context()))
}

// boardItem is one item row with its local selection marker attached.
type boardItem struct {
	protocol.OrderItem
	Selected bool `json:"selected"`
}

type boardTable struct {
	Table int                `json:"table"`
	Meta  protocol.TableMeta `json:"meta"`
	Items []boardItem        `json:"items"`
}

// GetBoard returns the station's full display state in one response: the
// tables in order and the aggregated totals derived from the same snapshot.
func (h *Handler) GetBoard(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetBoard")
	defer finish()

	snapshot := h.reducer.Snapshot()

	tables := make([]boardTable, 0, len(snapshot))
	for _, to := range snapshot {
		bt := boardTable{Table: to.Table, Meta: to.Meta, Items: make([]boardItem, 0, len(to.Items))}
		for _, item := range to.Items {
			bt.Items = append(bt.Items, boardItem{OrderItem: item, Selected: h.reducer.IsSelected(item.ID)})
		}
		tables = append(tables, bt)
	}

	rows := h.engine.Totals(snapshot)

	aqm.Respond(w, http.StatusOK, map[string]interface{}{
		"station": h.reducer.Station(),
		"tables":  tables,
		"totals":  rows,
	}, nil)
}

func (h *Handler) ToggleSelection(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ToggleSelection")
	defer finish()

	itemID := chi.URLParam(r, "item_id")
	if itemID == "" {
		aqm.RespondError(w, http.StatusBadRequest, "Missing item ID")
		return
	}

	h.dispatcher.ToggleSelection(itemID)
	aqm.Respond(w, http.StatusOK, map[string]interface{}{
		"item_id":  itemID,
		"selected": h.reducer.IsSelected(itemID),
	}, nil)
}

func (h *Handler) ConfirmItem(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ConfirmItem")
	defer finish()

	itemID := chi.URLParam(r, "item_id")
	if itemID == "" {
		aqm.RespondError(w, http.StatusBadRequest, "Missing item ID")
		return
	}

	h.dispatcher.ConfirmItem(r.Context(), itemID)
	aqm.Respond(w, http.StatusOK, map[string]interface{}{"status": "confirmed"}, nil)
}

func (h *Handler) ConfirmSelected(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ConfirmSelected")
	defer finish()

	h.dispatcher.Confirm(r.Context())
	aqm.Respond(w, http.StatusOK, map[string]interface{}{"status": "confirmed"}, nil)
}

// FinalizeTable hands the close-out command to the push channel; the server
// answers with a table_finalized frame that clears local state.
func (h *Handler) FinalizeTable(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.FinalizeTable")
	defer finish()
	log := h.log(r)

	table, err := strconv.Atoi(chi.URLParam(r, "table"))
	if err != nil {
		aqm.RespondError(w, http.StatusBadRequest, "Invalid table number")
		return
	}

	if err := h.sender.Send(protocol.FinalizeTable(table)); err != nil {
		log.Errorf("cannot send finalize for table %d: %v", table, err)
		aqm.RespondError(w, http.StatusServiceUnavailable, "Push channel closed")
		return
	}

	aqm.Respond(w, http.StatusAccepted, map[string]interface{}{"status": "requested"}, nil)
}

func (h *Handler) readOrderRequest(w http.ResponseWriter, r *http.Request) (dispatch.SubmitOrderRequest, bool) {
	var in dispatch.SubmitOrderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&in); err != nil {
		aqm.RespondError(w, http.StatusBadRequest, "Invalid JSON payload")
		return in, false
	}
	return in, true
}

// SubmitOrder forwards a free-text order to the order service. The created
// items come back to this display over the push channel.
func (h *Handler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.SubmitOrder")
	defer finish()
	log := h.log(r)

	in, ok := h.readOrderRequest(w, r)
	if !ok {
		return
	}
	if in.Table <= 0 || in.OrderText == "" {
		aqm.RespondError(w, http.StatusBadRequest, "Table and order text are required")
		return
	}

	resp, err := h.orders.SubmitOrder(r.Context(), in)
	if err != nil {
		log.Errorf("cannot submit order for table %d: %v", in.Table, err)
		aqm.RespondError(w, http.StatusBadGateway, "Order service unavailable")
		return
	}

	aqm.Respond(w, http.StatusCreated, resp, nil)
}

// ReplaceOrder forwards a replacement order; the order service keeps matching
// pending lines and cancels the rest.
func (h *Handler) ReplaceOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ReplaceOrder")
	defer finish()
	log := h.log(r)

	table, err := strconv.Atoi(chi.URLParam(r, "table"))
	if err != nil {
		aqm.RespondError(w, http.StatusBadRequest, "Invalid table number")
		return
	}

	in, ok := h.readOrderRequest(w, r)
	if !ok {
		return
	}
	in.Table = table

	if err := h.orders.ReplaceOrder(r.Context(), in); err != nil {
		log.Errorf("cannot replace order for table %d: %v", table, err)
		aqm.RespondError(w, http.StatusBadGateway, "Order service unavailable")
		return
	}

	aqm.Respond(w, http.StatusOK, map[string]interface{}{"status": "replaced"}, nil)
}

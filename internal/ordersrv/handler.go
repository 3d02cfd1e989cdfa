package ordersrv

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/aquamarinepk/aqm"
	"github.com/aquamarinepk/aqm/telemetry"
	"github.com/go-chi/chi/v5"

	"github.com/opentaverna/taverna/internal/protocol"
)

const MaxBodyBytes = 1 << 20

// Handler exposes the order service's request/response surface. The push
// surface lives on the Hub.
type Handler struct {
	store  *Store
	hub    *Hub
	logger aqm.Logger
	config *aqm.Config
	tlm    *telemetry.HTTP
}

func NewHandler(store *Store, hub *Hub, config *aqm.Config, logger aqm.Logger) *Handler {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Handler{
		store:  store,
		hub:    hub,
		logger: logger,
		config: config,
		tlm:    telemetry.NewHTTP(),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/order/", h.CreateOrder)
	r.Put("/order/{table}", h.ReplaceOrder)
	r.Delete("/order/{table}/{item_id}", h.CancelItem)
	r.Post("/item/{item_id}/done", h.MarkItemDone)
	r.Get("/orders/", h.ListOrders)
	r.Get("/table_meta/{table}", h.GetTableMeta)
	r.Put("/table_meta/{table}", h.SetTableMeta)
	r.Post("/table/{table}/finalize", h.FinalizeTable)
	r.Post("/purge_done", h.PurgeDone)
	r.Get("/config", h.GetConfig)
}

func (h *Handler) log(r *http.Request) aqm.Logger {
	return h.logger.With("request_id", aqm.RequestIDFrom(r.Context()))
}

type orderPayload struct {
	Table     int    `json:"table"`
	OrderText string `json:"order_text"`
	People    *int   `json:"people"`
	Bread     bool   `json:"bread"`
}

func (h *Handler) readOrderPayload(w http.ResponseWriter, r *http.Request) (orderPayload, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		aqm.RespondError(w, http.StatusBadRequest, "Could not read request body")
		return orderPayload{}, false
	}

	var payload orderPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		aqm.RespondError(w, http.StatusBadRequest, "Invalid JSON payload")
		return orderPayload{}, false
	}
	return payload, true
}

func tableParam(r *http.Request) (int, error) {
	return strconv.Atoi(chi.URLParam(r, "table"))
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CreateOrder")
	defer finish()
	log := h.log(r)
	ctx := r.Context()

	payload, ok := h.readOrderPayload(w, r)
	if !ok {
		return
	}
	if payload.Table <= 0 {
		aqm.RespondError(w, http.StatusBadRequest, "Invalid table number")
		return
	}

	created, err := h.store.CreateOrder(ctx, payload.Table, payload.OrderText, payload.People, payload.Bread)
	if err != nil {
		log.Errorf("cannot create order for table %d: %v", payload.Table, err)
		aqm.RespondError(w, http.StatusBadRequest, "Could not create order")
		return
	}

	aqm.Respond(w, http.StatusCreated, map[string]interface{}{
		"status":  "created",
		"created": created,
	}, nil)
}

func (h *Handler) ReplaceOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ReplaceOrder")
	defer finish()
	log := h.log(r)
	ctx := r.Context()

	table, err := tableParam(r)
	if err != nil {
		aqm.RespondError(w, http.StatusBadRequest, "Invalid table number")
		return
	}

	payload, ok := h.readOrderPayload(w, r)
	if !ok {
		return
	}

	created, cancelled, err := h.store.ReplaceOrder(ctx, table, payload.OrderText, payload.People, payload.Bread)
	if err != nil {
		log.Errorf("cannot replace order for table %d: %v", table, err)
		aqm.RespondError(w, http.StatusBadRequest, "Could not replace order")
		return
	}

	aqm.Respond(w, http.StatusOK, map[string]interface{}{
		"status":    "replaced",
		"created":   created,
		"cancelled": cancelled,
	}, nil)
}

func (h *Handler) CancelItem(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CancelItem")
	defer finish()
	log := h.log(r)
	ctx := r.Context()

	table, err := tableParam(r)
	if err != nil {
		aqm.RespondError(w, http.StatusBadRequest, "Invalid table number")
		return
	}
	itemID := chi.URLParam(r, "item_id")

	if err := h.store.CancelItem(ctx, table, itemID); err != nil {
		log.Errorf("cannot cancel item %s: %v", itemID, err)
		aqm.RespondError(w, http.StatusNotFound, "Item not found")
		return
	}

	aqm.Respond(w, http.StatusOK, map[string]interface{}{"status": "cancelled"}, nil)
}

func (h *Handler) MarkItemDone(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.MarkItemDone")
	defer finish()
	log := h.log(r)
	ctx := r.Context()

	itemID := chi.URLParam(r, "item_id")

	item, err := h.store.MarkDone(ctx, itemID)
	if err != nil {
		log.Errorf("cannot mark item %s done: %v", itemID, err)
		aqm.RespondError(w, http.StatusNotFound, "Item not found")
		return
	}

	aqm.Respond(w, http.StatusOK, item, nil)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListOrders")
	defer finish()

	includeHistory := r.URL.Query().Get("include_history") == "true"
	tables := h.store.Tables(includeHistory)

	aqm.Respond(w, http.StatusOK, map[string]interface{}{
		"tables": tables,
	}, nil)
}

func (h *Handler) GetTableMeta(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetTableMeta")
	defer finish()

	table, err := tableParam(r)
	if err != nil {
		aqm.RespondError(w, http.StatusBadRequest, "Invalid table number")
		return
	}

	meta, ok := h.store.MetaFor(table)
	if !ok {
		aqm.RespondError(w, http.StatusNotFound, "Table not found")
		return
	}

	aqm.Respond(w, http.StatusOK, meta, nil)
}

func (h *Handler) SetTableMeta(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.SetTableMeta")
	defer finish()
	ctx := r.Context()

	table, err := tableParam(r)
	if err != nil {
		aqm.RespondError(w, http.StatusBadRequest, "Invalid table number")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	var payload struct {
		People *int `json:"people"`
		Bread  bool `json:"bread"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		aqm.RespondError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	h.store.SetMeta(ctx, table, protocol.TableMeta{People: payload.People, Bread: payload.Bread})
	aqm.Respond(w, http.StatusOK, map[string]interface{}{"status": "updated"}, nil)
}

func (h *Handler) FinalizeTable(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.FinalizeTable")
	defer finish()
	log := h.log(r)
	ctx := r.Context()

	table, err := tableParam(r)
	if err != nil {
		aqm.RespondError(w, http.StatusBadRequest, "Invalid table number")
		return
	}

	if err := h.store.FinalizeTable(ctx, table); err != nil {
		log.Errorf("cannot finalize table %d: %v", table, err)
		aqm.RespondError(w, http.StatusConflict, err.Error())
		return
	}

	aqm.Respond(w, http.StatusOK, map[string]interface{}{"status": "finalized"}, nil)
}

func (h *Handler) PurgeDone(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.PurgeDone")
	defer finish()

	removed := h.store.PurgeDone()
	h.log(r).Info("purged terminal items", "count", removed)

	aqm.Respond(w, http.StatusOK, map[string]interface{}{"purged": removed}, nil)
}

func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetConfig")
	defer finish()

	stations := make([]string, 0, len(validStations))
	for station := range validStations {
		stations = append(stations, station)
	}

	var connected map[string]int
	if h.hub != nil {
		connected = h.hub.ConnectedStations()
	}

	aqm.Respond(w, http.StatusOK, map[string]interface{}{
		"stations":  stations,
		"connected": connected,
	}, nil)
}

package ordersrv

import (
	"context"
	"net/http"
	"sync"

	"github.com/aquamarinepk/aqm"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/opentaverna/taverna/internal/protocol"
)

// StationWaiter is the pseudo-station that sees every category.
const StationWaiter = "waiter"

var validStations = map[string]bool{
	protocol.CategoryKitchen: true,
	protocol.CategoryGrill:   true,
	protocol.CategoryDrinks:  true,
	StationWaiter:            true,
}

// wsClient serializes writes; gorilla connections allow one writer at a time.
type wsClient struct {
	conn *websocket.Conn

	mu sync.Mutex
}

func (c *wsClient) write(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub keeps one websocket registry per station and fans wire frames out to
// it. Station clients reconnect on their own; the hub just drops dead
// connections.
type Hub struct {
	store  *Store
	logger aqm.Logger

	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]map[*wsClient]bool
}

func NewHub(store *Store, logger aqm.Logger) *Hub {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Hub{
		store:  store,
		logger: logger,
		upgrader: websocket.Upgrader{
			// Station displays live on the local network; the HTTP stack
			// already gates cross-origin requests.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[string]map[*wsClient]bool),
	}
}

func (h *Hub) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{station}", h.Serve)
}

// Serve upgrades the connection, pushes the init snapshot and then pumps
// inbound commands until the peer goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	station := chi.URLParam(r, "station")
	if !validStations[station] {
		aqm.RespondError(w, http.StatusNotFound, "Unknown station")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorf("cannot upgrade websocket for %s: %v", station, err)
		return
	}

	client := &wsClient{conn: conn}
	h.register(station, client)
	h.logger.Info("station connected", "station", station)

	if err := h.sendInit(station, client); err != nil {
		h.logger.Errorf("cannot send init snapshot to %s: %v", station, err)
		h.drop(station, client)
		return
	}

	h.readLoop(r.Context(), station, client)
}

func (h *Hub) register(station string, client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[station] == nil {
		h.conns[station] = make(map[*wsClient]bool)
	}
	h.conns[station][client] = true
}

func (h *Hub) drop(station string, client *wsClient) {
	h.mu.Lock()
	delete(h.conns[station], client)
	h.mu.Unlock()
	client.conn.Close()
}

// sendInit delivers the station's full pending view in one frame. The
// client replaces its local state with it, which is how reconnects resync.
func (h *Hub) sendInit(station string, client *wsClient) error {
	var items []protocol.OrderItem
	if station == StationWaiter {
		items = h.store.PendingForStation()
	} else {
		items = h.store.PendingForStation(station)
	}
	if items == nil {
		items = []protocol.OrderItem{}
	}

	return client.write(protocol.Message{Action: protocol.ActionInit, Items: items})
}

func (h *Hub) readLoop(ctx context.Context, station string, client *wsClient) {
	defer func() {
		h.drop(station, client)
		h.logger.Info("station disconnected", "station", station)
	}()

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			h.logger.Info("dropping malformed frame", "station", station, "error", err)
			continue
		}

		h.handleCommand(ctx, station, client, msg)
	}
}

func (h *Hub) handleCommand(ctx context.Context, station string, client *wsClient, msg protocol.Message) {
	switch msg.Action {
	case protocol.ActionMarkDone:
		if msg.ItemID == "" {
			return
		}
		if _, err := h.store.MarkDone(ctx, msg.ItemID); err != nil {
			h.logger.Info("mark_done rejected", "station", station, "item_id", msg.ItemID, "error", err)
			client.write(protocol.Message{Action: protocol.ActionNotify, Text: err.Error()})
		}
	case protocol.ActionFinalizeTable:
		if msg.Table == nil {
			return
		}
		if err := h.store.FinalizeTable(ctx, *msg.Table); err != nil {
			h.logger.Info("finalize_table rejected", "station", station, "table", *msg.Table, "error", err)
			client.write(protocol.Message{Action: protocol.ActionNotify, Text: err.Error()})
		}
	default:
		// Unknown commands are ignored (forward compatibility).
	}
}

// BroadcastItem implements Broadcaster: item frames go to the owning station
// and to waiters.
func (h *Hub) BroadcastItem(msg protocol.Message, category string) {
	h.broadcast(msg, category, StationWaiter)
}

// BroadcastAll implements Broadcaster.
func (h *Hub) BroadcastAll(msg protocol.Message) {
	stations := make([]string, 0, len(validStations))
	for station := range validStations {
		stations = append(stations, station)
	}
	h.broadcast(msg, stations...)
}

func (h *Hub) broadcast(msg protocol.Message, stations ...string) {
	h.mu.Lock()
	targets := make(map[*wsClient]string)
	for _, station := range stations {
		for client := range h.conns[station] {
			targets[client] = station
		}
	}
	h.mu.Unlock()

	for client, station := range targets {
		if err := client.write(msg); err != nil {
			h.logger.Info("dropping dead connection", "station", station, "error", err)
			h.drop(station, client)
		}
	}
}

// Notify pushes a free-text notification to every connected session.
func (h *Hub) Notify(text string) {
	h.BroadcastAll(protocol.Message{Action: protocol.ActionNotify, Text: text})
}

// ConnectedStations reports connection counts per station, for health and
// debug endpoints.
func (h *Hub) ConnectedStations() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]int, len(h.conns))
	for station, clients := range h.conns {
		if len(clients) > 0 {
			out[station] = len(clients)
		}
	}
	return out
}

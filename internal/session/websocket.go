package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
)

// WebsocketDialer connects to the order service push endpoint at
// <endpoint>/ws/<station>.
type WebsocketDialer struct{}

func (WebsocketDialer) Dial(ctx context.Context, endpoint, station string) (Conn, error) {
	url := strings.TrimRight(endpoint, "/") + "/ws/" + station
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot dial %s: %w", url, err)
	}
	return wsConn{conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c wsConn) WriteMessage(data []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c wsConn) Close() error {
	return c.conn.Close()
}

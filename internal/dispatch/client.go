package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opentaverna/taverna/internal/protocol"
)

// Client calls the order service's request/response endpoints.
type Client struct {
	base string
	http *http.Client
}

// NewClient builds a client for the order service base URL.
func NewClient(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// MarkItemDone completes a pending item.
func (c *Client) MarkItemDone(ctx context.Context, itemID string) error {
	url := fmt.Sprintf("%s/item/%s/done", c.base, itemID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// SubmitOrderRequest carries a new free-text order for a table.
type SubmitOrderRequest struct {
	Table     int    `json:"table"`
	OrderText string `json:"order_text"`
	People    *int   `json:"people,omitempty"`
	Bread     bool   `json:"bread"`
}

// SubmitOrderResponse echoes the created items.
type SubmitOrderResponse struct {
	Status  string               `json:"status"`
	Created []protocol.OrderItem `json:"created"`
}

// SubmitOrder creates a new order for a table.
func (c *Client) SubmitOrder(ctx context.Context, in SubmitOrderRequest) (*SubmitOrderResponse, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/order/", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out SubmitOrderResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReplaceOrder replaces the active order for a table, reusing matching
// pending lines server-side.
func (c *Client) ReplaceOrder(ctx context.Context, in SubmitOrderRequest) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/order/%d", c.base, in.Table)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("order service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

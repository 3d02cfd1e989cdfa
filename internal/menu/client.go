// Package menu resolves menu ids to display attributes for aggregate
// rows. The menu service is optional; every failure degrades to the
// item's raw text.
package menu

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aquamarinepk/aqm"
)

// Entry is the displayable slice of a menu item.
type Entry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
}

// Client caches menu lookups in memory. Misses and transport errors are
// remembered as absent so a flapping menu service cannot stall rendering.
type Client struct {
	base   string
	http   *http.Client
	logger aqm.Logger

	mu    sync.RWMutex
	cache map[string]*Entry
}

func NewClient(base string, logger aqm.Logger) *Client {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Client{
		base:   strings.TrimRight(base, "/"),
		http:   &http.Client{Timeout: 5 * time.Second},
		logger: logger,
		cache:  make(map[string]*Entry),
	}
}

// DisplayName implements aggregate.NameResolver.
func (c *Client) DisplayName(menuID string) (string, bool) {
	entry := c.lookup(menuID)
	if entry == nil || entry.Name == "" {
		return "", false
	}
	return entry.Name, true
}

func (c *Client) lookup(menuID string) *Entry {
	c.mu.RLock()
	entry, seen := c.cache[menuID]
	c.mu.RUnlock()
	if seen {
		return entry
	}

	entry = c.fetch(menuID)

	c.mu.Lock()
	c.cache[menuID] = entry
	c.mu.Unlock()
	return entry
}

func (c *Client) fetch(menuID string) *Entry {
	if c.base == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s/api/menu/items/%s", c.base, menuID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Info("menu lookup failed, using raw text", "menu_id", menuID, "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var entry Entry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		c.logger.Info("menu lookup returned bad payload", "menu_id", menuID, "error", err)
		return nil
	}
	return &entry
}

// Forget drops a cached entry so the next lookup refetches it.
func (c *Client) Forget(menuID string) {
	c.mu.Lock()
	delete(c.cache, menuID)
	c.mu.Unlock()
}

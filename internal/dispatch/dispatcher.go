// Package dispatch turns user actions on a station display into commands
// against the order service, applied optimistically to local state.
package dispatch

import (
	"context"

	"github.com/aquamarinepk/aqm"

	"github.com/opentaverna/taverna/internal/protocol"
)

// OrderAPI is the request/response side of the order service.
type OrderAPI interface {
	MarkItemDone(ctx context.Context, itemID string) error
}

// Sender is the push-channel side; it queues commands while disconnected.
type Sender interface {
	Send(msg protocol.Message) error
}

// Board is the slice of the station reducer the dispatcher acts on.
type Board interface {
	Selected() []string
	ToggleSelection(itemID string)
	Remove(itemID string)
}

// Dispatcher confirms selected items as done. Confirmation is optimistic:
// the item leaves local state immediately and a failed request is handed
// to the push channel's outbound queue instead of rolling the removal
// back. The server stays authoritative either way; the next resync
// snapshot reconciles any divergence.
type Dispatcher struct {
	api    OrderAPI
	sender Sender
	board  Board
	logger aqm.Logger
}

func New(api OrderAPI, sender Sender, board Board, logger aqm.Logger) *Dispatcher {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Dispatcher{
		api:    api,
		sender: sender,
		board:  board,
		logger: logger,
	}
}

// ToggleSelection flips the mark-for-completion flag on an item.
func (d *Dispatcher) ToggleSelection(itemID string) {
	d.board.ToggleSelection(itemID)
}

// Confirm marks every selected item done. Each id is removed locally and
// unselected regardless of how its request fares.
func (d *Dispatcher) Confirm(ctx context.Context) {
	for _, id := range d.board.Selected() {
		d.confirmOne(ctx, id)
	}
}

// ConfirmItem marks a single item done, selected or not.
func (d *Dispatcher) ConfirmItem(ctx context.Context, itemID string) {
	d.confirmOne(ctx, itemID)
}

func (d *Dispatcher) confirmOne(ctx context.Context, itemID string) {
	if err := d.api.MarkItemDone(ctx, itemID); err != nil {
		d.logger.Info("mark done request failed, queueing on push channel", "item_id", itemID, "error", err)
		if d.sender != nil {
			if serr := d.sender.Send(protocol.MarkDone(itemID)); serr != nil {
				d.logger.Errorf("cannot queue mark done for %s: %v", itemID, serr)
			}
		}
	}
	d.board.Remove(itemID)
}

package view

import (
	"context"

	"github.com/wfunc/splendor-client/models"
	"github.com/wfunc/splendor-client/validator"
)

// ToggleGem applies one click on gem against the current bank and returns
// the resulting selection.
func (v *GameView) ToggleGem(gem models.GemType) validator.Selection {
	bank := models.Gems{}
	if snap := v.sync.State().Snapshot; snap != nil && snap.Board != nil {
		bank = snap.Board.AvailableGems
	}

	v.mutex.Lock()
	defer v.mutex.Unlock()
	v.selection.Toggle(gem, bank)
	return copySelection(v.selection)
}

func (v *GameView) Selection() validator.Selection {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return copySelection(v.selection)
}

func (v *GameView) ClearSelection() {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	v.selection.Clear()
}

// SubmitGems sends the current selection. It is revalidated against the
// latest snapshot first; once it passes, the selection is cleared whatever
// the server answers.
func (v *GameView) SubmitGems(ctx context.Context) error {
	sel := v.Selection()
	if err := v.check(validator.CanTakeGems(v.sync.State().Snapshot, v.opts.ActingPlayerID, sel)); err != nil {
		return err
	}
	v.ClearSelection()
	return v.send(func() error {
		return v.deps.API.TakeGems(ctx, v.gameID, sel.Gems())
	})
}

// TakeGems validates and sends sel without touching the held selection.
func (v *GameView) TakeGems(ctx context.Context, sel validator.Selection) error {
	if err := v.check(validator.CanTakeGems(v.sync.State().Snapshot, v.opts.ActingPlayerID, sel)); err != nil {
		return err
	}
	return v.send(func() error {
		return v.deps.API.TakeGems(ctx, v.gameID, sel.Gems())
	})
}

func (v *GameView) PurchaseCard(ctx context.Context, cardID int64, fromReserve bool) error {
	if err := v.check(validator.CanPurchase(v.sync.State().Snapshot, v.opts.ActingPlayerID, cardID, fromReserve)); err != nil {
		return err
	}
	return v.send(func() error {
		return v.deps.API.PurchaseCard(ctx, v.gameID, cardID, fromReserve)
	})
}

func (v *GameView) ReserveCard(ctx context.Context, cardID int64, tier int) error {
	if err := v.check(validator.CanReserve(v.sync.State().Snapshot, v.opts.ActingPlayerID, cardID, tier)); err != nil {
		return err
	}
	return v.send(func() error {
		return v.deps.API.ReserveCard(ctx, v.gameID, cardID, tier)
	})
}

func (v *GameView) check(r validator.Reason) error {
	if r != validator.OK {
		v.deps.Metrics.IncCommandRejected(string(r))
	}
	return r.Err()
}

func (v *GameView) send(call func() error) error {
	v.mutex.Lock()
	closed, opened := v.closed, v.done != nil
	v.mutex.Unlock()
	if closed {
		return ErrViewClosed
	}
	if !opened {
		return ErrNotOpen
	}

	if err := call(); err != nil {
		return err
	}
	v.scheduleRefresh()
	return nil
}

func copySelection(s validator.Selection) validator.Selection {
	out := make(validator.Selection, len(s))
	for k, n := range s {
		out[k] = n
	}
	return out
}

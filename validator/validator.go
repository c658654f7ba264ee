// Package validator decides locally whether a candidate move is legal against
// the current snapshot. Every check is pure and reports a Reason; the server
// stays authoritative.
package validator

import (
	"github.com/wfunc/splendor-client/models"
)

// Reason is the outcome of a check. The zero value means the move is legal.
type Reason string

const (
	OK                   Reason = ""
	ReasonNoSnapshot     Reason = "no_snapshot"
	ReasonNotYourTurn    Reason = "not_your_turn"
	ReasonNoPlayerState  Reason = "no_player_state"
	ReasonInvalidSelect  Reason = "invalid_selection"
	ReasonNeedFourInBank Reason = "need_four_in_bank"
	ReasonGoldNotTaken   Reason = "gold_not_takeable"
	ReasonExceedsBank    Reason = "exceeds_bank"
	ReasonTooManyGems    Reason = "too_many_gems"
	ReasonCardNotFound   Reason = "card_not_found"
	ReasonCannotAfford   Reason = "cannot_afford"
	ReasonReserveLimit   Reason = "reserve_limit"
	ReasonInvalidTier    Reason = "invalid_tier"
)

var messages = map[Reason]string{
	ReasonNoSnapshot:     "game state is not loaded yet",
	ReasonNotYourTurn:    "it is not your turn",
	ReasonNoPlayerState:  "you are not seated in this game",
	ReasonInvalidSelect:  "select 3 different or 2 same",
	ReasonNeedFourInBank: "need 4+ in bank for two of a kind",
	ReasonGoldNotTaken:   "gold cannot be taken directly",
	ReasonExceedsBank:    "not enough gems in the bank",
	ReasonTooManyGems:    "you already hold 10 gems",
	ReasonCardNotFound:   "card not found",
	ReasonCannotAfford:   "you cannot afford this card",
	ReasonReserveLimit:   "you already have 3 reserved cards",
	ReasonInvalidTier:    "tier must be 1, 2 or 3",
}

func (r Reason) OK() bool { return r == OK }

// Message is the inline text shown to the player.
func (r Reason) Message() string {
	if msg, ok := messages[r]; ok {
		return msg
	}
	return string(r)
}

// Err returns nil for OK and a *Rejection otherwise.
func (r Reason) Err() error {
	if r == OK {
		return nil
	}
	return &Rejection{Reason: r}
}

// Rejection is a move refused before it reached the network.
type Rejection struct {
	Reason Reason
}

func (e *Rejection) Error() string {
	return e.Reason.Message()
}

// CheckTurn runs before every other check.
func CheckTurn(snap *models.Snapshot, actingID int64) Reason {
	if snap == nil || snap.Game == nil {
		return ReasonNoSnapshot
	}
	current, ok := snap.CurrentTurnPlayerID()
	if !ok || current != actingID {
		return ReasonNotYourTurn
	}
	return OK
}

func playerState(snap *models.Snapshot, actingID int64) (*models.PlayerState, Reason) {
	ps, ok := snap.PlayerState(actingID)
	if !ok {
		return nil, ReasonNoPlayerState
	}
	return ps, OK
}

// CanTakeGems checks turn, then the selection shape, then the held-gem guard.
func CanTakeGems(snap *models.Snapshot, actingID int64, sel Selection) Reason {
	if r := CheckTurn(snap, actingID); r != OK {
		return r
	}
	if snap.Board == nil {
		return ReasonNoSnapshot
	}
	ps, r := playerState(snap, actingID)
	if r != OK {
		return r
	}
	if r := CheckGemSelection(sel, snap.Board.AvailableGems); r != OK {
		return r
	}
	// soft guard, the server enforces the discard rule
	if ps.Gems.Total() >= models.MaxHeldGems {
		return ReasonTooManyGems
	}
	return OK
}

// Affordability breaks a card cost down against a player's holdings.
type Affordability struct {
	Shortage      models.Gems
	GoldNeeded    int
	GoldAvailable int
}

func (a Affordability) Affordable() bool {
	return a.GoldNeeded <= a.GoldAvailable
}

// Afford computes, per colour, max(0, cost - (permanent + owned)) and sums
// the shortages into the gold needed. Gold only covers shortage.
func Afford(cost models.Gems, ps *models.PlayerState) Affordability {
	a := Affordability{Shortage: models.Gems{}}
	if ps == nil {
		for gem, n := range cost {
			if gem != models.Gold && n > 0 {
				a.Shortage[gem] = n
				a.GoldNeeded += n
			}
		}
		return a
	}
	for gem, n := range cost {
		if gem == models.Gold || n <= 0 {
			continue
		}
		have := ps.PermanentGems.Get(gem) + ps.Gems.Get(gem)
		if short := n - have; short > 0 {
			a.Shortage[gem] = short
			a.GoldNeeded += short
		}
	}
	a.GoldAvailable = ps.Gems.Get(models.Gold)
	return a
}

func CanAfford(cost models.Gems, ps *models.PlayerState) bool {
	return Afford(cost, ps).Affordable()
}

// CanPurchase checks turn, then locates the card (face-up or in the acting
// player's reserve), then affordability.
func CanPurchase(snap *models.Snapshot, actingID, cardID int64, fromReserve bool) Reason {
	if r := CheckTurn(snap, actingID); r != OK {
		return r
	}
	ps, r := playerState(snap, actingID)
	if r != OK {
		return r
	}

	var (
		card  *models.DevelopmentCard
		found bool
	)
	if fromReserve {
		card, found = snap.FindReservedCard(actingID, cardID)
	} else {
		card, found = snap.FindVisibleCard(cardID)
	}
	if !found {
		return ReasonCardNotFound
	}
	if !CanAfford(card.Cost, ps) {
		return ReasonCannotAfford
	}
	return OK
}

// CanReserve checks turn, then the reserve cap, then that the card is face-up
// in the given tier.
func CanReserve(snap *models.Snapshot, actingID, cardID int64, tier int) Reason {
	if r := CheckTurn(snap, actingID); r != OK {
		return r
	}
	ps, r := playerState(snap, actingID)
	if r != OK {
		return r
	}
	if len(ps.ReservedCards) >= models.MaxReserved {
		return ReasonReserveLimit
	}
	if tier < 1 || tier > models.Tiers {
		return ReasonInvalidTier
	}
	if snap.Board == nil {
		return ReasonNoSnapshot
	}
	for _, c := range snap.Board.Tier(tier) {
		if c.ID == cardID {
			return OK
		}
	}
	return ReasonCardNotFound
}

package validator

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/splendor-client/models"
)

const (
	alice int64 = 11
	bob   int64 = 12
)

func newSnapshot(turn int64) *models.Snapshot {
	return &models.Snapshot{
		Game: &models.Game{ID: 7, Status: models.GameStatusInProgress, CurrentTurnPlayerID: &turn},
		Players: []*models.GamePlayer{
			{ID: 1, GameID: 7, UserID: alice},
			{ID: 2, GameID: 7, UserID: bob},
		},
		Board: &models.BoardState{
			AvailableGems: models.Gems{
				models.Diamond: 5, models.Sapphire: 2, models.Emerald: 4,
				models.Ruby: 3, models.Onyx: 4, models.Gold: 5,
			},
			VisibleCardsTier1: []models.DevelopmentCard{
				{ID: 101, Tier: 1, GemType: models.Ruby, Cost: models.Gems{models.Ruby: 3}},
			},
			VisibleCardsTier3: []models.DevelopmentCard{
				{ID: 301, Tier: 3, GemType: models.Onyx, VictoryPoints: 4, Cost: models.Gems{models.Emerald: 7}},
			},
		},
		PlayerStates: map[int64]*models.PlayerState{
			alice: {
				Gems:          models.Gems{models.Ruby: 1, models.Gold: 1},
				PermanentGems: models.Gems{models.Ruby: 1},
				ReservedCards: []models.DevelopmentCard{
					{ID: 205, Tier: 2, Cost: models.Gems{models.Diamond: 1}},
				},
			},
			bob: {Gems: models.Gems{}, PermanentGems: models.Gems{}},
		},
	}
}

func TestToggle_TakeTwoSame(t *testing.T) {
	bank := models.Gems{models.Diamond: 5}
	sel := Selection{}

	sel.Toggle(models.Diamond, bank)
	sel.Toggle(models.Diamond, bank)

	assert.Equal(t, 2, sel[models.Diamond])
	assert.Equal(t, OK, CheckGemSelection(sel, bank))

	sel.Clear()
	assert.Equal(t, 0, sel.Total())
}

func TestToggle_TwoSameNeedsFourInBank(t *testing.T) {
	bank := models.Gems{models.Diamond: 3}
	sel := Selection{}

	sel.Toggle(models.Diamond, bank)
	sel.Toggle(models.Diamond, bank)

	r := CheckGemSelection(sel, bank)
	assert.Equal(t, ReasonNeedFourInBank, r)
	assert.Equal(t, "need 4+ in bank for two of a kind", r.Message())
}

func TestToggle_DeselectsEntirely(t *testing.T) {
	bank := models.Gems{models.Diamond: 5, models.Ruby: 5, models.Onyx: 5}
	sel := Selection{}

	sel.Toggle(models.Diamond, bank)
	sel.Toggle(models.Diamond, bank)
	sel.Toggle(models.Diamond, bank) // maxed out, drops to zero
	assert.Equal(t, 0, sel[models.Diamond])

	sel.Toggle(models.Diamond, bank)
	sel.Toggle(models.Ruby, bank)
	sel.Toggle(models.Onyx, bank)
	assert.Equal(t, 3, sel.Total())
	sel.Toggle(models.Ruby, bank) // total is capped, so the click deselects
	assert.Equal(t, 2, sel.Total())
	_, ok := sel[models.Ruby]
	assert.False(t, ok)
}

func TestToggle_RespectsBankAndGold(t *testing.T) {
	bank := models.Gems{models.Sapphire: 1, models.Gold: 5}
	sel := Selection{}

	sel.Toggle(models.Gold, bank)
	assert.Equal(t, 0, sel.Total())

	sel.Toggle(models.Emerald, bank)
	assert.Equal(t, 0, sel.Total(), "empty bank pile cannot be selected")

	sel.Toggle(models.Sapphire, bank)
	sel.Toggle(models.Sapphire, bank)
	assert.Equal(t, 0, sel[models.Sapphire])
}

func TestCheckGemSelection_Shapes(t *testing.T) {
	bank := models.Gems{models.Diamond: 4, models.Ruby: 4, models.Onyx: 4, models.Emerald: 4}
	tests := []struct {
		name string
		sel  Selection
		want Reason
	}{
		{"empty", Selection{}, ReasonInvalidSelect},
		{"three distinct", Selection{models.Diamond: 1, models.Ruby: 1, models.Onyx: 1}, OK},
		{"two distinct", Selection{models.Diamond: 1, models.Ruby: 1}, ReasonInvalidSelect},
		{"two plus one", Selection{models.Diamond: 2, models.Ruby: 1}, ReasonInvalidSelect},
		{"four distinct", Selection{models.Diamond: 1, models.Ruby: 1, models.Onyx: 1, models.Emerald: 1}, ReasonInvalidSelect},
		{"two same", Selection{models.Diamond: 2}, OK},
		{"one", Selection{models.Diamond: 1}, ReasonInvalidSelect},
		{"gold", Selection{models.Gold: 1, models.Ruby: 1, models.Onyx: 1}, ReasonGoldNotTaken},
		{"over bank", Selection{models.Sapphire: 1, models.Ruby: 1, models.Onyx: 1}, ReasonExceedsBank},
		{"negative offsets a triple", Selection{models.Ruby: 3, models.Diamond: -1}, ReasonInvalidSelect},
		{"negative hides a fourth colour", Selection{models.Ruby: 2, models.Diamond: 1, models.Onyx: 1, models.Emerald: -1}, ReasonInvalidSelect},
		{"three of one", Selection{models.Ruby: 3}, ReasonInvalidSelect},
		{"zero entries ignored", Selection{models.Diamond: 1, models.Ruby: 1, models.Onyx: 1, models.Emerald: 0}, OK},
		{"unknown colour", Selection{models.GemType("amber"): 1, models.Ruby: 1, models.Onyx: 1}, ReasonInvalidSelect},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckGemSelection(tt.sel, bank))
		})
	}
}

// Any selection reachable by clicking is legal exactly when it is three
// distinct singles or a pair drawn from a pile of at least four.
func TestCheckGemSelection_Property(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 5000; i++ {
		bank := models.Gems{}
		for _, gem := range models.GemColors {
			bank[gem] = rng.Intn(8)
		}
		sel := Selection{}
		for clicks := rng.Intn(7); clicks > 0; clicks-- {
			sel.Toggle(models.GemColors[rng.Intn(len(models.GemColors))], bank)
		}

		ones, twos, pairOK := 0, 0, false
		for gem, n := range sel {
			switch n {
			case 1:
				ones++
			case 2:
				twos++
				pairOK = bank[gem] >= 4
			}
		}
		want := (ones == 3 && twos == 0) || (twos == 1 && ones == 0 && pairOK)

		got := CheckGemSelection(sel, bank)
		require.Equal(t, want, got.OK(), "bank=%v sel=%v reason=%s", bank, sel, got)
	}
}

// Hand-built selections, counts included, are held to the same rule as
// clicked ones.
func TestCheckGemSelection_ArbitraryCounts(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	keys := append([]models.GemType{models.Gold}, models.GemColors...)
	for i := 0; i < 5000; i++ {
		bank := models.Gems{}
		for _, gem := range keys {
			bank[gem] = rng.Intn(8)
		}
		sel := Selection{}
		for _, gem := range keys {
			if rng.Intn(2) == 0 {
				sel[gem] = rng.Intn(6) - 2
			}
		}

		valid := true
		ones, twos, pairOK := 0, 0, false
		for gem, n := range sel {
			switch {
			case n < 0 || n > 2:
				valid = false
			case n == 0:
			case gem == models.Gold || n > bank[gem]:
				valid = false
			case n == 1:
				ones++
			default:
				twos++
				pairOK = bank[gem] >= 4
			}
		}
		want := valid && ((ones == 3 && twos == 0) || (twos == 1 && ones == 0 && pairOK))

		got := CheckGemSelection(sel, bank)
		require.Equal(t, want, got.OK(), "bank=%v sel=%v reason=%s", bank, sel, got)
	}
}

func TestNewSelection_Toggles(t *testing.T) {
	bank := models.Gems{models.Ruby: 4}
	sel := NewSelection()
	sel.Toggle(models.Ruby, bank)
	assert.Equal(t, 1, sel[models.Ruby])

	var zero Selection
	assert.Equal(t, 0, zero.Total())
	assert.Equal(t, ReasonInvalidSelect, CheckGemSelection(zero, bank))
}

func TestAfford_GoldCoversShortage(t *testing.T) {
	ps := &models.PlayerState{
		Gems:          models.Gems{models.Ruby: 1, models.Gold: 1},
		PermanentGems: models.Gems{models.Ruby: 1},
	}

	a := Afford(models.Gems{models.Ruby: 3}, ps)

	assert.Equal(t, 1, a.Shortage[models.Ruby])
	assert.Equal(t, 1, a.GoldNeeded)
	assert.Equal(t, 1, a.GoldAvailable)
	assert.True(t, a.Affordable())
	assert.False(t, CanAfford(models.Gems{models.Ruby: 4}, ps))
}

func TestAfford_GoldNeverCoversCoveredCost(t *testing.T) {
	ps := &models.PlayerState{
		Gems:          models.Gems{models.Ruby: 5, models.Gold: 2},
		PermanentGems: models.Gems{},
	}
	a := Afford(models.Gems{models.Ruby: 2, models.Onyx: 1}, ps)
	assert.Equal(t, 1, a.GoldNeeded)
	assert.Equal(t, models.Gems{models.Onyx: 1}, a.Shortage)
}

func TestAfford_Monotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	holdings := append([]models.GemType{}, models.GemColors...)
	for i := 0; i < 5000; i++ {
		cost := models.Gems{}
		for _, gem := range models.GemColors {
			cost[gem] = rng.Intn(6)
		}
		ps := &models.PlayerState{Gems: models.Gems{}, PermanentGems: models.Gems{}}
		for _, gem := range holdings {
			ps.Gems[gem] = rng.Intn(4)
			ps.PermanentGems[gem] = rng.Intn(4)
		}
		ps.Gems[models.Gold] = rng.Intn(4)

		before := Afford(cost, ps)

		more := &models.PlayerState{Gems: ps.Gems.Clone(), PermanentGems: ps.PermanentGems.Clone()}
		switch rng.Intn(3) {
		case 0:
			more.PermanentGems[holdings[rng.Intn(len(holdings))]]++
		case 1:
			more.Gems[holdings[rng.Intn(len(holdings))]]++
		default:
			more.Gems[models.Gold]++
		}
		after := Afford(cost, more)

		if before.Affordable() {
			require.True(t, after.Affordable(), "cost=%v before=%+v after=%+v", cost, before, after)
		}
		require.LessOrEqual(t, after.GoldNeeded-after.GoldAvailable, before.GoldNeeded-before.GoldAvailable)
	}
}

func TestNotYourTurn_ShortCircuits(t *testing.T) {
	snap := newSnapshot(bob)
	// every other check would also fail for alice
	snap.PlayerStates[alice].ReservedCards = make([]models.DevelopmentCard, 3)
	snap.PlayerStates[alice].Gems = models.Gems{models.Ruby: 10}

	assert.Equal(t, ReasonNotYourTurn, CanTakeGems(snap, alice, Selection{models.Gold: 2}))
	assert.Equal(t, ReasonNotYourTurn, CanPurchase(snap, alice, 999, false))
	assert.Equal(t, ReasonNotYourTurn, CanReserve(snap, alice, 999, 9))
}

func TestCheckTurn(t *testing.T) {
	assert.Equal(t, ReasonNoSnapshot, CheckTurn(nil, alice))

	snap := newSnapshot(alice)
	assert.Equal(t, OK, CheckTurn(snap, alice))
	snap.Game.CurrentTurnPlayerID = nil
	assert.Equal(t, ReasonNotYourTurn, CheckTurn(snap, alice))
}

func TestCanTakeGems(t *testing.T) {
	snap := newSnapshot(alice)
	sel := Selection{models.Diamond: 1, models.Emerald: 1, models.Onyx: 1}
	assert.Equal(t, OK, CanTakeGems(snap, alice, sel))

	snap.PlayerStates[alice].Gems = models.Gems{models.Ruby: 6, models.Onyx: 4}
	assert.Equal(t, ReasonTooManyGems, CanTakeGems(snap, alice, sel))

	snap = newSnapshot(alice)
	assert.Equal(t, ReasonNeedFourInBank, CanTakeGems(snap, alice, Selection{models.Ruby: 2}))
}

func TestCanPurchase(t *testing.T) {
	snap := newSnapshot(alice)

	assert.Equal(t, OK, CanPurchase(snap, alice, 101, false))
	assert.Equal(t, ReasonCannotAfford, CanPurchase(snap, alice, 301, false))
	assert.Equal(t, ReasonCardNotFound, CanPurchase(snap, alice, 205, false))
	assert.Equal(t, OK, CanPurchase(snap, alice, 205, true), "gold covers the diamond")
	assert.Equal(t, ReasonCardNotFound, CanPurchase(snap, alice, 101, true))
}

func TestCanReserve(t *testing.T) {
	snap := newSnapshot(alice)

	assert.Equal(t, OK, CanReserve(snap, alice, 301, 3))
	assert.Equal(t, ReasonCardNotFound, CanReserve(snap, alice, 301, 1))
	assert.Equal(t, ReasonInvalidTier, CanReserve(snap, alice, 301, 4))

	snap.PlayerStates[alice].ReservedCards = make([]models.DevelopmentCard, 3)
	assert.Equal(t, ReasonReserveLimit, CanReserve(snap, alice, 301, 3))
}

func TestNoPlayerState(t *testing.T) {
	var stranger int64 = 99
	snap := newSnapshot(stranger)
	assert.Equal(t, ReasonNoPlayerState, CanReserve(snap, stranger, 301, 3))
}

func TestReason_Err(t *testing.T) {
	assert.NoError(t, OK.Err())

	err := ReasonReserveLimit.Err()
	var rej *Rejection
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, ReasonReserveLimit, rej.Reason)
	assert.Equal(t, "you already have 3 reserved cards", err.Error())
}

package view

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/splendor-client/auth"
	"github.com/wfunc/splendor-client/config"
	"github.com/wfunc/splendor-client/fakeserver"
	"github.com/wfunc/splendor-client/models"
	"github.com/wfunc/splendor-client/network"
	"github.com/wfunc/splendor-client/services"
	"github.com/wfunc/splendor-client/timer"
	"github.com/wfunc/splendor-client/validator"
)

const (
	gameID int64 = 7
	alice  int64 = 11
	bob    int64 = 12
)

func fixture(id int64, status models.GameStatus, turn int64) *models.Snapshot {
	return &models.Snapshot{
		Game: &models.Game{ID: id, Status: status, CurrentTurnPlayerID: &turn},
		Players: []*models.GamePlayer{
			{ID: 1, GameID: id, UserID: alice},
			{ID: 2, GameID: id, UserID: bob},
		},
		Board: &models.BoardState{
			AvailableGems: models.Gems{
				models.Diamond: 5, models.Sapphire: 4, models.Emerald: 4,
				models.Ruby: 3, models.Onyx: 4, models.Gold: 5,
			},
			VisibleCardsTier1: []models.DevelopmentCard{
				{ID: 101, Tier: 1, GemType: models.Ruby, Cost: models.Gems{models.Ruby: 3}},
			},
		},
		PlayerStates: map[int64]*models.PlayerState{
			alice: {Gems: models.Gems{models.Ruby: 1, models.Gold: 1}, PermanentGems: models.Gems{models.Ruby: 1}},
			bob:   {Gems: models.Gems{}, PermanentGems: models.Gems{}},
		},
	}
}

func testSync() config.SyncConfig {
	return config.SyncConfig{
		ReconnectDelay:      100 * time.Millisecond,
		HandshakeTimeout:    time.Second,
		FetchTimeout:        time.Second,
		PollInterval:        50 * time.Millisecond,
		RefreshAfterCommand: 20 * time.Millisecond,
		TimerResolution:     5 * time.Millisecond,
	}
}

func testDeps(t *testing.T, fs *fakeserver.Server) Deps {
	t.Helper()
	timers := timer.NewManager(5 * time.Millisecond)
	t.Cleanup(timers.Stop)
	tokens := auth.StaticToken("tok-alice")
	dialer := &network.WSDialer{
		BaseURL:          fs.URL(),
		HandshakeTimeout: time.Second,
		Heartbeat:        network.Heartbeat{ReadTimeout: 200 * time.Millisecond, WriteTimeout: time.Second},
	}
	return Deps{
		API:    services.NewGameService(fs.APIBaseURL(), tokens, &http.Client{Timeout: time.Second}),
		Dialer: dialer,
		Tokens: tokens,
		Timers: timers,
	}
}

func openView(t *testing.T, status models.GameStatus) (*GameView, *fakeserver.Server) {
	t.Helper()
	fs := fakeserver.New()
	t.Cleanup(fs.Close)
	fs.SetSnapshot(fixture(gameID, status, alice))

	v := NewGameView(gameID, testDeps(t, fs), Options{ActingPlayerID: alice, Sync: testSync()})
	require.NoError(t, v.Open(context.Background()))
	t.Cleanup(func() { v.Close() })

	require.Eventually(t, func() bool {
		st := v.State()
		return st.Snapshot != nil && st.IsConnected
	}, 2*time.Second, 5*time.Millisecond)
	return v, fs
}

func TestGameView_OpenLoadsAndConnects(t *testing.T) {
	v, fs := openView(t, models.GameStatusInProgress)

	assert.Equal(t, 1, fs.Connects())
	assert.False(t, v.State().Loading)
	assert.NoError(t, v.State().Err)
}

func TestGameView_SubmitGems(t *testing.T) {
	v, fs := openView(t, models.GameStatusInProgress)
	before := fs.StateRequests()

	v.ToggleGem(models.Diamond)
	sel := v.ToggleGem(models.Diamond)
	assert.Equal(t, 2, sel[models.Diamond])

	require.NoError(t, v.SubmitGems(context.Background()))
	assert.Equal(t, 0, v.Selection().Total(), "submitting clears the selection")

	cmds := fs.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, "take-gems", cmds[0].Kind)
	assert.Equal(t, map[string]any{"diamond": 2.0}, cmds[0].Body["gems"])

	// server push and the post-command refresh both refetch
	require.Eventually(t, func() bool { return fs.StateRequests() >= before+2 }, 2*time.Second, 5*time.Millisecond)
}

func TestGameView_RejectsLocally(t *testing.T) {
	v, fs := openView(t, models.GameStatusInProgress)

	v.ToggleGem(models.Ruby)
	v.ToggleGem(models.Ruby)
	err := v.SubmitGems(context.Background())
	var rej *validator.Rejection
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, validator.ReasonNeedFourInBank, rej.Reason)
	assert.Equal(t, 2, v.Selection().Total(), "a rejected selection is kept")

	fs.SetSnapshot(fixture(gameID, models.GameStatusInProgress, bob))
	require.NoError(t, v.Refresh(context.Background()))
	err = v.ReserveCard(context.Background(), 101, 1)
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, validator.ReasonNotYourTurn, rej.Reason)

	assert.Empty(t, fs.Commands(), "rejected moves never reach the server")
}

func TestGameView_ServerErrorVerbatim(t *testing.T) {
	v, fs := openView(t, models.GameStatusInProgress)

	fs.FailNext("purchase-card", http.StatusBadRequest, "Cannot afford card")
	err := v.PurchaseCard(context.Background(), 101, false)
	assert.EqualError(t, err, "Cannot afford card")

	var apiErr *services.APIError
	assert.True(t, errors.As(err, &apiErr))
}

func TestGameView_ReserveAndPurchase(t *testing.T) {
	v, fs := openView(t, models.GameStatusInProgress)

	require.NoError(t, v.PurchaseCard(context.Background(), 101, false))
	require.NoError(t, v.ReserveCard(context.Background(), 101, 1))
	require.NoError(t, v.TakeGems(context.Background(), validator.Selection{models.Diamond: 1, models.Sapphire: 1, models.Onyx: 1}))

	cmds := fs.Commands()
	require.Len(t, cmds, 3)
	assert.Equal(t, "purchase-card", cmds[0].Kind)
	assert.Equal(t, "reserve-card", cmds[1].Kind)
	assert.Equal(t, "take-gems", cmds[2].Kind)
}

func TestGameView_PollOnlyWhileWaiting(t *testing.T) {
	v, fs := openView(t, models.GameStatusWaiting)

	start := fs.StateRequests()
	require.Eventually(t, func() bool { return fs.StateRequests() >= start+2 }, 2*time.Second, 5*time.Millisecond)

	fs.SetSnapshot(fixture(gameID, models.GameStatusInProgress, alice))
	require.Eventually(t, func() bool {
		st := v.State()
		return st.Snapshot != nil && st.Snapshot.Game.Status == models.GameStatusInProgress
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	settled := fs.StateRequests()
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, settled, fs.StateRequests(), "poll stops once the game leaves the waiting room")
}

func TestGameView_ReconnectsAfterDrop(t *testing.T) {
	v, fs := openView(t, models.GameStatusInProgress)

	fs.DropAll()
	require.Eventually(t, func() bool { return !v.State().IsConnected }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return fs.Connects() == 2 && v.State().IsConnected }, 2*time.Second, 5*time.Millisecond)

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 2, fs.Connects())
}

func TestGameView_ReconnectsAfterSilentPeer(t *testing.T) {
	v, fs := openView(t, models.GameStatusInProgress)

	fs.SetSilent(true)
	fs.DropAll()
	require.Eventually(t, func() bool { return fs.Connects() == 2 }, 2*time.Second, 5*time.Millisecond)
	fs.SetSilent(false)

	// The stalled socket never answers pings, so the read deadline ends it.
	require.Eventually(t, func() bool {
		return fs.Connects() >= 3 && v.State().IsConnected && fs.OpenConns(gameID) == 1
	}, 3*time.Second, 5*time.Millisecond)
}

func TestGameView_PushTriggersRefetch(t *testing.T) {
	v, fs := openView(t, models.GameStatusInProgress)

	next := fixture(gameID, models.GameStatusInProgress, bob)
	next.Board.AvailableGems[models.Diamond] = 1
	fs.SetSnapshot(next)

	ev, err := network.NewEvent(network.EventPlayerEvent, map[string]any{"user_id": bob})
	require.NoError(t, err)
	require.NoError(t, fs.Push(gameID, ev))
	require.NoError(t, fs.PushRaw(gameID, []byte("{not json")))

	require.Eventually(t, func() bool {
		return v.State().Snapshot.Board.AvailableGems.Get(models.Diamond) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, v.State().IsConnected, "a malformed frame is not fatal")
}

func TestGameView_CloseReleasesConnection(t *testing.T) {
	v, fs := openView(t, models.GameStatusInProgress)

	require.NoError(t, v.Close())
	require.NoError(t, v.Close())
	require.Eventually(t, func() bool { return fs.OpenConns(gameID) == 0 }, 2*time.Second, 5*time.Millisecond)

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, fs.Connects(), "no reconnect after close")
	assert.ErrorIs(t, v.PurchaseCard(context.Background(), 101, false), ErrViewClosed)
	assert.ErrorIs(t, v.Open(context.Background()), ErrViewClosed)
}

func TestManager_OpenGetCloseAll(t *testing.T) {
	fs := fakeserver.New()
	t.Cleanup(fs.Close)
	fs.SetSnapshot(fixture(7, models.GameStatusInProgress, alice))
	fs.SetSnapshot(fixture(8, models.GameStatusInProgress, bob))

	m := NewManager(testDeps(t, fs), Options{ActingPlayerID: alice, Sync: testSync()})
	a, err := m.Open(context.Background(), 7)
	require.NoError(t, err)
	again, err := m.Open(context.Background(), 7)
	require.NoError(t, err)
	assert.Same(t, a, again)

	_, err = m.Open(context.Background(), 8)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len())

	require.Eventually(t, func() bool { return fs.OpenConns(7) == 1 && fs.OpenConns(8) == 1 }, 2*time.Second, 5*time.Millisecond)

	got, ok := m.Get(8)
	require.True(t, ok)
	assert.Equal(t, int64(8), got.GameID())

	require.NoError(t, m.Close(8))
	_, ok = m.Get(8)
	assert.False(t, ok)

	require.NoError(t, m.CloseAll())
	assert.Equal(t, 0, m.Len())
	require.Eventually(t, func() bool { return fs.OpenConns(7) == 0 && fs.OpenConns(8) == 0 }, 2*time.Second, 5*time.Millisecond)
}

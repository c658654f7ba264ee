package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/wfunc/splendor-client/auth"
	"github.com/wfunc/splendor-client/config"
	"github.com/wfunc/splendor-client/logger"
	"github.com/wfunc/splendor-client/models"
	"github.com/wfunc/splendor-client/monitor"
	"github.com/wfunc/splendor-client/network"
	"github.com/wfunc/splendor-client/services"
	"github.com/wfunc/splendor-client/snapshot"
	"github.com/wfunc/splendor-client/timer"
	"github.com/wfunc/splendor-client/validator"
	"github.com/wfunc/splendor-client/view"
)

func main() {
	configPath := pflag.String("config", ".", "directory holding config.yaml")
	gameID := pflag.Int64("game", 0, "id of the game to open")
	playerID := pflag.Int64("player", 0, "acting player id (default: read from the token)")
	pflag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(cfg.Log.Development)
	defer logger.Sync()

	if *gameID <= 0 {
		logger.Log.Fatal("--game is required")
	}

	tokens := auth.FileTokenStore{Path: cfg.Auth.TokenFile}
	me, err := actingPlayer(*playerID, cfg.Auth.PlayerID, tokens)
	if err != nil {
		logger.Log.Fatalf("Cannot determine the acting player: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mon := monitor.NewMonitor(cfg.Monitor.Namespace)
	if cfg.Monitor.Address != "" {
		logger.Log.Infof("Serving metrics on %s", cfg.Monitor.Address)
		mon.StartServer(cfg.Monitor.Address, func(err error) {
			logger.Log.Errorf("Metrics server stopped: %v", err)
		})
		defer mon.Close()
	}

	timers := timer.NewManager(cfg.Sync.TimerResolution)
	defer timers.Stop()

	dialer := &network.WSDialer{
		BaseURL:          cfg.Server.WSBaseURL,
		HandshakeTimeout: cfg.Sync.HandshakeTimeout,
		Heartbeat:        network.Heartbeat{ReadTimeout: cfg.Sync.ReadTimeout, WriteTimeout: cfg.Sync.WriteTimeout},
	}
	views := view.NewManager(view.Deps{
		API:     services.NewGameService(cfg.Server.APIBaseURL, tokens, &http.Client{Timeout: cfg.Sync.FetchTimeout}),
		Dialer:  dialer,
		Tokens:  tokens,
		Timers:  timers,
		Metrics: mon.Metrics(),
	}, view.Options{ActingPlayerID: me, Sync: cfg.Sync})

	v, err := views.Open(ctx, *gameID)
	if err != nil {
		logger.Log.Fatalf("Failed to open game %d: %v", *gameID, err)
	}

	ctx, quit := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watchState(ctx, v, os.Stdout)
	})
	g.Go(func() error {
		defer quit()
		return commandLoop(ctx, v, me, readLines(os.Stdin), os.Stdout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Log.Errorf("Client stopped: %v", err)
	}
	if err := views.CloseAll(); err != nil {
		logger.Log.Errorf("Failed to close game views: %v", err)
	}
}

func actingPlayer(flagID, configID int64, tokens auth.TokenSource) (int64, error) {
	if flagID > 0 {
		return flagID, nil
	}
	if configID > 0 {
		return configID, nil
	}
	tok, err := tokens.Token(context.Background())
	if err != nil {
		return 0, err
	}
	return auth.UserIDFromToken(tok)
}

// readLines feeds stdin lines to a channel so the command loop can also
// watch for cancellation.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

func watchState(ctx context.Context, v *view.GameView, out io.Writer) error {
	states := v.Subscribe()
	defer v.Unsubscribe(states)

	var lastConnected, seen bool
	var lastErr string
	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-states:
			if !ok {
				return nil
			}
			errText := ""
			if st.Err != nil {
				errText = st.Err.Error()
			}
			if !seen || st.IsConnected != lastConnected {
				fmt.Fprintln(out, connectivityLine(st.IsConnected))
			}
			if errText != "" && errText != lastErr {
				fmt.Fprintf(out, "! %s\n", errText)
			}
			seen, lastConnected, lastErr = true, st.IsConnected, errText
		}
	}
}

func connectivityLine(connected bool) string {
	if connected {
		return "* live"
	}
	return "* offline (reconnecting)"
}

type command struct {
	name        string
	gems        []models.GemType
	cardID      int64
	fromReserve bool
	tier        int
}

var errUsage = errors.New("commands: take <gem>..., buy <card> [reserved], reserve <card> <tier>, refresh, show, quit")

func parseCommand(line string) (command, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return command{}, errUsage
	}

	cmd := command{name: fields[0]}
	args := fields[1:]
	switch cmd.name {
	case "take":
		if len(args) == 0 {
			return command{}, errUsage
		}
		for _, a := range args {
			gem, ok := models.ParseGemType(a)
			if !ok {
				return command{}, fmt.Errorf("unknown gem %q", a)
			}
			cmd.gems = append(cmd.gems, gem)
		}
	case "buy":
		if len(args) < 1 || len(args) > 2 {
			return command{}, errUsage
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return command{}, fmt.Errorf("bad card id %q", args[0])
		}
		cmd.cardID = id
		if len(args) == 2 {
			if args[1] != "reserved" {
				return command{}, errUsage
			}
			cmd.fromReserve = true
		}
	case "reserve":
		if len(args) != 2 {
			return command{}, errUsage
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return command{}, fmt.Errorf("bad card id %q", args[0])
		}
		tier, err := strconv.Atoi(args[1])
		if err != nil {
			return command{}, fmt.Errorf("bad tier %q", args[1])
		}
		cmd.cardID, cmd.tier = id, tier
	case "refresh", "show", "quit":
		if len(args) != 0 {
			return command{}, errUsage
		}
	default:
		return command{}, errUsage
	}
	return cmd, nil
}

func commandLoop(ctx context.Context, v *view.GameView, me int64, lines <-chan string, out io.Writer) error {
	fmt.Fprintln(out, errUsage.Error())
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			cmd, err := parseCommand(line)
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			if cmd.name == "quit" {
				return nil
			}
			if err := execute(ctx, v, me, cmd, out); err != nil {
				fmt.Fprintf(out, "! %s\n", err)
			}
		}
	}
}

func execute(ctx context.Context, v *view.GameView, me int64, cmd command, out io.Writer) error {
	switch cmd.name {
	case "take":
		v.ClearSelection()
		for _, gem := range cmd.gems {
			v.ToggleGem(gem)
		}
		if err := v.SubmitGems(ctx); err != nil {
			v.ClearSelection()
			return err
		}
		fmt.Fprintln(out, "ok")
	case "buy":
		if err := v.PurchaseCard(ctx, cmd.cardID, cmd.fromReserve); err != nil {
			return err
		}
		fmt.Fprintln(out, "ok")
	case "reserve":
		if err := v.ReserveCard(ctx, cmd.cardID, cmd.tier); err != nil {
			return err
		}
		fmt.Fprintln(out, "ok")
	case "refresh":
		if err := v.Refresh(ctx); err != nil {
			return err
		}
		renderState(out, v.State(), me)
	case "show":
		renderState(out, v.State(), me)
	}
	return nil
}

func renderState(out io.Writer, st snapshot.State, me int64) {
	if st.Loading {
		fmt.Fprintln(out, "loading...")
		return
	}
	snap := st.Snapshot
	if snap == nil {
		fmt.Fprintln(out, "no game state")
		return
	}

	turn, hasTurn := snap.CurrentTurnPlayerID()
	switch {
	case snap.Game.Status == models.GameStatusWaiting:
		fmt.Fprintf(out, "game %d: waiting for players (%d/%d)\n", snap.Game.ID, len(snap.Players), snap.Game.NumPlayers)
	case hasTurn && turn == me:
		fmt.Fprintf(out, "game %d turn %d: YOUR TURN\n", snap.Game.ID, snap.Game.TurnNumber)
	default:
		fmt.Fprintf(out, "game %d turn %d: waiting for player %d\n", snap.Game.ID, snap.Game.TurnNumber, turn)
	}

	if snap.Board != nil {
		fmt.Fprintf(out, "bank: %s\n", formatGems(snap.Board.AvailableGems))
		for tier := models.Tiers; tier >= 1; tier-- {
			fmt.Fprintf(out, "tier %d (%d in deck):", tier, snap.Board.DeckCount(tier))
			for _, c := range snap.Board.Tier(tier) {
				fmt.Fprintf(out, " [#%d %s %dvp %s]", c.ID, c.GemType, c.VictoryPoints, formatGems(c.Cost))
			}
			fmt.Fprintln(out)
		}
	}

	if ps, ok := snap.PlayerState(me); ok {
		fmt.Fprintf(out, "you: gems %s (%d/%d) bonus %s\n",
			formatGems(ps.Gems), ps.Gems.Total(), models.MaxHeldGems, formatGems(ps.PermanentGems))
		for _, c := range ps.ReservedCards {
			mark := ""
			if !validator.CanAfford(c.Cost, ps) {
				mark = " (cannot afford)"
			}
			fmt.Fprintf(out, "reserved: [#%d %s %dvp %s]%s\n", c.ID, c.GemType, c.VictoryPoints, formatGems(c.Cost), mark)
		}
	}
}

func formatGems(g models.Gems) string {
	parts := make([]string, 0, len(g))
	for gem, n := range g {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%s:%d", gem, n))
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

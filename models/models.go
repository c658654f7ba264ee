// models/models.go
package models

import (
	"errors"
	"fmt"
	"time"
)

// GemType names a gem colour. Gold is the wildcard.
type GemType string

const (
	Diamond  GemType = "diamond"
	Sapphire GemType = "sapphire"
	Emerald  GemType = "emerald"
	Ruby     GemType = "ruby"
	Onyx     GemType = "onyx"
	Gold     GemType = "gold"
)

// GemColors are the takeable, non-wildcard colours in display order.
var GemColors = []GemType{Diamond, Sapphire, Emerald, Ruby, Onyx}

const (
	Tiers       = 3
	FaceUpLimit = 4
	MaxReserved = 3
	MaxHeldGems = 10
)

// ParseGemType accepts a colour name as sent on the wire.
func ParseGemType(s string) (GemType, bool) {
	g := GemType(s)
	switch g {
	case Diamond, Sapphire, Emerald, Ruby, Onyx, Gold:
		return g, true
	}
	return "", false
}

// Gems counts tokens per colour. A missing key means zero.
type Gems map[GemType]int

func (g Gems) Get(t GemType) int { return g[t] }

func (g Gems) Total() int {
	total := 0
	for _, n := range g {
		total += n
	}
	return total
}

func (g Gems) Clone() Gems {
	out := make(Gems, len(g))
	for k, v := range g {
		out[k] = v
	}
	return out
}

type GameStatus string

const (
	GameStatusWaiting    GameStatus = "waiting"
	GameStatusInProgress GameStatus = "in_progress"
	GameStatusCompleted  GameStatus = "completed"
)

type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Game struct {
	ID                  int64         `json:"id"`
	RoomCode            string        `json:"room_code"`
	Status              GameStatus    `json:"status"`
	CurrentTurnPlayerID *int64        `json:"current_turn_player_id,omitempty"`
	TurnNumber          int           `json:"turn_number"`
	WinnerID            *int64        `json:"winner_id,omitempty"`
	CreatedBy           int64         `json:"created_by"`
	NumPlayers          int           `json:"num_players"`
	CreatedAt           time.Time     `json:"created_at"`
	StartedAt           *time.Time    `json:"started_at,omitempty"`
	CompletedAt         *time.Time    `json:"completed_at,omitempty"`
	Players             []*GamePlayer `json:"players,omitempty"`
}

type GamePlayer struct {
	ID             int64     `json:"id"`
	GameID         int64     `json:"game_id"`
	UserID         int64     `json:"user_id"`
	PlayerPosition int       `json:"player_position"`
	VictoryPoints  int       `json:"victory_points"`
	IsActive       bool      `json:"is_active"`
	JoinedAt       time.Time `json:"joined_at"`
	User           *User     `json:"user,omitempty"`
}

type DevelopmentCard struct {
	ID            int64   `json:"id"`
	Tier          int     `json:"tier"`
	GemType       GemType `json:"gem_type"`
	VictoryPoints int     `json:"victory_points"`
	Cost          Gems    `json:"cost"`
}

type Noble struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	VictoryPoints int    `json:"victory_points"`
	Required      Gems   `json:"required"`
}

// BoardState is the shared part of the table: bank, face-up cards, nobles
// and how many cards remain in each deck.
type BoardState struct {
	ID                int64             `json:"id"`
	GameID            int64             `json:"game_id"`
	AvailableGems     Gems              `json:"available_gems"`
	VisibleCardsTier1 []DevelopmentCard `json:"visible_cards_tier1"`
	VisibleCardsTier2 []DevelopmentCard `json:"visible_cards_tier2"`
	VisibleCardsTier3 []DevelopmentCard `json:"visible_cards_tier3"`
	AvailableNobles   []Noble           `json:"available_nobles"`
	DeckTier1Count    int               `json:"deck_tier1_count"`
	DeckTier2Count    int               `json:"deck_tier2_count"`
	DeckTier3Count    int               `json:"deck_tier3_count"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Tier returns the face-up cards of tier n (1..3), or nil.
func (b *BoardState) Tier(n int) []DevelopmentCard {
	switch n {
	case 1:
		return b.VisibleCardsTier1
	case 2:
		return b.VisibleCardsTier2
	case 3:
		return b.VisibleCardsTier3
	}
	return nil
}

// DeckCount returns the number of face-down cards left in tier n.
func (b *BoardState) DeckCount(n int) int {
	switch n {
	case 1:
		return b.DeckTier1Count
	case 2:
		return b.DeckTier2Count
	case 3:
		return b.DeckTier3Count
	}
	return 0
}

type PlayerState struct {
	ID             int64             `json:"id"`
	GamePlayerID   int64             `json:"game_player_id"`
	Gems           Gems              `json:"gems"`
	PermanentGems  Gems              `json:"permanent_gems"`
	PurchasedCards []DevelopmentCard `json:"purchased_cards"`
	ReservedCards  []DevelopmentCard `json:"reserved_cards"`
	Nobles         []Noble           `json:"nobles"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Snapshot is the full view of one game at a point in time. It is replaced
// wholesale on every refresh and must be treated as read-only.
type Snapshot struct {
	Game         *Game                  `json:"game"`
	Players      []*GamePlayer          `json:"players"`
	Board        *BoardState            `json:"game_state"`
	PlayerStates map[int64]*PlayerState `json:"player_states"` // keyed by user id
}

var ErrInvalidSnapshot = errors.New("invalid snapshot")

// Validate checks the structural invariants the server is expected to keep.
func (s *Snapshot) Validate() error {
	if s == nil || s.Game == nil || s.Board == nil {
		return fmt.Errorf("%w: missing game or board", ErrInvalidSnapshot)
	}
	if len(s.PlayerStates) != len(s.Players) {
		return fmt.Errorf("%w: %d player states for %d players", ErrInvalidSnapshot, len(s.PlayerStates), len(s.Players))
	}
	for _, p := range s.Players {
		if p == nil {
			return fmt.Errorf("%w: nil player", ErrInvalidSnapshot)
		}
		if _, ok := s.PlayerStates[p.UserID]; !ok {
			return fmt.Errorf("%w: no player state for user %d", ErrInvalidSnapshot, p.UserID)
		}
	}
	for gem, n := range s.Board.AvailableGems {
		if n < 0 {
			return fmt.Errorf("%w: bank holds %d %s", ErrInvalidSnapshot, n, gem)
		}
	}
	for tier := 1; tier <= Tiers; tier++ {
		if n := len(s.Board.Tier(tier)); n > FaceUpLimit {
			return fmt.Errorf("%w: tier %d shows %d cards", ErrInvalidSnapshot, tier, n)
		}
		if s.Board.DeckCount(tier) < 0 {
			return fmt.Errorf("%w: negative deck count for tier %d", ErrInvalidSnapshot, tier)
		}
	}
	return nil
}

// CurrentTurnPlayerID reports whose turn it is, if anyone's.
func (s *Snapshot) CurrentTurnPlayerID() (int64, bool) {
	if s == nil || s.Game == nil || s.Game.CurrentTurnPlayerID == nil {
		return 0, false
	}
	return *s.Game.CurrentTurnPlayerID, true
}

func (s *Snapshot) PlayerState(userID int64) (*PlayerState, bool) {
	if s == nil {
		return nil, false
	}
	ps, ok := s.PlayerStates[userID]
	return ps, ok && ps != nil
}

// FindVisibleCard looks a card up across the face-up tiers.
func (s *Snapshot) FindVisibleCard(cardID int64) (*DevelopmentCard, bool) {
	if s == nil || s.Board == nil {
		return nil, false
	}
	for tier := 1; tier <= Tiers; tier++ {
		cards := s.Board.Tier(tier)
		for i := range cards {
			if cards[i].ID == cardID {
				return &cards[i], true
			}
		}
	}
	return nil, false
}

// FindReservedCard looks a card up in a player's reserve.
func (s *Snapshot) FindReservedCard(userID, cardID int64) (*DevelopmentCard, bool) {
	ps, ok := s.PlayerState(userID)
	if !ok {
		return nil, false
	}
	for i := range ps.ReservedCards {
		if ps.ReservedCards[i].ID == cardID {
			return &ps.ReservedCards[i], true
		}
	}
	return nil, false
}

// Player returns the seat of a user.
func (s *Snapshot) Player(userID int64) (*GamePlayer, bool) {
	if s == nil {
		return nil, false
	}
	for _, p := range s.Players {
		if p != nil && p.UserID == userID {
			return p, true
		}
	}
	return nil, false
}

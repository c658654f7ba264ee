// services/game_service.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wfunc/splendor-client/auth"
	"github.com/wfunc/splendor-client/logger"
	"github.com/wfunc/splendor-client/models"
)

// APIError is a failed request. Message is the server's error text verbatim,
// or the operation's fallback when the body carried none.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// GameService talks to the game REST API.
type GameService struct {
	baseURL string
	tokens  auth.TokenSource
	client  *http.Client
}

func NewGameService(baseURL string, tokens auth.TokenSource, client *http.Client) *GameService {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &GameService{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		client:  client,
	}
}

// GetGameState fetches the full snapshot of a game.
func (s *GameService) GetGameState(ctx context.Context, gameID int64) (*models.Snapshot, error) {
	var resp struct {
		State *models.Snapshot `json:"state"`
	}
	if err := s.do(ctx, http.MethodGet, fmt.Sprintf("/games/%d/state", gameID), nil, &resp, "Failed to load game state"); err != nil {
		return nil, err
	}
	if resp.State == nil {
		return nil, &APIError{StatusCode: http.StatusOK, Message: "Failed to load game state"}
	}
	return resp.State, nil
}

// GetGame fetches lobby-level information about a game.
func (s *GameService) GetGame(ctx context.Context, gameID int64) (*models.Game, error) {
	var resp struct {
		Game *models.Game `json:"game"`
	}
	if err := s.do(ctx, http.MethodGet, fmt.Sprintf("/games/%d", gameID), nil, &resp, "Failed to load game"); err != nil {
		return nil, err
	}
	if resp.Game == nil {
		return nil, &APIError{StatusCode: http.StatusOK, Message: "Failed to load game"}
	}
	return resp.Game, nil
}

func (s *GameService) TakeGems(ctx context.Context, gameID int64, gems models.Gems) error {
	body := map[string]any{"gems": gems}
	return s.do(ctx, http.MethodPost, fmt.Sprintf("/games/%d/take-gems", gameID), body, nil, "Failed to take gems")
}

func (s *GameService) PurchaseCard(ctx context.Context, gameID, cardID int64, fromReserve bool) error {
	body := map[string]any{"card_id": cardID, "from_reserve": fromReserve}
	return s.do(ctx, http.MethodPost, fmt.Sprintf("/games/%d/purchase-card", gameID), body, nil, "Failed to purchase card")
}

func (s *GameService) ReserveCard(ctx context.Context, gameID, cardID int64, tier int) error {
	body := map[string]any{"card_id": cardID, "tier": tier}
	return s.do(ctx, http.MethodPost, fmt.Sprintf("/games/%d/reserve-card", gameID), body, nil, "Failed to reserve card")
}

func (s *GameService) do(ctx context.Context, method, path string, in, out any, fallback string) error {
	var reader io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return err
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.tokens != nil {
		tok, err := s.tokens.Token(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", fallback, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%s: %w", fallback, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: serverMessage(data, fallback)}
		logger.Log.Debugw("api request failed",
			"method", method, "path", path, "status", resp.StatusCode, "request_id", requestID, "error", apiErr.Message)
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", fallback, err)
	}
	return nil
}

func serverMessage(body []byte, fallback string) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return fallback
}

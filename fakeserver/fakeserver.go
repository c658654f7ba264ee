// Package fakeserver is an in-process stand-in for the game server: the REST
// endpoints the client calls plus the realtime websocket. Tests use it to
// drive the client end to end.
package fakeserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/wfunc/splendor-client/models"
	"github.com/wfunc/splendor-client/network"
)

// Command is one move the client submitted.
type Command struct {
	Kind      string
	GameID    int64
	Body      map[string]any
	Token     string
	RequestID string
}

type failure struct {
	status  int
	message string
}

type Server struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mutex         sync.Mutex
	snapshots     map[int64]*models.Snapshot
	commands      []Command
	failures      map[string]failure
	conns         map[int64]map[*websocket.Conn]struct{}
	connects      int
	stateRequests int
	silent        bool
	mute          []*websocket.Conn
}

func New() *Server {
	s := &Server{
		snapshots: make(map[int64]*models.Snapshot),
		failures:  make(map[string]failure),
		conns:     make(map[int64]map[*websocket.Conn]struct{}),
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ws/games/{id}", s.handleWS)
		r.Group(func(r chi.Router) {
			r.Use(requireBearer)
			r.Get("/games/{id}", s.handleGame)
			r.Get("/games/{id}/state", s.handleState)
			r.Post("/games/{id}/take-gems", s.handleCommand("take-gems"))
			r.Post("/games/{id}/purchase-card", s.handleCommand("purchase-card"))
			r.Post("/games/{id}/reserve-card", s.handleCommand("reserve-card"))
		})
	})
	s.srv = httptest.NewServer(r)
	return s
}

// URL is the server root, usable as the websocket base.
func (s *Server) URL() string { return s.srv.URL }

// APIBaseURL is the REST base including /api/v1.
func (s *Server) APIBaseURL() string { return s.srv.URL + "/api/v1" }

func (s *Server) Close() {
	s.DropAll()
	s.srv.Close()
}

// SetSnapshot replaces what GET /games/{id}/state returns.
func (s *Server) SetSnapshot(snap *models.Snapshot) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.snapshots[snap.Game.ID] = snap
}

// FailNext makes the next request of kind ("state", "game", "take-gems",
// "purchase-card", "reserve-card") fail with status and message. An empty
// message yields a body without an error field.
func (s *Server) FailNext(kind string, status int, message string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.failures[kind] = failure{status: status, message: message}
}

func (s *Server) Commands() []Command {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]Command(nil), s.commands...)
}

func (s *Server) StateRequests() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.stateRequests
}

// Connects counts accepted websocket handshakes.
func (s *Server) Connects() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.connects
}

// OpenConns counts websockets currently open for gameID.
func (s *Server) OpenConns(gameID int64) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.conns[gameID])
}

// Push sends ev to every websocket open for gameID.
func (s *Server) Push(gameID int64, ev network.Event) error {
	data, err := network.EncodeEvent(ev)
	if err != nil {
		return err
	}
	return s.PushRaw(gameID, data)
}

// PushRaw sends a raw text frame, malformed or not.
func (s *Server) PushRaw(gameID int64, data []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for c := range s.conns[gameID] {
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			return err
		}
	}
	return nil
}

// SetSilent makes sockets accepted from now on hang: no welcome, no pongs, no
// pushes, as a stalled peer behind a half-open TCP connection would.
func (s *Server) SetSilent(silent bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.silent = silent
}

// DropAll closes every websocket without a close frame, as a network failure
// would.
func (s *Server) DropAll() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, set := range s.conns {
		for c := range set {
			c.NetConn().Close()
		}
	}
	for _, c := range s.mute {
		c.NetConn().Close()
	}
	s.mute = nil
}

func requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		if !strings.HasPrefix(h, "Bearer ") || strings.TrimPrefix(h, "Bearer ") == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Authorization header required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func gameID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (s *Server) takeFailure(kind string) (failure, bool) {
	f, ok := s.failures[kind]
	if ok {
		delete(s.failures, kind)
	}
	return f, ok
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeFailure(w http.ResponseWriter, f failure) {
	if f.message == "" {
		writeJSON(w, f.status, map[string]string{})
		return
	}
	writeJSON(w, f.status, map[string]string{"error": f.message})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request, kind string) (*models.Snapshot, bool) {
	id, err := gameID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid game ID"})
		return nil, false
	}

	s.mutex.Lock()
	if kind == "state" {
		s.stateRequests++
	}
	f, failed := s.takeFailure(kind)
	snap := s.snapshots[id]
	s.mutex.Unlock()

	if failed {
		writeFailure(w, f)
		return nil, false
	}
	if snap == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Game not found"})
		return nil, false
	}
	return snap, true
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if snap, ok := s.lookup(w, r, "state"); ok {
		writeJSON(w, http.StatusOK, map[string]any{"state": snap})
	}
}

func (s *Server) handleGame(w http.ResponseWriter, r *http.Request) {
	if snap, ok := s.lookup(w, r, "game"); ok {
		writeJSON(w, http.StatusOK, map[string]any{"game": snap.Game})
	}
}

// handleCommand records the move and, like the real server, broadcasts a
// game_update to the game's sockets.
func (s *Server) handleCommand(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := gameID(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid game ID"})
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		s.mutex.Lock()
		f, failed := s.takeFailure(kind)
		if !failed {
			s.commands = append(s.commands, Command{
				Kind:      kind,
				GameID:    id,
				Body:      body,
				Token:     strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "),
				RequestID: r.Header.Get("X-Request-ID"),
			})
		}
		s.mutex.Unlock()

		if failed {
			writeFailure(w, f)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})

		if ev, err := network.NewEvent(network.EventGameUpdate, map[string]any{"game_id": id, "action": kind}); err == nil {
			s.Push(id, ev)
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id, err := gameID(r)
	if err != nil {
		http.Error(w, "invalid game id", http.StatusBadRequest)
		return
	}
	if r.URL.Query().Get("token") == "" {
		http.Error(w, `{"error":"Token required"}`, http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mutex.Lock()
	if s.silent {
		s.mute = append(s.mute, conn)
		s.connects++
		s.mutex.Unlock()
		return
	}
	if s.conns[id] == nil {
		s.conns[id] = make(map[*websocket.Conn]struct{})
	}
	s.conns[id][conn] = struct{}{}
	s.connects++
	welcome, _ := network.NewEvent(network.EventConnected, map[string]any{"game_id": id, "message": fmt.Sprintf("connected to game %d", id)})
	data, _ := network.EncodeEvent(welcome)
	conn.WriteMessage(websocket.TextMessage, data)
	s.mutex.Unlock()

	go func() {
		defer func() {
			s.mutex.Lock()
			delete(s.conns[id], conn)
			s.mutex.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

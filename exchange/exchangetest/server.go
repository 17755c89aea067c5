// Package exchangetest serves a scripted stand-in for the exchange HTTP API.
// It stores what it is given and records what it receives; it never matches.
package exchangetest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// PlacedOrder is one /order body as the exchange received it.
type PlacedOrder struct {
	User string
	Body map[string]any
}

// Type returns the "type" field of the order body.
func (p PlacedOrder) Type() string {
	s, _ := p.Body["type"].(string)
	return s
}

// Server is an httptest server speaking the exchange's JSON contract.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	users     map[string]string // key -> username
	names     map[string]bool
	pairs     json.RawMessage
	orderList json.RawMessage
	placed    []PlacedOrder
	omitKey   bool
	failures  map[string]int
	delays    map[string]time.Duration
	hits      map[string]int
}

// NewServer starts a fake exchange with an empty pair list and order book.
// Callers must Close it.
func NewServer() *Server {
	s := &Server{
		users:     make(map[string]string),
		names:     make(map[string]bool),
		pairs:     json.RawMessage(`[]`),
		orderList: json.RawMessage(`[]`),
		failures:  make(map[string]int),
		delays:    make(map[string]time.Duration),
		hits:      make(map[string]int),
	}
	s.Server = httptest.NewServer(s.routes())
	return s
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.countHits, s.injectDelays, s.injectFailures)
	r.HandleFunc("/user", s.handleRegister).Methods(http.MethodPost)
	r.Handle("/order", s.withAuth(http.HandlerFunc(s.handleOrder))).Methods(http.MethodPost)
	r.Handle("/pair", s.withAuth(http.HandlerFunc(s.handlePairs))).Methods(http.MethodGet)
	r.Handle("/orderlist", s.withAuth(http.HandlerFunc(s.handleOrderList))).Methods(http.MethodGet)
	return r
}

// SetPairs replaces the /pair body with the given raw JSON.
func (s *Server) SetPairs(raw string) {
	s.mu.Lock()
	s.pairs = json.RawMessage(raw)
	s.mu.Unlock()
}

// SetOrderList replaces the /orderlist body with the given raw JSON.
func (s *Server) SetOrderList(raw string) {
	s.mu.Lock()
	s.orderList = json.RawMessage(raw)
	s.mu.Unlock()
}

// OmitKey makes /user answer 200 without a key.
func (s *Server) OmitKey(omit bool) {
	s.mu.Lock()
	s.omitKey = omit
	s.mu.Unlock()
}

// FailWith makes every request to path answer with code. Zero clears it.
func (s *Server) FailWith(path string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code == 0 {
		delete(s.failures, path)
		return
	}
	s.failures[path] = code
}

// Delay holds every response on path for d, or until the client gives up.
// Zero clears it.
func (s *Server) Delay(path string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d <= 0 {
		delete(s.delays, path)
		return
	}
	s.delays[path] = d
}

// Placed returns a copy of every accepted order, in arrival order.
func (s *Server) Placed() []PlacedOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PlacedOrder, len(s.placed))
	copy(out, s.placed)
	return out
}

// Hits returns how many requests reached path, including failed ones.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *Server) countHits(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) injectDelays(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		d := s.delays[r.URL.Path]
		s.mu.Unlock()
		if d > 0 {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-r.Context().Done():
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		code := s.failures[r.URL.Path]
		s.mu.Unlock()
		if code != 0 {
			writeError(w, code, errors.New("injected failure"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		_, ok := s.users[r.Header.Get("X-USER-KEY")]
		s.mu.Unlock()
		if !ok {
			writeError(w, http.StatusUnauthorized, errors.New("missing or invalid key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		writeError(w, http.StatusBadRequest, errors.New("username is required"))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.names[req.Username] {
		writeError(w, http.StatusConflict, fmt.Errorf("user %s already exists", req.Username))
		return
	}
	if s.omitKey {
		writeJSON(w, http.StatusOK, map[string]string{"username": req.Username})
		return
	}
	key := uuid.NewString()
	s.users[key] = req.Username
	s.names[req.Username] = true
	writeJSON(w, http.StatusCreated, map[string]string{"key": key})
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
		return
	}

	s.mu.Lock()
	user := s.users[r.Header.Get("X-USER-KEY")]
	s.placed = append(s.placed, PlacedOrder{User: user, Body: body})
	id := len(s.placed)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"order_id": id, "status": "accepted"})
}

func (s *Server) handlePairs(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	body := s.pairs
	s.mu.Unlock()
	writeRaw(w, body)
}

func (s *Server) handleOrderList(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	body := s.orderList
	s.mu.Unlock()
	writeRaw(w, body)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeRaw(w http.ResponseWriter, body json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

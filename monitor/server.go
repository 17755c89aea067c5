package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"marketbots/bots"
)

const (
	subscriptionBuffer = 64
	writeTimeout       = 5 * time.Second
	shutdownTimeout    = 5 * time.Second
)

// Source is what the monitor observes; *bots.Supervisor satisfies it.
type Source interface {
	Subscribe(buffer int) *bots.Subscription[bots.Event]
	Unsubscribe(sub *bots.Subscription[bots.Event])
	Stats() []bots.BotStats
}

// Server exposes bot events and stats over HTTP.
type Server struct {
	source   Source
	router   *mux.Router
	upgrader websocket.Upgrader
	logger   *zap.SugaredLogger
	started  time.Time
}

type outboundMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type healthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
	Bots   int    `json:"bots"`
}

func NewServer(source Source, logger *zap.Logger) *Server {
	s := &Server{
		source:   source,
		router:   mux.NewRouter(),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		logger:   logger.Sugar().Named("monitor"),
		started:  time.Now(),
	}
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	s.router.HandleFunc("/ws/events", s.handleEventStream)
	return s
}

// Handler returns the routed handler wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.router)
}

// Run serves on addr until ctx is canceled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("monitor_listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Uptime: time.Since(s.started).Truncate(time.Second).String(),
		Bots:   len(s.source.Stats()),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.source.Stats())
}

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := s.source.Subscribe(subscriptionBuffer)
	defer s.source.Unsubscribe(sub)

	// The stream is one-way; reading only detects the client going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.source.Unsubscribe(sub)
				return
			}
		}
	}()

	for ev := range sub.C() {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(outboundMessage{Type: "event", Data: ev}); err != nil {
			s.logger.Debugw("event_stream_closed", "remote", r.RemoteAddr, "err", err)
			return
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"),
		time.Now().Add(time.Second))
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

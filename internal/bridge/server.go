package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go2tv.app/castbridge/internal/controls"
	"golang.org/x/mod/semver"
	"golang.org/x/time/rate"
)

// ProtocolVersion is the bridge wire protocol version. Clients may pass a
// "protocol" query parameter; only the major version has to match.
const ProtocolVersion = "v1.0.0"

const shutdownTimeout = 10 * time.Second

// Options configures a Server.
type Options struct {
	Addr              string
	AllowedOrigins    []string // empty allows same-origin requests only, "*" allows any
	CommandsPerSecond float64
	Controls          controls.ExpandedControls
}

// Server serves the websocket bridge and its HTTP side endpoints.
type Server struct {
	opts       Options
	hub        *Hub
	dispatcher *Dispatcher
	upgrader   websocket.Upgrader
	httpServer *http.Server
	log        zerolog.Logger
}

// NewServer creates a bridge server delivering hub events to clients and
// forwarding their commands to ctrl.
func NewServer(opts Options, hub *Hub, ctrl Controller, logger zerolog.Logger) *Server {
	if opts.CommandsPerSecond <= 0 {
		opts.CommandsPerSecond = 5
	}

	s := &Server{
		opts:       opts,
		hub:        hub,
		dispatcher: NewDispatcher(ctrl, logger),
		log:        logger.With().Str("Component", "bridge").Logger(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(s.opts.AllowedOrigins) == 0 {
		return strings.TrimPrefix(strings.TrimPrefix(origin, "http://"), "https://") == r.Host
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	s.log.Warn().Str("Method", "checkOrigin").Str("Origin", origin).Msg("origin not allowed")
	return false
}

// Router returns the HTTP handler of the bridge.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.serveWS)
	r.Get("/health", healthHandler)
	r.Get("/controls", s.controlsHandler)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	if err := checkProtocol(r.URL.Query().Get("protocol")); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.log.Debug().Str("Method", "serveWS").Err(err).Msg("upgrade failed")
		return
	}

	id := uuid.NewString()
	c := &Client{
		id:         id,
		hub:        s.hub,
		conn:       conn,
		send:       make(chan []byte, sendBufferSize),
		limiter:    rate.NewLimiter(rate.Limit(s.opts.CommandsPerSecond), int(s.opts.CommandsPerSecond)+1),
		dispatcher: s.dispatcher,
		log:        s.log.With().Str("Client", id).Logger(),
	}
	s.hub.register(c)

	go c.writePump()
	go c.readPump(context.WithoutCancel(r.Context()))
}

// checkProtocol accepts an empty version or one with our major version.
func checkProtocol(v string) error {
	if v == "" {
		return nil
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return fmt.Errorf("invalid protocol version %q", v)
	}
	if semver.Major(v) != semver.Major(ProtocolVersion) {
		return fmt.Errorf("unsupported protocol version %s, server speaks %s", v, ProtocolVersion)
	}
	return nil
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) controlsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.opts.Controls); err != nil {
		s.log.Warn().Str("Method", "controlsHandler").Err(err).Msg("write failed")
	}
}

// Run serves until ctx is cancelled, then shuts the server down and drops
// every client.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("Method", "Run").Str("Addr", s.opts.Addr).Msg("bridge listening")
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("bridge: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	s.hub.closeAll()
	if err != nil {
		return fmt.Errorf("bridge shutdown: %w", err)
	}
	return nil
}

package apihttp

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"bookstream/internal/domain"
	"bookstream/internal/gateway"
	"bookstream/internal/player"
)

// Forwarder is the proxy gateway surface the server exposes.
type Forwarder interface {
	Forward(ctx context.Context, pr gateway.ProxyRequest) (*gateway.UpstreamResponse, error)
}

// PlaybackController drives the resume lifecycle for the single device.
type PlaybackController interface {
	Load(ctx context.Context, itemID domain.ItemID) (player.Snapshot, error)
	Play() player.Snapshot
	Pause() player.Snapshot
	Seek(seconds float64) (player.Snapshot, error)
	CycleSleepTimer() player.Snapshot
	SetKeepAlive(enabled bool) (player.Snapshot, error)
	Snapshot() player.Snapshot
	Generation() int
	HandleEvent(gen int, ev player.Event)
	OnChange(fn func(player.Snapshot))
}

// ProgressStore persists listening positions.
type ProgressStore interface {
	Get(ctx context.Context, itemID domain.ItemID) (domain.ProgressRecord, error)
	Set(ctx context.Context, rec domain.ProgressRecord) error
	ListRecent(ctx context.Context, limit int) ([]domain.ProgressRecord, error)
}

// LibraryService reads cached library metadata.
type LibraryService interface {
	Items(ctx context.Context) ([]domain.MediaItem, error)
	Item(ctx context.Context, itemID domain.ItemID) (domain.MediaItem, error)
}

type Server struct {
	gw             Forwarder
	controller     PlaybackController
	progress       ProgressStore
	library        LibraryService
	allowedOrigins []string
	logger         *slog.Logger
	handler        http.Handler
	wsHub          *wsHub
	device         *RemoteDevice
}

type ServerOption func(*Server)

func WithProgressStore(store ProgressStore) ServerOption {
	return func(s *Server) {
		s.progress = store
	}
}

func WithLibrary(svc LibraryService) ServerOption {
	return func(s *Server) {
		s.library = svc
	}
}

// WithAllowedOrigins configures the CORS allowed origins whitelist.
// When empty (default), any origin is permitted (development mode).
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(gw Forwarder, opts ...ServerOption) *Server {
	s := &Server{gw: gw}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.wsHub = newWSHub(s.logger)
	go s.wsHub.run()
	s.device = newRemoteDevice(s.wsHub)

	mux := http.NewServeMux()
	mux.HandleFunc("/proxy", s.handleProxy)
	mux.HandleFunc("/playback/load", s.handlePlaybackLoad)
	mux.HandleFunc("/playback/play", s.handlePlaybackPlay)
	mux.HandleFunc("/playback/pause", s.handlePlaybackPause)
	mux.HandleFunc("/playback/seek", s.handlePlaybackSeek)
	mux.HandleFunc("/playback/sleep-timer/cycle", s.handleSleepTimerCycle)
	mux.HandleFunc("/playback/keep-alive", s.handleKeepAlive)
	mux.HandleFunc("/playback/state", s.handlePlaybackState)
	mux.HandleFunc("/playback/events", s.handlePlaybackEvents)
	mux.HandleFunc("/progress", s.handleProgressList)
	mux.HandleFunc("/progress/", s.handleProgressByID)
	mux.HandleFunc("/library/items", s.handleLibraryItems)
	mux.HandleFunc("/library/items/", s.handleLibraryItemByID)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "bookstream",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/ws" && !strings.HasPrefix(p, "/proxy")
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(100, 200, metricsMiddleware(corsMiddleware(s.allowedOrigins, traced))))
	return s
}

// Device returns the remote playback device bound to this server's
// websocket hub. The controller is constructed against it and attached
// afterwards with SetController.
func (s *Server) Device() *RemoteDevice {
	return s.device
}

// SetController attaches the playback controller after construction and
// wires state changes into the websocket broadcast plus inbound socket
// commands into the controller.
func (s *Server) SetController(ctrl PlaybackController) {
	s.controller = ctrl
	ctrl.OnChange(s.wsHub.BroadcastSnapshot)
	go s.dispatchCommands()
}

// dispatchCommands applies player commands received over the websocket.
// Unknown actions are dropped with a debug log: old clients must not be
// able to crash the player.
func (s *Server) dispatchCommands() {
	for {
		select {
		case <-s.wsHub.done:
			return
		case cmd := <-s.wsHub.commands:
			s.applyCommand(cmd)
		}
	}
}

func (s *Server) applyCommand(cmd wsCommand) {
	switch cmd.Action {
	case "load":
		if cmd.ItemID == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := s.controller.Load(ctx, cmd.itemIDOf()); err != nil {
			s.logger.Warn("ws load command failed", slog.String("error", err.Error()))
		}
	case "play":
		s.controller.Play()
	case "pause":
		s.controller.Pause()
	case "seek":
		if _, err := s.controller.Seek(cmd.Position); err != nil {
			s.logger.Debug("ws seek command rejected", slog.String("error", err.Error()))
		}
	case "cycle_sleep_timer":
		s.controller.CycleSleepTimer()
	case "keep_alive":
		if _, err := s.controller.SetKeepAlive(cmd.Enabled); err != nil {
			s.logger.Warn("ws keep-alive command failed", slog.String("error", err.Error()))
		}
	default:
		s.logger.Debug("unknown ws command", slog.String("action", cmd.Action))
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{
		hub:  s.wsHub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	s.wsHub.register <- client
	go client.writePump()
	go client.readPump()

	// New subscribers immediately receive the current state.
	if s.controller != nil {
		s.wsHub.BroadcastSnapshot(s.controller.Snapshot())
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close disconnects all websocket clients and stops the command pump.
func (s *Server) Close() {
	if s.wsHub != nil {
		s.wsHub.Close()
	}
}

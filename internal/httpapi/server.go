package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/rickgao/wstool/internal/connection"
	"github.com/rickgao/wstool/internal/model"
)

// ConfigSource supplies connection definitions and history.
// *store.ConfigStore implements it.
type ConfigSource interface {
	Get(ctx context.Context, id string) (model.ConnectionConfig, error)
	SetStatus(ctx context.Context, id string, status model.ConfigStatus) error
	Messages(ctx context.Context, id string, limit, offset int) ([]model.Message, error)
	CountMessages(ctx context.Context, id string) (int64, error)
}

// Pinger reports database health. *pgxpool.Pool implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server routes HTTP requests to the registry, prober and store.
type Server struct {
	registry *connection.Registry
	prober   *connection.Prober
	store    ConfigSource
	sink     connection.MessageSink
	db       Pinger
	logger   *slog.Logger
	now      func() time.Time

	keepAlive time.Duration
	router    *mux.Router
}

// Option configures a Server.
type Option func(*Server)

// WithSink records sends that fail before reaching a connection.
func WithSink(sink connection.MessageSink) Option {
	return func(s *Server) { s.sink = sink }
}

// WithPinger adds a database check to /health.
func WithPinger(db Pinger) Option {
	return func(s *Server) { s.db = db }
}

// WithHandler mounts an extra handler, such as promhttp, at path.
func WithHandler(path string, h http.Handler) Option {
	return func(s *Server) { s.router.Handle(path, h).Methods(http.MethodGet) }
}

// WithKeepAlive sets the SSE comment interval.
func WithKeepAlive(d time.Duration) Option {
	return func(s *Server) { s.keepAlive = d }
}

// New creates a Server.
func New(
	registry *connection.Registry,
	prober *connection.Prober,
	store ConfigSource,
	logger *slog.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		registry:  registry,
		prober:    prober,
		store:     store,
		sink:      connection.SinkFunc(func(model.Message) {}),
		logger:    logger,
		now:       time.Now,
		keepAlive: 15 * time.Second,
		router:    mux.NewRouter(),
	}

	s.routes()
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return allowCORS(s.router)
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.recoverPanics, s.logRequests)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	ws := r.PathPrefix("/websocket").Subrouter()
	ws.HandleFunc("/test", s.handleTest).Methods(http.MethodPost)
	ws.HandleFunc("/send", s.handleSend).Methods(http.MethodPost)
	ws.HandleFunc("/subscribe", s.handleSubscribe).Methods(http.MethodPost)
	ws.HandleFunc("/unsubscribe/{id}", s.handleStop).Methods(http.MethodPost)
	ws.HandleFunc("/start/{id}", s.handleStart).Methods(http.MethodPost)
	ws.HandleFunc("/stop/{id}", s.handleStop).Methods(http.MethodPost)
	ws.HandleFunc("/reconnect/{id}", s.handleReconnect).Methods(http.MethodPost)
	ws.HandleFunc("/status", s.handleAllStatus).Methods(http.MethodGet)
	ws.HandleFunc("/status/{id}", s.handleStatus).Methods(http.MethodGet)
	ws.HandleFunc("/stream/{id}", s.handleStream).Methods(http.MethodGet)
	ws.HandleFunc("/messages/{id}", s.handleMessages).Methods(http.MethodGet)
}

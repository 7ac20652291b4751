package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/wstool/internal/metrics"
	"github.com/rickgao/wstool/internal/model"
)

// entry is what the registry keeps per connection ID.
type entry struct {
	kind     model.Kind
	template string
	cancel   context.CancelFunc
	outbound chan<- outbound
	info     *sharedInfo
	fanout   *fanout
	done     <-chan struct{}
}

func (e *entry) alive() bool {
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

// Registry tracks live connections by config ID.
//
// Connect, Disconnect and Reconnect are serialized per ID; operations on
// different IDs never wait on each other. Send, Status and Subscribe only
// take the map read lock.
type Registry struct {
	cfg     Config
	logger  *slog.Logger
	sink    MessageSink
	metrics metrics.Collector
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	keys keyedMutex

	mu      sync.RWMutex
	entries map[string]*entry
	closed  bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithSink sets where sent and received frames are reported.
func WithSink(sink MessageSink) Option {
	return func(r *Registry) {
		if sink != nil {
			r.sink = sink
		}
	}
}

// WithCollector sets the metrics collector.
func WithCollector(c metrics.Collector) Option {
	return func(r *Registry) {
		if c != nil {
			r.metrics = c
		}
	}
}

// WithClock overrides the wall clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates an empty registry. Zero fields of cfg take their
// DefaultConfig values.
func NewRegistry(cfg Config, logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		cfg:     cfg.withDefaults(),
		logger:  logger,
		sink:    discardSink{},
		metrics: metrics.Noop(),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect opens a connection for cfg and registers it under cfg.ID.
//
// A connection that is already up is left alone. Any other existing entry
// for the ID is stopped and replaced. The handshake runs synchronously;
// on failure nothing is registered and the error wraps ErrConnectFailed.
func (r *Registry) Connect(ctx context.Context, cfg model.ConnectionConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("connect %s: %w: %v", cfg.ID, ErrInvalidConfig, err)
	}

	unlock := r.keys.Lock(cfg.ID)
	defer unlock()

	if existing, ok := r.lookup(cfg.ID); ok {
		if existing.alive() && existing.info.snapshot().State == StateConnected {
			return nil
		}
		if err := r.stop(ctx, cfg.ID, existing); err != nil {
			return fmt.Errorf("connect %s: stop previous: %w", cfg.ID, err)
		}
	}

	a := newActor(r.ctx, cfg, actorDeps{
		opts:    r.cfg,
		sink:    r.sink,
		metrics: r.metrics,
		logger:  r.logger,
		now:     r.now,
	})
	e := a.entry()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		a.cancel()
		return ErrRegistryClosed
	}
	r.entries[cfg.ID] = e
	r.mu.Unlock()

	if err := a.start(ctx); err != nil {
		r.remove(cfg.ID, e)
		return fmt.Errorf("connect %s: %w", cfg.ID, err)
	}
	return nil
}

// Disconnect stops the connection and removes it. Unknown IDs are a no-op.
func (r *Registry) Disconnect(ctx context.Context, id string) error {
	unlock := r.keys.Lock(id)
	defer unlock()

	e, ok := r.lookup(id)
	if !ok {
		return nil
	}
	if err := r.stop(ctx, id, e); err != nil {
		return fmt.Errorf("disconnect %s: %w", id, err)
	}

	r.logger.Info("connection removed", "conn_id", id)
	return nil
}

// Reconnect replaces the connection: disconnect, pause, connect.
func (r *Registry) Reconnect(ctx context.Context, cfg model.ConnectionConfig) error {
	if err := r.Disconnect(ctx, cfg.ID); err != nil {
		return err
	}

	if r.cfg.ReconnectBaseWait > 0 {
		timer := time.NewTimer(r.cfg.ReconnectBaseWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return r.Connect(ctx, cfg)
}

// Send queues one text frame on a sender connection. An empty message
// falls back to the connection's message template.
//
// Send returns once the frame is queued; the outcome of the write is
// reported to the sink.
func (r *Registry) Send(ctx context.Context, id, message string) error {
	e, ok := r.lookup(id)
	if !ok || !e.alive() {
		return fmt.Errorf("send %s: %w", id, ErrNotConnected)
	}
	if e.kind != model.KindSender {
		return fmt.Errorf("send %s: %w: %s connection", id, ErrWrongConnectionKind, e.kind)
	}
	if message == "" {
		message = e.template
	}

	select {
	case e.outbound <- outbound{content: message}:
		return nil
	case <-e.done:
		return fmt.Errorf("send %s: %w", id, ErrNotConnected)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe attaches a new subscription to a subscriber connection.
func (r *Registry) Subscribe(id string, buffer int) (*Subscription, error) {
	e, ok := r.lookup(id)
	if !ok || !e.alive() {
		return nil, fmt.Errorf("subscribe %s: %w", id, ErrNotConnected)
	}
	if e.kind != model.KindSubscriber {
		return nil, fmt.Errorf("subscribe %s: %w: %s connection", id, ErrWrongConnectionKind, e.kind)
	}

	sub, err := e.fanout.subscribe(buffer)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", id, err)
	}
	return sub, nil
}

// Status returns a snapshot of one connection.
func (r *Registry) Status(id string) (ConnectionInfo, bool) {
	e, ok := r.lookup(id)
	if !ok {
		return ConnectionInfo{}, false
	}
	return e.info.snapshot(), true
}

// AllStatus returns snapshots of every registered connection keyed by ID.
func (r *Registry) AllStatus() map[string]ConnectionInfo {
	r.mu.RLock()
	entries := make(map[string]*entry, len(r.entries))
	for id, e := range r.entries {
		entries[id] = e
	}
	r.mu.RUnlock()

	out := make(map[string]ConnectionInfo, len(entries))
	for id, e := range entries {
		out[id] = e.info.snapshot()
	}
	return out
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Close stops every connection and rejects further Connect calls.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	r.logger.Info("closing connection registry", "connections", len(entries))
	r.cancel()

	for _, e := range entries {
		select {
		case <-e.done:
		case <-ctx.Done():
			r.logger.Warn("shutdown timeout, connections still closing")
			return ctx.Err()
		}
	}

	r.mu.Lock()
	clear(r.entries)
	r.mu.Unlock()
	return nil
}

func (r *Registry) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// stop cancels the actor, waits for it and drops the entry.
func (r *Registry) stop(ctx context.Context, id string, e *entry) error {
	e.cancel()
	select {
	case <-e.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	r.remove(id, e)
	return nil
}

// remove drops id only if it still maps to e.
func (r *Registry) remove(id string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[id] == e {
		delete(r.entries, id)
	}
}

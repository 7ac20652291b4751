package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/wstool/internal/connection"
	"github.com/rickgao/wstool/internal/model"
	"github.com/rickgao/wstool/internal/store"
)

// ConfigSource lists and updates persisted connection configs.
// *store.ConfigStore implements it.
type ConfigSource interface {
	List(ctx context.Context, f store.Filter) ([]model.ConnectionConfig, error)
	SetStatus(ctx context.Context, id string, status model.ConfigStatus) error
}

// StateSource reports live connection state. *connection.Registry implements it.
type StateSource interface {
	Status(id string) (connection.ConnectionInfo, bool)
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Poll interval (default: 30s)
	Concurrency int           // Max concurrent status updates (default: 8)
	Timeout     time.Duration // Per-update timeout (default: 5s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    30 * time.Second,
		Concurrency: 8,
		Timeout:     5 * time.Second,
	}
}

// Poller periodically reconciles stored config statuses with live state.
type Poller struct {
	cfg     Config
	configs ConfigSource
	states  StateSource
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, configs ConfigSource, states StateSource, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Poller{
		cfg:     cfg,
		configs: configs,
		states:  states,
		logger:  logger,
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("status poller started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("status poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollAll()
		}
	}
}

// pollAll marks every active config without a live connection as errored.
// It returns the number of configs updated.
func (p *Poller) pollAll() int {
	start := time.Now()

	active, err := p.configs.List(p.ctx, store.Filter{Status: model.StatusActive})
	if err != nil {
		p.logger.Warn("failed to list active configs", "error", err)
		return 0
	}

	var stale []string
	for _, c := range active {
		if p.stale(c.ID) {
			stale = append(stale, c.ID)
		}
	}
	if len(stale) == 0 {
		p.logger.Debug("status poll complete", "active", len(active))
		return 0
	}

	// Semaphore for bounded concurrency.
	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup
	var updated, errors atomic.Int64

	for _, id := range stale {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-p.ctx.Done():
				return
			}

			if err := p.markErrored(id); err != nil {
				p.logger.Warn("failed to update config status",
					"conn_id", id,
					"error", err,
				)
				errors.Add(1)
				return
			}
			updated.Add(1)
		}(id)
	}

	wg.Wait()

	p.logger.Info("status poll complete",
		"active", len(active),
		"stale", len(stale),
		"updated", updated.Load(),
		"errors", errors.Load(),
		"duration", time.Since(start),
	)
	return int(updated.Load())
}

// stale reports whether the config's connection is missing or terminal.
// Connections that are still connecting or waiting to reconnect count as live.
func (p *Poller) stale(id string) bool {
	info, found := p.states.Status(id)
	if !found {
		return true
	}
	return info.State == connection.StateError || info.State == connection.StateDisconnected
}

func (p *Poller) markErrored(id string) error {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()
	return p.configs.SetStatus(ctx, id, model.StatusError)
}

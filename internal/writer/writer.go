package writer

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rickgao/wstool/internal/metrics"
	"github.com/rickgao/wstool/internal/model"
)

// Config contains configuration for the message writer.
type Config struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// BufferSize is the initial queue capacity.
	BufferSize int

	// MaxBuffer caps the queue; messages beyond it are dropped.
	MaxBuffer int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    1024,
		MaxBuffer:     100_000,
	}
}

// Stats holds writer counters.
type Stats struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
	Dropped   int64
}

// BatchSender is satisfied by *pgxpool.Pool and *pgx.Conn.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

const insertMessage = `
	INSERT INTO websocket_message (id, config_id, message_type, content, timestamp, status, error_message)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO NOTHING`

// MessageWriter batches model.Message rows into websocket_message.
type MessageWriter struct {
	cfg     Config
	db      BatchSender
	logger  *slog.Logger
	metrics metrics.Collector

	queue *Queue[model.Message]

	// Serializes flushes between the run loop and Stop.
	flushMu sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	statsMu sync.Mutex
	stats   Stats
}

// New creates a MessageWriter. A nil collector disables metrics.
func New(cfg Config, db BatchSender, logger *slog.Logger, collector metrics.Collector) *MessageWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if collector == nil {
		collector = metrics.Noop()
	}
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	return &MessageWriter{
		cfg:     cfg,
		db:      db,
		logger:  logger,
		metrics: collector,
		queue:   NewQueue[model.Message](cfg.BufferSize, cfg.MaxBuffer),
	}
}

// Record enqueues msg for persistence. It never blocks.
func (w *MessageWriter) Record(msg model.Message) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.Status == "" {
		msg.Status = model.MessageSuccess
	}

	if !w.queue.Push(msg) {
		w.statsMu.Lock()
		w.stats.Dropped++
		w.statsMu.Unlock()
		w.metrics.IncWriterDropped(1)
		w.logger.Warn("history queue full, dropping message",
			"conn_id", msg.ConnectionID,
			"direction", msg.Direction,
		)
	}
}

// Start begins flushing in the background.
func (w *MessageWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.run()

	w.logger.Info("message writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
		"max_buffer", w.cfg.MaxBuffer,
	)
	return nil
}

// Stop halts the background loop and writes everything still queued.
func (w *MessageWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping message writer")

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("message writer stop timed out")
	}

	w.queue.Close()

	// Final flush
	w.flushAll(ctx)

	w.logger.Info("message writer stopped", "pending", w.queue.Len())
	return nil
}

// Stats returns current counters.
func (w *MessageWriter) Stats() Stats {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	return w.stats
}

// Pending returns the number of queued, unwritten messages.
func (w *MessageWriter) Pending() int {
	return w.queue.Len()
}

func (w *MessageWriter) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.queue.Ready():
			for w.queue.Len() >= w.cfg.BatchSize {
				if !w.flushBatch(w.ctx) {
					break
				}
			}
		case <-ticker.C:
			w.flushAll(w.ctx)
		}
	}
}

// flushAll writes batches until the queue is empty or a write fails.
func (w *MessageWriter) flushAll(ctx context.Context) {
	for w.queue.Len() > 0 {
		if !w.flushBatch(ctx) {
			return
		}
	}
}

// flushBatch writes at most one batch. It reports whether the write succeeded.
func (w *MessageWriter) flushBatch(ctx context.Context) bool {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	rows := w.queue.DrainTo(w.cfg.BatchSize)
	if len(rows) == 0 {
		return true
	}

	start := time.Now()
	conflicts, err := w.batchInsert(ctx, rows)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(rows))
		w.statsMu.Lock()
		w.stats.Errors++
		w.statsMu.Unlock()
		return false
	}
	elapsed := time.Since(start)

	w.statsMu.Lock()
	w.stats.Inserts += int64(len(rows) - conflicts)
	w.stats.Conflicts += int64(conflicts)
	w.stats.Flushes++
	w.statsMu.Unlock()

	w.metrics.ObserveFlush(len(rows), elapsed)
	w.logger.Debug("flushed messages",
		"count", len(rows),
		"conflicts", conflicts,
		"duration", elapsed,
	)
	return true
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *MessageWriter) batchInsert(ctx context.Context, rows []model.Message) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, m := range rows {
		batch.Queue(insertMessage,
			m.ID,
			m.ConnectionID,
			string(m.Direction),
			sanitize(m.Content),
			m.Timestamp,
			string(m.Status),
			nullable(m.Error),
		)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}

// sanitize makes content storable in a TEXT column.
func sanitize(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	return strings.ReplaceAll(s, "\x00", "")
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

package archive

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quantfabric/kalshi-core/internal/config"
	"github.com/quantfabric/kalshi-core/internal/connection"
)

// DB is the slice of the pgx pool the writers use. *pgxpool.Pool
// satisfies it.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// WriterMetrics counts archive writer activity.
type WriterMetrics struct {
	Inserts int64
	Flushes int64
	Errors  int64
}

// transitionRow is the flattened form written to the
// connection_transitions table.
type transitionRow struct {
	Service    string
	FromState  string
	ToState    string
	Err        string
	OccurredAt time.Time
}

// TransitionWriter batches connection transitions into Postgres.
// Feed it by consuming a manager's transition subscription and calling
// Add for each event.
type TransitionWriter struct {
	cfg    config.ArchiveConfig
	logger *slog.Logger
	db     DB

	batch       []transitionRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics WriterMetrics
}

// NewTransitionWriter creates a transition writer. Zero batch size and
// flush interval use 500 rows and 1s.
func NewTransitionWriter(cfg config.ArchiveConfig, db DB, logger *slog.Logger) *TransitionWriter {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = config.DefaultBatchSize
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = config.DefaultFlushInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TransitionWriter{
		cfg:    cfg,
		db:     db,
		logger: logger,
		batch:  make([]transitionRow, 0, cfg.BatchSize),
	}
}

// Start launches the periodic flush loop.
func (w *TransitionWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("transition archive started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains the flush loop and writes any remaining rows.
func (w *TransitionWriter) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("transition archive stop timed out")
	}

	w.flush()
	return nil
}

// Add queues one transition for archiving, flushing when the batch is
// full.
func (w *TransitionWriter) Add(tr connection.Transition) {
	row := transform(tr)

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush()
	}
}

// Stats returns current metrics.
func (w *TransitionWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

func (w *TransitionWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush()
		}
	}
}

func transform(tr connection.Transition) transitionRow {
	return transitionRow{
		Service:    tr.Service,
		FromState:  tr.From.String(),
		ToState:    tr.To.String(),
		Err:        tr.Err,
		OccurredAt: tr.At,
	}
}

// flush writes the current batch to the database.
func (w *TransitionWriter) flush() {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	batch := w.batch
	w.batch = make([]transitionRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	if err := w.batchInsert(batch); err != nil {
		w.logger.Error("transition batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch))
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed transitions",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

func (w *TransitionWriter) batchInsert(rows []transitionRow) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO connection_transitions (service, from_state, to_state, error, occurred_at)
			VALUES ($1, $2, $3, $4, $5)
		`, r.Service, r.FromState, r.ToState, r.Err, r.OccurredAt)
	}

	ctx := w.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// DiscoverySummary is one catalog discovery run.
type DiscoverySummary struct {
	RanAt          time.Time
	Events         int
	Markets        int
	SkippedMarkets int
	Duration       time.Duration
}

// RecordDiscovery writes a single discovery run summary.
func RecordDiscovery(ctx context.Context, db DB, s DiscoverySummary) error {
	_, err := db.Exec(ctx, `
		INSERT INTO discovery_runs (ran_at, events, markets, skipped_markets, duration_ms)
		VALUES ($1, $2, $3, $4, $5)
	`, s.RanAt, s.Events, s.Markets, s.SkippedMarkets, s.Duration.Milliseconds())
	return err
}

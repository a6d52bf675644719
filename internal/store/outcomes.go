package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solcrank/perp-keeper/internal/model"
)

// WriterConfig holds outcome writer settings.
type WriterConfig struct {
	BatchSize     int           // Rows per insert batch
	FlushInterval time.Duration // Max time a row waits in the batch
	BufferSize    int           // Inbound channel capacity
	Instance      string        // Keeper instance ID stamped on every row
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     100,
		FlushInterval: 2 * time.Second,
		BufferSize:    1024,
	}
}

// WriterStats are cumulative writer counters.
type WriterStats struct {
	Inserts int64
	Dropped int64
	Errors  int64
	Flushes int64
}

// OutcomeWriter batches crank outcomes into the crank_outcomes table.
// RecordOutcome never blocks: when the buffer is full the outcome is
// dropped and counted, because cranking must not slow down for its
// audit trail.
type OutcomeWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	db    *pgxpool.Pool
	input chan model.CrankOutcome

	batch       []model.CrankOutcome
	batchMu     sync.Mutex
	flushTicker *time.Ticker
	stats       WriterStats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOutcomeWriter creates a writer on the given pool.
func NewOutcomeWriter(cfg WriterConfig, db *pgxpool.Pool, logger *slog.Logger) *OutcomeWriter {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultWriterConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultWriterConfig().FlushInterval
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = DefaultWriterConfig().BufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OutcomeWriter{
		cfg:    cfg,
		db:     db,
		logger: logger,
		input:  make(chan model.CrankOutcome, cfg.BufferSize),
		batch:  make([]model.CrankOutcome, 0, cfg.BatchSize),
	}
}

// Start begins consuming outcomes.
func (w *OutcomeWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("outcome writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains and flushes whatever is buffered, then shuts down.
func (w *OutcomeWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping outcome writer")

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
		w.logger.Warn("outcome writer stop timed out")
	}

	// Drain anything still queued, then final flush.
	for {
		select {
		case o := <-w.input:
			w.append(o)
		default:
			w.flush(context.Background())
			w.logger.Info("outcome writer stopped")
			return nil
		}
	}
}

// RecordOutcome queues one outcome for persistence.
func (w *OutcomeWriter) RecordOutcome(outcome model.CrankOutcome) {
	select {
	case w.input <- outcome:
	default:
		w.batchMu.Lock()
		w.stats.Dropped++
		w.batchMu.Unlock()
		w.logger.Warn("outcome buffer full, dropping", "market", outcome.Market)
	}
}

// Stats returns current counters.
func (w *OutcomeWriter) Stats() WriterStats {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.stats
}

func (w *OutcomeWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case o := <-w.input:
			w.append(o)
		}
	}
}

func (w *OutcomeWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

func (w *OutcomeWriter) append(o model.CrankOutcome) {
	w.batchMu.Lock()
	w.batch = append(w.batch, o)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

// flush writes the current batch to the database.
func (w *OutcomeWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	batch := w.batch
	w.batch = make([]model.CrankOutcome, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	if err := w.batchInsert(ctx, batch); err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.stats.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.stats.Inserts += int64(len(batch))
	w.stats.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed outcomes",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

func (w *OutcomeWriter) batchInsert(ctx context.Context, rows []model.CrankOutcome) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO crank_outcomes (instance, market, success, signature, error, at_ms)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, w.cfg.Instance, r.Market, r.Success, r.Signature, r.Err, r.AtMs)
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

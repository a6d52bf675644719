package sched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/solcrank/perp-keeper/internal/bus"
	"github.com/solcrank/perp-keeper/internal/metrics"
	"github.com/solcrank/perp-keeper/internal/model"
	"github.com/solcrank/perp-keeper/internal/registry"
	"github.com/solcrank/perp-keeper/internal/submit"
	"github.com/solcrank/perp-keeper/internal/txn"
)

// Discoverer lists the program's market accounts.
type Discoverer interface {
	DiscoverMarkets(ctx context.Context, programID string) ([]model.MarketConfig, error)
}

// PriceResolver resolves an off-chain price for a token mint.
type PriceResolver interface {
	Resolve(ctx context.Context, mint string) (model.PriceEntry, error)
}

// TxSubmitter signs and sends a transaction for a submission key.
type TxSubmitter interface {
	Submit(ctx context.Context, key string, instrs []txn.Instruction) (string, error)
}

// Recorder receives finished crank outcomes. Implementations must not
// block; the scheduler calls it inline.
type Recorder interface {
	RecordOutcome(outcome model.CrankOutcome)
}

// Config holds scheduler settings.
type Config struct {
	ProgramID txn.Pubkey
	Payer     txn.Pubkey

	TickInterval     time.Duration // Discovery + crank loop cadence
	ActiveInterval   time.Duration // Per-market crank interval while healthy
	InactiveInterval time.Duration // Per-market crank interval after deactivation
	BatchSize        int
	BatchPause       time.Duration
	CrankTimeout     time.Duration
	AllowPanic       bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:     5 * time.Second,
		ActiveInterval:   5 * time.Second,
		InactiveInterval: 50 * time.Second,
		BatchSize:        3,
		BatchPause:       250 * time.Millisecond,
		CrankTimeout:     20 * time.Second,
	}
}

// Scheduler drives discovery and cranking. Markets keep their own
// cadence: a deactivated market is cranked on the slower inactive
// interval, never dropped.
type Scheduler struct {
	cfg        Config
	discoverer Discoverer
	registry   *registry.Registry
	resolver   PriceResolver
	submitter  TxSubmitter
	recorder   Recorder
	events     *bus.Bus
	metrics    *metrics.Metrics
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	inflight  map[string]struct{}
	lastCycle model.CycleResult
	cycleAt   time.Time

	now func() time.Time
}

// New creates a Scheduler. recorder, events, and metrics may be nil.
func New(cfg Config, discoverer Discoverer, reg *registry.Registry, resolver PriceResolver, submitter TxSubmitter, recorder Recorder, events *bus.Bus, m *metrics.Metrics, logger *slog.Logger) *Scheduler {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:        cfg,
		discoverer: discoverer,
		registry:   reg,
		resolver:   resolver,
		submitter:  submitter,
		recorder:   recorder,
		events:     events,
		metrics:    m,
		logger:     logger,
		inflight:   make(map[string]struct{}),
		now:        time.Now,
	}
}

// Start begins the crank loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()

	s.logger.Info("crank scheduler started",
		"tick_interval", s.cfg.TickInterval,
		"batch_size", s.cfg.BatchSize,
	)
	return nil
}

// Stop shuts the loop down. Crank results still in flight when the
// loop stops are discarded, not recorded.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("crank scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastCycle returns the most recent cycle result and when it finished.
func (s *Scheduler) LastCycle() (model.CycleResult, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCycle, s.cycleAt
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.tick()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick runs one discovery pass and one crank cycle.
func (s *Scheduler) tick() {
	s.discover()
	s.crankCycle()
}

// discover reconciles the registry against the chain. A failed listing
// leaves the registry exactly as it was: missing-cycle counters only
// advance on a successful pass.
func (s *Scheduler) discover() {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.CrankTimeout)
	defer cancel()

	discovered, err := s.discoverer.DiscoverMarkets(ctx, s.cfg.ProgramID.String())
	if err != nil {
		s.logger.Warn("market discovery failed", "err", err)
		return
	}

	before := s.registry.Snapshot()
	added, removed := s.registry.Reconcile(discovered)
	s.metrics.SetMarketsTracked(s.registry.Len())

	if added > 0 || removed > 0 {
		s.logger.Info("registry reconciled",
			"discovered", len(discovered),
			"added", added,
			"removed", removed,
		)
	}
	if removed > 0 && s.events != nil {
		after := s.registry.Snapshot()
		for addr := range before {
			if _, ok := after[addr]; !ok {
				s.events.Publish(bus.Event{Kind: bus.KindMarketEvicted, Market: addr})
			}
		}
	}
}

// crankCycle cranks every due market in batches. One market's failure
// never aborts its batch or the cycle.
func (s *Scheduler) crankCycle() {
	start := s.now()
	due, skipped := s.dueMarkets()
	if len(due) == 0 && skipped == 0 {
		return
	}

	var cycle model.CycleResult
	cycle.Skipped = skipped

	var cycleMu sync.Mutex
	record := func(outcome model.CrankOutcome, dup bool) {
		cycleMu.Lock()
		defer cycleMu.Unlock()
		switch {
		case dup:
			cycle.Skipped++
		case outcome.Success:
			cycle.Success++
		default:
			cycle.Failed++
		}
	}

	for i := 0; i < len(due); i += s.cfg.BatchSize {
		if s.ctx.Err() != nil {
			return
		}
		end := i + s.cfg.BatchSize
		if end > len(due) {
			end = len(due)
		}

		var g errgroup.Group
		for _, m := range due[i:end] {
			m := m
			g.Go(func() error {
				outcome, dup := s.crankOne(m)
				if s.ctx.Err() != nil {
					return nil // Shutting down: discard, don't record
				}
				s.finishCrank(outcome, dup)
				record(outcome, dup)
				return nil
			})
		}
		g.Wait()

		if end < len(due) && s.cfg.BatchPause > 0 {
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(s.cfg.BatchPause):
			}
		}
	}

	elapsed := s.now().Sub(start)
	s.metrics.ObserveCycle(elapsed.Seconds())

	s.mu.Lock()
	s.lastCycle = cycle
	s.cycleAt = s.now()
	s.mu.Unlock()

	s.logger.Info("crank cycle complete",
		"success", cycle.Success,
		"failed", cycle.Failed,
		"skipped", cycle.Skipped,
		"duration", elapsed,
	)
	if s.events != nil {
		c := cycle
		s.events.Publish(bus.Event{Kind: bus.KindCycleComplete, Cycle: &c})
	}
}

// dueMarkets selects markets whose cadence has elapsed, skipping any
// with a crank still in flight from a previous cycle.
func (s *Scheduler) dueMarkets() (due []registry.Tracked, skipped int) {
	nowMs := s.now().UnixMilli()

	for _, m := range s.registry.All() {
		interval := s.cfg.ActiveInterval
		if !m.Status.IsActive {
			interval = s.cfg.InactiveInterval
		}
		if m.Status.LastCrankMs != 0 && nowMs-m.Status.LastCrankMs < interval.Milliseconds() {
			continue
		}

		s.mu.Lock()
		if _, busy := s.inflight[m.Config.Address]; busy {
			s.mu.Unlock()
			skipped++
			continue
		}
		s.inflight[m.Config.Address] = struct{}{}
		s.mu.Unlock()

		due = append(due, m)
	}
	return due, skipped
}

// crankOne cranks a single market. A panic in any dependency is
// contained here and reported as a failed outcome.
func (s *Scheduler) crankOne(m registry.Tracked) (outcome model.CrankOutcome, dup bool) {
	addr := m.Config.Address
	defer func() {
		s.mu.Lock()
		delete(s.inflight, addr)
		s.mu.Unlock()

		if r := recover(); r != nil {
			s.logger.Error("crank panicked", "market", addr, "panic", r)
			outcome = model.CrankOutcome{
				Market: addr,
				Err:    fmt.Sprintf("panic: %v", r),
				AtMs:   s.now().UnixMilli(),
			}
			dup = false
		}
	}()

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.CrankTimeout)
	defer cancel()

	instrs, err := s.buildInstructions(ctx, m.Config)
	if err != nil {
		return s.failure(addr, err), false
	}

	sig, err := s.submitter.Submit(ctx, addr, instrs)
	if errors.Is(err, submit.ErrDuplicate) {
		s.metrics.IncGuardHit()
		s.logger.Debug("crank absorbed by replay guard", "market", addr)
		return model.CrankOutcome{Market: addr, AtMs: s.now().UnixMilli()}, true
	}
	if err != nil {
		return s.failure(addr, err), false
	}

	return model.CrankOutcome{
		Market:    addr,
		Success:   true,
		Signature: sig,
		AtMs:      s.now().UnixMilli(),
	}, false
}

// buildInstructions assembles the transaction body for one market.
// Admin-oracle markets get a price push ahead of the crank.
func (s *Scheduler) buildInstructions(ctx context.Context, cfg model.MarketConfig) ([]txn.Instruction, error) {
	market, err := txn.PubkeyFromBase58(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("market address: %w", err)
	}
	oracle, err := txn.PubkeyFromBase58(cfg.OracleFeed)
	if err != nil {
		return nil, fmt.Errorf("oracle address: %w", err)
	}

	var instrs []txn.Instruction
	if cfg.OracleMode == model.OracleAdmin {
		entry, err := s.resolver.Resolve(ctx, cfg.CollateralMint)
		if err != nil {
			return nil, fmt.Errorf("resolve price: %w", err)
		}
		s.metrics.ObservePriceLookup(string(entry.Source))

		instrs = append(instrs, txn.NewPushPriceInstruction(
			s.cfg.ProgramID, s.cfg.Payer, market, oracle,
			uint64(entry.PriceE6), entry.FetchedAtMs/1000,
		))
	}

	instrs = append(instrs, txn.NewCrankInstruction(
		s.cfg.ProgramID, s.cfg.Payer, market, oracle, s.cfg.AllowPanic,
	))
	return instrs, nil
}

func (s *Scheduler) failure(addr string, err error) model.CrankOutcome {
	s.logger.Warn("crank failed", "market", addr, "err", err)
	return model.CrankOutcome{
		Market: addr,
		Err:    err.Error(),
		AtMs:   s.now().UnixMilli(),
	}
}

// finishCrank records a completed (non-duplicate) outcome with the
// registry, the outcome sink, and the event bus.
func (s *Scheduler) finishCrank(outcome model.CrankOutcome, dup bool) {
	if dup {
		return
	}

	s.registry.RecordResult(outcome.Market, outcome.Success, outcome.AtMs)
	if outcome.Success {
		s.metrics.ObserveCrank("success")
	} else {
		s.metrics.ObserveCrank("failure")
		if s.events != nil {
			s.events.Publish(bus.Event{
				Kind:   bus.KindCrankFailed,
				Market: outcome.Market,
				Err:    outcome.Err,
			})
		}
	}
	if s.recorder != nil {
		s.recorder.RecordOutcome(outcome)
	}
}

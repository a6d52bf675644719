package registry

import (
	"log/slog"
	"sync"

	"github.com/solcrank/perp-keeper/internal/model"
)

// MissingLimit is the number of consecutive discovery cycles a market
// may be absent before it is evicted.
const MissingLimit = 3

// Policy holds the registry's behavioral constants.
type Policy struct {
	// FailureThreshold is the consecutive-failure count at which a
	// market transitions to inactive cranking cadence.
	FailureThreshold int

	// MissingLimit overrides the package default when > 0.
	MissingLimit int
}

// Tracked pairs a market's configuration with its health counters.
type Tracked struct {
	Config model.MarketConfig
	Status model.MarketStatus
}

// Registry owns all per-market state. All methods are safe for
// concurrent use; mutations are serialized by an internal mutex.
type Registry struct {
	policy Policy
	logger *slog.Logger

	mu      sync.RWMutex
	markets map[string]*entry
}

type entry struct {
	cfg    model.MarketConfig
	status model.MarketStatus
}

// New creates a Registry with the given policy.
func New(policy Policy, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.MissingLimit <= 0 {
		policy.MissingLimit = MissingLimit
	}

	return &Registry{
		policy:  policy,
		logger:  logger,
		markets: make(map[string]*entry),
	}
}

// Reconcile applies one discovery cycle. Markets absent from discovered
// accumulate a missing count and are evicted once it reaches the limit;
// newly discovered markets are inserted fresh; reappearing markets have
// their missing count reset and their config refreshed.
func (r *Registry) Reconcile(discovered []model.MarketConfig) (added, removed int) {
	seen := make(map[string]model.MarketConfig, len(discovered))
	for _, cfg := range discovered {
		seen[cfg.Address] = cfg
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for addr, e := range r.markets {
		if cfg, ok := seen[addr]; ok {
			e.status.MissingCycles = 0
			e.cfg = cfg
			continue
		}

		e.status.MissingCycles++
		if e.status.MissingCycles >= r.policy.MissingLimit {
			delete(r.markets, addr)
			removed++
			r.logger.Info("market evicted after missing discovery cycles",
				"market", addr,
				"missing_cycles", e.status.MissingCycles,
			)
		}
	}

	for addr, cfg := range seen {
		if _, ok := r.markets[addr]; ok {
			continue
		}
		r.markets[addr] = &entry{
			cfg:    cfg,
			status: model.MarketStatus{IsActive: true},
		}
		added++
		r.logger.Info("market discovered",
			"market", addr,
			"oracle_mode", cfg.OracleMode.String(),
		)
	}

	return added, removed
}

// RecordResult records one crank attempt. A success resets the
// consecutive-failure streak and reactivates the market; crossing the
// failure threshold deactivates it (longer cranking cadence, never
// removal).
func (r *Registry) RecordResult(address string, success bool, atMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.markets[address]
	if !ok {
		// Market was evicted while its crank was in flight.
		return
	}

	e.status.LastCrankMs = atMs

	if success {
		e.status.SuccessCount++
		e.status.ConsecutiveFailures = 0
		if !e.status.IsActive {
			e.status.IsActive = true
			r.logger.Info("market reactivated", "market", address)
		}
		return
	}

	e.status.FailureCount++
	e.status.ConsecutiveFailures++
	if e.status.IsActive && e.status.ConsecutiveFailures >= r.policy.FailureThreshold {
		e.status.IsActive = false
		r.logger.Warn("market deactivated",
			"market", address,
			"consecutive_failures", e.status.ConsecutiveFailures,
		)
	}
}

// Get returns one tracked market.
func (r *Registry) Get(address string) (Tracked, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.markets[address]
	if !ok {
		return Tracked{}, false
	}
	return Tracked{Config: e.cfg, Status: e.status}, true
}

// ActiveSet returns the configs of all markets on the active cadence.
func (r *Registry) ActiveSet() []model.MarketConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.MarketConfig, 0, len(r.markets))
	for _, e := range r.markets {
		if e.status.IsActive {
			out = append(out, e.cfg)
		}
	}
	return out
}

// All returns every tracked market with its counters.
func (r *Registry) All() []Tracked {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tracked, 0, len(r.markets))
	for _, e := range r.markets {
		out = append(out, Tracked{Config: e.cfg, Status: e.status})
	}
	return out
}

// Snapshot returns a copy of every market's counters for reporting.
func (r *Registry) Snapshot() map[string]model.MarketStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]model.MarketStatus, len(r.markets))
	for addr, e := range r.markets {
		out[addr] = e.status
	}
	return out
}

// Len returns the number of tracked markets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}

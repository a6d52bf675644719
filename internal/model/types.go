package model

// OracleMode says where a market's price comes from.
type OracleMode uint8

const (
	// OracleExternal markets read a third-party on-chain price feed.
	// The keeper only cranks them.
	OracleExternal OracleMode = 0

	// OracleAdmin markets expect the keeper to push a price on-chain
	// before every crank.
	OracleAdmin OracleMode = 1
)

func (m OracleMode) String() string {
	switch m {
	case OracleExternal:
		return "external"
	case OracleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// MarketConfig is the discovered on-chain configuration of a market.
type MarketConfig struct {
	Address        string     // Market (slab) account address
	CollateralMint string     // Mint of the collateral / priced token
	OracleMode     OracleMode // admin-push vs external feed
	OracleFeed     string     // Oracle account address
}

// PriceSource identifies where a resolved price came from.
type PriceSource string

const (
	SourcePrimary   PriceSource = "external_a"
	SourceSecondary PriceSource = "external_b"
	SourceCached    PriceSource = "cached"
)

// PriceEntry is a resolved price for a token.
type PriceEntry struct {
	PriceE6     int64       // Price in E6 fixed point
	FetchedAtMs int64       // When the underlying external fetch happened
	Source      PriceSource // Which source produced it
}

// MarketStatus holds per-market health counters maintained by the registry.
type MarketStatus struct {
	SuccessCount        int64 // Total successful cranks
	FailureCount        int64 // Total failed cranks
	ConsecutiveFailures int   // Failures since the last success
	IsActive            bool  // False after the consecutive-failure threshold
	LastCrankMs         int64 // Timestamp of the last crank attempt (0 = never)
	MissingCycles       int   // Consecutive discovery cycles without this market
}

// CrankOutcome is the result of one crank attempt for one market.
type CrankOutcome struct {
	Market    string // Market address
	Success   bool
	Signature string // Transaction signature (empty on failure)
	Err       string // Truncated error message (empty on success)
	AtMs      int64
}

// CycleResult aggregates one full crank cycle.
type CycleResult struct {
	Success int
	Failed  int
	Skipped int
}

// PricePoint is one mark-price observation from the account stream.
type PricePoint struct {
	PriceE6      int64
	Slot         uint64
	ReceivedAtMs int64
}

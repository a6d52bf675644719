package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRPCTimeout       = 15 * time.Second
	DefaultRPCMaxRetries    = 3
	DefaultRPCRetryBackoff  = time.Second
	DefaultRPCRateLimit     = 20.0
	DefaultRPCRateBurst     = 40
	DefaultSourceTimeout    = 2500 * time.Millisecond
	DefaultCacheTTL         = 60 * time.Second
	DefaultTickInterval     = 5 * time.Second
	DefaultActiveInterval   = 5 * time.Second
	DefaultInactiveInterval = 50 * time.Second
	DefaultBatchSize        = 3
	DefaultBatchPause       = 250 * time.Millisecond
	DefaultCrankTimeout     = 20 * time.Second
	DefaultFailureThreshold = 5
	DefaultGuardTTL         = 2 * time.Second
	DefaultSubmitRetries    = 3
	DefaultSubmitBackoff    = 500 * time.Millisecond
	DefaultMaxReconnects    = 10
	DefaultHistorySize      = 256
	DefaultPingTimeout      = 60 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultStreamBufferSize = 1000
	DefaultDBPort           = 5432
	DefaultDBSSLMode        = "prefer"
	DefaultMaxConns         = 10
	DefaultMinConns         = 2
	DefaultMetricsPort      = 9090
	DefaultMetricsPath      = "/metrics"
)

func (c *KeeperConfig) applyDefaults() {
	// RPC defaults
	if c.RPC.Timeout == 0 {
		c.RPC.Timeout = DefaultRPCTimeout
	}
	if c.RPC.MaxRetries == 0 {
		c.RPC.MaxRetries = DefaultRPCMaxRetries
	}
	if c.RPC.RetryBackoff == 0 {
		c.RPC.RetryBackoff = DefaultRPCRetryBackoff
	}
	if c.RPC.RateLimit == 0 {
		c.RPC.RateLimit = DefaultRPCRateLimit
	}
	if c.RPC.RateBurst == 0 {
		c.RPC.RateBurst = DefaultRPCRateBurst
	}

	// Price defaults
	if c.Price.SourceTimeout == 0 {
		c.Price.SourceTimeout = DefaultSourceTimeout
	}
	if c.Price.CacheTTL == 0 {
		c.Price.CacheTTL = DefaultCacheTTL
	}

	// Scheduler defaults
	if c.Scheduler.TickInterval == 0 {
		c.Scheduler.TickInterval = DefaultTickInterval
	}
	if c.Scheduler.ActiveInterval == 0 {
		c.Scheduler.ActiveInterval = DefaultActiveInterval
	}
	if c.Scheduler.InactiveInterval == 0 {
		c.Scheduler.InactiveInterval = DefaultInactiveInterval
	}
	if c.Scheduler.BatchSize == 0 {
		c.Scheduler.BatchSize = DefaultBatchSize
	}
	if c.Scheduler.BatchPause == 0 {
		c.Scheduler.BatchPause = DefaultBatchPause
	}
	if c.Scheduler.CrankTimeout == 0 {
		c.Scheduler.CrankTimeout = DefaultCrankTimeout
	}
	if c.Scheduler.FailureThreshold == 0 {
		c.Scheduler.FailureThreshold = DefaultFailureThreshold
	}

	// Submit defaults
	if c.Submit.GuardTTL == 0 {
		c.Submit.GuardTTL = DefaultGuardTTL
	}
	if c.Submit.MaxRetries == 0 {
		c.Submit.MaxRetries = DefaultSubmitRetries
	}
	if c.Submit.RetryBackoff == 0 {
		c.Submit.RetryBackoff = DefaultSubmitBackoff
	}

	// Stream defaults
	if c.Stream.MaxReconnects == 0 {
		c.Stream.MaxReconnects = DefaultMaxReconnects
	}
	if c.Stream.HistorySize == 0 {
		c.Stream.HistorySize = DefaultHistorySize
	}
	if c.Stream.PingTimeout == 0 {
		c.Stream.PingTimeout = DefaultPingTimeout
	}
	if c.Stream.WriteTimeout == 0 {
		c.Stream.WriteTimeout = DefaultWriteTimeout
	}
	if c.Stream.BufferSize == 0 {
		c.Stream.BufferSize = DefaultStreamBufferSize
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}

package config

import "time"

// KeeperConfig is the root configuration for a keeper instance.
type KeeperConfig struct {
	Instance  InstanceConfig  `yaml:"instance"`
	RPC       RPCConfig       `yaml:"rpc"`
	Price     PriceConfig     `yaml:"price"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Submit    SubmitConfig    `yaml:"submit"`
	Stream    StreamConfig    `yaml:"stream"`
	Database  DatabaseConfig  `yaml:"database"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// InstanceConfig identifies this keeper.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// RPCConfig holds the Solana RPC node settings.
type RPCConfig struct {
	HTTPURL      string        `yaml:"http_url"`
	WSURL        string        `yaml:"ws_url"`
	ProgramID    string        `yaml:"program_id"`   // Perpetuals program address
	KeypairPath  string        `yaml:"keypair_path"` // Payer keypair (Solana id.json format)
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	RateLimit    float64       `yaml:"rate_limit"` // Requests per second across all RPC calls
	RateBurst    int           `yaml:"rate_burst"`
}

// PriceConfig holds the external price source settings.
type PriceConfig struct {
	PrimaryURL    string        `yaml:"primary_url"`
	SecondaryURL  string        `yaml:"secondary_url"`
	SourceTimeout time.Duration `yaml:"source_timeout"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
}

// SchedulerConfig holds crank scheduling settings.
type SchedulerConfig struct {
	TickInterval     time.Duration `yaml:"tick_interval"`     // Scheduler loop cadence
	ActiveInterval   time.Duration `yaml:"active_interval"`   // Per-market crank interval (healthy)
	InactiveInterval time.Duration `yaml:"inactive_interval"` // Per-market crank interval (failing)
	BatchSize        int           `yaml:"batch_size"`
	BatchPause       time.Duration `yaml:"batch_pause"`
	CrankTimeout     time.Duration `yaml:"crank_timeout"`
	FailureThreshold int           `yaml:"failure_threshold"` // Consecutive failures before a market goes inactive
	AllowPanic       bool          `yaml:"allow_panic"`       // Forwarded opaquely in the crank payload
}

// SubmitConfig holds transaction submission settings.
type SubmitConfig struct {
	GuardTTL     time.Duration `yaml:"guard_ttl"` // Replay-guard window
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// StreamConfig holds price stream settings.
type StreamConfig struct {
	MaxReconnects int           `yaml:"max_reconnects"` // Terminal stop after this many failed attempts
	HistorySize   int           `yaml:"history_size"`   // Per-market ring buffer capacity
	PingTimeout   time.Duration `yaml:"ping_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DatabaseConfig holds the optional crank-outcome sink.
type DatabaseConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

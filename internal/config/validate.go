package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *KeeperConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.RPC.HTTPURL == "" {
		return errors.New("rpc.http_url is required")
	}
	if c.RPC.WSURL == "" {
		return errors.New("rpc.ws_url is required")
	}
	if c.RPC.ProgramID == "" {
		return errors.New("rpc.program_id is required")
	}
	if c.RPC.KeypairPath == "" {
		return errors.New("rpc.keypair_path is required")
	}

	if c.Price.PrimaryURL == "" {
		return errors.New("price.primary_url is required")
	}
	if c.Price.SecondaryURL == "" {
		return errors.New("price.secondary_url is required")
	}

	if c.Scheduler.BatchSize < 1 {
		return errors.New("scheduler.batch_size must be >= 1")
	}
	if c.Scheduler.FailureThreshold < 1 {
		return errors.New("scheduler.failure_threshold must be >= 1")
	}
	if c.Scheduler.ActiveInterval > c.Scheduler.InactiveInterval {
		return fmt.Errorf("scheduler.inactive_interval (%s) must be >= active_interval (%s)",
			c.Scheduler.InactiveInterval, c.Scheduler.ActiveInterval)
	}

	if c.Submit.GuardTTL >= c.Scheduler.ActiveInterval {
		return fmt.Errorf("submit.guard_ttl (%s) must be shorter than scheduler.active_interval (%s)",
			c.Submit.GuardTTL, c.Scheduler.ActiveInterval)
	}

	if c.Stream.MaxReconnects < 1 {
		return errors.New("stream.max_reconnects must be >= 1")
	}
	if c.Stream.HistorySize < 1 {
		return errors.New("stream.history_size must be >= 1")
	}

	if c.Database.Enabled {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

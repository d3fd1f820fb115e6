package infra

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all engine configuration parsed from environment variables.
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL"`
	PGHost      string `env:"PGHOST" envDefault:"localhost"`
	PGPort      int    `env:"PGPORT" envDefault:"5432"`
	PGUser      string `env:"PGUSER" envDefault:"oddyssey"`
	PGPassword  string `env:"PGPASSWORD" envDefault:"oddyssey"`
	PGDatabase  string `env:"PGDATABASE" envDefault:"oddyssey"`
	PGMaxConns  int    `env:"PG_MAX_CONNS" envDefault:"20"`
	PGMinConns  int    `env:"PG_MIN_CONNS" envDefault:"2"`

	// Chain
	ChainRPCURL      string `env:"CHAIN_RPC_URL" envDefault:"http://localhost:8545"`
	FallbackRPCURL   string `env:"FALLBACK_RPC_URL"`
	ContractAddress  string `env:"ODDYSSEY_CONTRACT_ADDRESS"`
	OraclePrivateKey string `env:"ORACLE_PRIVATE_KEY"`
	ChainID          int64  `env:"CHAIN_ID" envDefault:"1"`
	RPCTimeoutMs     int    `env:"RPC_TIMEOUT_MS" envDefault:"15000"`
	RPCMaxRetries    int    `env:"RPC_MAX_RETRIES" envDefault:"5"`

	// Cycle engine
	MatchesPerCycle       int   `env:"MATCHES_PER_CYCLE" envDefault:"10"`
	MinKickoffHourUTC     int   `env:"MIN_KICKOFF_HOUR_UTC" envDefault:"11"`
	CycleDurationHours    int   `env:"CYCLE_DURATION_HOURS" envDefault:"24"`
	ResolutionBufferHours int   `env:"RESOLUTION_BUFFER_HOURS" envDefault:"2"`
	CycleCleanupDays      int   `env:"CYCLE_CLEANUP_DAYS" envDefault:"30"`
	DailyMatchCleanupDays int   `env:"DAILY_MATCH_CLEANUP_DAYS" envDefault:"7"`
	EntryFeeWei           int64 `env:"ENTRY_FEE_WEI" envDefault:"500000000000000000"`

	// Placement
	PlacementRateLimit  int `env:"PLACEMENT_RATE_LIMIT" envDefault:"3"`
	PlacementRateWindow int `env:"PLACEMENT_RATE_WINDOW_SECONDS" envDefault:"60"`

	// Server
	ControlPort int `env:"CONTROL_PORT" envDefault:"3200"`

	// Kafka
	KafkaBrokers string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaEnabled bool   `env:"KAFKA_ENABLED" envDefault:"false"`
}

// LoadConfig parses environment variables into a Config struct.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks required keys and fixed invariants.
func (c *Config) Validate() error {
	if c.ContractAddress == "" {
		return fmt.Errorf("ODDYSSEY_CONTRACT_ADDRESS is required")
	}
	if c.OraclePrivateKey == "" {
		return fmt.Errorf("ORACLE_PRIVATE_KEY is required for result submission")
	}
	if c.MatchesPerCycle != 10 {
		return fmt.Errorf("MATCHES_PER_CYCLE is fixed at 10 by the contract, got %d", c.MatchesPerCycle)
	}
	return nil
}

// DSN returns the PostgreSQL connection string, preferring DATABASE_URL if set.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.PGUser, c.PGPassword, c.PGHost, c.PGPort, c.PGDatabase)
}

// RPCTimeout returns the per-call chain RPC timeout.
func (c *Config) RPCTimeout() time.Duration {
	return time.Duration(c.RPCTimeoutMs) * time.Millisecond
}

// PlacementWindow returns the placement rate limit window.
func (c *Config) PlacementWindow() time.Duration {
	return time.Duration(c.PlacementRateWindow) * time.Second
}

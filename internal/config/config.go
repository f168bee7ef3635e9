// Package config loads the service's YAML configuration: plain structs
// with yaml tags, env-var expansion, and defaults applied post-unmarshal.
package config

import (
	"time"

	"github.com/vnavascues/substrate-watcher/internal/domain"
)

// AppConfig is the top-level configuration document.
type AppConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Chains   []ChainConfig  `yaml:"chains"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Database DatabaseConfig `yaml:"database"`
}

// ServerConfig holds the WebSocket listener and metrics server settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen"`       // WebSocket listen address, HOST:PORT
	MetricsPort int   `yaml:"metrics_port"` // separate /metrics + /health port
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// RedisConfig configures the durable pending-range queue.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// DatabaseConfig configures the Postgres connection.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// ChainConfig holds per-chain indexing parameters: chain identity plus the
// worker's tuning knobs (window size, parallelism, retry, heartbeat).
type ChainConfig struct {
	ID              domain.ChainID `yaml:"id"`
	RPCURL          string         `yaml:"rpc_url"`
	GenesisHash     string         `yaml:"genesis_hash"`
	TokenDecimals   uint8          `yaml:"token_decimals"`
	SS58Prefix      uint16         `yaml:"ss58_prefix"`
	FinalityDepth   uint64         `yaml:"finality_depth"`   // 0 = accept node's best head at own risk
	WindowSize      uint64         `yaml:"window_size"`      // range slicer window, default 256
	FetchParallelism int           `yaml:"fetch_parallelism"` // fetcher pool size, default 8
	HeartbeatBlocks uint64         `yaml:"heartbeat_blocks"` // default 64
	HeartbeatPeriod time.Duration  `yaml:"heartbeat_period"` // default 5s
	RetryMaxAttempts int           `yaml:"retry_max_attempts"` // default 5
	RetryBaseDelay  time.Duration  `yaml:"retry_base_delay"`  // default 500ms
	RetryMaxDelay   time.Duration  `yaml:"retry_max_delay"`   // default 30s
	WriterQueueSize int            `yaml:"writer_queue_size"` // default 1024
	ConnectionPool  int            `yaml:"connection_pool"`   // default 16
}

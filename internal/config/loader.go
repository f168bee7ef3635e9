package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads and validates a YAML config file, expanding ${VAR}/$VAR
// references before unmarshalling, then applies defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}

	for i := range cfg.Chains {
		applyChainDefaults(&cfg.Chains[i])
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyChainDefaults(c *ChainConfig) {
	if c.WindowSize == 0 {
		c.WindowSize = 256
	}
	if c.FetchParallelism == 0 {
		c.FetchParallelism = 8
	}
	if c.HeartbeatBlocks == 0 {
		c.HeartbeatBlocks = 64
	}
	if c.HeartbeatPeriod == 0 {
		c.HeartbeatPeriod = 5 * time.Second
	}
	if c.RetryMaxAttempts == 0 {
		c.RetryMaxAttempts = 5
	}
	if c.RetryBaseDelay == 0 {
		c.RetryBaseDelay = 500 * time.Millisecond
	}
	if c.RetryMaxDelay == 0 {
		c.RetryMaxDelay = 30 * time.Second
	}
	if c.WriterQueueSize == 0 {
		c.WriterQueueSize = 1024
	}
	if c.ConnectionPool == 0 {
		c.ConnectionPool = 16
	}
}

func validate(cfg *AppConfig) error {
	if len(cfg.Chains) == 0 {
		return fmt.Errorf("config: at least one chain must be configured")
	}
	seen := make(map[string]bool, len(cfg.Chains))
	for _, c := range cfg.Chains {
		if c.ID == "" {
			return fmt.Errorf("config: chain missing id")
		}
		if seen[string(c.ID)] {
			return fmt.Errorf("config: duplicate chain id %q", c.ID)
		}
		seen[string(c.ID)] = true
		if c.RPCURL == "" {
			return fmt.Errorf("config: chain %q missing rpc_url", c.ID)
		}
	}
	return nil
}

// Package config loads process configuration: built-in defaults, then an
// optional YAML file named by POOLINDEXER_CONFIG, then environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"PoolIndexer/internal/state"

	"gopkg.in/yaml.v3"
)

const FileEnv = "POOLINDEXER_CONFIG"

// Store backends.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

// Config holds all application configuration.
type Config struct {
	// Storage
	Store string `yaml:"store"`
	DSN   string `yaml:"dsn"`

	// Upstreams
	NATSURL string `yaml:"nats_url"`
	RPCURL  string `yaml:"rpc_url"`

	// gRPC/HTTP/Metrics
	GRPCAddr    string `yaml:"grpc_addr"`
	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	// Core
	ProtocolID       string   `yaml:"protocol_id"`
	DedupCapacity    int      `yaml:"dedup_capacity"`
	PoolFactories    []string `yaml:"pool_factories"`
	NFTPoolFactories []string `yaml:"nft_pool_factories"`

	PoolAccounting    string `yaml:"pool_accounting"`
	NFTPoolAccounting string `yaml:"nft_pool_accounting"`

	// Contract reads
	ReadCacheSize   int `yaml:"read_cache_size"`
	ReadConcurrency int `yaml:"read_concurrency"`

	// Channels
	EventChanSize  int `yaml:"event_chan_size"`
	OutputChanSize int `yaml:"output_chan_size"`

	LogLevel string `yaml:"log_level"`
}

func defaults() Config {
	return Config{
		Store:             StoreSQLite,
		DSN:               "file:poolindexer.db?_journal_mode=WAL",
		NATSURL:           "nats://localhost:4222",
		RPCURL:            "http://localhost:8545",
		GRPCAddr:          ":9090",
		HTTPAddr:          ":8080",
		MetricsAddr:       ":9091",
		ProtocolID:        "tradegen",
		DedupCapacity:     1_000_000,
		PoolAccounting:    state.AccountingWeightedAverage,
		NFTPoolAccounting: state.AccountingWeightedAverage,
		ReadCacheSize:     4096,
		ReadConcurrency:   8,
		EventChanSize:     4096,
		OutputChanSize:    4096,
		LogLevel:          "info",
	}
}

// DefaultConfig returns defaults overridden by environment variables only.
func DefaultConfig() Config {
	cfg := defaults()
	cfg.applyEnv()
	return cfg
}

// Load builds the configuration and validates it.
func Load() (Config, error) {
	cfg := defaults()
	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadFile overlays a YAML file. ${VAR} references are expanded first.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Store = envOrDefault("POOLINDEXER_STORE", c.Store)
	c.DSN = envOrDefault("POOLINDEXER_DSN", c.DSN)
	c.NATSURL = envOrDefault("POOLINDEXER_NATS_URL", c.NATSURL)
	c.RPCURL = envOrDefault("POOLINDEXER_RPC_URL", c.RPCURL)
	c.GRPCAddr = envOrDefault("POOLINDEXER_GRPC_ADDR", c.GRPCAddr)
	c.HTTPAddr = envOrDefault("POOLINDEXER_HTTP_ADDR", c.HTTPAddr)
	c.MetricsAddr = envOrDefault("POOLINDEXER_METRICS_ADDR", c.MetricsAddr)
	c.ProtocolID = envOrDefault("POOLINDEXER_PROTOCOL_ID", c.ProtocolID)
	c.DedupCapacity = envIntOrDefault("POOLINDEXER_DEDUP_CAPACITY", c.DedupCapacity)
	c.PoolFactories = envListOrDefault("POOLINDEXER_POOL_FACTORIES", c.PoolFactories)
	c.NFTPoolFactories = envListOrDefault("POOLINDEXER_NFT_POOL_FACTORIES", c.NFTPoolFactories)
	c.PoolAccounting = envOrDefault("POOLINDEXER_POOL_ACCOUNTING", c.PoolAccounting)
	c.NFTPoolAccounting = envOrDefault("POOLINDEXER_NFT_POOL_ACCOUNTING", c.NFTPoolAccounting)
	c.ReadCacheSize = envIntOrDefault("POOLINDEXER_READ_CACHE_SIZE", c.ReadCacheSize)
	c.ReadConcurrency = envIntOrDefault("POOLINDEXER_READ_CONCURRENCY", c.ReadConcurrency)
	c.EventChanSize = envIntOrDefault("POOLINDEXER_EVENT_CHAN_SIZE", c.EventChanSize)
	c.OutputChanSize = envIntOrDefault("POOLINDEXER_OUTPUT_CHAN_SIZE", c.OutputChanSize)
	c.LogLevel = envOrDefault("POOLINDEXER_LOG_LEVEL", c.LogLevel)
}

// Validate rejects unknown backends and policies.
func (c Config) Validate() error {
	switch c.Store {
	case StorePostgres, StoreSQLite, StoreMemory:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.Store != StoreMemory && c.DSN == "" {
		return fmt.Errorf("store %s requires a dsn", c.Store)
	}
	if _, err := state.ParseAccounting(c.PoolAccounting); err != nil {
		return fmt.Errorf("pool_accounting: %w", err)
	}
	if _, err := state.ParseAccounting(c.NFTPoolAccounting); err != nil {
		return fmt.Errorf("nft_pool_accounting: %w", err)
	}
	if c.ProtocolID == "" {
		return fmt.Errorf("protocol_id must not be empty")
	}
	if c.ReadConcurrency < 0 || c.ReadCacheSize < 0 || c.DedupCapacity < 0 {
		return fmt.Errorf("sizes must not be negative")
	}
	return nil
}

// --- Helpers ---

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

// envListOrDefault splits a comma-separated variable.
func envListOrDefault(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

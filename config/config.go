package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the main configuration for a ledgerberry node.
type Config struct {
	Chain      ChainConfig      `toml:"chain"`
	Mempool    MempoolConfig    `toml:"mempool"`
	Store      StoreConfig      `toml:"store"`
	StateStore StateStoreConfig `toml:"statestore"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Logging    LoggingConfig    `toml:"logging"`
	Tracing    TracingConfig    `toml:"tracing"`
}

// ChainConfig contains chain identity and block policy.
type ChainConfig struct {
	// ChainID names the chain. It is informational; transactions are bound
	// to the genesis hash.
	ChainID string `toml:"chain_id"`

	// GenesisPath is the path of the encoded genesis block.
	GenesisPath string `toml:"genesis_path"`

	// PrivateKeyPath is the path to the node's Ed25519 key seed.
	PrivateKeyPath string `toml:"private_key_path"`

	// MaxProtocolVersion is the highest block protocol version accepted.
	MaxProtocolVersion int32 `toml:"max_protocol_version"`

	// MaxBlockBytes is the maximum encoded block size.
	MaxBlockBytes int64 `toml:"max_block_bytes"`

	// MaxTransactionsBytes is the byte budget for a block's transactions.
	MaxTransactionsBytes int64 `toml:"max_transactions_bytes"`

	// MaxTransactionsPerBlock caps the transactions in one block.
	MaxTransactionsPerBlock int `toml:"max_transactions_per_block"`

	// MinTransactionsPerBlock is the number of transactions a proposal needs.
	MinTransactionsPerBlock int `toml:"min_transactions_per_block"`

	// MaxTransactionsPerSignerPerBlock caps one signer's transactions in a block.
	MaxTransactionsPerSignerPerBlock int `toml:"max_transactions_per_signer_per_block"`

	// EvidencePendingDuration is the number of blocks evidence stays addable.
	EvidencePendingDuration int64 `toml:"evidence_pending_duration"`
}

// MempoolConfig contains staged transaction configuration.
type MempoolConfig struct {
	// MaxTxs is the maximum number of staged transactions.
	MaxTxs int `toml:"max_txs"`

	// Lifetime is how long a transaction stays stageable after its
	// timestamp. Zero disables expiry.
	Lifetime Duration `toml:"lifetime"`
}

// StoreConfig contains block repository storage configuration.
type StoreConfig struct {
	// Backend is the storage backend to use ("leveldb", "badgerdb" or "memory").
	Backend string `toml:"backend"`

	// Path is the directory path for the repository.
	Path string `toml:"path"`
}

// StateStoreConfig contains state trie storage configuration.
type StateStoreConfig struct {
	// Backend is the storage backend to use ("leveldb", "badgerdb" or "memory").
	Backend string `toml:"backend"`

	// Path is the directory path for state storage.
	Path string `toml:"path"`
}

// MetricsConfig contains metrics configuration.
type MetricsConfig struct {
	// Enabled determines whether metrics collection is active.
	Enabled bool `toml:"enabled"`

	// Namespace is the Prometheus metrics namespace prefix.
	Namespace string `toml:"namespace"`

	// ListenAddr is the address to serve metrics on (e.g., ":9090").
	ListenAddr string `toml:"listen_addr"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level ("debug", "info", "warn", "error").
	Level string `toml:"level"`

	// Format is the log output format ("text" or "json").
	Format string `toml:"format"`

	// Output is the log output destination ("stdout", "stderr", or a file path).
	Output string `toml:"output"`
}

// TracingConfig contains OpenTelemetry tracing configuration.
type TracingConfig struct {
	// Enabled determines whether spans are recorded.
	Enabled bool `toml:"enabled"`

	// ServiceName identifies this node in traces.
	ServiceName string `toml:"service_name"`

	// Environment is the deployment environment.
	Environment string `toml:"environment"`

	// Exporter is one of "none", "stdout", "otlp-grpc", "otlp-http", "zipkin".
	Exporter string `toml:"exporter"`

	// Endpoint is the exporter endpoint.
	Endpoint string `toml:"endpoint"`

	// SampleRate is the fraction of traces sampled (0.0 to 1.0).
	SampleRate float64 `toml:"sample_rate"`

	// Insecure disables TLS for OTLP exporters.
	Insecure bool `toml:"insecure"`
}

// Duration is a wrapper around time.Duration for TOML unmarshaling.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// MarshalText implements encoding.TextMarshaler for Duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Chain: ChainConfig{
			ChainID:                          "ledgerberry-devnet-1",
			GenesisPath:                      "genesis.bin",
			PrivateKeyPath:                   "node_key.seed",
			MaxProtocolVersion:               1,
			MaxBlockBytes:                    22020096, // ~21MB
			MaxTransactionsBytes:             20971520, // 20MB
			MaxTransactionsPerBlock:          1000,
			MinTransactionsPerBlock:          0,
			MaxTransactionsPerSignerPerBlock: 100,
			EvidencePendingDuration:          100,
		},
		Mempool: MempoolConfig{
			MaxTxs:   5000,
			Lifetime: Duration(3 * time.Hour),
		},
		Store: StoreConfig{
			Backend: "leveldb",
			Path:    "data/chain",
		},
		StateStore: StateStoreConfig{
			Backend: "leveldb",
			Path:    "data/state",
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			Namespace:  "ledgerberry",
			ListenAddr: ":9090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "ledgerberry",
			Environment: "development",
			Exporter:    "none",
			Endpoint:    "localhost:4317",
			SampleRate:  0.1,
			Insecure:    true,
		},
	}
}

// LoadConfig loads configuration from a TOML file.
// Missing values are filled with defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validation errors.
var (
	ErrEmptyChainID             = errors.New("chain_id cannot be empty")
	ErrEmptyGenesisPath         = errors.New("genesis_path cannot be empty")
	ErrEmptyPrivateKeyPath      = errors.New("private_key_path cannot be empty")
	ErrInvalidProtocolVersion   = errors.New("max_protocol_version must be positive")
	ErrInvalidMaxBlockBytes     = errors.New("max_block_bytes must be positive")
	ErrInvalidMaxTxsBytes       = errors.New("max_transactions_bytes must be positive and at most max_block_bytes")
	ErrInvalidMaxTxsPerBlock    = errors.New("max_transactions_per_block must be positive")
	ErrInvalidMinTxsPerBlock    = errors.New("min_transactions_per_block must be between 0 and max_transactions_per_block")
	ErrInvalidMaxTxsPerSigner   = errors.New("max_transactions_per_signer_per_block must be non-negative")
	ErrInvalidEvidenceDuration  = errors.New("evidence_pending_duration must be non-negative")
	ErrInvalidMaxTxs            = errors.New("max_txs must be positive")
	ErrInvalidMempoolLifetime   = errors.New("mempool lifetime must be non-negative")
	ErrInvalidStoreBackend      = errors.New("store backend must be 'leveldb', 'badgerdb' or 'memory'")
	ErrEmptyStorePath           = errors.New("store path cannot be empty")
	ErrEmptyMetricsNamespace    = errors.New("metrics namespace cannot be empty when enabled")
	ErrEmptyMetricsListenAddr   = errors.New("metrics listen_addr cannot be empty when enabled")
	ErrInvalidLogLevel          = errors.New("log level must be one of: debug, info, warn, error")
	ErrInvalidLogFormat         = errors.New("log format must be 'text' or 'json'")
	ErrEmptyLogOutput           = errors.New("log output cannot be empty")
	ErrEmptyTracingServiceName  = errors.New("tracing service_name cannot be empty when enabled")
	ErrInvalidTracingExporter   = errors.New("tracing exporter must be one of: none, stdout, otlp-grpc, otlp-http, zipkin")
	ErrInvalidTracingSampleRate = errors.New("tracing sample_rate must be between 0 and 1")
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.Chain.Validate(); err != nil {
		return fmt.Errorf("chain config: %w", err)
	}
	if err := c.Mempool.Validate(); err != nil {
		return fmt.Errorf("mempool config: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store config: %w", err)
	}
	if err := c.StateStore.Validate(); err != nil {
		return fmt.Errorf("statestore config: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing config: %w", err)
	}
	return nil
}

// Validate checks the chain configuration for errors.
func (c *ChainConfig) Validate() error {
	if c.ChainID == "" {
		return ErrEmptyChainID
	}
	if c.GenesisPath == "" {
		return ErrEmptyGenesisPath
	}
	if c.PrivateKeyPath == "" {
		return ErrEmptyPrivateKeyPath
	}
	if c.MaxProtocolVersion <= 0 {
		return ErrInvalidProtocolVersion
	}
	if c.MaxBlockBytes <= 0 {
		return ErrInvalidMaxBlockBytes
	}
	if c.MaxTransactionsBytes <= 0 || c.MaxTransactionsBytes > c.MaxBlockBytes {
		return ErrInvalidMaxTxsBytes
	}
	if c.MaxTransactionsPerBlock <= 0 {
		return ErrInvalidMaxTxsPerBlock
	}
	if c.MinTransactionsPerBlock < 0 || c.MinTransactionsPerBlock > c.MaxTransactionsPerBlock {
		return ErrInvalidMinTxsPerBlock
	}
	if c.MaxTransactionsPerSignerPerBlock < 0 {
		return ErrInvalidMaxTxsPerSigner
	}
	if c.EvidencePendingDuration < 0 {
		return ErrInvalidEvidenceDuration
	}
	return nil
}

// Validate checks the mempool configuration for errors.
func (c *MempoolConfig) Validate() error {
	if c.MaxTxs <= 0 {
		return ErrInvalidMaxTxs
	}
	if c.Lifetime.Duration() < 0 {
		return ErrInvalidMempoolLifetime
	}
	return nil
}

func validateBackend(backend, path string) error {
	switch backend {
	case "memory":
		return nil
	case "leveldb", "badgerdb":
		if path == "" {
			return ErrEmptyStorePath
		}
		return nil
	default:
		return ErrInvalidStoreBackend
	}
}

// Validate checks the repository storage configuration for errors.
func (c *StoreConfig) Validate() error {
	return validateBackend(c.Backend, c.Path)
}

// Validate checks the state storage configuration for errors.
func (c *StateStoreConfig) Validate() error {
	return validateBackend(c.Backend, c.Path)
}

// Validate checks the metrics configuration for errors.
func (c *MetricsConfig) Validate() error {
	if c.Enabled {
		if c.Namespace == "" {
			return ErrEmptyMetricsNamespace
		}
		if c.ListenAddr == "" {
			return ErrEmptyMetricsListenAddr
		}
	}
	return nil
}

// Validate checks the logging configuration for errors.
func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return ErrInvalidLogLevel
	}

	switch c.Format {
	case "text", "json":
		// Valid formats
	default:
		return ErrInvalidLogFormat
	}

	if c.Output == "" {
		return ErrEmptyLogOutput
	}

	return nil
}

// Validate checks the tracing configuration for errors.
func (c *TracingConfig) Validate() error {
	switch c.Exporter {
	case "none", "", "stdout", "otlp", "otlp-grpc", "otlp-http", "zipkin":
	default:
		return ErrInvalidTracingExporter
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return ErrInvalidTracingSampleRate
	}
	if c.Enabled && c.ServiceName == "" {
		return ErrEmptyTracingServiceName
	}
	return nil
}

// WriteConfigFile writes the configuration to a TOML file.
func WriteConfigFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	return nil
}

// ResolvePaths makes every relative path in the configuration relative to
// home.
func (c *Config) ResolvePaths(home string) {
	resolve := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(home, *p)
		}
	}
	resolve(&c.Chain.GenesisPath)
	resolve(&c.Chain.PrivateKeyPath)
	resolve(&c.Store.Path)
	resolve(&c.StateStore.Path)
	if c.Logging.Output != "stdout" && c.Logging.Output != "stderr" {
		resolve(&c.Logging.Output)
	}
}

// EnsureDataDirs creates the data directories specified in the configuration.
func (c *Config) EnsureDataDirs() error {
	dirs := []string{
		filepath.Dir(c.Chain.PrivateKeyPath),
		filepath.Dir(c.Chain.GenesisPath),
	}
	if c.Store.Backend != "memory" {
		dirs = append(dirs, c.Store.Path)
	}
	if c.StateStore.Backend != "memory" {
		dirs = append(dirs, c.StateStore.Path)
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	return nil
}

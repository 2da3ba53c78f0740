package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes human readable durations ("30s", "5m") from both TOML and
// YAML documents.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler, which BurntSushi/toml
// uses for string values.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(raw))
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Exchange selects how the exchange contracts are bootstrapped.
type Exchange struct {
	// Mode is "dev" to deploy the mock asset, feed and proxy on first boot or
	// "attach" to use the configured addresses.
	Mode             string   `toml:"Mode" yaml:"mode"`
	Owner            string   `toml:"Owner" yaml:"owner"`
	Token            string   `toml:"Token" yaml:"token"`
	PriceFeed        string   `toml:"PriceFeed" yaml:"price_feed"`
	Proxy            string   `toml:"Proxy" yaml:"proxy"`
	Logic            string   `toml:"Logic" yaml:"logic"`
	MaxPriceAge      Duration `toml:"MaxPriceAge" yaml:"max_price_age"`
	OperatorKeystore string   `toml:"OperatorKeystore" yaml:"operator_keystore"`
	PassphraseEnv    string   `toml:"PassphraseEnv" yaml:"passphrase_env"`

	TokenName     string `toml:"TokenName" yaml:"token_name"`
	TokenSymbol   string `toml:"TokenSymbol" yaml:"token_symbol"`
	TokenDecimals uint8  `toml:"TokenDecimals" yaml:"token_decimals"`
	TokenSupply   string `toml:"TokenSupply" yaml:"token_supply"`
	PoolSeed      string `toml:"PoolSeed" yaml:"pool_seed"`
	FeedDecimals  uint8  `toml:"FeedDecimals" yaml:"feed_decimals"`
	InitialPrice  string `toml:"InitialPrice" yaml:"initial_price"`
}

// Genesis points at the initial native allocation.
type Genesis struct {
	File string `toml:"File" yaml:"file"`
}

// Storage configures the state database.
type Storage struct {
	Backend string `toml:"Backend" yaml:"backend"`
	Path    string `toml:"Path" yaml:"path"`
	CacheMB int    `toml:"CacheMB" yaml:"cache_mb"`
	Handles int    `toml:"Handles" yaml:"handles"`
}

// Journal configures the relational receipt journal.
type Journal struct {
	Enabled bool   `toml:"Enabled" yaml:"enabled"`
	DSN     string `toml:"DSN" yaml:"dsn"`
}

// OracleSource configures one upstream price source.
type OracleSource struct {
	Type    string   `toml:"Type" yaml:"type"`
	Name    string   `toml:"Name" yaml:"name"`
	BaseURL string   `toml:"BaseURL" yaml:"base_url"`
	APIKey  string   `toml:"APIKey" yaml:"api_key"`
	Timeout Duration `toml:"Timeout" yaml:"timeout"`
	// Assets maps pair symbols to source specific identifiers.
	Assets map[string]string `toml:"Assets" yaml:"assets"`
}

// Oracle configures the off-state price aggregation loop.
type Oracle struct {
	Enabled  bool           `toml:"Enabled" yaml:"enabled"`
	Pair     string         `toml:"Pair" yaml:"pair"`
	Interval Duration       `toml:"Interval" yaml:"interval"`
	MaxAge   Duration       `toml:"MaxAge" yaml:"max_age"`
	MinFeeds int            `toml:"MinFeeds" yaml:"min_feeds"`
	Sources  []OracleSource `toml:"Sources" yaml:"sources"`
}

// Kafka configures the committed event publisher.
type Kafka struct {
	Brokers      []string `toml:"Brokers" yaml:"brokers"`
	Topic        string   `toml:"Topic" yaml:"topic"`
	ClientID     string   `toml:"ClientID" yaml:"client_id"`
	BatchTimeout Duration `toml:"BatchTimeout" yaml:"batch_timeout"`
}

// Enabled reports whether a broker and topic are configured.
func (k Kafka) Enabled() bool {
	return len(k.Brokers) > 0 && strings.TrimSpace(k.Topic) != ""
}

// Server configures the HTTP listener.
type Server struct {
	ListenAddress     string   `toml:"ListenAddress" yaml:"listen_address"`
	ReadHeaderTimeout Duration `toml:"ReadHeaderTimeout" yaml:"read_header_timeout"`
	ReadTimeout       Duration `toml:"ReadTimeout" yaml:"read_timeout"`
	WriteTimeout      Duration `toml:"WriteTimeout" yaml:"write_timeout"`
	IdleTimeout       Duration `toml:"IdleTimeout" yaml:"idle_timeout"`
	ShutdownTimeout   Duration `toml:"ShutdownTimeout" yaml:"shutdown_timeout"`
}

// Auth configures bearer token validation for operator endpoints.
type Auth struct {
	HMACSecret    string   `toml:"HMACSecret" yaml:"hmac_secret"`
	HMACSecretEnv string   `toml:"HMACSecretEnv" yaml:"hmac_secret_env"`
	Issuer        string   `toml:"Issuer" yaml:"issuer"`
	Audience      []string `toml:"Audience" yaml:"audience"`
	AdminScope    string   `toml:"AdminScope" yaml:"admin_scope"`
	ClockSkew     Duration `toml:"ClockSkew" yaml:"clock_skew"`
}

// RateLimit bounds per-client request rates.
type RateLimit struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond" yaml:"requests_per_second"`
	Burst             int     `toml:"Burst" yaml:"burst"`
}

// Telemetry configures OTLP exporters.
type Telemetry struct {
	ServiceName string            `toml:"ServiceName" yaml:"service_name"`
	Environment string            `toml:"Environment" yaml:"environment"`
	Endpoint    string            `toml:"Endpoint" yaml:"endpoint"`
	Insecure    bool              `toml:"Insecure" yaml:"insecure"`
	Headers     map[string]string `toml:"Headers" yaml:"headers"`
	Metrics     bool              `toml:"Metrics" yaml:"metrics"`
	Traces      bool              `toml:"Traces" yaml:"traces"`
}

// Log configures structured log output.
type Log struct {
	Env        string `toml:"Env" yaml:"env"`
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"max_size_mb"`
	MaxBackups int    `toml:"MaxBackups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"MaxAgeDays" yaml:"max_age_days"`
	Compress   bool   `toml:"Compress" yaml:"compress"`
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	ModeDev    = "dev"
	ModeAttach = "attach"

	BackendLevelDB = "leveldb"
	BackendMemory  = "memory"
)

type Config struct {
	DataDir   string    `toml:"DataDir" yaml:"data_dir"`
	Exchange  Exchange  `toml:"exchange" yaml:"exchange"`
	Genesis   Genesis   `toml:"genesis" yaml:"genesis"`
	Storage   Storage   `toml:"storage" yaml:"storage"`
	Journal   Journal   `toml:"journal" yaml:"journal"`
	Oracle    Oracle    `toml:"oracle" yaml:"oracle"`
	Kafka     Kafka     `toml:"kafka" yaml:"kafka"`
	Server    Server    `toml:"server" yaml:"server"`
	Auth      Auth      `toml:"auth" yaml:"auth"`
	RateLimit RateLimit `toml:"ratelimit" yaml:"ratelimit"`
	Telemetry Telemetry `toml:"telemetry" yaml:"telemetry"`
	Log       Log       `toml:"log" yaml:"log"`
}

// Load loads the configuration from the given path. YAML is used for .yaml
// and .yml files, TOML otherwise. A missing file is created with defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if isYAML(path) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0].String())
		}
	}

	cfg.applyDefaults()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used for a fresh development node.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./exchange-data"
	}

	ex := &c.Exchange
	if ex.Mode == "" {
		ex.Mode = ModeDev
	}
	if ex.Logic == "" {
		ex.Logic = "TokenExchange"
	}
	if ex.TokenName == "" {
		ex.TokenName = "Mock USDC"
	}
	if ex.TokenSymbol == "" {
		ex.TokenSymbol = "USDC"
	}
	if ex.TokenDecimals == 0 {
		ex.TokenDecimals = 18
	}
	if ex.TokenSupply == "" {
		ex.TokenSupply = "1000000000000000000000000"
	}
	if ex.PoolSeed == "" {
		ex.PoolSeed = "100000000000000000000000"
	}
	if ex.FeedDecimals == 0 {
		ex.FeedDecimals = 8
	}
	if ex.InitialPrice == "" {
		ex.InitialPrice = "200000000000"
	}
	if ex.PassphraseEnv == "" {
		ex.PassphraseEnv = "EXCHANGE_KEYSTORE_PASSPHRASE"
	}
	if ex.OperatorKeystore == "" {
		ex.OperatorKeystore = filepath.Join(c.DataDir, "operator.keystore")
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendLevelDB
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "state")
	}
	if c.Journal.DSN == "" {
		c.Journal.DSN = "file:" + filepath.Join(c.DataDir, "journal.db")
	}

	if c.Oracle.Pair == "" {
		c.Oracle.Pair = "ETH/USD"
	}
	if c.Oracle.Interval.Duration == 0 {
		c.Oracle.Interval.Duration = 30 * time.Second
	}
	if c.Oracle.MaxAge.Duration == 0 {
		c.Oracle.MaxAge.Duration = 2 * time.Minute
	}
	if c.Oracle.MinFeeds == 0 {
		c.Oracle.MinFeeds = 1
	}
	for i := range c.Oracle.Sources {
		if c.Oracle.Sources[i].Timeout.Duration == 0 {
			c.Oracle.Sources[i].Timeout.Duration = 5 * time.Second
		}
		if c.Oracle.Sources[i].Name == "" {
			c.Oracle.Sources[i].Name = c.Oracle.Sources[i].Type
		}
	}

	if c.Kafka.ClientID == "" {
		c.Kafka.ClientID = "exchanged"
	}
	if c.Kafka.BatchTimeout.Duration == 0 {
		c.Kafka.BatchTimeout.Duration = 50 * time.Millisecond
	}

	srv := &c.Server
	if srv.ListenAddress == "" {
		srv.ListenAddress = ":8080"
	}
	if srv.ReadHeaderTimeout.Duration == 0 {
		srv.ReadHeaderTimeout.Duration = 5 * time.Second
	}
	if srv.ReadTimeout.Duration == 0 {
		srv.ReadTimeout.Duration = 15 * time.Second
	}
	if srv.WriteTimeout.Duration == 0 {
		srv.WriteTimeout.Duration = 15 * time.Second
	}
	if srv.IdleTimeout.Duration == 0 {
		srv.IdleTimeout.Duration = 60 * time.Second
	}
	if srv.ShutdownTimeout.Duration == 0 {
		srv.ShutdownTimeout.Duration = 10 * time.Second
	}

	if c.Auth.AdminScope == "" {
		c.Auth.AdminScope = "oracle:write"
	}
	if c.Auth.ClockSkew.Duration == 0 {
		c.Auth.ClockSkew.Duration = time.Minute
	}

	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 20
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 40
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "exchanged"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	cfg.DataDir = filepath.Join(filepath.Dir(path), "exchange-data")
	cfg.Exchange.OperatorKeystore = ""
	cfg.Storage.Path = ""
	cfg.Journal.DSN = ""
	cfg.applyDefaults()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var knownSourceTypes = map[string]struct{}{
	"manual":      {},
	"coingecko":   {},
	"nowpayments": {},
}

// Validate checks the configuration for values the node cannot start with.
func (c *Config) Validate() error {
	ex := c.Exchange
	switch ex.Mode {
	case ModeDev:
	case ModeAttach:
		for name, value := range map[string]string{
			"exchange.Proxy":     ex.Proxy,
			"exchange.Token":     ex.Token,
			"exchange.PriceFeed": ex.PriceFeed,
		} {
			if !common.IsHexAddress(value) {
				return fmt.Errorf("%s: attach mode requires a hex address, got %q", name, value)
			}
		}
	default:
		return fmt.Errorf("exchange.Mode: unknown mode %q", ex.Mode)
	}
	if ex.Owner != "" && !common.IsHexAddress(ex.Owner) {
		return fmt.Errorf("exchange.Owner: invalid address %q", ex.Owner)
	}
	for name, value := range map[string]string{
		"exchange.TokenSupply":  ex.TokenSupply,
		"exchange.PoolSeed":     ex.PoolSeed,
		"exchange.InitialPrice": ex.InitialPrice,
	} {
		if _, err := ParseAmount(value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if ex.MaxPriceAge.Duration < 0 {
		return fmt.Errorf("exchange.MaxPriceAge: must not be negative")
	}

	switch c.Storage.Backend {
	case BackendLevelDB, BackendMemory:
	default:
		return fmt.Errorf("storage.Backend: unknown backend %q", c.Storage.Backend)
	}

	if c.Oracle.Enabled {
		if c.Oracle.MinFeeds <= 0 {
			return fmt.Errorf("oracle.MinFeeds: must be positive")
		}
		if len(c.Oracle.Sources) < c.Oracle.MinFeeds {
			return fmt.Errorf("oracle: %d sources configured, MinFeeds is %d", len(c.Oracle.Sources), c.Oracle.MinFeeds)
		}
		if _, _, ok := strings.Cut(c.Oracle.Pair, "/"); !ok {
			return fmt.Errorf("oracle.Pair: expected BASE/QUOTE, got %q", c.Oracle.Pair)
		}
		for i, src := range c.Oracle.Sources {
			if _, ok := knownSourceTypes[strings.ToLower(src.Type)]; !ok {
				return fmt.Errorf("oracle.Sources[%d]: unknown type %q", i, src.Type)
			}
		}
	}

	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("ratelimit: values must not be negative")
	}
	return nil
}

// ParseAmount parses a non-negative base-10 integer amount.
func ParseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return new(big.Int), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", value)
	}
	return amount, nil
}

// HMACSecretValue resolves the operator token secret, preferring the
// environment variable when configured.
func (a Auth) HMACSecretValue(lookup LookupFunc) string {
	if a.HMACSecretEnv != "" && lookup != nil {
		if v, ok := lookup(a.HMACSecretEnv); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return strings.TrimSpace(a.HMACSecret)
}

package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Environment variables recognised by ApplyEnv. The first four match the
// variables consumed by the deployment tooling.
const (
	EnvOwner      = "OWNER_ADDRESS"
	EnvToken      = "USDC_CONTRACT_ADDRESS"
	EnvPriceFeed  = "CHAINLINK_PRICE_FEED_ADDRESS"
	EnvProxy      = "PROXY_CONTRACT_ADDRESS"
	EnvListen     = "EXCHANGE_LISTEN_ADDRESS"
	EnvJournalDSN = "EXCHANGE_JOURNAL_DSN"
	EnvKafka      = "EXCHANGE_KAFKA_BROKERS"
	EnvOTLP       = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvOTLPInsec  = "OTEL_EXPORTER_OTLP_INSECURE"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(string) (string, bool)

// ApplyEnv overrides file values with non-empty environment variables.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	if lookup == nil {
		return nil
	}
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	if v, ok := get(EnvOwner); ok {
		c.Exchange.Owner = v
	}
	if v, ok := get(EnvToken); ok {
		c.Exchange.Token = v
	}
	if v, ok := get(EnvPriceFeed); ok {
		c.Exchange.PriceFeed = v
	}
	if v, ok := get(EnvProxy); ok {
		c.Exchange.Proxy = v
	}
	if v, ok := get(EnvListen); ok {
		c.Server.ListenAddress = v
	}
	if v, ok := get(EnvJournalDSN); ok {
		c.Journal.DSN = v
		c.Journal.Enabled = true
	}
	if v, ok := get(EnvKafka); ok {
		brokers := make([]string, 0)
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		c.Kafka.Brokers = brokers
	}
	if v, ok := get(EnvOTLP); ok {
		c.Telemetry.Endpoint = v
	}
	if v, ok := get(EnvOTLPInsec); ok {
		insecure, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvOTLPInsec, err)
		}
		c.Telemetry.Insecure = insecure
	}
	return nil
}

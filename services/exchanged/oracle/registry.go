package oracle

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"tokenexchange/config"
)

// Registry constructs sources from configuration. Manual sources share one
// instance so admin overrides reach the aggregation loop.
type Registry struct {
	HTTPClient *http.Client
	Manual     *ManualSource
}

// NewRegistry builds a registry with sane defaults.
func NewRegistry() *Registry {
	return &Registry{HTTPClient: &http.Client{Timeout: 10 * time.Second}}
}

// Build creates a source from the supplied configuration.
func (r *Registry) Build(cfg config.OracleSource) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "manual":
		if r.Manual == nil {
			r.Manual = NewManualSource(cfg.Name)
		}
		return r.Manual, nil
	case "nowpayments":
		return NewNowPaymentsSource(r.client(cfg.Timeout.Duration), cfg.Name, cfg.BaseURL, cfg.APIKey), nil
	case "coingecko":
		return NewCoinGeckoSource(r.client(cfg.Timeout.Duration), cfg.Name, cfg.BaseURL, cfg.Assets), nil
	default:
		return nil, fmt.Errorf("unknown oracle type %q", cfg.Type)
	}
}

// BuildAll creates every configured source in order.
func (r *Registry) BuildAll(cfgs []config.OracleSource) ([]Source, error) {
	out := make([]Source, 0, len(cfgs))
	for i, cfg := range cfgs {
		src, err := r.Build(cfg)
		if err != nil {
			return nil, fmt.Errorf("oracle source %d: %w", i, err)
		}
		out = append(out, src)
	}
	return out, nil
}

func (r *Registry) client(timeout time.Duration) *http.Client {
	if timeout > 0 {
		return &http.Client{Timeout: timeout}
	}
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// ParsePair splits "BASE/QUOTE".
func ParsePair(raw string) (Pair, error) {
	base, quote, ok := strings.Cut(strings.TrimSpace(raw), "/")
	base = normaliseSymbol(base)
	quote = normaliseSymbol(quote)
	if !ok || base == "" || quote == "" {
		return Pair{}, fmt.Errorf("invalid pair %q", raw)
	}
	return Pair{Base: base, Quote: quote}, nil
}

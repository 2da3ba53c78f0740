package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// PriceQuote captures the price of one unit of base expressed in quote, the
// timestamp reported upstream and the source identifier.
type PriceQuote struct {
	Rate      *big.Rat
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q PriceQuote) Clone() PriceQuote {
	clone := PriceQuote{Timestamp: q.Timestamp, Source: q.Source}
	if q.Rate != nil {
		clone.Rate = new(big.Rat).Set(q.Rate)
	}
	return clone
}

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// ManualSource serves operator supplied rates. It backs the admin price
// override and local development.
type ManualSource struct {
	name   string
	mu     sync.RWMutex
	quotes map[string]PriceQuote
}

// NewManualSource constructs an empty manual source.
func NewManualSource(name string) *ManualSource {
	return &ManualSource{name: label(name, "manual"), quotes: make(map[string]PriceQuote)}
}

func (m *ManualSource) Name() string { return m.name }

// SetDecimal records a decimal rate such as "2000.5" for the pair.
func (m *ManualSource) SetDecimal(base, quote, rate string, ts time.Time) error {
	if m == nil {
		return fmt.Errorf("manual source not configured")
	}
	trimmed := strings.TrimSpace(rate)
	if trimmed == "" {
		return fmt.Errorf("manual source: rate required")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return fmt.Errorf("manual source: invalid rate %q", rate)
	}
	return m.Set(base, quote, rat, ts)
}

// Set stores rate for the pair.
func (m *ManualSource) Set(base, quote string, rate *big.Rat, ts time.Time) error {
	if m == nil {
		return fmt.Errorf("manual source not configured")
	}
	if rate == nil || rate.Sign() <= 0 {
		return fmt.Errorf("manual source: rate must be positive")
	}
	if normaliseSymbol(base) == "" || normaliseSymbol(quote) == "" {
		return fmt.Errorf("manual source: base and quote required")
	}
	m.mu.Lock()
	m.quotes[pairKey(base, quote)] = PriceQuote{Rate: new(big.Rat).Set(rate), Timestamp: ts, Source: m.name}
	m.mu.Unlock()
	return nil
}

// Fetch returns the stored rate for the pair.
func (m *ManualSource) Fetch(ctx context.Context, base, quote string) (PriceQuote, error) {
	if m == nil {
		return PriceQuote{}, fmt.Errorf("manual source not configured")
	}
	if err := ctx.Err(); err != nil {
		return PriceQuote{}, err
	}
	m.mu.RLock()
	stored, ok := m.quotes[pairKey(base, quote)]
	m.mu.RUnlock()
	if !ok {
		return PriceQuote{}, fmt.Errorf("manual source: no rate for %s", pairKey(base, quote))
	}
	return stored.Clone(), nil
}

const defaultNowPaymentsEndpoint = "https://api.nowpayments.io/v1/exchange/rates"

// NowPaymentsSource fetches price data from the NOWPayments rates endpoint.
type NowPaymentsSource struct {
	name     string
	client   HTTPDoer
	endpoint string
	apiKey   string
}

// NewNowPaymentsSource constructs a NOWPayments source. The API key is only
// sent when supplied.
func NewNowPaymentsSource(client HTTPDoer, name, endpoint, apiKey string) *NowPaymentsSource {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		ep = defaultNowPaymentsEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &NowPaymentsSource{name: label(name, "nowpayments"), client: client, endpoint: ep, apiKey: strings.TrimSpace(apiKey)}
}

func (o *NowPaymentsSource) Name() string { return o.name }

func (o *NowPaymentsSource) Fetch(ctx context.Context, base, quote string) (PriceQuote, error) {
	if o == nil {
		return PriceQuote{}, fmt.Errorf("nowpayments source not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.endpoint, nil)
	if err != nil {
		return PriceQuote{}, err
	}
	values := url.Values{}
	values.Set("from", normaliseSymbol(base))
	values.Set("to", normaliseSymbol(quote))
	req.URL.RawQuery = values.Encode()
	if o.apiKey != "" {
		req.Header.Set("x-api-key", o.apiKey)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return PriceQuote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return PriceQuote{}, fmt.Errorf("nowpayments source: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Rate      string `json:"rate"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return PriceQuote{}, fmt.Errorf("nowpayments source: decode: %w", err)
	}
	rate := strings.TrimSpace(payload.Rate)
	if rate == "" {
		return PriceQuote{}, fmt.Errorf("nowpayments source: empty rate")
	}
	rat, ok := new(big.Rat).SetString(rate)
	if !ok || rat.Sign() <= 0 {
		return PriceQuote{}, fmt.Errorf("nowpayments source: invalid rate %q", payload.Rate)
	}
	return PriceQuote{Rate: rat, Timestamp: time.Unix(payload.Timestamp, 0), Source: o.name}, nil
}

const defaultCoinGeckoEndpoint = "https://api.coingecko.com/api/v3/simple/price"

// CoinGeckoSource adapts the public CoinGecko simple price API.
type CoinGeckoSource struct {
	name     string
	client   HTTPDoer
	endpoint string
	idMap    map[string]string
}

// NewCoinGeckoSource constructs a new adapter. idMap maps pair symbols such
// as "ETH" to CoinGecko asset identifiers such as "ethereum".
func NewCoinGeckoSource(client HTTPDoer, name, endpoint string, idMap map[string]string) *CoinGeckoSource {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		ep = defaultCoinGeckoEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	mapped := make(map[string]string, len(idMap))
	for k, v := range idMap {
		mapped[normaliseSymbol(k)] = strings.TrimSpace(v)
	}
	return &CoinGeckoSource{name: label(name, "coingecko"), client: client, endpoint: ep, idMap: mapped}
}

func (o *CoinGeckoSource) Name() string { return o.name }

func (o *CoinGeckoSource) assetID(symbol string) string {
	if id, ok := o.idMap[normaliseSymbol(symbol)]; ok && id != "" {
		return id
	}
	return strings.ToLower(strings.TrimSpace(symbol))
}

func (o *CoinGeckoSource) Fetch(ctx context.Context, base, quote string) (PriceQuote, error) {
	if o == nil {
		return PriceQuote{}, fmt.Errorf("coingecko source not configured")
	}
	id := o.assetID(base)
	if id == "" {
		return PriceQuote{}, fmt.Errorf("coingecko source: unmapped asset %s", base)
	}
	vs := strings.ToLower(normaliseSymbol(quote))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.endpoint, nil)
	if err != nil {
		return PriceQuote{}, err
	}
	values := url.Values{}
	values.Set("ids", id)
	values.Set("vs_currencies", vs)
	values.Set("include_last_updated_at", "true")
	req.URL.RawQuery = values.Encode()
	resp, err := o.client.Do(req)
	if err != nil {
		return PriceQuote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return PriceQuote{}, fmt.Errorf("coingecko source: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	var payload map[string]map[string]interface{}
	if err := decoder.Decode(&payload); err != nil {
		return PriceQuote{}, fmt.Errorf("coingecko source: decode: %w", err)
	}
	entry, ok := payload[id]
	if !ok {
		return PriceQuote{}, fmt.Errorf("coingecko source: quote missing for %s", id)
	}
	var priceStr string
	for _, key := range []string{vs, strings.ToUpper(vs)} {
		if raw, exists := entry[key]; exists {
			priceStr = numberString(raw)
			break
		}
	}
	priceStr = strings.TrimSpace(priceStr)
	if priceStr == "" {
		return PriceQuote{}, fmt.Errorf("coingecko source: empty price")
	}
	rat, ok := new(big.Rat).SetString(priceStr)
	if !ok || rat.Sign() <= 0 {
		return PriceQuote{}, fmt.Errorf("coingecko source: invalid rate %q", priceStr)
	}
	var ts time.Time
	if raw, exists := entry["last_updated_at"]; exists {
		if parsed, err := strconv.ParseInt(numberString(raw), 10, 64); err == nil && parsed > 0 {
			ts = time.Unix(parsed, 0)
		}
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return PriceQuote{Rate: rat, Timestamp: ts, Source: o.name}, nil
}

func numberString(raw interface{}) string {
	switch v := raw.(type) {
	case json.Number:
		return v.String()
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func normaliseSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func pairKey(base, quote string) string {
	return normaliseSymbol(base) + "/" + normaliseSymbol(quote)
}

func label(name, fallback string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed != "" {
		return trimmed
	}
	return fallback
}

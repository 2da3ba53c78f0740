package oracle

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tokenexchange/config"
	"tokenexchange/core/types"
)

func TestCoinGeckoSourceFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("ids") != "ethereum" || q.Get("vs_currencies") != "usd" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if q.Get("include_last_updated_at") != "true" {
			t.Errorf("expected last_updated_at to be requested")
		}
		fmt.Fprint(w, `{"ethereum":{"usd":2012.34,"last_updated_at":1700000000}}`)
	}))
	defer srv.Close()

	src := NewCoinGeckoSource(srv.Client(), "", srv.URL, map[string]string{"eth": "ethereum"})
	if src.Name() != "coingecko" {
		t.Fatalf("unexpected default name %q", src.Name())
	}
	quote, err := src.Fetch(context.Background(), "ETH", "USD")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if quote.Rate.Cmp(mustRat("2012.34")) != 0 {
		t.Fatalf("unexpected rate %s", quote.Rate.FloatString(2))
	}
	if !quote.Timestamp.Equal(time.Unix(1_700_000_000, 0)) {
		t.Fatalf("unexpected timestamp %v", quote.Timestamp)
	}
}

func TestCoinGeckoSourceRejectsMissingAsset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	src := NewCoinGeckoSource(srv.Client(), "cg", srv.URL, nil)
	if _, err := src.Fetch(context.Background(), "ETH", "USD"); err == nil {
		t.Fatalf("expected missing quote error")
	}
}

func TestNowPaymentsSourceFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"message":"bad key"}`)
			return
		}
		if r.URL.Query().Get("from") != "ETH" || r.URL.Query().Get("to") != "USD" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		fmt.Fprint(w, `{"rate":"1999.5","timestamp":1700000000}`)
	}))
	defer srv.Close()

	src := NewNowPaymentsSource(srv.Client(), "np", srv.URL, "secret")
	quote, err := src.Fetch(context.Background(), "eth", "usd")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if quote.Rate.Cmp(mustRat("1999.5")) != 0 || quote.Source != "np" {
		t.Fatalf("unexpected quote %+v", quote)
	}

	unauth := NewNowPaymentsSource(srv.Client(), "np", srv.URL, "")
	if _, err := unauth.Fetch(context.Background(), "eth", "usd"); err == nil {
		t.Fatalf("expected status error without api key")
	}
}

func TestManualSourceSetAndFetch(t *testing.T) {
	src := NewManualSource("")
	ctx := context.Background()
	if _, err := src.Fetch(ctx, "ETH", "USD"); err == nil {
		t.Fatalf("expected error for unset pair")
	}
	if err := src.SetDecimal("eth", "usd", "-1", time.Now()); err == nil {
		t.Fatalf("expected negative rate to be rejected")
	}
	if err := src.SetDecimal("eth", "usd", "abc", time.Now()); err == nil {
		t.Fatalf("expected malformed rate to be rejected")
	}
	ts := time.Unix(1_700_000_000, 0)
	if err := src.SetDecimal("eth", "usd", "2000", ts); err != nil {
		t.Fatalf("set: %v", err)
	}
	quote, err := src.Fetch(ctx, "ETH", "USD")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	quote.Rate.SetInt64(1)
	again, _ := src.Fetch(ctx, "ETH", "USD")
	if again.Rate.Cmp(mustRat("2000")) != 0 {
		t.Fatalf("stored rate was mutated through a fetched quote")
	}
	if again.Source != "manual" || !again.Timestamp.Equal(ts) {
		t.Fatalf("unexpected quote %+v", again)
	}
}

func TestRegistryBuildSharesManualSource(t *testing.T) {
	reg := NewRegistry()
	sources, err := reg.BuildAll([]config.OracleSource{
		{Type: "manual"},
		{Type: "coingecko", Name: "cg", Assets: map[string]string{"ETH": "ethereum"}},
		{Type: "NowPayments", Timeout: config.Duration{Duration: time.Second}},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(sources) != 3 {
		t.Fatalf("expected 3 sources, got %d", len(sources))
	}
	if sources[0] != Source(reg.Manual) {
		t.Fatalf("expected registry to keep the manual source")
	}
	if sources[1].Name() != "cg" || sources[2].Name() != "nowpayments" {
		t.Fatalf("unexpected names %s, %s", sources[1].Name(), sources[2].Name())
	}
	if _, err := reg.Build(config.OracleSource{Type: "bloomberg"}); err == nil {
		t.Fatalf("expected unknown type error")
	}
}

func TestParsePair(t *testing.T) {
	pair, err := ParsePair(" eth/usd ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if pair.Base != "ETH" || pair.Quote != "USD" || pair.String() != "ETH/USD" {
		t.Fatalf("unexpected pair %+v", pair)
	}
	for _, raw := range []string{"", "ETH", "/USD", "ETH/"} {
		if _, err := ParsePair(raw); err == nil {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}

type recordingSink struct {
	rates   []*big.Rat
	receipt *types.Receipt
}

func (r *recordingSink) PublishRate(ctx context.Context, rate *big.Rat) (*types.Receipt, error) {
	r.rates = append(r.rates, rate)
	return r.receipt, nil
}

func TestFeedPublisherForwardsMatchingPair(t *testing.T) {
	sink := &recordingSink{receipt: &types.Receipt{Status: types.ReceiptStatusSuccess}}
	pub := NewFeedPublisher(sink, Pair{Base: "eth", Quote: "usd"})
	if err := pub.PublishOracleUpdate(context.Background(), Update{Base: "ETH", Quote: "USD", Median: mustRat("2000")}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(sink.rates) != 1 {
		t.Fatalf("expected one forwarded rate")
	}
	if err := pub.PublishOracleUpdate(context.Background(), Update{Base: "BTC", Quote: "USD", Median: mustRat("1")}); err == nil {
		t.Fatalf("expected pair mismatch error")
	}
	sink.receipt = &types.Receipt{Status: types.ReceiptStatusFailed, Error: "oracle: unauthorized updater"}
	if err := pub.PublishOracleUpdate(context.Background(), Update{Base: "ETH", Quote: "USD", Median: mustRat("2000")}); err == nil {
		t.Fatalf("expected failed receipt to surface")
	}
}

func TestScaleRate(t *testing.T) {
	cases := []struct {
		rate     string
		decimals uint8
		want     string
	}{
		{rate: "2000", decimals: 8, want: "200000000000"},
		{rate: "2000.123456789", decimals: 8, want: "200012345678"},
		{rate: "1.5", decimals: 0, want: "1"},
		{rate: "2000", decimals: 18, want: "2000000000000000000000"},
	}
	for _, tc := range cases {
		got, err := ScaleRate(mustRat(tc.rate), tc.decimals)
		if err != nil {
			t.Fatalf("scale %s: %v", tc.rate, err)
		}
		if got.String() != tc.want {
			t.Fatalf("scale %s@%d: expected %s, got %s", tc.rate, tc.decimals, tc.want, got)
		}
	}
	if _, err := ScaleRate(mustRat("0.1"), 0); err == nil {
		t.Fatalf("expected underflow error")
	}
	if _, err := ScaleRate(nil, 8); err == nil {
		t.Fatalf("expected nil rate error")
	}
}

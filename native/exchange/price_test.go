package exchange

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"tokenexchange/native/oracle"
)

type stubFeed struct {
	decimals uint8
	round    oracle.RoundData
	err      error
}

func (s stubFeed) Decimals() (uint8, error) { return s.decimals, nil }

func (s stubFeed) LatestRoundData() (oracle.RoundData, error) { return s.round, s.err }

func freshRound(answer int64, at time.Time) oracle.RoundData {
	return oracle.RoundData{RoundID: 3, Answer: big.NewInt(answer), StartedAt: at.Unix(), UpdatedAt: at.Unix(), AnsweredInRound: 3}
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		name     string
		price    *uint256.Int
		decimals uint8
		want     string
	}{
		{"eight decimals", uint256.NewInt(2000_0000_0000), 8, "2000000000000000000000"},
		{"eighteen decimals", uint256.NewInt(5), 18, "5"},
		{"twenty decimals truncates", uint256.NewInt(123_456), 20, "1234"},
		{"zero decimals", uint256.NewInt(7), 0, "7000000000000000000"},
	}
	for _, tc := range cases {
		got, err := Normalize(tc.price, tc.decimals)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got.Dec() != tc.want {
			t.Fatalf("%s: got %s want %s", tc.name, got.Dec(), tc.want)
		}
	}
}

func TestNormalizeOverflow(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	if _, err := Normalize(max, 0); !errors.Is(err, ErrConversionOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestPriceAdapterValidity(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	stale := freshRound(2000_0000_0000, now.Add(-2*time.Hour))
	unanswered := freshRound(2000_0000_0000, now)
	unanswered.AnsweredInRound = 2
	incomplete := freshRound(2000_0000_0000, now)
	incomplete.UpdatedAt = 0

	cases := []struct {
		name  string
		round oracle.RoundData
		valid bool
	}{
		{"fresh", freshRound(2000_0000_0000, now), true},
		{"zero answer", freshRound(0, now), false},
		{"negative answer", freshRound(-5, now), false},
		{"stale", stale, false},
		{"answered in earlier round", unanswered, false},
		{"not updated", incomplete, false},
	}
	for _, tc := range cases {
		adapter := NewPriceAdapter(stubFeed{decimals: 8, round: tc.round}, time.Hour, now)
		_, decimals, valid, err := adapter.Latest()
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if decimals != 8 || valid != tc.valid {
			t.Fatalf("%s: decimals=%d valid=%v", tc.name, decimals, valid)
		}
		_, err = adapter.Normalized()
		if tc.valid && err != nil {
			t.Fatalf("%s: normalized: %v", tc.name, err)
		}
		if !tc.valid && !errors.Is(err, ErrInvalidPriceFeed) {
			t.Fatalf("%s: expected invalid price feed, got %v", tc.name, err)
		}
	}
}

func TestPriceAdapterWithoutMaxAgeAcceptsOldRounds(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	adapter := NewPriceAdapter(stubFeed{decimals: 8, round: freshRound(1, now.Add(-24*time.Hour))}, 0, now)
	price, err := adapter.Normalized()
	if err != nil {
		t.Fatalf("normalized: %v", err)
	}
	if price.Dec() != "10000000000" {
		t.Fatalf("unexpected price %s", price.Dec())
	}
}

func TestPriceAdapterFeedError(t *testing.T) {
	adapter := NewPriceAdapter(stubFeed{decimals: 8, err: oracle.ErrNoRound}, 0, time.Now())
	if _, err := adapter.Normalized(); !errors.Is(err, ErrInvalidPriceFeed) {
		t.Fatalf("expected invalid price feed, got %v", err)
	}
	var nilAdapter *PriceAdapter
	if _, err := nilAdapter.Normalized(); !errors.Is(err, ErrInvalidPriceFeed) {
		t.Fatalf("expected invalid price feed for nil adapter, got %v", err)
	}
}

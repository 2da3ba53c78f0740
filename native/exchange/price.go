package exchange

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"tokenexchange/native/oracle"
)

// PriceDecimals is the fixed-point scale of normalized prices.
const PriceDecimals = 18

// PriceFeed is the subset of an aggregator feed the exchange reads.
type PriceFeed interface {
	Decimals() (uint8, error)
	LatestRoundData() (oracle.RoundData, error)
}

// PriceAdapter validates feed readings and normalizes them to 18 decimals.
type PriceAdapter struct {
	feed   PriceFeed
	maxAge time.Duration
	now    time.Time
}

// NewPriceAdapter wraps feed. A zero maxAge disables the staleness check.
func NewPriceAdapter(feed PriceFeed, maxAge time.Duration, now time.Time) *PriceAdapter {
	return &PriceAdapter{feed: feed, maxAge: maxAge, now: now}
}

// Latest returns the raw feed price, its decimals and whether the reading is
// usable. An error is only returned when the feed itself cannot be read.
func (p *PriceAdapter) Latest() (*uint256.Int, uint8, bool, error) {
	if p == nil || p.feed == nil {
		return nil, 0, false, fmt.Errorf("%w: feed not configured", ErrInvalidPriceFeed)
	}
	decimals, err := p.feed.Decimals()
	if err != nil {
		return nil, 0, false, err
	}
	round, err := p.feed.LatestRoundData()
	if err != nil {
		return nil, decimals, false, err
	}
	if round.Answer == nil || round.Answer.Sign() <= 0 {
		return new(uint256.Int), decimals, false, nil
	}
	price, overflow := uint256.FromBig(round.Answer)
	if overflow {
		return new(uint256.Int), decimals, false, nil
	}
	valid := round.UpdatedAt != 0 && round.AnsweredInRound >= round.RoundID
	if valid && p.maxAge > 0 && p.now.Sub(round.UpdatedTime()) > p.maxAge {
		valid = false
	}
	return price, decimals, valid, nil
}

// Normalized returns the validated price scaled to PriceDecimals.
func (p *PriceAdapter) Normalized() (*uint256.Int, error) {
	price, decimals, valid, err := p.Latest()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPriceFeed, err)
	}
	if !valid {
		return nil, ErrInvalidPriceFeed
	}
	normalized, err := Normalize(price, decimals)
	if err != nil || normalized.IsZero() {
		return nil, ErrInvalidPriceFeed
	}
	return normalized, nil
}

// Normalize rescales price from decimals to PriceDecimals. Scaling down
// truncates.
func Normalize(price *uint256.Int, decimals uint8) (*uint256.Int, error) {
	if price == nil {
		return new(uint256.Int), nil
	}
	switch {
	case decimals == PriceDecimals:
		return new(uint256.Int).Set(price), nil
	case decimals < PriceDecimals:
		factor, err := pow10(PriceDecimals - decimals)
		if err != nil {
			return nil, err
		}
		out, overflow := new(uint256.Int).MulOverflow(price, factor)
		if overflow {
			return nil, ErrConversionOverflow
		}
		return out, nil
	default:
		factor, err := pow10(decimals - PriceDecimals)
		if err != nil {
			return new(uint256.Int), nil
		}
		return new(uint256.Int).Div(price, factor), nil
	}
}

func pow10(exp uint8) (*uint256.Int, error) {
	if exp > 77 {
		return nil, ErrConversionOverflow
	}
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(exp))), nil
}

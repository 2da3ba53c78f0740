package oracle

import (
	"context"
	"fmt"
	"math/big"

	"tokenexchange/core/types"
)

// RateSink accepts a decimal rate and posts it as a feed round.
type RateSink interface {
	PublishRate(ctx context.Context, rate *big.Rat) (*types.Receipt, error)
}

// FeedPublisher forwards medians for one pair into a RateSink.
type FeedPublisher struct {
	sink RateSink
	pair Pair
}

// NewFeedPublisher binds sink to pair. Updates for other pairs are rejected.
func NewFeedPublisher(sink RateSink, pair Pair) *FeedPublisher {
	return &FeedPublisher{sink: sink, pair: Pair{Base: normaliseSymbol(pair.Base), Quote: normaliseSymbol(pair.Quote)}}
}

// PublishOracleUpdate implements Publisher.
func (p *FeedPublisher) PublishOracleUpdate(ctx context.Context, update Update) error {
	if p == nil || p.sink == nil {
		return fmt.Errorf("feed publisher not configured")
	}
	if normaliseSymbol(update.Base) != p.pair.Base || normaliseSymbol(update.Quote) != p.pair.Quote {
		return fmt.Errorf("feed publisher: unexpected pair %s", pairKey(update.Base, update.Quote))
	}
	receipt, err := p.sink.PublishRate(ctx, update.Median)
	if err != nil {
		return err
	}
	if !receipt.Succeeded() {
		return fmt.Errorf("feed publisher: round rejected: %s", receipt.Error)
	}
	return nil
}

// ScaleRate converts a decimal rate into an integer answer with the given
// number of decimals, truncating toward zero.
func ScaleRate(rate *big.Rat, decimals uint8) (*big.Int, error) {
	if rate == nil || rate.Sign() <= 0 {
		return nil, fmt.Errorf("rate must be positive")
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	scaled := new(big.Rat).Mul(rate, new(big.Rat).SetInt(scale))
	answer := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	if answer.Sign() <= 0 {
		return nil, fmt.Errorf("rate %s underflows %d decimals", rate.FloatString(int(decimals)), decimals)
	}
	return answer, nil
}

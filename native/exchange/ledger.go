package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"tokenexchange/core"
	"tokenexchange/native/oracle"
	"tokenexchange/native/token"
)

// AssetLedger moves the exchanged asset in and out of the pool. Calls are
// made on behalf of the exchange contract.
type AssetLedger interface {
	BalanceOf(holder common.Address) (*uint256.Int, error)
	Transfer(to common.Address, amount *uint256.Int) error
}

// decimalsReporter is implemented by ledgers that know their asset scale.
type decimalsReporter interface {
	Decimals() (uint8, error)
}

// Bindings resolve the configured collaborator addresses into adapters for
// the current frame.
type Bindings struct {
	Ledger func(c *core.Call, asset common.Address) (AssetLedger, error)
	Feed   func(c *core.Call, feed common.Address) (PriceFeed, error)
}

// DefaultBindings binds to the in-process token and aggregator contracts.
func DefaultBindings() Bindings {
	return Bindings{Ledger: bindTokenLedger, Feed: bindAggregatorFeed}
}

func (b Bindings) withDefaults() Bindings {
	if b.Ledger == nil {
		b.Ledger = bindTokenLedger
	}
	if b.Feed == nil {
		b.Feed = bindAggregatorFeed
	}
	return b
}

type tokenLedger struct {
	frame *core.Call
}

func bindTokenLedger(c *core.Call, asset common.Address) (AssetLedger, error) {
	frame, err := c.Sub(asset)
	if err != nil {
		return nil, err
	}
	kind, err := frame.CodeKind()
	if err != nil {
		return nil, err
	}
	if kind != token.Kind {
		return nil, fmt.Errorf("%w: %s", token.ErrNotToken, asset.Hex())
	}
	return &tokenLedger{frame: frame}, nil
}

func (l *tokenLedger) BalanceOf(holder common.Address) (*uint256.Int, error) {
	return token.BalanceOf(l.frame, holder)
}

func (l *tokenLedger) Transfer(to common.Address, amount *uint256.Int) error {
	return token.Transfer(l.frame, to, amount)
}

func (l *tokenLedger) Decimals() (uint8, error) {
	return token.Decimals(l.frame)
}

type aggregatorFeed struct {
	frame *core.Call
}

func bindAggregatorFeed(c *core.Call, feed common.Address) (PriceFeed, error) {
	frame, err := c.Sub(feed)
	if err != nil {
		return nil, err
	}
	return &aggregatorFeed{frame: frame}, nil
}

func (f *aggregatorFeed) Decimals() (uint8, error) {
	return oracle.Decimals(f.frame)
}

func (f *aggregatorFeed) LatestRoundData() (oracle.RoundData, error) {
	return oracle.LatestRoundData(f.frame)
}

func assetDecimals(ledger AssetLedger) (uint8, error) {
	if reporter, ok := ledger.(decimalsReporter); ok {
		return reporter.Decimals()
	}
	return NativeDecimals, nil
}

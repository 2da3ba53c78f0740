package node

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"tokenexchange/core"
	"tokenexchange/native/exchange"
)

// Status is a read-only snapshot of the exchange.
type Status struct {
	Proxy          common.Address
	Implementation common.Address
	History        []common.Address
	Logic          string
	Version        string
	Owner          common.Address
	Token          common.Address
	PriceFeed      common.Address
	FeedLabel      string
	Price          *uint256.Int
	PriceErr       string
	Pool           exchange.Pool
	Height         uint64
	StateRoot      common.Hash
}

// Status reads the exchange's configuration and holdings. A feed that cannot
// produce a valid price is reported in PriceErr rather than failing the read.
func (n *Node) Status(ctx context.Context) (Status, error) {
	x := n.exchange
	st := Status{Proxy: x.Address()}
	var err error
	if st.Implementation, err = x.Implementation(ctx); err != nil {
		return st, err
	}
	if st.History, err = x.Implementations(ctx); err != nil {
		return st, err
	}
	if st.Logic, err = x.LogicName(ctx); err != nil {
		return st, err
	}
	st.Version, err = x.Version(ctx)
	if err != nil && !errors.Is(err, exchange.ErrMethodNotSupported) {
		return st, err
	}
	if st.Owner, err = x.Owner(ctx); err != nil {
		return st, err
	}
	if st.Token, err = x.Token(ctx); err != nil {
		return st, err
	}
	if st.PriceFeed, err = x.PriceFeed(ctx); err != nil {
		return st, err
	}
	if n.feed != nil {
		// Feeds deployed outside this node may not carry a label.
		st.FeedLabel, _ = n.feed.Description(ctx)
	}
	if st.Pool, err = x.Pool(ctx); err != nil {
		return st, err
	}
	if st.Price, err = x.GetLatestPrice(ctx); err != nil {
		st.PriceErr = err.Error()
	}
	st.Height = n.exec.Height()
	st.StateRoot = n.exec.Root()
	return st, nil
}

// Account is the native and asset position of one address.
type Account struct {
	Address common.Address
	Native  *uint256.Int
	Asset   *uint256.Int
	Nonce   uint64
}

// Account reads addr's balances and next nonce.
func (n *Node) Account(ctx context.Context, addr common.Address) (Account, error) {
	acct := Account{Address: addr}
	err := n.exec.Query(ctx, addr, addr, func(c *core.Call) error {
		bal, err := c.State().Balance(addr)
		if err != nil {
			return err
		}
		nonce, err := c.State().Nonce(addr)
		if err != nil {
			return err
		}
		acct.Native = bal
		acct.Nonce = nonce
		return nil
	})
	if err != nil {
		return acct, err
	}
	if acct.Asset, err = n.token.BalanceOf(ctx, addr); err != nil {
		return acct, err
	}
	return acct, nil
}

// LatestPrice returns the normalized feed price through the active logic.
func (n *Node) LatestPrice(ctx context.Context) (*uint256.Int, error) {
	return n.exchange.GetLatestPrice(ctx)
}

// Version returns the active logic's version tag. Logic without one reports
// exchange.ErrMethodNotSupported.
func (n *Node) Version(ctx context.Context) (string, error) {
	return n.exchange.Version(ctx)
}

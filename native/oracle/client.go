package oracle

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"tokenexchange/core"
	"tokenexchange/core/types"
)

// Deploy creates an aggregator contract with the initial answer posted as round one.
func Deploy(ctx context.Context, exec *core.Executor, deployer common.Address, decimals uint8, description string, initialAnswer *big.Int, updater common.Address) (common.Address, *types.Receipt, error) {
	return exec.Deploy(ctx, deployer, Kind, nil, func(c *core.Call) error {
		return Initialize(c, decimals, description, initialAnswer, updater)
	})
}

// Client issues aggregator operations through an executor.
type Client struct {
	exec    *core.Executor
	address common.Address
}

// NewClient binds a client to the aggregator at address.
func NewClient(exec *core.Executor, address common.Address) *Client {
	return &Client{exec: exec, address: address}
}

// Address returns the bound aggregator address.
func (a *Client) Address() common.Address { return a.address }

// UpdateAnswer posts a new round as the sender.
func (a *Client) UpdateAnswer(ctx context.Context, from core.Sender, answer *big.Int) (*types.Receipt, error) {
	return a.exec.Execute(ctx, from.Message(a.address, "oracle-update", nil), func(c *core.Call) error {
		if err := ensureAggregator(c); err != nil {
			return err
		}
		return UpdateAnswer(c, answer)
	})
}

// LatestRoundData reads the newest round.
func (a *Client) LatestRoundData(ctx context.Context) (RoundData, error) {
	var out RoundData
	err := a.exec.Query(ctx, common.Address{}, a.address, func(c *core.Call) error {
		rd, err := LatestRoundData(c)
		out = rd
		return err
	})
	return out, err
}

// Decimals reads the answer decimals.
func (a *Client) Decimals(ctx context.Context) (uint8, error) {
	var out uint8
	err := a.exec.Query(ctx, common.Address{}, a.address, func(c *core.Call) error {
		d, err := Decimals(c)
		out = d
		return err
	})
	return out, err
}

// Updater reads the account allowed to post answers.
func (a *Client) Updater(ctx context.Context) (common.Address, error) {
	var out common.Address
	err := a.exec.Query(ctx, common.Address{}, a.address, func(c *core.Call) error {
		u, err := Updater(c)
		out = u
		return err
	})
	return out, err
}

// Description reads the feed label, for example "ETH / USD".
func (a *Client) Description(ctx context.Context) (string, error) {
	var out string
	err := a.exec.Query(ctx, common.Address{}, a.address, func(c *core.Call) error {
		d, err := Description(c)
		out = d
		return err
	})
	return out, err
}

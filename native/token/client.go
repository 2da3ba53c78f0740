package token

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"tokenexchange/core"
	"tokenexchange/core/types"
)

// Deploy creates a token contract and mints supply to owner.
func Deploy(ctx context.Context, exec *core.Executor, deployer common.Address, meta Metadata, owner common.Address, supply *uint256.Int) (common.Address, *types.Receipt, error) {
	return exec.Deploy(ctx, deployer, Kind, nil, func(c *core.Call) error {
		return Initialize(c, meta, owner, supply)
	})
}

// Client issues token operations through an executor.
type Client struct {
	exec    *core.Executor
	address common.Address
}

// NewClient binds a client to the token at address.
func NewClient(exec *core.Executor, address common.Address) *Client {
	return &Client{exec: exec, address: address}
}

// Address returns the bound token address.
func (t *Client) Address() common.Address { return t.address }

// Transfer sends amount from the sender to recipient.
func (t *Client) Transfer(ctx context.Context, from core.Sender, to common.Address, amount *uint256.Int) (*types.Receipt, error) {
	return t.exec.Execute(ctx, from.Message(t.address, types.MethodTokenTransfer, nil), func(c *core.Call) error {
		if err := ensureToken(c); err != nil {
			return err
		}
		return Transfer(c, to, amount)
	})
}

// Approve sets the sender's allowance for spender.
func (t *Client) Approve(ctx context.Context, from core.Sender, spender common.Address, amount *uint256.Int) (*types.Receipt, error) {
	return t.exec.Execute(ctx, from.Message(t.address, types.MethodTokenApprove, nil), func(c *core.Call) error {
		if err := ensureToken(c); err != nil {
			return err
		}
		return Approve(c, spender, amount)
	})
}

// TransferFrom moves owner's tokens using the sender's allowance.
func (t *Client) TransferFrom(ctx context.Context, from core.Sender, owner, to common.Address, amount *uint256.Int) (*types.Receipt, error) {
	return t.exec.Execute(ctx, from.Message(t.address, "token-transfer-from", nil), func(c *core.Call) error {
		if err := ensureToken(c); err != nil {
			return err
		}
		return TransferFrom(c, owner, to, amount)
	})
}

// Mint creates amount for recipient. The sender must be the token owner.
func (t *Client) Mint(ctx context.Context, from core.Sender, to common.Address, amount *uint256.Int) (*types.Receipt, error) {
	return t.exec.Execute(ctx, from.Message(t.address, "token-mint", nil), func(c *core.Call) error {
		if err := ensureToken(c); err != nil {
			return err
		}
		return Mint(c, to, amount)
	})
}

// BalanceOf reads holder's balance.
func (t *Client) BalanceOf(ctx context.Context, holder common.Address) (*uint256.Int, error) {
	var out *uint256.Int
	err := t.exec.Query(ctx, holder, t.address, func(c *core.Call) error {
		if err := ensureToken(c); err != nil {
			return err
		}
		bal, err := BalanceOf(c, holder)
		out = bal
		return err
	})
	return out, err
}

// Allowance reads the allowance owner granted to spender.
func (t *Client) Allowance(ctx context.Context, owner, spender common.Address) (*uint256.Int, error) {
	var out *uint256.Int
	err := t.exec.Query(ctx, owner, t.address, func(c *core.Call) error {
		v, err := Allowance(c, owner, spender)
		out = v
		return err
	})
	return out, err
}

// Metadata reads the token metadata.
func (t *Client) Metadata(ctx context.Context) (Metadata, error) {
	var out Metadata
	err := t.exec.Query(ctx, common.Address{}, t.address, func(c *core.Call) error {
		meta, err := Meta(c)
		out = meta
		return err
	})
	return out, err
}

// TotalSupply reads the minted supply.
func (t *Client) TotalSupply(ctx context.Context) (*uint256.Int, error) {
	var out *uint256.Int
	err := t.exec.Query(ctx, common.Address{}, t.address, func(c *core.Call) error {
		v, err := TotalSupply(c)
		out = v
		return err
	})
	return out, err
}

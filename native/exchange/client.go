package exchange

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"tokenexchange/core"
	"tokenexchange/core/types"
)

// Pool is a live snapshot of the exchange's holdings.
type Pool struct {
	Native *uint256.Int
	Asset  *uint256.Int
}

// Client issues exchange operations through an executor against one proxy.
type Client struct {
	exec    *core.Executor
	proxy   *Proxy
	address common.Address
}

// Deploy creates a proxy pointing at impl and initializes it in the same
// operation.
func Deploy(ctx context.Context, exec *core.Executor, proxy *Proxy, deployer, impl, owner, asset, feed common.Address) (*Client, *types.Receipt, error) {
	addr, receipt, err := exec.Deploy(ctx, deployer, ProxyKind, nil, func(c *core.Call) error {
		return proxy.Construct(c, impl, owner, asset, feed)
	})
	if err != nil {
		return nil, receipt, err
	}
	return NewClient(exec, proxy, addr), receipt, nil
}

// NewClient binds a client to an existing proxy.
func NewClient(exec *core.Executor, proxy *Proxy, address common.Address) *Client {
	return &Client{exec: exec, proxy: proxy, address: address}
}

// Address returns the proxy address.
func (x *Client) Address() common.Address { return x.address }

// Deposit attaches amount to a deposit call.
func (x *Client) Deposit(ctx context.Context, from core.Sender, amount *uint256.Int) (*types.Receipt, error) {
	return x.exec.Execute(ctx, from.Message(x.address, types.MethodDeposit, amount), x.proxy.Deposit)
}

// Swap attaches amount to a swap call. The asset received is reported in the
// receipt's swap event.
func (x *Client) Swap(ctx context.Context, from core.Sender, amount *uint256.Int) (*types.Receipt, error) {
	return x.exec.Execute(ctx, from.Message(x.address, types.MethodSwap, amount), func(c *core.Call) error {
		_, err := x.proxy.Swap(c)
		return err
	})
}

// Withdraw drains the requested amounts to the owner.
func (x *Client) Withdraw(ctx context.Context, from core.Sender, nativeAmount, assetAmount *uint256.Int) (*types.Receipt, error) {
	return x.exec.Execute(ctx, from.Message(x.address, types.MethodWithdraw, nil), func(c *core.Call) error {
		return x.proxy.Withdraw(c, nativeAmount, assetAmount)
	})
}

// Initialize calls the initialization entry point on an already constructed proxy.
func (x *Client) Initialize(ctx context.Context, from core.Sender, owner, asset, feed common.Address) (*types.Receipt, error) {
	return x.exec.Execute(ctx, from.Message(x.address, "initialize", nil), func(c *core.Call) error {
		return x.proxy.Initialize(c, owner, asset, feed)
	})
}

// UpgradeTo points the proxy at impl.
func (x *Client) UpgradeTo(ctx context.Context, from core.Sender, impl common.Address) (*types.Receipt, error) {
	return x.exec.Execute(ctx, from.Message(x.address, types.MethodUpgrade, nil), func(c *core.Call) error {
		return x.proxy.UpgradeTo(c, impl)
	})
}

// TransferOwnership hands the owner role to newOwner.
func (x *Client) TransferOwnership(ctx context.Context, from core.Sender, newOwner common.Address) (*types.Receipt, error) {
	return x.exec.Execute(ctx, from.Message(x.address, types.MethodTransferOwnership, nil), func(c *core.Call) error {
		return x.proxy.TransferOwnership(c, newOwner)
	})
}

func (x *Client) Owner(ctx context.Context) (common.Address, error) {
	return queryAddress(ctx, x, x.proxy.Owner)
}

func (x *Client) Token(ctx context.Context) (common.Address, error) {
	return queryAddress(ctx, x, x.proxy.Token)
}

func (x *Client) PriceFeed(ctx context.Context) (common.Address, error) {
	return queryAddress(ctx, x, x.proxy.PriceFeed)
}

func (x *Client) Implementation(ctx context.Context) (common.Address, error) {
	return queryAddress(ctx, x, x.proxy.Implementation)
}

// Implementations returns the logic accounts the proxy has been pointed at,
// oldest first.
func (x *Client) Implementations(ctx context.Context) ([]common.Address, error) {
	var out []common.Address
	err := x.exec.Query(ctx, common.Address{}, x.address, func(c *core.Call) error {
		impls, err := x.proxy.Implementations(c)
		out = impls
		return err
	})
	return out, err
}

// GetLatestPrice returns the normalized feed price.
func (x *Client) GetLatestPrice(ctx context.Context) (*uint256.Int, error) {
	var out *uint256.Int
	err := x.exec.Query(ctx, common.Address{}, x.address, func(c *core.Call) error {
		price, err := x.proxy.GetLatestPrice(c)
		out = price
		return err
	})
	return out, err
}

// Version returns the active logic's version tag.
func (x *Client) Version(ctx context.Context) (string, error) {
	var out string
	err := x.exec.Query(ctx, common.Address{}, x.address, func(c *core.Call) error {
		v, err := x.proxy.Version(c)
		out = v
		return err
	})
	return out, err
}

// LogicName returns the name of the active logic.
func (x *Client) LogicName(ctx context.Context) (string, error) {
	var out string
	err := x.exec.Query(ctx, common.Address{}, x.address, func(c *core.Call) error {
		v, err := x.proxy.LogicName(c)
		out = v
		return err
	})
	return out, err
}

// Pool reads the live native and asset holdings of the exchange.
func (x *Client) Pool(ctx context.Context) (Pool, error) {
	var out Pool
	err := x.exec.Query(ctx, common.Address{}, x.address, func(c *core.Call) error {
		native, err := c.Balance()
		if err != nil {
			return err
		}
		asset, err := x.proxy.Token(c)
		if err != nil {
			return err
		}
		ledger, err := bindTokenLedger(c, asset)
		if err != nil {
			return err
		}
		held, err := ledger.BalanceOf(c.Self())
		if err != nil {
			return err
		}
		out = Pool{Native: native, Asset: held}
		return nil
	})
	return out, err
}

func queryAddress(ctx context.Context, x *Client, read func(*core.Call) (common.Address, error)) (common.Address, error) {
	var out common.Address
	err := x.exec.Query(ctx, common.Address{}, x.address, func(c *core.Call) error {
		addr, err := read(c)
		out = addr
		return err
	})
	return out, err
}

package exchange

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"tokenexchange/core"
	"tokenexchange/core/events"
	nativecommon "tokenexchange/native/common"
)

// Logic is one version of the exchange's executable behaviour. Every method
// runs in the proxy's frame, so c.Self() is the proxy and all state reads and
// writes land in the proxy's storage.
type Logic interface {
	Name() string
	Layout() Layout

	Initialize(c *core.Call, owner, asset, feed common.Address) error
	Deposit(c *core.Call) error
	Swap(c *core.Call) (*uint256.Int, error)
	Withdraw(c *core.Call, nativeAmount, assetAmount *uint256.Int) error

	Owner(c *core.Call) (common.Address, error)
	Token(c *core.Call) (common.Address, error)
	PriceFeed(c *core.Call) (common.Address, error)
	GetLatestPrice(c *core.Call) (*uint256.Int, error)

	TransferOwnership(c *core.Call, newOwner common.Address) error
	AuthorizeUpgrade(c *core.Call, newImplementation common.Address) error
}

// Versioned is implemented by logic versions that expose a version read.
type Versioned interface {
	Version() string
}

// Options configure logic behaviour shared by all versions.
type Options struct {
	// MaxPriceAge rejects feed rounds older than this. Zero disables the check.
	MaxPriceAge time.Duration
	Bindings    Bindings
}

// V1 is the initial exchange logic.
type V1 struct {
	opts Options
}

// NewV1 constructs the initial logic version.
func NewV1(opts Options) *V1 {
	opts.Bindings = opts.Bindings.withDefaults()
	return &V1{opts: opts}
}

func (x *V1) Name() string { return "TokenExchange" }

func (x *V1) Layout() Layout { return LayoutV1 }

// Initialize moves an uninitialized proxy into the active state.
func (x *V1) Initialize(c *core.Call, owner, asset, feed common.Address) error {
	version, err := initializedVersion(c)
	if err != nil {
		return err
	}
	if version != 0 {
		return ErrAlreadyInitialized
	}
	if owner == (common.Address{}) {
		return invalidOwner(owner)
	}
	if asset == (common.Address{}) || feed == (common.Address{}) {
		return ErrZeroAddress
	}
	st := c.State()
	if err := nativecommon.StoreUint(st, c.Self(), initializedSlot, uint256.NewInt(1)); err != nil {
		return err
	}
	if err := nativecommon.StoreAddress(st, c.Self(), ownerSlot, owner); err != nil {
		return err
	}
	if err := nativecommon.StoreAddress(st, c.Self(), tokenSlot, asset); err != nil {
		return err
	}
	if err := nativecommon.StoreAddress(st, c.Self(), priceFeedSlot, feed); err != nil {
		return err
	}
	c.Emit(events.ExchangeOwnershipTransferred{Exchange: c.Self(), NewOwner: owner})
	c.Emit(events.ExchangeInitialized{Exchange: c.Self(), Version: 1, Owner: owner, Token: asset, PriceFeed: feed})
	return nil
}

// Deposit accepts the attached native currency into the pool.
func (x *V1) Deposit(c *core.Call) error {
	if _, err := loadState(c); err != nil {
		return err
	}
	c.Emit(events.ExchangeDeposit{Exchange: c.Self(), Caller: c.Caller(), Amount: c.Value()})
	return nil
}

// Swap converts the attached native currency into the asset at the current
// oracle price and pays the caller from the pool.
func (x *V1) Swap(c *core.Call) (*uint256.Int, error) {
	amountIn := c.Value()
	if amountIn.IsZero() {
		return nil, ErrZeroAmount
	}
	st, err := loadState(c)
	if err != nil {
		return nil, err
	}
	price, err := x.latestPrice(c, st.PriceFeed)
	if err != nil {
		return nil, err
	}
	ledger, err := x.opts.Bindings.Ledger(c, st.Token)
	if err != nil {
		return nil, err
	}
	decimals, err := assetDecimals(ledger)
	if err != nil {
		return nil, err
	}
	amountOut, err := TokensOut(amountIn, price, decimals)
	if err != nil {
		return nil, err
	}
	pool, err := ledger.BalanceOf(c.Self())
	if err != nil {
		return nil, err
	}
	if amountOut.Gt(pool) {
		return nil, ErrInsufficientTokenBalance
	}
	if err := ledger.Transfer(c.Caller(), amountOut); err != nil {
		return nil, err
	}
	c.Emit(events.ExchangeSwap{Exchange: c.Self(), Caller: c.Caller(), AmountIn: amountIn, AmountOut: amountOut, Price: price})
	return amountOut, nil
}

// Withdraw sends native currency and asset from the pool to the owner.
func (x *V1) Withdraw(c *core.Call, nativeAmount, assetAmount *uint256.Int) error {
	st, err := loadState(c)
	if err != nil {
		return err
	}
	if err := RequireOwner(c, st.Owner); err != nil {
		return err
	}
	if nativeAmount == nil {
		nativeAmount = new(uint256.Int)
	}
	if assetAmount == nil {
		assetAmount = new(uint256.Int)
	}

	held, err := c.Balance()
	if err != nil {
		return err
	}
	if nativeAmount.Gt(held) {
		return ErrInsufficientNativeBalance
	}
	var ledger AssetLedger
	if !assetAmount.IsZero() {
		ledger, err = x.opts.Bindings.Ledger(c, st.Token)
		if err != nil {
			return err
		}
		pool, err := ledger.BalanceOf(c.Self())
		if err != nil {
			return err
		}
		if assetAmount.Gt(pool) {
			return ErrInsufficientTokenBalance
		}
	}

	if err := c.Transfer(st.Owner, nativeAmount); err != nil {
		return err
	}
	if ledger != nil {
		if err := ledger.Transfer(st.Owner, assetAmount); err != nil {
			return err
		}
	}
	c.Emit(events.ExchangeWithdrawal{Exchange: c.Self(), Owner: st.Owner, NativeAmount: nativeAmount, AssetAmount: assetAmount})
	return nil
}

func (x *V1) Owner(c *core.Call) (common.Address, error) {
	st, err := loadState(c)
	return st.Owner, err
}

func (x *V1) Token(c *core.Call) (common.Address, error) {
	st, err := loadState(c)
	return st.Token, err
}

func (x *V1) PriceFeed(c *core.Call) (common.Address, error) {
	st, err := loadState(c)
	return st.PriceFeed, err
}

// GetLatestPrice returns the validated feed price scaled to 18 decimals.
func (x *V1) GetLatestPrice(c *core.Call) (*uint256.Int, error) {
	st, err := loadState(c)
	if err != nil {
		return nil, err
	}
	return x.latestPrice(c, st.PriceFeed)
}

// TransferOwnership hands the owner role to newOwner.
func (x *V1) TransferOwnership(c *core.Call, newOwner common.Address) error {
	st, err := loadState(c)
	if err != nil {
		return err
	}
	if err := RequireOwner(c, st.Owner); err != nil {
		return err
	}
	if newOwner == (common.Address{}) {
		return invalidOwner(newOwner)
	}
	if err := nativecommon.StoreAddress(c.State(), c.Self(), ownerSlot, newOwner); err != nil {
		return err
	}
	c.Emit(events.ExchangeOwnershipTransferred{Exchange: c.Self(), PreviousOwner: st.Owner, NewOwner: newOwner})
	return nil
}

// AuthorizeUpgrade only admits the owner.
func (x *V1) AuthorizeUpgrade(c *core.Call, newImplementation common.Address) error {
	st, err := loadState(c)
	if err != nil {
		return err
	}
	return RequireOwner(c, st.Owner)
}

func (x *V1) latestPrice(c *core.Call, feedAddr common.Address) (*uint256.Int, error) {
	feed, err := x.opts.Bindings.Feed(c, feedAddr)
	if err != nil {
		return nil, ErrInvalidPriceFeed
	}
	return NewPriceAdapter(feed, x.opts.MaxPriceAge, c.Now()).Normalized()
}

// V2 keeps every V1 behaviour and adds a version read.
type V2 struct {
	*V1
}

// NewV2 constructs the second logic version.
func NewV2(opts Options) *V2 {
	return &V2{V1: NewV1(opts)}
}

func (x *V2) Name() string { return "TokenExchangeV2" }

// Layout is unchanged from V1: V2 introduces no persisted fields.
func (x *V2) Layout() Layout { return LayoutV1 }

// Version returns the logic version tag.
func (x *V2) Version() string { return "V2" }

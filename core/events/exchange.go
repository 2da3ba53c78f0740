package events

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"tokenexchange/core/types"
)

const (
	// TypeExchangeDeposit is emitted when native currency is deposited into the pool.
	TypeExchangeDeposit = "exchange.deposit"
	// TypeExchangeSwap is emitted when native currency is converted into the asset.
	TypeExchangeSwap = "exchange.swap"
	// TypeExchangeWithdrawal is emitted when the owner drains the pool.
	TypeExchangeWithdrawal = "exchange.withdrawal"
	// TypeExchangeInitialized is emitted once per proxy when its state is set.
	TypeExchangeInitialized = "exchange.initialized"
	// TypeExchangeUpgraded is emitted when the proxy points at new logic.
	TypeExchangeUpgraded = "exchange.upgraded"
	// TypeExchangeOwnershipTransferred is emitted when the owner changes.
	TypeExchangeOwnershipTransferred = "exchange.ownership_transferred"
)

type ExchangeDeposit struct {
	Exchange common.Address
	Caller   common.Address
	Amount   *uint256.Int
}

func (ExchangeDeposit) EventType() string { return TypeExchangeDeposit }

func (e ExchangeDeposit) Event() *types.Event {
	return &types.Event{
		Type: TypeExchangeDeposit,
		Attributes: map[string]string{
			"exchange": addressString(e.Exchange),
			"caller":   addressString(e.Caller),
			"amount":   amountString(e.Amount),
		},
	}
}

type ExchangeSwap struct {
	Exchange  common.Address
	Caller    common.Address
	AmountIn  *uint256.Int
	AmountOut *uint256.Int
	Price     *uint256.Int
}

func (ExchangeSwap) EventType() string { return TypeExchangeSwap }

func (e ExchangeSwap) Event() *types.Event {
	return &types.Event{
		Type: TypeExchangeSwap,
		Attributes: map[string]string{
			"exchange":  addressString(e.Exchange),
			"caller":    addressString(e.Caller),
			"amountIn":  amountString(e.AmountIn),
			"amountOut": amountString(e.AmountOut),
			"price":     amountString(e.Price),
		},
	}
}

type ExchangeWithdrawal struct {
	Exchange     common.Address
	Owner        common.Address
	NativeAmount *uint256.Int
	AssetAmount  *uint256.Int
}

func (ExchangeWithdrawal) EventType() string { return TypeExchangeWithdrawal }

func (e ExchangeWithdrawal) Event() *types.Event {
	return &types.Event{
		Type: TypeExchangeWithdrawal,
		Attributes: map[string]string{
			"exchange":     addressString(e.Exchange),
			"owner":        addressString(e.Owner),
			"nativeAmount": amountString(e.NativeAmount),
			"assetAmount":  amountString(e.AssetAmount),
		},
	}
}

type ExchangeInitialized struct {
	Exchange  common.Address
	Version   uint64
	Owner     common.Address
	Token     common.Address
	PriceFeed common.Address
}

func (ExchangeInitialized) EventType() string { return TypeExchangeInitialized }

func (e ExchangeInitialized) Event() *types.Event {
	return &types.Event{
		Type: TypeExchangeInitialized,
		Attributes: map[string]string{
			"exchange":  addressString(e.Exchange),
			"version":   uint256.NewInt(e.Version).Dec(),
			"owner":     addressString(e.Owner),
			"token":     addressString(e.Token),
			"priceFeed": addressString(e.PriceFeed),
		},
	}
}

type ExchangeUpgraded struct {
	Exchange       common.Address
	Implementation common.Address
	Logic          string
}

func (ExchangeUpgraded) EventType() string { return TypeExchangeUpgraded }

func (e ExchangeUpgraded) Event() *types.Event {
	return &types.Event{
		Type: TypeExchangeUpgraded,
		Attributes: map[string]string{
			"exchange":       addressString(e.Exchange),
			"implementation": addressString(e.Implementation),
			"logic":          e.Logic,
		},
	}
}

type ExchangeOwnershipTransferred struct {
	Exchange      common.Address
	PreviousOwner common.Address
	NewOwner      common.Address
}

func (ExchangeOwnershipTransferred) EventType() string { return TypeExchangeOwnershipTransferred }

func (e ExchangeOwnershipTransferred) Event() *types.Event {
	return &types.Event{
		Type: TypeExchangeOwnershipTransferred,
		Attributes: map[string]string{
			"exchange":      addressString(e.Exchange),
			"previousOwner": addressString(e.PreviousOwner),
			"newOwner":      addressString(e.NewOwner),
		},
	}
}

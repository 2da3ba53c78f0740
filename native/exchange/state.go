package exchange

import (
	"github.com/ethereum/go-ethereum/common"

	"tokenexchange/core"
	nativecommon "tokenexchange/native/common"
)

// implementationSlot holds the address of the active logic account.
var implementationSlot = nativecommon.NamespacedSlot("eip1967.proxy.implementation")

var (
	initializedSlot = mustSlot(fieldInitialized)
	ownerSlot       = mustSlot(fieldOwner)
	tokenSlot       = mustSlot(fieldToken)
	priceFeedSlot   = mustSlot(fieldPriceFeed)
)

func mustSlot(name string) common.Hash {
	slot, ok := LayoutV1.SlotOf(name)
	if !ok {
		panic("exchange: missing layout field " + name)
	}
	return slot
}

// ExchangeState is the persisted configuration of an exchange instance.
type ExchangeState struct {
	Owner     common.Address
	Token     common.Address
	PriceFeed common.Address
}

func initializedVersion(c *core.Call) (uint64, error) {
	v, err := nativecommon.LoadUint(c.State(), c.Self(), initializedSlot)
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

func loadState(c *core.Call) (ExchangeState, error) {
	version, err := initializedVersion(c)
	if err != nil {
		return ExchangeState{}, err
	}
	if version == 0 {
		return ExchangeState{}, ErrNotInitialized
	}
	st := c.State()
	owner, err := nativecommon.LoadAddress(st, c.Self(), ownerSlot)
	if err != nil {
		return ExchangeState{}, err
	}
	asset, err := nativecommon.LoadAddress(st, c.Self(), tokenSlot)
	if err != nil {
		return ExchangeState{}, err
	}
	feed, err := nativecommon.LoadAddress(st, c.Self(), priceFeedSlot)
	if err != nil {
		return ExchangeState{}, err
	}
	return ExchangeState{Owner: owner, Token: asset, PriceFeed: feed}, nil
}

func loadImplementation(c *core.Call) (common.Address, error) {
	return nativecommon.LoadAddress(c.State(), c.Self(), implementationSlot)
}

func storeImplementation(c *core.Call, impl common.Address) error {
	return nativecommon.StoreAddress(c.State(), c.Self(), implementationSlot, impl)
}

// implementationsKey indexes the logic accounts a proxy has pointed at, in
// first-use order.
func implementationsKey(proxy common.Address) []byte {
	return append([]byte("exchange/implementations/"), proxy.Bytes()...)
}

func recordImplementation(c *core.Call, impl common.Address) error {
	if err := storeImplementation(c, impl); err != nil {
		return err
	}
	return c.State().KVAppend(implementationsKey(c.Self()), impl.Bytes())
}

func loadImplementations(c *core.Call) ([]common.Address, error) {
	var raw [][]byte
	if err := c.State().KVGetList(implementationsKey(c.Self()), &raw); err != nil {
		return nil, err
	}
	out := make([]common.Address, len(raw))
	for i, b := range raw {
		out[i] = common.BytesToAddress(b)
	}
	return out, nil
}

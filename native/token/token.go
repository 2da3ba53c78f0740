package token

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"tokenexchange/core"
	"tokenexchange/core/events"
	nativecommon "tokenexchange/native/common"
)

// Kind is the code kind recorded for token contracts.
const Kind = "erc20"

var (
	ErrInsufficientBalance   = errors.New("token: transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrInvalidReceiver       = errors.New("token: invalid receiver")
	ErrInvalidSpender        = errors.New("token: invalid spender")
	ErrUnauthorized          = errors.New("token: caller is not the owner")
	ErrAlreadyInitialized    = errors.New("token: already initialized")
	ErrNotToken              = errors.New("token: contract is not a token")
	ErrSupplyOverflow        = errors.New("token: total supply overflow")
)

var (
	balancesSlot    = nativecommon.Slot(0)
	allowancesSlot  = nativecommon.Slot(1)
	totalSupplySlot = nativecommon.Slot(2)
	ownerSlot       = nativecommon.Slot(3)

	metadataPrefix = []byte("token/meta/")
)

// Metadata describes a token contract.
type Metadata struct {
	Name     string
	Symbol   string
	Decimals uint8
}

func metadataKey(addr common.Address) []byte {
	return append(append([]byte{}, metadataPrefix...), addr.Bytes()...)
}

func balanceSlot(holder common.Address) common.Hash {
	return nativecommon.MappingSlot(nativecommon.AddressKey(holder), balancesSlot)
}

func allowanceSlot(owner, spender common.Address) common.Hash {
	inner := nativecommon.MappingSlot(nativecommon.AddressKey(owner), allowancesSlot)
	return nativecommon.MappingSlot(nativecommon.AddressKey(spender), inner)
}

// Initialize sets the token metadata and mints supply to owner. The frame's
// Self is the token contract.
func Initialize(c *core.Call, meta Metadata, owner common.Address, supply *uint256.Int) error {
	if err := ensureToken(c); err != nil {
		return err
	}
	if ok, err := c.State().KVGet(metadataKey(c.Self()), nil); err != nil {
		return err
	} else if ok {
		return ErrAlreadyInitialized
	}
	meta.Name = strings.TrimSpace(meta.Name)
	meta.Symbol = strings.TrimSpace(meta.Symbol)
	if meta.Symbol == "" {
		return fmt.Errorf("token: symbol must not be empty")
	}
	if owner == (common.Address{}) {
		return ErrInvalidReceiver
	}
	if err := c.State().KVPut(metadataKey(c.Self()), meta); err != nil {
		return err
	}
	if err := nativecommon.StoreAddress(c.State(), c.Self(), ownerSlot, owner); err != nil {
		return err
	}
	return mint(c, owner, supply)
}

// Meta returns the token metadata.
func Meta(c *core.Call) (Metadata, error) {
	var meta Metadata
	ok, err := c.State().KVGet(metadataKey(c.Self()), &meta)
	if err != nil {
		return Metadata{}, err
	}
	if !ok {
		return Metadata{}, ErrNotToken
	}
	return meta, nil
}

// Decimals returns the token's decimal count.
func Decimals(c *core.Call) (uint8, error) {
	meta, err := Meta(c)
	if err != nil {
		return 0, err
	}
	return meta.Decimals, nil
}

// Owner returns the mint authority.
func Owner(c *core.Call) (common.Address, error) {
	return nativecommon.LoadAddress(c.State(), c.Self(), ownerSlot)
}

// TotalSupply returns the amount minted so far.
func TotalSupply(c *core.Call) (*uint256.Int, error) {
	return nativecommon.LoadUint(c.State(), c.Self(), totalSupplySlot)
}

// BalanceOf returns the balance held by holder.
func BalanceOf(c *core.Call, holder common.Address) (*uint256.Int, error) {
	return nativecommon.LoadUint(c.State(), c.Self(), balanceSlot(holder))
}

// Allowance returns how much spender may move on behalf of owner.
func Allowance(c *core.Call, owner, spender common.Address) (*uint256.Int, error) {
	return nativecommon.LoadUint(c.State(), c.Self(), allowanceSlot(owner, spender))
}

// Transfer moves amount from the frame's caller to recipient.
func Transfer(c *core.Call, to common.Address, amount *uint256.Int) error {
	return move(c, c.Caller(), to, amount)
}

// Approve sets the caller's allowance for spender.
func Approve(c *core.Call, spender common.Address, amount *uint256.Int) error {
	if spender == (common.Address{}) {
		return ErrInvalidSpender
	}
	if amount == nil {
		amount = new(uint256.Int)
	}
	if err := nativecommon.StoreUint(c.State(), c.Self(), allowanceSlot(c.Caller(), spender), amount); err != nil {
		return err
	}
	c.Emit(events.TokenApproval{Token: c.Self(), Owner: c.Caller(), Spender: spender, Amount: new(uint256.Int).Set(amount)})
	return nil
}

// TransferFrom moves amount from owner to recipient using the caller's
// allowance. An allowance of 2^256-1 is treated as infinite.
func TransferFrom(c *core.Call, from, to common.Address, amount *uint256.Int) error {
	if amount == nil {
		amount = new(uint256.Int)
	}
	slot := allowanceSlot(from, c.Caller())
	allowance, err := nativecommon.LoadUint(c.State(), c.Self(), slot)
	if err != nil {
		return err
	}
	if !isInfinite(allowance) {
		if allowance.Lt(amount) {
			return fmt.Errorf("%w: allowance %s, needed %s", ErrInsufficientAllowance, allowance.Dec(), amount.Dec())
		}
		if err := nativecommon.StoreUint(c.State(), c.Self(), slot, new(uint256.Int).Sub(allowance, amount)); err != nil {
			return err
		}
	}
	return move(c, from, to, amount)
}

// Mint creates amount for recipient. Only the token owner may mint.
func Mint(c *core.Call, to common.Address, amount *uint256.Int) error {
	owner, err := Owner(c)
	if err != nil {
		return err
	}
	if c.Caller() != owner {
		return fmt.Errorf("%w: %s", ErrUnauthorized, c.Caller().Hex())
	}
	return mint(c, to, amount)
}

func mint(c *core.Call, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrInvalidReceiver
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	supply, err := TotalSupply(c)
	if err != nil {
		return err
	}
	newSupply, overflow := new(uint256.Int).AddOverflow(supply, amount)
	if overflow {
		return ErrSupplyOverflow
	}
	if err := nativecommon.StoreUint(c.State(), c.Self(), totalSupplySlot, newSupply); err != nil {
		return err
	}
	balance, err := BalanceOf(c, to)
	if err != nil {
		return err
	}
	if err := nativecommon.StoreUint(c.State(), c.Self(), balanceSlot(to), new(uint256.Int).Add(balance, amount)); err != nil {
		return err
	}
	c.Emit(events.TokenTransfer{Token: c.Self(), To: to, Amount: new(uint256.Int).Set(amount)})
	return nil
}

func move(c *core.Call, from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrInvalidReceiver
	}
	if amount == nil {
		amount = new(uint256.Int)
	}
	fromBalance, err := BalanceOf(c, from)
	if err != nil {
		return err
	}
	if fromBalance.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, from.Hex(), fromBalance.Dec(), amount.Dec())
	}
	if from != to {
		if err := nativecommon.StoreUint(c.State(), c.Self(), balanceSlot(from), new(uint256.Int).Sub(fromBalance, amount)); err != nil {
			return err
		}
		toBalance, err := BalanceOf(c, to)
		if err != nil {
			return err
		}
		if err := nativecommon.StoreUint(c.State(), c.Self(), balanceSlot(to), new(uint256.Int).Add(toBalance, amount)); err != nil {
			return err
		}
	}
	c.Emit(events.TokenTransfer{Token: c.Self(), From: from, To: to, Amount: new(uint256.Int).Set(amount)})
	return nil
}

func isInfinite(v *uint256.Int) bool {
	return v.Eq(new(uint256.Int).SetAllOne())
}

func ensureToken(c *core.Call) error {
	kind, err := c.CodeKind()
	if err != nil {
		return err
	}
	if kind != Kind {
		return fmt.Errorf("%w: %s", ErrNotToken, c.Self().Hex())
	}
	return nil
}

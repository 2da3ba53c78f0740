package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "tokenexchange/native/common"
)

// FieldKind is the encoding of a persisted field.
type FieldKind string

const (
	KindUint64  FieldKind = "uint64"
	KindUint256 FieldKind = "uint256"
	KindAddress FieldKind = "address"
)

// Field is one persisted value of the exchange state.
type Field struct {
	Name string
	Kind FieldKind
	Slot uint64
}

// Layout is the ordered list of persisted fields a logic version reads and
// writes. Later versions may only append.
type Layout []Field

const (
	fieldInitialized = "initialized"
	fieldOwner       = "owner"
	fieldToken       = "token"
	fieldPriceFeed   = "priceFeed"
)

// LayoutV1 is the storage layout shared by every logic version so far.
var LayoutV1 = Layout{
	{Name: fieldInitialized, Kind: KindUint64, Slot: 0},
	{Name: fieldOwner, Kind: KindAddress, Slot: 1},
	{Name: fieldToken, Kind: KindAddress, Slot: 2},
	{Name: fieldPriceFeed, Kind: KindAddress, Slot: 3},
}

// Validate checks that slots are unique and strictly increasing.
func (l Layout) Validate() error {
	seen := make(map[string]struct{}, len(l))
	for i, f := range l {
		if f.Name == "" {
			return fmt.Errorf("%w: field %d has no name", ErrIncompatibleLayout, i)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("%w: duplicate field %q", ErrIncompatibleLayout, f.Name)
		}
		seen[f.Name] = struct{}{}
		if i > 0 && f.Slot <= l[i-1].Slot {
			return fmt.Errorf("%w: field %q slot %d does not follow slot %d", ErrIncompatibleLayout, f.Name, f.Slot, l[i-1].Slot)
		}
	}
	return nil
}

// CompatibleWith reports whether l can take over storage written under prev:
// every field of prev must appear at the same position with the same slot and
// kind, and new fields may only follow them.
func (l Layout) CompatibleWith(prev Layout) error {
	if err := l.Validate(); err != nil {
		return err
	}
	if len(l) < len(prev) {
		return fmt.Errorf("%w: %d fields removed", ErrIncompatibleLayout, len(prev)-len(l))
	}
	for i, old := range prev {
		if l[i] != old {
			return fmt.Errorf("%w: field %d changed from %s:%s@%d to %s:%s@%d", ErrIncompatibleLayout, i,
				old.Name, old.Kind, old.Slot, l[i].Name, l[i].Kind, l[i].Slot)
		}
	}
	return nil
}

// SlotOf returns the storage slot of the named field.
func (l Layout) SlotOf(name string) (common.Hash, bool) {
	for _, f := range l {
		if f.Name == name {
			return nativecommon.Slot(f.Slot), true
		}
	}
	return common.Hash{}, false
}

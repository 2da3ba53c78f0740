package common

import (
	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"tokenexchange/core/state"
)

// Slot returns the storage slot for a fixed position.
func Slot(index uint64) gethcommon.Hash {
	return gethcommon.Hash(uint256.NewInt(index).Bytes32())
}

// MappingSlot returns keccak256(key . slot), the location of mapping[key]
// for a mapping declared at slot.
func MappingSlot(key gethcommon.Hash, slot gethcommon.Hash) gethcommon.Hash {
	return crypto.Keccak256Hash(key.Bytes(), slot.Bytes())
}

// AddressKey left-pads an address into a mapping key.
func AddressKey(addr gethcommon.Address) gethcommon.Hash {
	return gethcommon.BytesToHash(addr.Bytes())
}

// NamespacedSlot derives keccak256(label) - 1, the pattern used for proxy
// slots that must never collide with sequential layouts.
func NamespacedSlot(label string) gethcommon.Hash {
	v := new(uint256.Int).SetBytes(crypto.Keccak256([]byte(label)))
	v.Sub(v, uint256.NewInt(1))
	return gethcommon.Hash(v.Bytes32())
}

// LoadAddress reads an address stored right-aligned in a slot.
func LoadAddress(st *state.Manager, contract gethcommon.Address, slot gethcommon.Hash) (gethcommon.Address, error) {
	word, err := st.StorageAt(contract, slot)
	if err != nil {
		return gethcommon.Address{}, err
	}
	return gethcommon.BytesToAddress(word.Bytes()), nil
}

// StoreAddress writes an address right-aligned into a slot.
func StoreAddress(st *state.Manager, contract gethcommon.Address, slot gethcommon.Hash, addr gethcommon.Address) error {
	return st.SetStorageAt(contract, slot, gethcommon.BytesToHash(addr.Bytes()))
}

// LoadUint reads a 256-bit unsigned integer from a slot.
func LoadUint(st *state.Manager, contract gethcommon.Address, slot gethcommon.Hash) (*uint256.Int, error) {
	word, err := st.StorageAt(contract, slot)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).SetBytes32(word.Bytes()), nil
}

// StoreUint writes a 256-bit unsigned integer into a slot.
func StoreUint(st *state.Manager, contract gethcommon.Address, slot gethcommon.Hash, v *uint256.Int) error {
	if v == nil {
		v = new(uint256.Int)
	}
	return st.SetStorageAt(contract, slot, gethcommon.Hash(v.Bytes32()))
}

package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

var contractStoragePrefix = []byte("contract/storage/")

func storageKey(contract common.Address, slot common.Hash) []byte {
	buf := make([]byte, 0, len(contractStoragePrefix)+common.AddressLength+common.HashLength)
	buf = append(buf, contractStoragePrefix...)
	buf = append(buf, contract.Bytes()...)
	buf = append(buf, slot.Bytes()...)
	return ethcrypto.Keccak256(buf)
}

// StorageAt returns the 32-byte word stored in the contract slot. Unset slots
// read as the zero word.
func (m *Manager) StorageAt(contract common.Address, slot common.Hash) (common.Hash, error) {
	data, err := m.trie.Get(storageKey(contract, slot))
	if err != nil {
		return common.Hash{}, err
	}
	if len(data) == 0 {
		return common.Hash{}, nil
	}
	var content []byte
	if err := rlp.DecodeBytes(data, &content); err != nil {
		return common.Hash{}, fmt.Errorf("state: decode slot %s of %s: %w", slot.Hex(), contract.Hex(), err)
	}
	return common.BytesToHash(content), nil
}

// SetStorageAt writes a word into the contract slot. Writing the zero word
// clears the slot.
func (m *Manager) SetStorageAt(contract common.Address, slot common.Hash, value common.Hash) error {
	key := storageKey(contract, slot)
	if value == (common.Hash{}) {
		return m.trie.Update(key, nil)
	}
	encoded, err := rlp.EncodeToBytes(common.TrimLeftZeroes(value[:]))
	if err != nil {
		return err
	}
	return m.trie.Update(key, encoded)
}

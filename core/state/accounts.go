package state

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// ErrInsufficientBalance is returned when a native debit exceeds the balance.
var ErrInsufficientBalance = errors.New("state: insufficient native balance")

var codeKindPrefix = []byte("account/code/")

func accountStateKey(addr common.Address) []byte {
	return ethcrypto.Keccak256(addr.Bytes())
}

func codeKindKey(addr common.Address) []byte {
	buf := make([]byte, len(codeKindPrefix)+common.AddressLength)
	copy(buf, codeKindPrefix)
	copy(buf[len(codeKindPrefix):], addr.Bytes())
	return buf
}

func newStateAccount() *gethtypes.StateAccount {
	return &gethtypes.StateAccount{
		Balance:  new(uint256.Int),
		Root:     gethtypes.EmptyRootHash,
		CodeHash: gethtypes.EmptyCodeHash.Bytes(),
	}
}

func (m *Manager) loadStateAccount(addr common.Address) (*gethtypes.StateAccount, error) {
	data, err := m.trie.Get(accountStateKey(addr))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return newStateAccount(), nil
	}
	acc := new(gethtypes.StateAccount)
	if err := rlp.DecodeBytes(data, acc); err != nil {
		return nil, fmt.Errorf("state: decode account %s: %w", addr.Hex(), err)
	}
	if acc.Balance == nil {
		acc.Balance = new(uint256.Int)
	}
	return acc, nil
}

func (m *Manager) writeStateAccount(addr common.Address, acc *gethtypes.StateAccount) error {
	encoded, err := rlp.EncodeToBytes(acc)
	if err != nil {
		return err
	}
	return m.trie.Update(accountStateKey(addr), encoded)
}

// Balance returns the native-currency balance held by addr.
func (m *Manager) Balance(addr common.Address) (*uint256.Int, error) {
	acc, err := m.loadStateAccount(addr)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Set(acc.Balance), nil
}

// SetBalance overwrites the native-currency balance held by addr.
func (m *Manager) SetBalance(addr common.Address, amount *uint256.Int) error {
	acc, err := m.loadStateAccount(addr)
	if err != nil {
		return err
	}
	if amount == nil {
		amount = new(uint256.Int)
	}
	acc.Balance = new(uint256.Int).Set(amount)
	return m.writeStateAccount(addr, acc)
}

// AddBalance credits addr, failing on 256-bit overflow.
func (m *Manager) AddBalance(addr common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	acc, err := m.loadStateAccount(addr)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(acc.Balance, amount)
	if overflow {
		return fmt.Errorf("state: balance overflow for %s", addr.Hex())
	}
	acc.Balance = sum
	return m.writeStateAccount(addr, acc)
}

// SubBalance debits addr. The balance never goes negative.
func (m *Manager) SubBalance(addr common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	acc, err := m.loadStateAccount(addr)
	if err != nil {
		return err
	}
	if acc.Balance.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, addr.Hex(), acc.Balance.Dec(), amount.Dec())
	}
	acc.Balance = new(uint256.Int).Sub(acc.Balance, amount)
	return m.writeStateAccount(addr, acc)
}

// Transfer moves native currency between two accounts.
func (m *Manager) Transfer(from, to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() || from == to {
		return nil
	}
	if err := m.SubBalance(from, amount); err != nil {
		return err
	}
	return m.AddBalance(to, amount)
}

// Nonce returns the number of operations sent by addr.
func (m *Manager) Nonce(addr common.Address) (uint64, error) {
	acc, err := m.loadStateAccount(addr)
	if err != nil {
		return 0, err
	}
	return acc.Nonce, nil
}

// SetNonce stores the operation counter for addr.
func (m *Manager) SetNonce(addr common.Address, nonce uint64) error {
	acc, err := m.loadStateAccount(addr)
	if err != nil {
		return err
	}
	acc.Nonce = nonce
	return m.writeStateAccount(addr, acc)
}

// SetCode marks addr as a contract of the given kind. The account's code hash
// commits to the kind so the state root reflects deployments.
func (m *Manager) SetCode(addr common.Address, kind string) error {
	if kind == "" {
		return fmt.Errorf("state: code kind must not be empty")
	}
	acc, err := m.loadStateAccount(addr)
	if err != nil {
		return err
	}
	acc.CodeHash = ethcrypto.Keccak256([]byte(kind))
	if err := m.writeStateAccount(addr, acc); err != nil {
		return err
	}
	return m.KVPut(codeKindKey(addr), kind)
}

// Code returns the contract kind stored at addr, or "" for plain accounts.
func (m *Manager) Code(addr common.Address) (string, error) {
	var kind string
	ok, err := m.KVGet(codeKindKey(addr), &kind)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return kind, nil
}

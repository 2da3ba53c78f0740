package common

import (
	"testing"

	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"tokenexchange/core/state"
	"tokenexchange/storage"
	"tokenexchange/storage/trie"
)

func TestNamespacedSlotMatchesERC1967(t *testing.T) {
	got := NamespacedSlot("eip1967.proxy.implementation")
	want := gethcommon.HexToHash("0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc")
	if got != want {
		t.Fatalf("implementation slot %s, want %s", got.Hex(), want.Hex())
	}
}

func TestMappingSlotIsPositional(t *testing.T) {
	holder := AddressKey(gethcommon.HexToAddress("0x01"))
	if MappingSlot(holder, Slot(0)) == MappingSlot(holder, Slot(1)) {
		t.Fatalf("mapping slots must depend on the declaring slot")
	}
}

func TestLoadStoreRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	tr, err := trie.NewTrie(db, nil)
	if err != nil {
		t.Fatalf("new trie: %v", err)
	}
	st := state.NewManager(tr)
	contract := gethcommon.HexToAddress("0xc0ffee")
	owner := gethcommon.HexToAddress("0x00000000000000000000000000000000000000aa")

	if err := StoreAddress(st, contract, Slot(1), owner); err != nil {
		t.Fatalf("store address: %v", err)
	}
	got, err := LoadAddress(st, contract, Slot(1))
	if err != nil || got != owner {
		t.Fatalf("load address got %s err=%v", got.Hex(), err)
	}

	amount := new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	if err := StoreUint(st, contract, Slot(2), amount); err != nil {
		t.Fatalf("store uint: %v", err)
	}
	v, err := LoadUint(st, contract, Slot(2))
	if err != nil || !v.Eq(amount) {
		t.Fatalf("load uint got %s err=%v", v, err)
	}
}

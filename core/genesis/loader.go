// core/genesis/loader.go
package genesis

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"tokenexchange/core"
)

// Apply credits the genesis allocation on a fresh executor. An executor that
// already has history is left untouched and reports applied=false.
func Apply(spec *GenesisSpec, exec *core.Executor) (root common.Hash, applied bool, err error) {
	if spec == nil {
		return common.Hash{}, false, fmt.Errorf("genesis spec must not be nil")
	}
	if exec == nil {
		return common.Hash{}, false, fmt.Errorf("executor must not be nil")
	}
	root, err = exec.Genesis(spec.Allocations())
	if errors.Is(err, core.ErrGenesisApplied) {
		return exec.Root(), false, nil
	}
	if err != nil {
		return common.Hash{}, false, fmt.Errorf("apply genesis: %w", err)
	}
	return root, true, nil
}

// DevSpec returns a genesis funding each account with amount.
func DevSpec(amount *uint256.Int, accounts ...common.Address) *GenesisSpec {
	spec := &GenesisSpec{alloc: make(map[common.Address]*uint256.Int, len(accounts))}
	for _, addr := range accounts {
		spec.alloc[addr] = new(uint256.Int).Set(amount)
	}
	if len(accounts) > 0 {
		spec.operator = accounts[0]
	}
	return spec
}

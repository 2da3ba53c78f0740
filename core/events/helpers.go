package events

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func addressString(addr common.Address) string {
	if addr == (common.Address{}) {
		return ""
	}
	return addr.Hex()
}

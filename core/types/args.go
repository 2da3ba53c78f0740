package types

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// WithdrawArgs are the arguments of MethodWithdraw. Amounts are base-10
// integers in the smallest unit.
type WithdrawArgs struct {
	Native string `json:"native"`
	Asset  string `json:"asset"`
}

// UpgradeArgs are the arguments of MethodUpgrade.
type UpgradeArgs struct {
	Implementation string `json:"implementation"`
}

// TransferOwnershipArgs are the arguments of MethodTransferOwnership.
type TransferOwnershipArgs struct {
	NewOwner string `json:"newOwner"`
}

// TokenTransferArgs are the arguments of MethodTokenTransfer.
type TokenTransferArgs struct {
	Token  string `json:"token,omitempty"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// TokenApproveArgs are the arguments of MethodTokenApprove.
type TokenApproveArgs struct {
	Token   string `json:"token,omitempty"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

// EncodeArgs marshals v for Request.Args.
func EncodeArgs(v interface{}) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// DecodeArgs unmarshals raw into v, rejecting unknown fields.
func DecodeArgs(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("request: missing args")
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("request: decode args: %w", err)
	}
	return nil
}

// ParseAmount parses a decimal amount. An empty string is zero.
func ParseAmount(raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return v, nil
}

// ParseHexAddress parses a 0x-prefixed 20 byte address.
func ParseHexAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(trimmed), nil
}

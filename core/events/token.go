package events

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"tokenexchange/core/types"
)

const (
	// TypeTokenTransfer is emitted on every balance movement, including mints.
	TypeTokenTransfer = "token.transfer"
	// TypeTokenApproval is emitted when an allowance is set.
	TypeTokenApproval = "token.approval"
)

type TokenTransfer struct {
	Token  common.Address
	From   common.Address
	To     common.Address
	Amount *uint256.Int
}

func (TokenTransfer) EventType() string { return TypeTokenTransfer }

func (e TokenTransfer) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenTransfer,
		Attributes: map[string]string{
			"token":  addressString(e.Token),
			"from":   addressString(e.From),
			"to":     addressString(e.To),
			"amount": amountString(e.Amount),
		},
	}
}

type TokenApproval struct {
	Token   common.Address
	Owner   common.Address
	Spender common.Address
	Amount  *uint256.Int
}

func (TokenApproval) EventType() string { return TypeTokenApproval }

func (e TokenApproval) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenApproval,
		Attributes: map[string]string{
			"token":   addressString(e.Token),
			"owner":   addressString(e.Owner),
			"spender": addressString(e.Spender),
			"amount":  amountString(e.Amount),
		},
	}
}

package exchange

import (
	"github.com/ethereum/go-ethereum/common"

	"tokenexchange/core"
)

// RequireOwner fails unless the frame's caller is owner.
func RequireOwner(c *core.Call, owner common.Address) error {
	if c.Caller() != owner {
		return &UnauthorizedAccountError{Account: c.Caller()}
	}
	return nil
}

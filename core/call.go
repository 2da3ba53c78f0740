package core

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"tokenexchange/core/events"
	"tokenexchange/core/state"
)

// MaxCallDepth bounds nested sub-calls within one operation.
const MaxCallDepth = 64

// Call is the execution frame handed to contract code. Caller is the account
// that invoked the frame, Self the contract whose storage the frame owns.
type Call struct {
	ctx      context.Context
	caller   common.Address
	self     common.Address
	value    *uint256.Int
	state    *state.Manager
	emitter  events.Emitter
	now      time.Time
	depth    int
	readOnly bool
}

// Context returns the context of the enclosing operation.
func (c *Call) Context() context.Context { return c.ctx }

// Caller returns the immediate invoker of this frame.
func (c *Call) Caller() common.Address { return c.caller }

// Self returns the contract executing in this frame.
func (c *Call) Self() common.Address { return c.self }

// Value returns a copy of the native currency attached to this frame.
func (c *Call) Value() *uint256.Int {
	if c.value == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(c.value)
}

// State exposes the world state. Writes are discarded if the operation fails.
func (c *Call) State() *state.Manager { return c.state }

// Now returns the operation timestamp, fixed for the whole operation.
func (c *Call) Now() time.Time { return c.now }

// Emit records an event. Events are only released if the operation commits.
func (c *Call) Emit(ev events.Event) {
	if c.emitter != nil && ev != nil {
		c.emitter.Emit(ev)
	}
}

// Balance returns the native balance of Self.
func (c *Call) Balance() (*uint256.Int, error) {
	return c.state.Balance(c.self)
}

// Transfer sends native currency held by Self to the recipient.
func (c *Call) Transfer(to common.Address, amount *uint256.Int) error {
	if c.readOnly {
		return ErrReadOnly
	}
	if to == (common.Address{}) {
		return fmt.Errorf("core: native transfer to zero address")
	}
	return c.state.Transfer(c.self, to, amount)
}

// Sub opens a nested frame in which Self becomes the caller of target. The
// target must be a deployed contract.
func (c *Call) Sub(target common.Address) (*Call, error) {
	if err := c.ctx.Err(); err != nil {
		return nil, err
	}
	if c.depth+1 > MaxCallDepth {
		return nil, ErrCallDepth
	}
	kind, err := c.state.Code(target)
	if err != nil {
		return nil, err
	}
	if kind == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoCode, target.Hex())
	}
	return &Call{
		ctx:      c.ctx,
		caller:   c.self,
		self:     target,
		value:    new(uint256.Int),
		state:    c.state,
		emitter:  c.emitter,
		now:      c.now,
		depth:    c.depth + 1,
		readOnly: c.readOnly,
	}, nil
}

// CodeKind returns the contract kind deployed at Self.
func (c *Call) CodeKind() (string, error) {
	return c.state.Code(c.self)
}

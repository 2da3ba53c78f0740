package core

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"tokenexchange/core/events"
	"tokenexchange/core/state"
	"tokenexchange/core/types"
	"tokenexchange/storage"
	"tokenexchange/storage/trie"
)

var (
	// ErrNonceMismatch is returned when a checked message carries a stale or future nonce.
	ErrNonceMismatch = errors.New("core: nonce mismatch")
	// ErrCallDepth is returned when nested sub-calls exceed MaxCallDepth.
	ErrCallDepth = errors.New("core: call depth exceeded")
	// ErrNoCode is returned when a sub-call targets an address without a contract.
	ErrNoCode = errors.New("core: target has no contract")
	// ErrContractExists is returned when a deployment collides with an existing contract.
	ErrContractExists = errors.New("core: contract already deployed")
	// ErrGenesisApplied is returned when genesis is applied to a non-empty history.
	ErrGenesisApplied = errors.New("core: genesis already applied")
	// ErrReadOnly is returned when a query frame attempts to move native currency.
	ErrReadOnly = errors.New("core: transfer in read-only call")
)

var (
	headRootKey   = []byte("exchange/head/root")
	headHeightKey = []byte("exchange/head/height")
)

// Message describes one externally invoked operation.
type Message struct {
	From   common.Address
	To     common.Address
	Value  *uint256.Int
	Method string
	// Nonce is enforced against the sender's account nonce when CheckNonce is set.
	Nonce      uint64
	CheckNonce bool
}

// Executor applies operations to the world state one at a time. Every
// operation either commits all of its writes and events or none of them; the
// sender nonce is consumed in both cases.
type Executor struct {
	mu      sync.Mutex
	store   storage.Database
	trie    *trie.Trie
	state   *state.Manager
	emitter events.Emitter
	nowFn   func() time.Time
	height  uint64
}

// NewExecutor opens the state at the last committed head of store.
func NewExecutor(store storage.Database) (*Executor, error) {
	if store == nil {
		return nil, fmt.Errorf("core: storage required")
	}
	var root []byte
	if data, err := store.Get(headRootKey); err == nil {
		root = data
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("core: load head root: %w", err)
	}
	var height uint64
	if data, err := store.Get(headHeightKey); err == nil && len(data) == 8 {
		height = binary.BigEndian.Uint64(data)
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("core: load head height: %w", err)
	}
	tr, err := trie.NewTrie(store, root)
	if err != nil {
		return nil, fmt.Errorf("core: open state trie: %w", err)
	}
	return &Executor{
		store:   store,
		trie:    tr,
		state:   state.NewManager(tr),
		emitter: events.NoopEmitter{},
		nowFn:   time.Now,
		height:  height,
	}, nil
}

// SetEmitter installs the sink that receives committed events.
func (e *Executor) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetNowFunc overrides the clock used to stamp operations. Primarily used in tests.
func (e *Executor) SetNowFunc(now func() time.Time) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	e.nowFn = now
}

// Root returns the last committed state root.
func (e *Executor) Root() common.Hash {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.trie.Root()
}

// Height returns the number of committed operations.
func (e *Executor) Height() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.height
}

// Trie exposes the state trie for boot-time schema checks.
func (e *Executor) Trie() *trie.Trie {
	return e.trie
}

// Genesis credits the initial native allocation and stamps the schema
// version. It only succeeds on an empty history.
func (e *Executor) Genesis(alloc map[common.Address]*uint256.Int) (common.Hash, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.height != 0 {
		return common.Hash{}, ErrGenesisApplied
	}
	for addr, amount := range alloc {
		if err := e.state.AddBalance(addr, amount); err != nil {
			_ = e.trie.Reset(e.trie.Root())
			return common.Hash{}, err
		}
	}
	if err := e.state.SetStateVersion(state.StateVersion); err != nil {
		_ = e.trie.Reset(e.trie.Root())
		return common.Hash{}, err
	}
	return e.commit()
}

// Execute runs fn as the body of msg. The attached value moves from the
// sender to msg.To before fn runs.
func (e *Executor) Execute(ctx context.Context, msg Message, fn func(*Call) error) (*types.Receipt, error) {
	return e.run(ctx, msg, func(uint64) (common.Address, error) { return msg.To, nil }, fn)
}

// Deploy creates a contract of the given kind at the address derived from
// the deployer and its nonce, then runs init inside the new contract.
func (e *Executor) Deploy(ctx context.Context, from common.Address, kind string, value *uint256.Int, init func(*Call) error) (common.Address, *types.Receipt, error) {
	var deployed common.Address
	msg := Message{From: from, Value: value, Method: "deploy:" + kind}
	receipt, err := e.run(ctx, msg, func(nonce uint64) (common.Address, error) {
		addr := crypto.CreateAddress(from, nonce)
		existing, err := e.state.Code(addr)
		if err != nil {
			return common.Address{}, err
		}
		if existing != "" {
			return common.Address{}, fmt.Errorf("%w: %s", ErrContractExists, addr.Hex())
		}
		if err := e.state.SetCode(addr, kind); err != nil {
			return common.Address{}, err
		}
		deployed = addr
		return addr, nil
	}, init)
	if err != nil {
		return common.Address{}, receipt, err
	}
	return deployed, receipt, nil
}

// Query runs fn against the current state and always discards its writes.
func (e *Executor) Query(ctx context.Context, from, to common.Address, fn func(*Call) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	call := &Call{
		ctx:      ctx,
		caller:   from,
		self:     to,
		value:    new(uint256.Int),
		state:    e.state,
		emitter:  &events.Buffer{},
		now:      e.nowFn(),
		readOnly: true,
	}
	err := invoke(call, fn)
	if resetErr := e.trie.Reset(e.trie.Root()); resetErr != nil {
		return fmt.Errorf("core: discard query writes: %w", resetErr)
	}
	return err
}

func (e *Executor) run(ctx context.Context, msg Message, resolve func(nonce uint64) (common.Address, error), fn func(*Call) error) (*types.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.nowFn()
	value := msg.Value
	if value == nil {
		value = new(uint256.Int)
	}
	receipt := &types.Receipt{
		Method:    msg.Method,
		From:      msg.From,
		To:        msg.To,
		Value:     value.Dec(),
		Timestamp: now.UTC(),
		Events:    []types.Event{},
	}

	nonce, err := e.state.Nonce(msg.From)
	if err != nil {
		return nil, err
	}
	receipt.Nonce = nonce
	if msg.CheckNonce && msg.Nonce != nonce {
		receipt.Status = types.ReceiptStatusFailed
		receipt.Error = fmt.Sprintf("%v: have %d, want %d", ErrNonceMismatch, msg.Nonce, nonce)
		receipt.Height = e.height
		receipt.StateRoot = e.trie.Root()
		return receipt, fmt.Errorf("%w: have %d, want %d", ErrNonceMismatch, msg.Nonce, nonce)
	}

	buf := &events.Buffer{}
	opErr := func() error {
		to, err := resolve(nonce)
		if err != nil {
			return err
		}
		receipt.To = to
		if err := e.state.Transfer(msg.From, to, value); err != nil {
			return err
		}
		call := &Call{
			ctx:     ctx,
			caller:  msg.From,
			self:    to,
			value:   value,
			state:   e.state,
			emitter: buf,
			now:     now,
		}
		return invoke(call, fn)
	}()

	if opErr != nil {
		buf.Discard()
		if err := e.trie.Reset(e.trie.Root()); err != nil {
			return nil, fmt.Errorf("core: rollback: %w", err)
		}
	}
	if err := e.state.SetNonce(msg.From, nonce+1); err != nil {
		_ = e.trie.Reset(e.trie.Root())
		return nil, err
	}
	root, err := e.commit()
	if err != nil {
		buf.Discard()
		return nil, err
	}
	receipt.Height = e.height
	receipt.StateRoot = root
	if opErr != nil {
		receipt.Status = types.ReceiptStatusFailed
		receipt.Error = opErr.Error()
		return receipt, opErr
	}
	receipt.Status = types.ReceiptStatusSuccess
	receipt.Events = buf.Events()
	buf.Flush(e.emitter)
	return receipt, nil
}

func invoke(call *Call, fn func(*Call) error) (err error) {
	if fn == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("core: execution panic: %v", r)
		}
	}()
	return fn(call)
}

func (e *Executor) commit() (common.Hash, error) {
	parent := e.trie.Root()
	root, err := e.trie.Commit(parent, e.height+1)
	if err != nil {
		_ = e.trie.Reset(parent)
		return common.Hash{}, fmt.Errorf("core: commit state: %w", err)
	}
	if err := e.store.Put(headRootKey, root.Bytes()); err != nil {
		return common.Hash{}, fmt.Errorf("core: persist head root: %w", err)
	}
	var height [8]byte
	binary.BigEndian.PutUint64(height[:], e.height+1)
	if err := e.store.Put(headHeightKey, height[:]); err != nil {
		return common.Hash{}, fmt.Errorf("core: persist head height: %w", err)
	}
	e.height++
	return root, nil
}

// Sender identifies the account submitting an operation. Signed requests set
// CheckNonce so the nonce they committed to is enforced.
type Sender struct {
	From       common.Address
	Nonce      uint64
	CheckNonce bool
}

// From returns an unchecked sender for addr.
func From(addr common.Address) Sender {
	return Sender{From: addr}
}

// Message builds the message this sender submits to target.
func (s Sender) Message(to common.Address, method string, value *uint256.Int) Message {
	return Message{From: s.From, To: to, Value: value, Method: method, Nonce: s.Nonce, CheckNonce: s.CheckNonce}
}

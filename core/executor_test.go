package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"tokenexchange/core/events"
	"tokenexchange/core/types"
	"tokenexchange/storage"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func newTestExecutor(t *testing.T) (*Executor, storage.Database) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	exec, err := NewExecutor(db)
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	exec.SetNowFunc(func() time.Time { return time.Unix(1_700_000_000, 0) })
	if _, err := exec.Genesis(map[common.Address]*uint256.Int{alice: uint256.NewInt(1_000)}); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	return exec, db
}

type sample struct{ n int }

func (sample) EventType() string { return "test.sample" }
func (s sample) Event() *types.Event {
	return &types.Event{Type: "test.sample", Attributes: map[string]string{}}
}

func TestExecuteCommitsValueAndEvents(t *testing.T) {
	exec, _ := newTestExecutor(t)
	var emitted []events.Event
	exec.SetEmitter(events.EmitterFunc(func(ev events.Event) { emitted = append(emitted, ev) }))

	contract, _, err := exec.Deploy(context.Background(), bob, "test", nil, nil)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if contract != crypto.CreateAddress(bob, 0) {
		t.Fatalf("unexpected contract address %s", contract.Hex())
	}

	receipt, err := exec.Execute(context.Background(), Message{From: alice, To: contract, Value: uint256.NewInt(300), Method: "pay"}, func(c *Call) error {
		if c.Caller() != alice || c.Self() != contract {
			t.Fatalf("unexpected frame caller=%s self=%s", c.Caller().Hex(), c.Self().Hex())
		}
		bal, err := c.Balance()
		if err != nil {
			return err
		}
		if bal.Uint64() != 300 {
			t.Fatalf("value not attached before body, balance=%s", bal)
		}
		c.Emit(sample{n: 1})
		return nil
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !receipt.Succeeded() || len(receipt.Events) != 1 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if len(emitted) != 1 {
		t.Fatalf("expected one flushed event, got %d", len(emitted))
	}
	if receipt.StateRoot != exec.Root() {
		t.Fatalf("receipt root does not match head")
	}
}

func TestExecuteFailureRollsBackEverything(t *testing.T) {
	exec, _ := newTestExecutor(t)
	contract, _, err := exec.Deploy(context.Background(), bob, "test", nil, nil)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	var emitted int
	exec.SetEmitter(events.EmitterFunc(func(events.Event) { emitted++ }))
	rootBefore := exec.Root()

	boom := errors.New("boom")
	receipt, err := exec.Execute(context.Background(), Message{From: alice, To: contract, Value: uint256.NewInt(500)}, func(c *Call) error {
		if err := c.State().SetStorageAt(c.Self(), common.Hash{}, common.HexToHash("0x01")); err != nil {
			return err
		}
		c.Emit(sample{})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if receipt.Status != types.ReceiptStatusFailed || receipt.Error != "boom" || len(receipt.Events) != 0 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if emitted != 0 {
		t.Fatalf("events leaked from failed operation")
	}

	err = exec.Query(context.Background(), alice, contract, func(c *Call) error {
		word, err := c.State().StorageAt(contract, common.Hash{})
		if err != nil {
			return err
		}
		if word != (common.Hash{}) {
			t.Fatalf("slot write survived rollback")
		}
		bal, err := c.State().Balance(alice)
		if err != nil {
			return err
		}
		if bal.Uint64() != 1_000 {
			t.Fatalf("value transfer survived rollback, alice=%s", bal)
		}
		nonce, err := c.State().Nonce(alice)
		if err != nil {
			return err
		}
		if nonce != 1 {
			t.Fatalf("failed operation should consume nonce, got %d", nonce)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if exec.Root() == rootBefore {
		t.Fatalf("nonce bump should change the root")
	}
}

func TestExecutePanicIsContained(t *testing.T) {
	exec, _ := newTestExecutor(t)
	receipt, err := exec.Execute(context.Background(), Message{From: alice, To: bob}, func(*Call) error {
		panic("bad")
	})
	if err == nil || receipt.Succeeded() {
		t.Fatalf("expected failure from panic")
	}
}

func TestExecuteNonceCheck(t *testing.T) {
	exec, _ := newTestExecutor(t)
	_, err := exec.Execute(context.Background(), Message{From: alice, To: bob, Nonce: 5, CheckNonce: true}, nil)
	if !errors.Is(err, ErrNonceMismatch) {
		t.Fatalf("expected nonce mismatch, got %v", err)
	}
	if _, err := exec.Execute(context.Background(), Message{From: alice, To: bob, Nonce: 0, CheckNonce: true, Value: uint256.NewInt(1)}, nil); err != nil {
		t.Fatalf("execute with nonce 0: %v", err)
	}
	if _, err := exec.Execute(context.Background(), Message{From: alice, To: bob, Nonce: 0, CheckNonce: true}, nil); !errors.Is(err, ErrNonceMismatch) {
		t.Fatalf("replayed nonce should fail, got %v", err)
	}
}

func TestSubRequiresContract(t *testing.T) {
	exec, _ := newTestExecutor(t)
	_, err := exec.Execute(context.Background(), Message{From: alice, To: bob}, func(c *Call) error {
		_, err := c.Sub(common.HexToAddress("0xdead"))
		return err
	})
	if !errors.Is(err, ErrNoCode) {
		t.Fatalf("expected ErrNoCode, got %v", err)
	}
}

func TestExecutorReopensAtHead(t *testing.T) {
	exec, db := newTestExecutor(t)
	if _, err := exec.Execute(context.Background(), Message{From: alice, To: bob, Value: uint256.NewInt(42)}, func(*Call) error { return nil }); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	reopened, err := NewExecutor(db)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Root() != exec.Root() || reopened.Height() != exec.Height() {
		t.Fatalf("reopened head mismatch")
	}
	if _, err := reopened.Genesis(nil); !errors.Is(err, ErrGenesisApplied) {
		t.Fatalf("expected ErrGenesisApplied, got %v", err)
	}
	err = reopened.Query(context.Background(), bob, bob, func(c *Call) error {
		bal, err := c.Balance()
		if err != nil {
			return err
		}
		if bal.Uint64() != 42 {
			t.Fatalf("unexpected balance %s", bal)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
}

func TestQueryRejectsTransfers(t *testing.T) {
	exec, _ := newTestExecutor(t)
	err := exec.Query(context.Background(), bob, alice, func(c *Call) error {
		return c.Transfer(bob, uint256.NewInt(1))
	})
	if !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
}

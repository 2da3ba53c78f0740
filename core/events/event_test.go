package events

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func TestBufferFlushReleasesEventsOnce(t *testing.T) {
	var got []Event
	sink := EmitterFunc(func(ev Event) { got = append(got, ev) })

	buf := &Buffer{}
	buf.Emit(ExchangeDeposit{Caller: common.HexToAddress("0x01"), Amount: uint256.NewInt(5)})
	buf.Emit(ExchangeSwap{Caller: common.HexToAddress("0x01"), AmountIn: uint256.NewInt(1), AmountOut: uint256.NewInt(2000)})

	rendered := buf.Events()
	if len(rendered) != 2 {
		t.Fatalf("expected 2 rendered events, got %d", len(rendered))
	}
	if rendered[1].Attr("amountOut") != "2000" {
		t.Fatalf("unexpected amountOut: %s", rendered[1].Attr("amountOut"))
	}

	buf.Flush(sink)
	buf.Flush(sink)
	if len(got) != 2 {
		t.Fatalf("expected 2 flushed events, got %d", len(got))
	}
	if buf.Len() != 0 {
		t.Fatalf("buffer not drained")
	}
}

func TestBufferDiscardDropsEvents(t *testing.T) {
	buf := &Buffer{}
	buf.Emit(ExchangeWithdrawal{Owner: common.HexToAddress("0x02")})
	buf.Discard()

	count := 0
	buf.Flush(EmitterFunc(func(Event) { count++ }))
	if count != 0 {
		t.Fatalf("discarded events leaked: %d", count)
	}
}

func TestMultiFansOut(t *testing.T) {
	var a, b int
	multi := Multi{EmitterFunc(func(Event) { a++ }), nil, EmitterFunc(func(Event) { b++ })}
	multi.Emit(TokenTransfer{Amount: uint256.NewInt(1)})
	if a != 1 || b != 1 {
		t.Fatalf("unexpected fan-out counts a=%d b=%d", a, b)
	}
}

func TestWithdrawalAttributes(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	ev := ExchangeWithdrawal{Owner: owner, NativeAmount: uint256.NewInt(1), AssetAmount: nil}.Event()
	if ev.Type != TypeExchangeWithdrawal {
		t.Fatalf("unexpected type %s", ev.Type)
	}
	if ev.Attr("owner") != owner.Hex() {
		t.Fatalf("unexpected owner %s", ev.Attr("owner"))
	}
	if ev.Attr("assetAmount") != "0" {
		t.Fatalf("nil amount should render as zero, got %s", ev.Attr("assetAmount"))
	}
}

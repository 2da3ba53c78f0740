package oracle

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"tokenexchange/core"
	"tokenexchange/storage"
)

var (
	deployer = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	updater  = common.HexToAddress("0x00000000000000000000000000000000000000ab")
	stranger = common.HexToAddress("0x00000000000000000000000000000000000000ac")
)

func newAggregator(t *testing.T, initial *big.Int) (*core.Executor, *Client) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	exec, err := core.NewExecutor(db)
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	exec.SetNowFunc(func() time.Time { return now })
	addr, _, err := Deploy(context.Background(), exec, deployer, 8, "ETH / USD", initial, updater)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	return exec, NewClient(exec, addr)
}

func TestInitialRound(t *testing.T) {
	_, feed := newAggregator(t, big.NewInt(2000_0000_0000))
	ctx := context.Background()

	decimals, err := feed.Decimals(ctx)
	if err != nil || decimals != 8 {
		t.Fatalf("decimals=%d err=%v", decimals, err)
	}
	if desc, err := feed.Description(ctx); err != nil || desc != "ETH / USD" {
		t.Fatalf("description=%q err=%v", desc, err)
	}
	rd, err := feed.LatestRoundData(ctx)
	if err != nil {
		t.Fatalf("latest round: %v", err)
	}
	if rd.RoundID != 1 || rd.AnsweredInRound != 1 {
		t.Fatalf("unexpected round ids %+v", rd)
	}
	if rd.Answer.Cmp(big.NewInt(2000_0000_0000)) != 0 {
		t.Fatalf("unexpected answer %s", rd.Answer)
	}
	if rd.UpdatedAt != 1_700_000_000 || rd.StartedAt != rd.UpdatedAt {
		t.Fatalf("unexpected timestamps %+v", rd)
	}
}

func TestUpdateAnswerRestrictedToUpdater(t *testing.T) {
	_, feed := newAggregator(t, big.NewInt(1))
	ctx := context.Background()

	if _, err := feed.UpdateAnswer(ctx, core.From(stranger), big.NewInt(5)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := feed.UpdateAnswer(ctx, core.From(updater), big.NewInt(-7)); err != nil {
		t.Fatalf("update: %v", err)
	}
	rd, err := feed.LatestRoundData(ctx)
	if err != nil {
		t.Fatalf("latest round: %v", err)
	}
	if rd.RoundID != 2 || rd.Answer.Cmp(big.NewInt(-7)) != 0 {
		t.Fatalf("negative answer not preserved: %+v", rd)
	}
}

func TestAnswerBounds(t *testing.T) {
	_, feed := newAggregator(t, big.NewInt(1))
	tooLarge := new(big.Int).Lsh(big.NewInt(1), 255)
	if _, err := feed.UpdateAnswer(context.Background(), core.From(updater), tooLarge); !errors.Is(err, ErrAnswerOverflow) {
		t.Fatalf("expected ErrAnswerOverflow, got %v", err)
	}
}

func TestGetRoundDataMissing(t *testing.T) {
	exec, feed := newAggregator(t, big.NewInt(1))
	err := exec.Query(context.Background(), common.Address{}, feed.Address(), func(c *core.Call) error {
		_, err := GetRoundData(c, 9)
		return err
	})
	if !errors.Is(err, ErrNoRound) {
		t.Fatalf("expected ErrNoRound, got %v", err)
	}
}

package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"tokenexchange/core"
	"tokenexchange/core/events"
	nativecommon "tokenexchange/native/common"
)

// Kind is the code kind recorded for aggregator contracts.
const Kind = "price-aggregator"

// AggregatorVersion is reported by Version.
const AggregatorVersion uint64 = 0

var (
	ErrNotAggregator      = errors.New("oracle: contract is not a price aggregator")
	ErrAlreadyInitialized = errors.New("oracle: already initialized")
	ErrUnauthorized       = errors.New("oracle: caller is not the updater")
	ErrNoRound            = errors.New("oracle: round not found")
	ErrAnswerOverflow     = errors.New("oracle: answer exceeds int256")
)

var (
	decimalsSlot    = nativecommon.Slot(0)
	latestRoundSlot = nativecommon.Slot(1)
	roundsSlot      = nativecommon.Slot(2)
	updaterSlot     = nativecommon.Slot(3)

	descriptionPrefix = []byte("oracle/description/")

	maxInt256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(1))
	minInt256 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 255))
)

// RoundData mirrors the tuple returned by latestRoundData on aggregator feeds.
type RoundData struct {
	RoundID         uint64
	Answer          *big.Int
	StartedAt       int64
	UpdatedAt       int64
	AnsweredInRound uint64
}

func roundBase(round uint64) *uint256.Int {
	key := nativecommon.Slot(round)
	base := nativecommon.MappingSlot(key, roundsSlot)
	return new(uint256.Int).SetBytes32(base.Bytes())
}

func roundField(round uint64, offset uint64) common.Hash {
	v := roundBase(round)
	v.Add(v, uint256.NewInt(offset))
	return common.Hash(v.Bytes32())
}

// Initialize records the feed decimals and updater and opens round one with
// the initial answer.
func Initialize(c *core.Call, decimals uint8, description string, initialAnswer *big.Int, updater common.Address) error {
	if err := ensureAggregator(c); err != nil {
		return err
	}
	current, err := nativecommon.LoadAddress(c.State(), c.Self(), updaterSlot)
	if err != nil {
		return err
	}
	if current != (common.Address{}) {
		return ErrAlreadyInitialized
	}
	if updater == (common.Address{}) {
		return fmt.Errorf("oracle: updater must not be empty")
	}
	if err := nativecommon.StoreUint(c.State(), c.Self(), decimalsSlot, uint256.NewInt(uint64(decimals))); err != nil {
		return err
	}
	if err := nativecommon.StoreAddress(c.State(), c.Self(), updaterSlot, updater); err != nil {
		return err
	}
	if err := c.State().KVPut(descriptionKey(c.Self()), strings.TrimSpace(description)); err != nil {
		return err
	}
	return writeRound(c, initialAnswer)
}

// UpdateAnswer opens a new round with answer. Only the updater may call it.
func UpdateAnswer(c *core.Call, answer *big.Int) error {
	updater, err := nativecommon.LoadAddress(c.State(), c.Self(), updaterSlot)
	if err != nil {
		return err
	}
	if c.Caller() != updater {
		return fmt.Errorf("%w: %s", ErrUnauthorized, c.Caller().Hex())
	}
	return writeRound(c, answer)
}

func writeRound(c *core.Call, answer *big.Int) error {
	if answer == nil {
		answer = new(big.Int)
	}
	if answer.Cmp(maxInt256) > 0 || answer.Cmp(minInt256) < 0 {
		return ErrAnswerOverflow
	}
	encoded, _ := uint256.FromBig(answer)
	round, err := latestRound(c)
	if err != nil {
		return err
	}
	round++
	now := uint256.NewInt(uint64(c.Now().Unix()))
	st := c.State()
	if err := nativecommon.StoreUint(st, c.Self(), roundField(round, 0), encoded); err != nil {
		return err
	}
	if err := nativecommon.StoreUint(st, c.Self(), roundField(round, 1), now); err != nil {
		return err
	}
	if err := nativecommon.StoreUint(st, c.Self(), roundField(round, 2), now); err != nil {
		return err
	}
	if err := nativecommon.StoreUint(st, c.Self(), latestRoundSlot, uint256.NewInt(round)); err != nil {
		return err
	}
	c.Emit(events.OracleAnswerUpdated{Feed: c.Self(), Answer: new(big.Int).Set(answer), RoundID: round, UpdatedAt: c.Now().Unix()})
	return nil
}

func latestRound(c *core.Call) (uint64, error) {
	v, err := nativecommon.LoadUint(c.State(), c.Self(), latestRoundSlot)
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

// Decimals returns the number of decimals of the reported answer.
func Decimals(c *core.Call) (uint8, error) {
	if err := ensureAggregator(c); err != nil {
		return 0, err
	}
	v, err := nativecommon.LoadUint(c.State(), c.Self(), decimalsSlot)
	if err != nil {
		return 0, err
	}
	return uint8(v.Uint64()), nil
}

// Description returns the human readable pair label.
func Description(c *core.Call) (string, error) {
	var out string
	if _, err := c.State().KVGet(descriptionKey(c.Self()), &out); err != nil {
		return "", err
	}
	return out, nil
}

// Updater returns the account allowed to post answers.
func Updater(c *core.Call) (common.Address, error) {
	return nativecommon.LoadAddress(c.State(), c.Self(), updaterSlot)
}

// GetRoundData returns the data recorded for round.
func GetRoundData(c *core.Call, round uint64) (RoundData, error) {
	if err := ensureAggregator(c); err != nil {
		return RoundData{}, err
	}
	latest, err := latestRound(c)
	if err != nil {
		return RoundData{}, err
	}
	if round == 0 || round > latest {
		return RoundData{}, fmt.Errorf("%w: %d", ErrNoRound, round)
	}
	st := c.State()
	answer, err := nativecommon.LoadUint(st, c.Self(), roundField(round, 0))
	if err != nil {
		return RoundData{}, err
	}
	startedAt, err := nativecommon.LoadUint(st, c.Self(), roundField(round, 1))
	if err != nil {
		return RoundData{}, err
	}
	updatedAt, err := nativecommon.LoadUint(st, c.Self(), roundField(round, 2))
	if err != nil {
		return RoundData{}, err
	}
	return RoundData{
		RoundID:         round,
		Answer:          signed(answer),
		StartedAt:       int64(startedAt.Uint64()),
		UpdatedAt:       int64(updatedAt.Uint64()),
		AnsweredInRound: round,
	}, nil
}

// LatestRoundData returns the most recent round. A feed with no rounds
// reports the zero round, which consumers must treat as invalid.
func LatestRoundData(c *core.Call) (RoundData, error) {
	if err := ensureAggregator(c); err != nil {
		return RoundData{}, err
	}
	latest, err := latestRound(c)
	if err != nil {
		return RoundData{}, err
	}
	if latest == 0 {
		return RoundData{Answer: new(big.Int)}, nil
	}
	return GetRoundData(c, latest)
}

// UpdatedTime converts the round timestamp to time.Time.
func (r RoundData) UpdatedTime() time.Time {
	return time.Unix(r.UpdatedAt, 0)
}

func signed(v *uint256.Int) *big.Int {
	if v.Sign() < 0 {
		neg := new(uint256.Int).Neg(v)
		return new(big.Int).Neg(neg.ToBig())
	}
	return v.ToBig()
}

func descriptionKey(addr common.Address) []byte {
	return append(append([]byte{}, descriptionPrefix...), addr.Bytes()...)
}

func ensureAggregator(c *core.Call) error {
	kind, err := c.CodeKind()
	if err != nil {
		return err
	}
	if kind != Kind {
		return fmt.Errorf("%w: %s", ErrNotAggregator, c.Self().Hex())
	}
	return nil
}

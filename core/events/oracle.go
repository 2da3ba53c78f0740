package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"tokenexchange/core/types"
)

// TypeOracleAnswerUpdated is emitted when the aggregator opens a new round.
const TypeOracleAnswerUpdated = "oracle.answer_updated"

type OracleAnswerUpdated struct {
	Feed      common.Address
	Answer    *big.Int
	RoundID   uint64
	UpdatedAt int64
}

func (OracleAnswerUpdated) EventType() string { return TypeOracleAnswerUpdated }

func (e OracleAnswerUpdated) Event() *types.Event {
	answer := "0"
	if e.Answer != nil {
		answer = e.Answer.String()
	}
	return &types.Event{
		Type: TypeOracleAnswerUpdated,
		Attributes: map[string]string{
			"feed":      addressString(e.Feed),
			"answer":    answer,
			"roundId":   strconv.FormatUint(e.RoundID, 10),
			"updatedAt": strconv.FormatInt(e.UpdatedAt, 10),
		},
	}
}

package types

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Receipt status codes.
const (
	ReceiptStatusFailed  uint8 = 0
	ReceiptStatusSuccess uint8 = 1
)

// Receipt records the outcome of one executed operation. Failed operations
// carry the stable failure reason and no events.
type Receipt struct {
	Height    uint64         `json:"height"`
	Method    string         `json:"method"`
	From      common.Address `json:"from"`
	To        common.Address `json:"to"`
	Value     string         `json:"value"`
	Nonce     uint64         `json:"nonce"`
	Status    uint8          `json:"status"`
	Error     string         `json:"error,omitempty"`
	Events    []Event        `json:"events"`
	StateRoot common.Hash    `json:"stateRoot"`
	Timestamp time.Time      `json:"timestamp"`
}

// Succeeded reports whether the operation committed.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == ReceiptStatusSuccess
}

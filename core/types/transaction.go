package types

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Method names accepted by the exchange service.
const (
	MethodDeposit           = "deposit"
	MethodSwap              = "swap"
	MethodWithdraw          = "withdraw"
	MethodUpgrade           = "upgrade"
	MethodTransferOwnership = "transfer-ownership"
	MethodTokenTransfer     = "token-transfer"
	MethodTokenApprove      = "token-approve"
)

// ErrMissingSignature is returned when recovering the sender of an unsigned request.
var ErrMissingSignature = errors.New("request: missing signature")

// Request is a signed instruction submitted by an account. Exchange names the
// deployment the request is meant for; Value is the native currency attached
// to the call; Args carries method-specific fields.
type Request struct {
	Exchange common.Address  `json:"exchange"`
	Method   string          `json:"method"`
	Nonce    uint64          `json:"nonce"`
	Value    *big.Int        `json:"value,omitempty"`
	Args     json.RawMessage `json:"args,omitempty"`

	R *big.Int `json:"r,omitempty"`
	S *big.Int `json:"s,omitempty"`
	V *big.Int `json:"v,omitempty"`

	from *common.Address
}

// Hash is the keccak256 digest of the signed fields.
func (r *Request) Hash() ([]byte, error) {
	payload := struct {
		Exchange common.Address
		Method   string
		Nonce    uint64
		Value    *big.Int
		Args     json.RawMessage
	}{r.Exchange, r.Method, r.Nonce, r.Value, r.Args}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return crypto.Keccak256(b), nil
}

// Sign attaches a secp256k1 signature made with privKey.
func (r *Request) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := r.Hash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash, privKey)
	if err != nil {
		return err
	}
	r.R = new(big.Int).SetBytes(sig[:32])
	r.S = new(big.Int).SetBytes(sig[32:64])
	r.V = new(big.Int).SetBytes([]byte{sig[64] + 27})
	r.from = nil
	return nil
}

// From recovers the signer address.
func (r *Request) From() (common.Address, error) {
	if r.from != nil {
		return *r.from, nil
	}
	if r.R == nil || r.S == nil || r.V == nil {
		return common.Address{}, ErrMissingSignature
	}
	hash, err := r.Hash()
	if err != nil {
		return common.Address{}, err
	}
	if len(r.R.Bytes()) > 32 || len(r.S.Bytes()) > 32 || r.V.Uint64() < 27 {
		return common.Address{}, errors.New("request: malformed signature")
	}
	sig := make([]byte, 65)
	copy(sig[32-len(r.R.Bytes()):32], r.R.Bytes())
	copy(sig[64-len(r.S.Bytes()):64], r.S.Bytes())
	sig[64] = byte(r.V.Uint64() - 27)
	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, err
	}
	addr := crypto.PubkeyToAddress(*pubKey)
	r.from = &addr
	return addr, nil
}

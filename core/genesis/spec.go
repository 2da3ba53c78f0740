// core/genesis/spec.go
package genesis

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrOperatorMismatch is returned when the operator key does not match the
// operator named in the genesis document.
var ErrOperatorMismatch = errors.New("genesis: operator mismatch")

// GenesisSpec describes the initial native allocation of a fresh state.
type GenesisSpec struct {
	GenesisTime string            `json:"genesisTime"`
	Alloc       map[string]string `json:"alloc"` // hex address -> base units
	Operator    string            `json:"operator,omitempty"`

	genesisTimestamp time.Time
	alloc            map[common.Address]*uint256.Int
	operator         common.Address
}

func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	spec, err := ParseGenesisSpec(raw)
	if err != nil {
		return nil, fmt.Errorf("genesis spec %q: %w", path, err)
	}
	return spec, nil
}

// ParseGenesisSpec decodes and validates a JSON genesis document. Unknown
// fields are rejected.
func ParseGenesisSpec(raw []byte) (*GenesisSpec, error) {
	var spec GenesisSpec
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid: %w", err)
	}
	return &spec, nil
}

func (s *GenesisSpec) GenesisTimestamp() time.Time { return s.genesisTimestamp }

// OperatorAddress returns the account that owns the contracts deployed at
// boot, if one was named.
func (s *GenesisSpec) OperatorAddress() (common.Address, bool) {
	return s.operator, s.operator != (common.Address{})
}

// VerifyOperator fails with ErrOperatorMismatch when the spec names an
// operator other than addr. A spec without an operator accepts any key.
func (s *GenesisSpec) VerifyOperator(addr common.Address) error {
	named, ok := s.OperatorAddress()
	if !ok || named == addr {
		return nil
	}
	return fmt.Errorf("%w: genesis names %s, keystore holds %s", ErrOperatorMismatch, named.Hex(), addr.Hex())
}

// Allocations returns a copy of the validated allocation.
func (s *GenesisSpec) Allocations() map[common.Address]*uint256.Int {
	out := make(map[common.Address]*uint256.Int, len(s.alloc))
	for addr, amount := range s.alloc {
		out[addr] = new(uint256.Int).Set(amount)
	}
	return out
}

func (s *GenesisSpec) validate() error {
	parsedTime, err := parseGenesisTime(s.GenesisTime)
	if err != nil {
		return err
	}
	s.genesisTimestamp = parsedTime

	s.operator = common.Address{}
	if trimmed := strings.TrimSpace(s.Operator); trimmed != "" {
		if !common.IsHexAddress(trimmed) {
			return fmt.Errorf("operator: invalid address %q", s.Operator)
		}
		s.operator = common.HexToAddress(trimmed)
	}

	s.alloc = make(map[common.Address]*uint256.Int, len(s.Alloc))
	for rawAddr, rawAmount := range s.Alloc {
		if !common.IsHexAddress(strings.TrimSpace(rawAddr)) {
			return fmt.Errorf("alloc: invalid address %q", rawAddr)
		}
		addr := common.HexToAddress(strings.TrimSpace(rawAddr))
		if _, dup := s.alloc[addr]; dup {
			return fmt.Errorf("alloc: duplicate address %s", addr.Hex())
		}
		amount, err := parseAmountString(rawAmount)
		if err != nil {
			return fmt.Errorf("alloc[%s]: %w", addr.Hex(), err)
		}
		value, overflow := uint256.FromBig(amount)
		if overflow {
			return fmt.Errorf("alloc[%s]: amount exceeds 256 bits", addr.Hex())
		}
		s.alloc[addr] = value
	}
	return nil
}

func parseAmountString(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}

func parseGenesisTime(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, fmt.Errorf("genesisTime must be provided")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("invalid genesisTime %q", value)
}

package domain

import (
	"encoding/json"
	"fmt"
)

// Commitment is the confidence level a signature status is queried at.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// Rank orders commitment levels; unknown levels rank lowest.
func (c Commitment) Rank() int {
	switch c {
	case CommitmentProcessed:
		return 1
	case CommitmentConfirmed:
		return 2
	case CommitmentFinalized:
		return 3
	default:
		return 0
	}
}

// Status is the observed execution result of a dispatched transaction.
// A nil *Status means the validator has not decided yet.
type Status struct {
	Slot  uint64
	Level Commitment
	// Err is non-nil when the transaction executed and failed.
	Err error
}

// Succeeded reports whether the transaction executed without error.
func (s *Status) Succeeded() bool {
	return s != nil && s.Err == nil
}

// TxError carries the raw error object reported by the RPC surface.
type TxError struct {
	Raw interface{}
}

func (e *TxError) Error() string {
	if s, ok := e.Raw.(string); ok {
		return s
	}
	b, err := json.Marshal(e.Raw)
	if err != nil {
		return fmt.Sprintf("%v", e.Raw)
	}
	return string(b)
}

package enums

import "fmt"

// TransactionState tracks the escrow lifecycle of a transaction.
type TransactionState string

const (
	TransactionStatePending             TransactionState = "pending"
	TransactionStateFundsHeld           TransactionState = "funds_held"
	TransactionStateContractSigned      TransactionState = "contract_signed"
	TransactionStateCredentialsReleased TransactionState = "credentials_released"
	TransactionStateCompleted           TransactionState = "completed"
	TransactionStateRefunded            TransactionState = "refunded"
	TransactionStateDisputed            TransactionState = "disputed"
)

var validTransactionStates = []TransactionState{
	TransactionStatePending,
	TransactionStateFundsHeld,
	TransactionStateContractSigned,
	TransactionStateCredentialsReleased,
	TransactionStateCompleted,
	TransactionStateRefunded,
	TransactionStateDisputed,
}

// String implements fmt.Stringer.
func (s TransactionState) String() string {
	return string(s)
}

// IsValid reports whether the value is a known TransactionState.
func (s TransactionState) IsValid() bool {
	for _, candidate := range validTransactionStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the state permits no further transitions.
func (s TransactionState) IsTerminal() bool {
	return s == TransactionStateCompleted || s == TransactionStateRefunded
}

// ParseTransactionState converts raw input into a TransactionState,
// rejecting unknown states at the boundary.
func ParseTransactionState(value string) (TransactionState, error) {
	for _, candidate := range validTransactionStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction state %q", value)
}

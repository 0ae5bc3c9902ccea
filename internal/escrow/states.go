package escrow

import (
	"github.com/swapdesk/swapdesk-backend/pkg/enums"
	pkgerrors "github.com/swapdesk/swapdesk-backend/pkg/errors"
)

// allowedTransitions is the authoritative escrow state machine. A pair
// absent from this table is rejected; the aggregate is never touched.
var allowedTransitions = map[enums.TransactionState][]enums.TransactionState{
	enums.TransactionStatePending: {
		enums.TransactionStateFundsHeld,
		// Payment window expiry: the cron sweep refunds purchases whose
		// payment never arrived.
		enums.TransactionStateRefunded,
	},
	enums.TransactionStateFundsHeld: {
		enums.TransactionStateContractSigned,
		enums.TransactionStateDisputed,
		enums.TransactionStateCompleted,
		enums.TransactionStateRefunded,
	},
	enums.TransactionStateContractSigned: {
		enums.TransactionStateCredentialsReleased,
		enums.TransactionStateDisputed,
		enums.TransactionStateCompleted,
		enums.TransactionStateRefunded,
	},
	enums.TransactionStateCredentialsReleased: {
		enums.TransactionStateCompleted,
		enums.TransactionStateDisputed,
		enums.TransactionStateRefunded,
	},
	enums.TransactionStateDisputed: {
		enums.TransactionStateCompleted,
		enums.TransactionStateRefunded,
	},
}

// CanTransition reports whether the state machine permits from → to.
func CanTransition(from, to enums.TransactionState) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// transitionError classifies a rejected transition: terminal states are
// permanently finalized, everything else is an ordering violation.
func transitionError(from, to enums.TransactionState) error {
	if from.IsTerminal() {
		return pkgerrors.New(pkgerrors.CodeTransactionFinalized, "transaction is finalized")
	}
	return pkgerrors.New(pkgerrors.CodeInvalidStateTransition,
		"cannot move transaction from "+from.String()+" to "+to.String())
}

// NextStep names the action that advances the escrow from its current
// state. Empty for terminal and disputed states, where only privileged
// resolution applies.
func NextStep(state enums.TransactionState) string {
	switch state {
	case enums.TransactionStatePending:
		return "confirm_payment"
	case enums.TransactionStateFundsHeld:
		return "sign_contract"
	case enums.TransactionStateContractSigned:
		return "reveal_credentials"
	case enums.TransactionStateCredentialsReleased:
		return "confirm_access"
	default:
		return ""
	}
}

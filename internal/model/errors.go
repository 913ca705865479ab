package model

import (
	"errors"
	"fmt"
)

// Item-level error taxonomy. All of these are resolved by the coordinator;
// only the resulting Outcome message reaches the UI.
var (
	ErrVerificationUnavailable = errors.New("verification unavailable")
	ErrIneligible              = errors.New("item not eligible")
	ErrSignerTimeout           = errors.New("signer timed out")
	ErrSignerRejected          = errors.New("signer rejected request")
	ErrLedgerReverted          = errors.New("ledger reverted")
	ErrConvergenceTimeout      = errors.New("backend did not converge")
	ErrActionPending           = errors.New("an action is already pending for this item")
	ErrNotCancellable          = errors.New("action can no longer be cancelled")
	ErrUnknownItem             = errors.New("unknown item")
	ErrWrongChain              = errors.New("ledger is on an unexpected chain")
	ErrCancelled               = errors.New("action cancelled")
)

// RevertCategory is the decoded cause of a signer or ledger failure.
type RevertCategory string

const (
	RevertInsufficientAuthorization RevertCategory = "InsufficientAuthorization"
	RevertInsufficientBalance       RevertCategory = "InsufficientBalance"
	RevertGeneric                   RevertCategory = "Reverted"
	RevertUserRejected              RevertCategory = "UserRejected"
	RevertUnrecognized              RevertCategory = "Unrecognized"
)

// Rollback reasons that are not revert categories.
const (
	ReasonWalletTimeout = "WalletTimeout"
	ReasonUserCancelled = "UserCancelled"
	ReasonAborted       = "Aborted"
)

// RevertError carries a decoded revert category. It matches ErrLedgerReverted,
// or ErrSignerRejected when the user refused the request.
type RevertError struct {
	Category RevertCategory
	Cause    error
}

func (e *RevertError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Category, e.Cause)
	}
	return string(e.Category)
}

func (e *RevertError) Unwrap() error { return e.Cause }

// Is lets errors.Is map a RevertError onto the taxonomy sentinels.
func (e *RevertError) Is(target error) bool {
	if e.Category == RevertUserRejected {
		return target == ErrSignerRejected
	}
	return target == ErrLedgerReverted
}

package escrow

import (
	"errors"
	"fmt"
	"time"

	"rei360.com/types"
)

var (
	// ErrNotFound means no transaction exists under the given id.
	ErrNotFound = errors.New("transaction not found")
	// ErrConflict means a concurrent update won the race; safe to retry.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrTimeout means the store or the payout rail did not answer in time.
	ErrTimeout = errors.New("operation timed out")
)

// ValidationError rejects malformed caller input. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConfigurationError rejects an out-of-range engine parameter.
type ConfigurationError struct {
	Param string
	Value int64
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration out of range: %s=%d", e.Param, e.Value)
}

// InvalidTransitionError rejects an action that is not legal in the current
// state. Deterministic, never a silent no-op.
type InvalidTransitionError struct {
	Current types.EscrowState
	Action  types.EscrowAction
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("action %q not allowed in state %q", e.Action, e.Current)
}

// UnauthorizedError rejects an actor without permission for the action.
type UnauthorizedError struct {
	ActorID uint
	Action  types.EscrowAction
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("actor %d not authorized for action %q", e.ActorID, e.Action)
}

// NotEligibleYetError rejects a release attempted before the eligibility
// timestamp. The caller may retry once the timestamp has passed.
type NotEligibleYetError struct {
	EligibleAt time.Time
}

func (e *NotEligibleYetError) Error() string {
	return fmt.Sprintf("release not eligible before %s", e.EligibleAt.Format(time.RFC3339))
}

// DuplicateError signals idempotent creation: a transaction with the same
// deterministic id already exists. Callers treat it as success and fetch the
// existing record.
type DuplicateError struct {
	ID string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("transaction %s already exists", e.ID)
}

// TransferError wraps a deterministic payout rail failure.
type TransferError struct {
	IdempotencyKey string
	Err            error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s failed: %v", e.IdempotencyKey, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

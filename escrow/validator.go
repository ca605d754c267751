package escrow

import "rei360.com/types"

// Validate is the escrow state machine. Given the current state, the acting
// role and the requested action it returns the next state, or an
// InvalidTransitionError when no such edge exists. For approvals, the flags
// are the post-approval values: both set promotes straight to
// ready_for_release, otherwise the record moves to (or stays in) in_progress.
//
// Validate is pure; temporal and per-party checks (release eligibility,
// idempotent re-approval) live in the engine.
func Validate(current types.EscrowState, role types.ActorRole, action types.EscrowAction, buyerApproved, sellerApproved bool) (types.EscrowState, error) {
	switch action {
	case types.ActionFund:
		if current == types.StatePending && (role == types.RoleAdmin || role == types.RoleBuyer) {
			return types.StateFunded, nil
		}
	case types.ActionApprove:
		if (current == types.StateFunded || current == types.StateInProgress) &&
			(role == types.RoleBuyer || role == types.RoleSeller) {
			if buyerApproved && sellerApproved {
				return types.StateReadyForRelease, nil
			}
			return types.StateInProgress, nil
		}
	case types.ActionDispute:
		if (current == types.StateFunded || current == types.StateInProgress) &&
			(role == types.RoleBuyer || role == types.RoleSeller) {
			return types.StateDisputed, nil
		}
	case types.ActionRelease:
		if current == types.StateReadyForRelease && (role == types.RoleAdmin || role == types.RoleBuyer) {
			return types.StateCompleted, nil
		}
	case types.ActionRefund:
		if (current == types.StateFunded || current == types.StateInProgress || current == types.StateDisputed) &&
			role == types.RoleAdmin {
			return types.StateRefunded, nil
		}
	case types.ActionCancel:
		if current == types.StatePending && role == types.RoleAdmin {
			return types.StateCancelled, nil
		}
	}
	return current, &InvalidTransitionError{Current: current, Action: action}
}

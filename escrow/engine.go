package escrow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"rei360.com/rail"
	"rei360.com/types"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
)

// Clock supplies the current time. Injected so eligibility checks are
// testable and never coupled to the wall clock directly.
type Clock func() time.Time

// Actor is the authenticated caller of an engine operation. Role relative to
// a transaction (buyer/seller) is derived per record; Admin is a claim on the
// identity itself.
type Actor struct {
	UserID uint
	Admin  bool
}

// Engine is the escrow transaction lifecycle orchestrator. Every mutating
// operation runs as: load under the per-key lock, validate the transition,
// compute, execute the transfer if any, then persist the new state together
// with its audit entry.
type Engine struct {
	store      Store
	exec       *Executor
	clock      Clock
	feeRateBps int64
}

func NewEngine(store Store, exec *Executor, clock Clock, feeRateBps int64) (*Engine, error) {
	if feeRateBps < 0 || feeRateBps > MaxFeeRateBps {
		return nil, &ConfigurationError{Param: "fee_rate_bps", Value: feeRateBps}
	}
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		store:      store,
		exec:       exec,
		clock:      clock,
		feeRateBps: feeRateBps,
	}, nil
}

// TransactionID derives the record id from the immutable creation fields, so
// an accidental duplicate submission collides instead of opening a second
// escrow for the same deal.
func TransactionID(buyerID, sellerID uint, amount int64, propertyRef string, createdAt time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%d|%d|%s|%d",
		buyerID, sellerID, amount, propertyRef, createdAt.UnixNano())))
	return hex.EncodeToString(sum[:])[:32]
}

// CreateTransaction opens a new escrow in pending state. Admin only.
func (e *Engine) CreateTransaction(actor Actor, buyerID, sellerID uint, amount int64, propertyRef string, releaseEligibleAt time.Time) (*types.Transaction, error) {
	if !actor.Admin {
		return nil, &UnauthorizedError{ActorID: actor.UserID, Action: types.ActionCreate}
	}
	if amount <= 0 {
		return nil, &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if buyerID == 0 || sellerID == 0 {
		return nil, &ValidationError{Field: "party", Reason: "buyer and seller are required"}
	}
	if buyerID == sellerID {
		return nil, &ValidationError{Field: "party", Reason: "buyer and seller must differ"}
	}
	if propertyRef == "" {
		return nil, &ValidationError{Field: "property_reference", Reason: "required"}
	}

	createdAt := e.clock()
	if !releaseEligibleAt.After(createdAt) {
		return nil, &ValidationError{Field: "release_eligible_at", Reason: "must be in the future"}
	}

	tx := &types.Transaction{
		ID:                TransactionID(buyerID, sellerID, amount, propertyRef, createdAt),
		BuyerID:           buyerID,
		SellerID:          sellerID,
		Amount:            amount,
		PropertyReference: propertyRef,
		CreatedAt:         createdAt,
		ReleaseEligibleAt: releaseEligibleAt,
		State:             types.StatePending,
		PendingAudit: []types.AuditEntry{
			newAudit(actor, types.RoleAdmin, types.ActionCreate, string(types.StatePending)),
		},
	}
	if err := e.store.Create(tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// RecordFunding marks the escrow funded once the payment capture service has
// confirmed receipt. Legal only from pending; the payment reference is set
// exactly once.
func (e *Engine) RecordFunding(ctx context.Context, id string, actor Actor, paymentRef string) (*types.Transaction, error) {
	if paymentRef == "" {
		return nil, &ValidationError{Field: "payment_reference", Reason: "required"}
	}
	return e.mutate(id, actor, types.ActionFund, func(tx *types.Transaction, role types.ActorRole) error {
		next, err := Validate(tx.State, role, types.ActionFund, tx.BuyerApproved, tx.SellerApproved)
		if err != nil {
			return err
		}
		tx.State = next
		tx.ExternalPaymentReference = paymentRef
		return nil
	})
}

var errAlreadyApproved = errors.New("already approved")

// Approve records a party's approval. Idempotent per party: a re-approval
// returns the current state unchanged with a logged no-op instead of an
// error.
func (e *Engine) Approve(ctx context.Context, id string, actor Actor) (*types.Transaction, error) {
	updated, err := e.mutate(id, actor, types.ActionApprove, func(tx *types.Transaction, role types.ActorRole) error {
		if (role == types.RoleBuyer && tx.BuyerApproved) ||
			(role == types.RoleSeller && tx.SellerApproved) {
			return errAlreadyApproved
		}

		buyerApproved := tx.BuyerApproved || role == types.RoleBuyer
		sellerApproved := tx.SellerApproved || role == types.RoleSeller
		next, err := Validate(tx.State, role, types.ActionApprove, buyerApproved, sellerApproved)
		if err != nil {
			return err
		}
		tx.BuyerApproved = buyerApproved
		tx.SellerApproved = sellerApproved
		tx.State = next
		return nil
	})
	if errors.Is(err, errAlreadyApproved) {
		tx, getErr := e.store.Get(id)
		if getErr != nil {
			return nil, getErr
		}
		role, _ := e.roleFor(tx, actor)
		log.Infof("approve no-op: transaction %s already approved by %s", id, role)
		entry := newAudit(actor, role, types.ActionApprove, "no_op")
		entry.TransactionID = id
		if auditErr := e.store.AppendAudit(&entry); auditErr != nil {
			log.Warnf("failed to audit approve no-op for %s: %v", id, auditErr)
		}
		return tx, nil
	}
	return updated, err
}

// Release disburses the escrowed funds to the seller minus the platform fee.
// Requires ready_for_release, an admin or the buyer, and the eligibility
// timestamp to have been reached; the temporal gate is checked on top of the
// transition table.
func (e *Engine) Release(ctx context.Context, id string, actor Actor) (*types.Transaction, error) {
	return e.mutate(id, actor, types.ActionRelease, func(tx *types.Transaction, role types.ActorRole) error {
		next, err := Validate(tx.State, role, types.ActionRelease, tx.BuyerApproved, tx.SellerApproved)
		if err != nil {
			return err
		}
		if e.clock().Before(tx.ReleaseEligibleAt) {
			return &NotEligibleYetError{EligibleAt: tx.ReleaseEligibleAt}
		}

		fee, payout, err := ComputeFee(tx.Amount, e.feeRateBps)
		if err != nil {
			return err
		}
		ref, err := e.exec.Disburse(ctx, tx, fee, payout)
		if err != nil {
			return err
		}

		tx.State = next
		tx.PlatformFee = fee
		tx.SellerPayout = payout
		tx.DisbursementReference = ref
		return nil
	})
}

// Refund returns the full amount to the buyer. Admin only; any other caller
// is rejected with UnauthorizedError regardless of their relation to the
// transaction.
func (e *Engine) Refund(ctx context.Context, id string, actor Actor) (*types.Transaction, error) {
	if !actor.Admin {
		err := &UnauthorizedError{ActorID: actor.UserID, Action: types.ActionRefund}
		e.auditDenied(id, actor, types.ActionRefund, err)
		return nil, err
	}
	return e.mutate(id, actor, types.ActionRefund, func(tx *types.Transaction, role types.ActorRole) error {
		next, err := Validate(tx.State, role, types.ActionRefund, tx.BuyerApproved, tx.SellerApproved)
		if err != nil {
			return err
		}
		ref, err := e.exec.Refund(ctx, tx)
		if err != nil {
			return err
		}
		tx.State = next
		tx.DisbursementReference = ref
		return nil
	})
}

// Dispute freezes a funded or in-progress escrow until an admin resolves it.
// Only the transaction's own buyer or seller may raise it.
func (e *Engine) Dispute(ctx context.Context, id string, actor Actor) (*types.Transaction, error) {
	return e.mutate(id, actor, types.ActionDispute, func(tx *types.Transaction, role types.ActorRole) error {
		if role != types.RoleBuyer && role != types.RoleSeller {
			return &UnauthorizedError{ActorID: actor.UserID, Action: types.ActionDispute}
		}
		next, err := Validate(tx.State, role, types.ActionDispute, tx.BuyerApproved, tx.SellerApproved)
		if err != nil {
			return err
		}
		tx.State = next
		return nil
	})
}

// Cancel voids an escrow that was never funded. Admin only.
func (e *Engine) Cancel(ctx context.Context, id string, actor Actor) (*types.Transaction, error) {
	if !actor.Admin {
		err := &UnauthorizedError{ActorID: actor.UserID, Action: types.ActionCancel}
		e.auditDenied(id, actor, types.ActionCancel, err)
		return nil, err
	}
	return e.mutate(id, actor, types.ActionCancel, func(tx *types.Transaction, role types.ActorRole) error {
		next, err := Validate(tx.State, role, types.ActionCancel, tx.BuyerApproved, tx.SellerApproved)
		if err != nil {
			return err
		}
		tx.State = next
		return nil
	})
}

func (e *Engine) GetTransaction(id string) (*types.Transaction, error) {
	return e.store.Get(id)
}

func (e *Engine) ListForParty(partyID uint) ([]types.Transaction, error) {
	return e.store.ListForParty(partyID)
}

func (e *Engine) AuditTrail(id string) ([]types.AuditEntry, error) {
	if _, err := e.store.Get(id); err != nil {
		return nil, err
	}
	return e.store.AuditTrail(id)
}

// Reconcile resolves disbursements left in pending-reconciliation by asking
// the rail what actually happened under the idempotency key. A found receipt
// is recorded; a definitively missing payment is reported back for operator
// action, never retried here.
func (e *Engine) Reconcile(ctx context.Context) (resolved, unresolved []types.Transaction, err error) {
	pending, err := e.store.ListPendingReconciliation()
	if err != nil {
		return nil, nil, err
	}

	for i := range pending {
		tx := pending[i]
		receipt, lookupErr := e.exec.Lookup(ctx, &tx)
		if lookupErr != nil {
			if errors.Is(lookupErr, rail.ErrNotFound) {
				log.Errorf("reconciliation: no rail payment for %s (key %s); manual compensation required",
					tx.ID, IdempotencyKeyFor(&tx))
				unresolved = append(unresolved, tx)
				continue
			}
			log.Warnf("reconciliation: rail lookup for %s failed: %v", tx.ID, lookupErr)
			continue
		}

		updated, updateErr := e.store.UpdateAtomic(tx.ID, func(rec *types.Transaction) error {
			if rec.DisbursementReference != PendingReconciliation {
				return nil
			}
			rec.DisbursementReference = receipt.ID
			rec.PendingAudit = append(rec.PendingAudit,
				newAudit(Actor{}, types.RoleAdmin, types.ActionReconcile, string(rec.State)))
			return nil
		})
		if updateErr != nil {
			log.Warnf("reconciliation: failed to record receipt for %s: %v", tx.ID, updateErr)
			continue
		}
		resolved = append(resolved, *updated)
	}
	return resolved, unresolved, nil
}

// mutate runs fn under the store's per-key atomic update, deriving the
// actor's role relative to the loaded record first. Denied attempts are
// appended to the audit trail without touching the record.
func (e *Engine) mutate(id string, actor Actor, action types.EscrowAction, fn func(tx *types.Transaction, role types.ActorRole) error) (*types.Transaction, error) {
	updated, err := e.store.UpdateAtomic(id, func(tx *types.Transaction) error {
		role, ok := e.roleFor(tx, actor)
		if !ok {
			return &UnauthorizedError{ActorID: actor.UserID, Action: action}
		}
		if err := fn(tx, role); err != nil {
			return err
		}
		tx.PendingAudit = append(tx.PendingAudit, newAudit(actor, role, action, string(tx.State)))
		return nil
	})
	if err != nil {
		e.auditDenied(id, actor, action, err)
		return nil, err
	}
	return updated, nil
}

// roleFor maps an actor onto their role for this transaction. Admin wins;
// otherwise the actor must be one of the two counterparties.
func (e *Engine) roleFor(tx *types.Transaction, actor Actor) (types.ActorRole, bool) {
	switch {
	case actor.Admin:
		return types.RoleAdmin, true
	case actor.UserID == tx.BuyerID:
		return types.RoleBuyer, true
	case actor.UserID == tx.SellerID:
		return types.RoleSeller, true
	default:
		return "", false
	}
}

// auditDenied records failed authorization and failed transition attempts
// for forensic review. The transaction itself is unchanged.
func (e *Engine) auditDenied(id string, actor Actor, action types.EscrowAction, cause error) {
	var unauthorized *UnauthorizedError
	var invalid *InvalidTransitionError
	outcome := ""
	switch {
	case errors.As(cause, &unauthorized):
		outcome = "rejected:unauthorized"
		log.Warnf("unauthorized %s on %s by actor %d", action, id, actor.UserID)
	case errors.As(cause, &invalid):
		outcome = "rejected:invalid_transition"
	default:
		return
	}

	role := types.ActorRole("")
	if actor.Admin {
		role = types.RoleAdmin
	}
	entry := newAudit(actor, role, action, outcome)
	entry.TransactionID = id
	if err := e.store.AppendAudit(&entry); err != nil {
		log.Warnf("failed to audit denied %s on %s: %v", action, id, err)
	}
}

func newAudit(actor Actor, role types.ActorRole, action types.EscrowAction, outcome string) types.AuditEntry {
	return types.AuditEntry{
		ActorID:   actor.UserID,
		ActorRole: role,
		Action:    action,
		Outcome:   outcome,
		RefID:     uuid.New().String(),
	}
}

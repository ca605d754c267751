package escrow

import (
	"context"
	"errors"
	"os"

	"rei360.com/rail"
	"rei360.com/types"
)

// PendingReconciliation is the disbursement reference recorded when the rail
// timed out after the state flip: money may or may not have moved, and only
// the reconciliation sweep is allowed to settle the question. Never paired
// with an automatic retry.
const PendingReconciliation = "pending-reconciliation"

// PayoutRail is the narrow surface the executor needs from the external
// payout service. Repeated Pay calls under one idempotency key must be
// no-ops returning the original receipt.
type PayoutRail interface {
	Pay(ctx context.Context, req rail.PayoutRequest) (*rail.Receipt, error)
	Lookup(ctx context.Context, idempotencyKey string) (*rail.Receipt, error)
}

// Executor is the only component that calls the payout rail. Both guards
// against double payout live here: the idempotency key handed to the rail,
// and the terminal-state check made inside the same atomic update that flips
// the record to its terminal state.
type Executor struct {
	rail     PayoutRail
	currency string
}

func NewExecutor(r PayoutRail) *Executor {
	currency := os.Getenv("PAYOUT_CURRENCY")
	if currency == "" {
		currency = "USD"
	}
	return &Executor{rail: r, currency: currency}
}

// Disburse pays the seller and the platform in one rail request keyed by the
// transaction id. Returns the disbursement reference to record: the rail
// receipt id, or PendingReconciliation when the rail timed out after the
// request was issued.
func (e *Executor) Disburse(ctx context.Context, tx *types.Transaction, fee, payout int64) (string, error) {
	if tx.State.Terminal() {
		return "", &InvalidTransitionError{Current: tx.State, Action: types.ActionRelease}
	}

	receipt, err := e.rail.Pay(ctx, rail.PayoutRequest{
		IdempotencyKey: DisburseKey(tx.ID),
		Currency:       e.currency,
		Legs: []rail.PayoutLeg{
			{Destination: rail.PartyDestination(tx.SellerID), Amount: payout},
			{Destination: rail.PlatformDestination(), Amount: fee},
		},
	})
	if err != nil {
		if errors.Is(err, rail.ErrTimeout) {
			return PendingReconciliation, nil
		}
		return "", &TransferError{IdempotencyKey: DisburseKey(tx.ID), Err: err}
	}
	return receipt.ID, nil
}

// Refund returns the full amount to the buyer, keyed separately from the
// release leg so the rail can tell the two terminal transitions apart.
func (e *Executor) Refund(ctx context.Context, tx *types.Transaction) (string, error) {
	if tx.State.Terminal() {
		return "", &InvalidTransitionError{Current: tx.State, Action: types.ActionRefund}
	}

	receipt, err := e.rail.Pay(ctx, rail.PayoutRequest{
		IdempotencyKey: RefundKey(tx.ID),
		Currency:       e.currency,
		Legs: []rail.PayoutLeg{
			{Destination: rail.PartyDestination(tx.BuyerID), Amount: tx.Amount},
		},
	})
	if err != nil {
		if errors.Is(err, rail.ErrTimeout) {
			return PendingReconciliation, nil
		}
		return "", &TransferError{IdempotencyKey: RefundKey(tx.ID), Err: err}
	}
	return receipt.ID, nil
}

// Lookup asks the rail whether a payment exists under the key used for the
// transaction's terminal transition.
func (e *Executor) Lookup(ctx context.Context, tx *types.Transaction) (*rail.Receipt, error) {
	return e.rail.Lookup(ctx, IdempotencyKeyFor(tx))
}

func DisburseKey(id string) string {
	return id
}

func RefundKey(id string) string {
	return id + ":refund"
}

// IdempotencyKeyFor picks the rail key matching the transaction's terminal
// transition.
func IdempotencyKeyFor(tx *types.Transaction) string {
	if tx.State == types.StateRefunded {
		return RefundKey(tx.ID)
	}
	return DisburseKey(tx.ID)
}

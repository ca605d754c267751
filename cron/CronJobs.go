package cron

import (
	"context"

	"rei360.com/broker"
	"rei360.com/dto"
	"rei360.com/escrow"
	"rei360.com/types"

	"github.com/gofiber/fiber/v2/log"
	"github.com/robfig/cron/v3"
)

// StartScheduler runs the reconciliation sweep every 5 minutes, plus once at
// startup so a restart after a rail outage settles quickly.
func StartScheduler(engine *escrow.Engine) {
	RunReconciliation(engine)

	c := cron.New(cron.WithSeconds())

	_, err := c.AddFunc("0 */5 * * * *", func() {
		RunReconciliation(engine)
	})
	if err != nil {
		log.Errorf("failed to start reconciliation cron job: %v", err)
		return
	}

	c.Start()
}

// RunReconciliation settles disbursements whose rail outcome was unknown at
// the time of the state flip. Found receipts are recorded and announced;
// definitively missing payments are flagged for operators. Payments are
// never re-issued here.
func RunReconciliation(engine *escrow.Engine) {
	resolved, unresolved, err := engine.Reconcile(context.Background())
	if err != nil {
		log.Errorf("reconciliation sweep failed: %v", err)
		return
	}
	if len(resolved) == 0 && len(unresolved) == 0 {
		return
	}
	log.Infof("reconciliation sweep: %d resolved, %d need manual attention", len(resolved), len(unresolved))

	for i := range resolved {
		tx := resolved[i]
		var sendErr error
		if tx.State == types.StateRefunded {
			sendErr = broker.SendEscrowRefunded(&dto.EscrowRefundedDTO{
				TransactionID: tx.ID,
				ReceiptID:     tx.DisbursementReference,
				Amount:        tx.Amount,
			})
		} else {
			sendErr = broker.SendEscrowDisbursed(&dto.EscrowDisbursedDTO{
				TransactionID: tx.ID,
				ReceiptID:     tx.DisbursementReference,
				Amount:        tx.Amount,
				PlatformFee:   tx.PlatformFee,
				SellerPayout:  tx.SellerPayout,
			})
		}
		if sendErr != nil {
			log.Warnf("failed to publish reconciliation result for %s: %v", tx.ID, sendErr)
		}
	}

	for i := range unresolved {
		tx := unresolved[i]
		if err := broker.SendEscrowReconcile(&dto.EscrowReconcileDTO{
			TransactionID:  tx.ID,
			IdempotencyKey: escrow.IdempotencyKeyFor(&tx),
			Reason:         "no rail payment found for terminal transaction",
		}); err != nil {
			log.Warnf("failed to publish reconcile alert for %s: %v", tx.ID, err)
		}
	}
}

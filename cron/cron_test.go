package cron

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"rei360.com/escrow"
	"rei360.com/rail"
	"rei360.com/types"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type sweepRail struct {
	mu       sync.Mutex
	receipts map[string]*rail.Receipt
	payCalls int
}

func (r *sweepRail) Pay(_ context.Context, req rail.PayoutRequest) (*rail.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payCalls++
	return nil, rail.ErrTimeout
}

func (r *sweepRail) Lookup(_ context.Context, idempotencyKey string) (*rail.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	receipt, ok := r.receipts[idempotencyKey]
	if !ok {
		return nil, rail.ErrNotFound
	}
	return receipt, nil
}

func setupSweep(t *testing.T) (*escrow.Engine, *sweepRail, *types.Transaction) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := database.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.AutoMigrate(&types.Transaction{}, &types.AuditEntry{}))

	r := &sweepRail{receipts: map[string]*rail.Receipt{}}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var clockMu sync.Mutex
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}
	engine, err := escrow.NewEngine(escrow.NewStore(database), escrow.NewExecutor(r), clock, 200)
	require.NoError(t, err)

	ctx := context.Background()
	admin := escrow.Actor{UserID: 1, Admin: true}
	buyer := escrow.Actor{UserID: 10}
	seller := escrow.Actor{UserID: 20}

	tx, err := engine.CreateTransaction(admin, buyer.UserID, seller.UserID,
		100000, "prop-551", now.Add(72*time.Hour))
	require.NoError(t, err)
	_, err = engine.RecordFunding(ctx, tx.ID, admin, "pay-1")
	require.NoError(t, err)
	_, err = engine.Approve(ctx, tx.ID, buyer)
	require.NoError(t, err)
	_, err = engine.Approve(ctx, tx.ID, seller)
	require.NoError(t, err)

	// Move past the eligibility window so Release is legal.
	clockMu.Lock()
	now = now.Add(73 * time.Hour)
	clockMu.Unlock()

	return engine, r, tx
}

func TestRunReconciliationResolvesPendingDisbursement(t *testing.T) {
	engine, r, tx := setupSweep(t)
	ctx := context.Background()

	// The rail times out during release; the record lands in
	// pending-reconciliation.
	released, err := engine.Release(ctx, tx.ID, escrow.Actor{UserID: 1, Admin: true})
	require.NoError(t, err)
	require.Equal(t, escrow.PendingReconciliation, released.DisbursementReference)

	// The payment did go through on the rail side.
	key := escrow.DisburseKey(tx.ID)
	r.mu.Lock()
	r.receipts[key] = &rail.Receipt{ID: "rcpt-1", IdempotencyKey: key, ProcessedAt: time.Now()}
	payCallsBefore := r.payCalls
	r.mu.Unlock()

	RunReconciliation(engine)

	loaded, err := engine.GetTransaction(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "rcpt-1", loaded.DisbursementReference)
	assert.Equal(t, types.StateCompleted, loaded.State)

	r.mu.Lock()
	assert.Equal(t, payCallsBefore, r.payCalls, "the sweep must never re-issue a payment")
	r.mu.Unlock()

	// A second sweep finds nothing left to settle.
	RunReconciliation(engine)
	loaded, err = engine.GetTransaction(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "rcpt-1", loaded.DisbursementReference)
}

func TestRunReconciliationLeavesUnknownPaymentsFlagged(t *testing.T) {
	engine, _, tx := setupSweep(t)
	ctx := context.Background()

	_, err := engine.Release(ctx, tx.ID, escrow.Actor{UserID: 1, Admin: true})
	require.NoError(t, err)

	// No receipt on the rail side: the sweep reports it and leaves the
	// sentinel in place for the operator.
	RunReconciliation(engine)

	loaded, err := engine.GetTransaction(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.PendingReconciliation, loaded.DisbursementReference)
}

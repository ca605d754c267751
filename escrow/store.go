package escrow

import (
	"errors"
	"strings"
	"sync"

	"rei360.com/types"

	"gorm.io/gorm"
)

// Store is durable keyed storage of transaction records with per-key
// serializable read-modify-write.
type Store interface {
	Create(tx *types.Transaction) error
	Get(id string) (*types.Transaction, error)
	ListForParty(partyID uint) ([]types.Transaction, error)
	ListPendingReconciliation() ([]types.Transaction, error)
	AuditTrail(id string) ([]types.AuditEntry, error)
	AppendAudit(entry *types.AuditEntry) error

	// UpdateAtomic loads the record, applies mutate to a copy and commits
	// the copy together with its PendingAudit entries in one database
	// transaction. Callers mutating the same id observe a linear history.
	// A mutate error aborts the update and is returned unchanged.
	UpdateAtomic(id string, mutate func(tx *types.Transaction) error) (*types.Transaction, error)
}

const casRetries = 3

type gormStore struct {
	db    *gorm.DB
	locks sync.Map // transaction id -> *sync.Mutex
}

// NewStore wraps a gorm connection in a Store.
func NewStore(database *gorm.DB) Store {
	return &gormStore{db: database}
}

func (s *gormStore) keyLock(id string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *gormStore) Create(tx *types.Transaction) error {
	var existing types.Transaction
	err := s.db.First(&existing, "id = ?", tx.ID).Error
	if err == nil {
		return &DuplicateError{ID: tx.ID}
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	err = s.db.Transaction(func(dbtx *gorm.DB) error {
		if err := dbtx.Create(tx).Error; err != nil {
			return err
		}
		for i := range tx.PendingAudit {
			tx.PendingAudit[i].TransactionID = tx.ID
			tx.PendingAudit[i].Seq = uint(i + 1)
			if err := dbtx.Create(&tx.PendingAudit[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil && isDuplicateKey(err) {
		// Lost the race against a concurrent identical submission.
		return &DuplicateError{ID: tx.ID}
	}
	return err
}

func (s *gormStore) Get(id string) (*types.Transaction, error) {
	var tx types.Transaction
	if err := s.db.First(&tx, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tx, nil
}

func (s *gormStore) ListForParty(partyID uint) ([]types.Transaction, error) {
	var txs []types.Transaction
	if err := s.db.
		Where("buyer_id = ? OR seller_id = ?", partyID, partyID).
		Order("created_at DESC").
		Find(&txs).Error; err != nil {
		return nil, err
	}
	return txs, nil
}

func (s *gormStore) ListPendingReconciliation() ([]types.Transaction, error) {
	var txs []types.Transaction
	if err := s.db.
		Where("disbursement_reference = ?", PendingReconciliation).
		Find(&txs).Error; err != nil {
		return nil, err
	}
	return txs, nil
}

func (s *gormStore) AuditTrail(id string) ([]types.AuditEntry, error) {
	var entries []types.AuditEntry
	if err := s.db.
		Where("transaction_id = ?", id).
		Order("seq ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *gormStore) AppendAudit(entry *types.AuditEntry) error {
	return s.db.Transaction(func(dbtx *gorm.DB) error {
		var count int64
		if err := dbtx.Model(&types.AuditEntry{}).
			Where("transaction_id = ?", entry.TransactionID).
			Count(&count).Error; err != nil {
			return err
		}
		entry.Seq = uint(count + 1)
		return dbtx.Create(entry).Error
	})
}

func (s *gormStore) UpdateAtomic(id string, mutate func(tx *types.Transaction) error) (*types.Transaction, error) {
	// The per-key mutex serializes writers inside this process; the version
	// CAS below guards against other processes sharing the database.
	mu := s.keyLock(id)
	mu.Lock()
	defer mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < casRetries; attempt++ {
		var current types.Transaction
		if err := s.db.First(&current, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}

		updated := current
		updated.PendingAudit = nil
		if err := mutate(&updated); err != nil {
			return nil, err
		}

		prev := current.Version
		updated.Version = prev + 1

		err := s.db.Transaction(func(dbtx *gorm.DB) error {
			res := dbtx.Model(&types.Transaction{}).
				Where("id = ? AND version = ?", id, prev).
				Updates(map[string]interface{}{
					"state":                      updated.State,
					"buyer_approved":             updated.BuyerApproved,
					"seller_approved":            updated.SellerApproved,
					"external_payment_reference": updated.ExternalPaymentReference,
					"platform_fee":               updated.PlatformFee,
					"seller_payout":              updated.SellerPayout,
					"disbursement_reference":     updated.DisbursementReference,
					"version":                    updated.Version,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrConflict
			}

			var count int64
			if err := dbtx.Model(&types.AuditEntry{}).
				Where("transaction_id = ?", id).
				Count(&count).Error; err != nil {
				return err
			}
			for i := range updated.PendingAudit {
				updated.PendingAudit[i].TransactionID = id
				updated.PendingAudit[i].Seq = uint(count) + uint(i+1)
				if err := dbtx.Create(&updated.PendingAudit[i]).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err == nil {
			return &updated, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}

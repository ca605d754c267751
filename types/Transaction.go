package types

import "time"

type EscrowState string

const (
	StatePending         EscrowState = "pending"
	StateFunded          EscrowState = "funded"
	StateInProgress      EscrowState = "in_progress"
	StateReadyForRelease EscrowState = "ready_for_release"
	StateCompleted       EscrowState = "completed"
	StateRefunded        EscrowState = "refunded"
	StateCancelled       EscrowState = "cancelled"
	StateDisputed        EscrowState = "disputed"
)

// Terminal reports whether no further transition is defined out of s.
func (s EscrowState) Terminal() bool {
	return s == StateCompleted || s == StateRefunded || s == StateCancelled
}

type ActorRole string

const (
	RoleAdmin  ActorRole = "admin"
	RoleBuyer  ActorRole = "buyer"
	RoleSeller ActorRole = "seller"
)

type EscrowAction string

const (
	ActionCreate    EscrowAction = "create"
	ActionFund      EscrowAction = "fund"
	ActionApprove   EscrowAction = "approve"
	ActionDispute   EscrowAction = "dispute"
	ActionRelease   EscrowAction = "release"
	ActionRefund    EscrowAction = "refund"
	ActionCancel    EscrowAction = "cancel"
	ActionReconcile EscrowAction = "reconcile"
)

// Transaction is one escrowed property transaction between a buyer and a
// seller. Counterparties, amount and the eligibility window are fixed at
// creation; only State, the approval flags and the disbursement bookkeeping
// change afterwards, and never again once State is terminal.
type Transaction struct {
	ID                       string      `gorm:"primaryKey;size:64" json:"id"`
	BuyerID                  uint        `gorm:"not null;index" json:"buyer_id"`
	SellerID                 uint        `gorm:"not null;index" json:"seller_id"`
	Amount                   int64       `gorm:"not null" json:"amount"`
	PropertyReference        string      `gorm:"not null" json:"property_reference"`
	CreatedAt                time.Time   `json:"created_at"`
	ReleaseEligibleAt        time.Time   `gorm:"not null" json:"release_eligible_at"`
	State                    EscrowState `gorm:"type:varchar(20);not null;default:'pending';index" json:"state"`
	BuyerApproved            bool        `gorm:"not null;default:false" json:"buyer_approved"`
	SellerApproved           bool        `gorm:"not null;default:false" json:"seller_approved"`
	ExternalPaymentReference string      `json:"external_payment_reference,omitempty"`
	PlatformFee              int64       `gorm:"not null;default:0" json:"platform_fee"`
	SellerPayout             int64       `gorm:"not null;default:0" json:"seller_payout"`
	DisbursementReference    string      `json:"disbursement_reference,omitempty"`
	Version                  uint        `gorm:"not null;default:0" json:"-"`

	// PendingAudit carries audit entries to be written in the same database
	// transaction as the record itself. Never persisted as a column.
	PendingAudit []AuditEntry `gorm:"-" json:"-"`
}

func (Transaction) TableName() string {
	return "escrow_transactions"
}

// AuditEntry is one row of the append-only trail for a transaction. Denied
// attempts are recorded too, with a rejected outcome and unchanged state.
type AuditEntry struct {
	ID            uint         `gorm:"primaryKey" json:"-"`
	TransactionID string       `gorm:"not null;index;size:64" json:"transaction_id"`
	Seq           uint         `gorm:"not null" json:"seq"`
	ActorID       uint         `json:"actor_id"`
	ActorRole     ActorRole    `gorm:"type:varchar(10)" json:"actor_role"`
	Action        EscrowAction `gorm:"type:varchar(12)" json:"action"`
	Outcome       string       `gorm:"not null" json:"outcome"`
	RefID         string       `gorm:"size:36" json:"ref_id"`
	CreatedAt     time.Time    `gorm:"autoCreateTime" json:"created_at"`
}

func (AuditEntry) TableName() string {
	return "escrow_audit_log"
}

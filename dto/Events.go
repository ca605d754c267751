package dto

// PaymentCapturedDTO is the notification the billing service publishes once
// an external payment processor confirms receipt of the buyer's deposit.
type PaymentCapturedDTO struct {
	TransactionID    string `json:"transactionId"`
	PaymentReference string `json:"paymentReference"`
}

// EscrowDisbursedDTO is emitted after funds have been released to the seller
// (fee and payout settled together under one idempotency key).
type EscrowDisbursedDTO struct {
	TransactionID string `json:"transactionId"`
	ReceiptID     string `json:"receiptId"`
	Amount        int64  `json:"amount"`
	PlatformFee   int64  `json:"platformFee"`
	SellerPayout  int64  `json:"sellerPayout"`
}

// EscrowRefundedDTO is emitted after a full refund to the buyer.
type EscrowRefundedDTO struct {
	TransactionID string `json:"transactionId"`
	ReceiptID     string `json:"receiptId"`
	Amount        int64  `json:"amount"`
}

// EscrowReconcileDTO flags a disbursement whose rail outcome is unknown and
// needs operator attention.
type EscrowReconcileDTO struct {
	TransactionID  string `json:"transactionId"`
	IdempotencyKey string `json:"idempotencyKey"`
	Reason         string `json:"reason"`
}

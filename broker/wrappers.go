package broker

import "rei360.com/dto"

func SendEscrowDisbursed(payload *dto.EscrowDisbursedDTO) error {
	return sendReliable("/queue/escrow-disbursed", payload)
}

func SendEscrowRefunded(payload *dto.EscrowRefundedDTO) error {
	return sendReliable("/queue/escrow-refunded", payload)
}

func SendEscrowReconcile(payload *dto.EscrowReconcileDTO) error {
	return sendReliable("/queue/escrow-reconcile", payload)
}

package escrow

// MaxFeeRateBps caps the platform fee at 5%.
const MaxFeeRateBps = 500

// ComputeFee splits amount into the platform fee and the seller payout for
// the given fee rate in basis points. The payout is derived by subtraction,
// so fee + payout == amount holds for every input without rounding drift.
func ComputeFee(amount int64, feeRateBps int64) (platformFee int64, sellerPayout int64, err error) {
	if feeRateBps < 0 || feeRateBps > MaxFeeRateBps {
		return 0, 0, &ConfigurationError{Param: "fee_rate_bps", Value: feeRateBps}
	}
	platformFee = amount * feeRateBps / 10000
	sellerPayout = amount - platformFee
	return platformFee, sellerPayout, nil
}

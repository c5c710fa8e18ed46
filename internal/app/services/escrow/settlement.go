package escrow

import (
	"math"

	apperrors "github.com/campuslance/platform/internal/errors"
)

// Platform fee split applied to every escrow payment.
const (
	ClientFeeRate  = 0.005
	StudentFeeRate = 0.005
)

// DefaultCurrency is used when a task does not specify one.
const DefaultCurrency = "INR"

// Settlement is the fee breakdown of an escrow amount. The parts always sum
// back to Amount within one minor unit.
type Settlement struct {
	Amount             float64
	Currency           string
	PlatformFeeClient  float64
	PlatformFeeStudent float64
	NetToStudent       float64
}

// round2 rounds to two decimals, half away from zero.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ComputeSettlement splits amount into platform fees and the student's net.
// Non-positive amounts are rejected before any order or record is created.
func ComputeSettlement(amount float64, currency string) (Settlement, error) {
	if amount <= 0 {
		return Settlement{}, apperrors.InvalidAmount("escrow amount %.2f must be positive", amount)
	}
	if currency == "" {
		currency = DefaultCurrency
	}

	feeClient := round2(amount * ClientFeeRate)
	feeStudent := round2(amount * StudentFeeRate)
	net := round2(amount - feeClient - feeStudent)

	return Settlement{
		Amount:             round2(amount),
		Currency:           currency,
		PlatformFeeClient:  feeClient,
		PlatformFeeStudent: feeStudent,
		NetToStudent:       net,
	}, nil
}

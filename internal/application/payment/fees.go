package payment

import (
	"github.com/lllypuk/estately/internal/domain/payment"
)

const basisPoints = 10_000

// FeePolicy computes the fee breakdown charged on top of the amount.
type FeePolicy interface {
	Compute(amount int64, method payment.Method) payment.Fees
}

// PercentageFees charges platform and processing fees in basis points plus a
// flat provider fee per method. Fractions round half up.
type PercentageFees struct {
	PlatformBPS   int64
	ProcessingBPS int64
	ProviderFlat  map[payment.Method]int64
}

// Compute implements FeePolicy.
func (p PercentageFees) Compute(amount int64, method payment.Method) payment.Fees {
	return payment.NewFees(
		bps(amount, p.PlatformBPS),
		bps(amount, p.ProcessingBPS),
		p.ProviderFlat[method],
	)
}

func bps(amount, rate int64) int64 {
	return (amount*rate + basisPoints/2) / basisPoints
}

// NoFees charges nothing.
type NoFees struct{}

// Compute implements FeePolicy.
func (NoFees) Compute(int64, payment.Method) payment.Fees {
	return payment.Fees{}
}

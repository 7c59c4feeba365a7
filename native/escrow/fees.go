package escrow

import (
	"fmt"

	"github.com/holiman/uint256"
)

const (
	// FeeDivisor turns a percentage into a fraction.
	FeeDivisor = 100
	// MaxFeePct is the largest accepted fee percentage.
	MaxFeePct = 100
)

var feeDivisor = uint256.NewInt(FeeDivisor)

// Fee returns floor(amount * pct / 100). The product is evaluated in 256-bit
// arithmetic so large amounts never wrap.
func Fee(amount, pct uint64) (uint64, error) {
	if amount == 0 || pct == 0 {
		return 0, nil
	}
	product := new(uint256.Int).Mul(uint256.NewInt(amount), uint256.NewInt(pct))
	fee := product.Div(product, feeDivisor)
	if !fee.IsUint64() {
		return 0, fmt.Errorf("%w: fee on %d at %d%% overflows", ErrInvalidParameter, amount, pct)
	}
	return fee.Uint64(), nil
}

// ValidateFeePct rejects percentages above MaxFeePct.
func ValidateFeePct(pct uint64) error {
	if pct > MaxFeePct {
		return fmt.Errorf("%w: fee percentage %d exceeds %d", ErrInvalidParameter, pct, MaxFeePct)
	}
	return nil
}

// ReleaseSplit describes how a pending contract's deposit is disbursed on
// release. Surplus is value found in the escrow vault beyond the deposit; it
// is swept to the platform fee vault together with the fees.
type ReleaseSplit struct {
	SellerPayout uint64
	SellerFee    uint64
	BuyerFee     uint64
	Surplus      uint64
}

// PlatformShare is the value credited to the platform fee vault.
func (s ReleaseSplit) PlatformShare() uint64 {
	return s.BuyerFee + s.SellerFee + s.Surplus
}

// SplitRelease computes the release disbursement for c at the given seller
// fee percentage. The seller payout plus the platform share always equals the
// contract deposit.
func SplitRelease(c *Contract, sellerFeePct uint64) (ReleaseSplit, error) {
	if c == nil {
		return ReleaseSplit{}, fmt.Errorf("%w: nil contract", ErrInvalidParameter)
	}
	sellerFee, err := Fee(c.Amount, sellerFeePct)
	if err != nil {
		return ReleaseSplit{}, err
	}
	if sellerFee > c.Amount {
		return ReleaseSplit{}, fmt.Errorf("%w: seller fee %d exceeds amount %d", ErrInvalidParameter, sellerFee, c.Amount)
	}
	return ReleaseSplit{
		SellerPayout: c.Amount - sellerFee,
		SellerFee:    sellerFee,
		BuyerFee:     c.BuyerFee,
	}, nil
}

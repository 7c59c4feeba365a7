package escrow

import "fmt"

// ContractStatus represents the settlement state of a contract.
type ContractStatus uint8

const (
	ContractPending ContractStatus = iota
	ContractReleased
	ContractRefunded
)

// String returns the lowercase label used in events and RPC payloads.
func (s ContractStatus) String() string {
	switch s {
	case ContractPending:
		return "pending"
	case ContractReleased:
		return "released"
	case ContractRefunded:
		return "refunded"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Valid reports whether the status value is within the supported range.
func (s ContractStatus) Valid() bool {
	switch s {
	case ContractPending, ContractReleased, ContractRefunded:
		return true
	default:
		return false
	}
}

// GlobalState is the singleton holding the administrator and the fee
// percentages consulted on settlement.
type GlobalState struct {
	Admin        [20]byte
	BuyerFeePct  uint64
	SellerFeePct uint64
}

// Clone returns a copy of the global state.
func (g *GlobalState) Clone() *GlobalState {
	if g == nil {
		return nil
	}
	clone := *g
	return &clone
}

// BuyerCounter is the per-buyer sequence used to derive contract addresses.
type BuyerCounter struct {
	Owner   [20]byte
	Counter uint64
}

// Contract captures the escrow terms and settlement state of a single
// buyer/seller agreement. BuyerFee is the buyer-side platform fee pre-paid
// into the escrow vault when the contract was started.
type Contract struct {
	Address        [32]byte
	Buyer          [20]byte
	Seller         [20]byte
	CID            string
	Amount         uint64
	BuyerFee       uint64
	SequenceNumber uint64
	Status         ContractStatus
}

// Clone returns a deep copy of the contract so callers can safely mutate
// the copy without affecting the stored instance.
func (c *Contract) Clone() *Contract {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// IsReleased reports whether payment was released to the seller. A refunded
// contract is settled but not released.
func (c *Contract) IsReleased() bool {
	return c != nil && c.Status == ContractReleased
}

// Settled reports whether the contract reached a terminal state.
func (c *Contract) Settled() bool {
	return c != nil && c.Status != ContractPending
}

// Deposit is the value locked in the escrow vault while the contract is
// pending.
func (c *Contract) Deposit() uint64 {
	if c == nil {
		return 0
	}
	return c.Amount + c.BuyerFee
}

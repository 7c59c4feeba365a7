package escrow

import (
	"encoding/hex"
	"strconv"

	"payai/core/types"
	"payai/crypto"
)

const (
	EventTypeGlobalInitialized  = "escrow.global.initialized"
	EventTypeAdminUpdated       = "escrow.admin.updated"
	EventTypeFeeUpdated         = "escrow.fee.updated"
	EventTypeCounterInitialized = "escrow.counter.initialized"
	EventTypeContractStarted    = "escrow.contract.started"
	EventTypeContractReleased   = "escrow.contract.released"
	EventTypeContractRefunded   = "escrow.contract.refunded"
	EventTypeFeesCollected      = "escrow.fees.collected"
)

// Fee sides reported by EventTypeFeeUpdated.
const (
	FeeSideBuyer  = "buyer"
	FeeSideSeller = "seller"
)

func formatIdentity(id [20]byte) string {
	return crypto.FormatIdentity(id)
}

func formatUint(v uint64) string { return strconv.FormatUint(v, 10) }

// NewGlobalStateInitializedEvent returns the payload emitted once the
// singleton exists.
func NewGlobalStateInitializedEvent(gs *GlobalState) *types.Event {
	attrs := make(map[string]string)
	if gs != nil {
		attrs["admin"] = formatIdentity(gs.Admin)
		attrs["buyerFeePct"] = formatUint(gs.BuyerFeePct)
		attrs["sellerFeePct"] = formatUint(gs.SellerFeePct)
	}
	return &types.Event{Type: EventTypeGlobalInitialized, Attributes: attrs}
}

// NewAdminUpdatedEvent returns the payload for an administrator hand-over.
func NewAdminUpdatedEvent(previous, next [20]byte) *types.Event {
	return &types.Event{Type: EventTypeAdminUpdated, Attributes: map[string]string{
		"previous": formatIdentity(previous),
		"admin":    formatIdentity(next),
	}}
}

// NewFeeUpdatedEvent returns the payload for a fee percentage change.
func NewFeeUpdatedEvent(side string, previous, next uint64) *types.Event {
	return &types.Event{Type: EventTypeFeeUpdated, Attributes: map[string]string{
		"side":     side,
		"previous": formatUint(previous),
		"pct":      formatUint(next),
	}}
}

// NewCounterInitializedEvent returns the payload for a new buyer counter.
func NewCounterInitializedEvent(c *BuyerCounter) *types.Event {
	attrs := make(map[string]string)
	if c != nil {
		attrs["buyer"] = formatIdentity(c.Owner)
		attrs["counter"] = formatUint(c.Counter)
	}
	return &types.Event{Type: EventTypeCounterInitialized, Attributes: attrs}
}

// NewContractEvent returns the canonical contract payload under eventType.
func NewContractEvent(eventType string, c *Contract) *types.Event {
	attrs := make(map[string]string)
	if c == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["contract"] = hex.EncodeToString(c.Address[:])
	attrs["buyer"] = formatIdentity(c.Buyer)
	attrs["seller"] = formatIdentity(c.Seller)
	attrs["cid"] = c.CID
	attrs["amount"] = formatUint(c.Amount)
	attrs["buyerFee"] = formatUint(c.BuyerFee)
	attrs["sequence"] = formatUint(c.SequenceNumber)
	attrs["status"] = c.Status.String()
	return &types.Event{Type: eventType, Attributes: attrs}
}

// NewReleasedEvent extends the contract payload with the release split.
func NewReleasedEvent(c *Contract, split ReleaseSplit) *types.Event {
	evt := NewContractEvent(EventTypeContractReleased, c)
	evt.Attributes["sellerPayout"] = formatUint(split.SellerPayout)
	evt.Attributes["sellerFee"] = formatUint(split.SellerFee)
	evt.Attributes["platformFee"] = formatUint(split.PlatformShare())
	if split.Surplus > 0 {
		evt.Attributes["surplus"] = formatUint(split.Surplus)
	}
	return evt
}

// NewRefundedEvent extends the contract payload with the value returned to the
// buyer.
func NewRefundedEvent(c *Contract, returned uint64) *types.Event {
	evt := NewContractEvent(EventTypeContractRefunded, c)
	evt.Attributes["returned"] = formatUint(returned)
	return evt
}

// NewFeesCollectedEvent returns the payload for a platform fee sweep.
func NewFeesCollectedEvent(admin [20]byte, amount, remaining uint64) *types.Event {
	return &types.Event{Type: EventTypeFeesCollected, Attributes: map[string]string{
		"admin":     formatIdentity(admin),
		"amount":    formatUint(amount),
		"remaining": formatUint(remaining),
	}}
}

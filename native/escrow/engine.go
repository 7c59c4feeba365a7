package escrow

import (
	"fmt"
	"log/slog"
	"math"
	"math/bits"

	"payai/core/events"
	"payai/core/state"
	"payai/core/types"
	"payai/observability"
)

// MaxCIDLength bounds the content identifier stored with a contract.
const MaxCIDLength = 64

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine applies the escrow state machine on top of the state manager. Every
// operation is one atomic state transaction: either all of its record writes
// and value transfers commit, or none do.
type Engine struct {
	state        *state.Manager
	emitter      events.Emitter
	logger       *slog.Logger
	defaultAdmin [20]byte
	vaultReserve uint64
}

// NewEngine creates an escrow engine bound to the state manager. defaultAdmin
// is the deployment identity allowed to initialise the global state.
func NewEngine(mgr *state.Manager, defaultAdmin [20]byte) *Engine {
	return &Engine{
		state:        mgr,
		emitter:      events.NoopEmitter{},
		logger:       slog.Default(),
		defaultAdmin: defaultAdmin,
	}
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetLogger overrides the structured logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetFeeVaultReserve sets the balance CollectPlatformFees leaves behind in the
// platform fee vault.
func (e *Engine) SetFeeVaultReserve(reserve uint64) { e.vaultReserve = reserve }

// DefaultAdmin returns the identity allowed to initialise the global state.
func (e *Engine) DefaultAdmin() [20]byte { return e.defaultAdmin }

// apply runs fn as one state transaction, then records the outcome and emits
// the produced events once the writes are durable.
func (e *Engine) apply(op string, caller [20]byte, fn func(tx *state.Txn) ([]*types.Event, error)) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	var emitted []*types.Event
	err := e.state.Update(func(tx *state.Txn) error {
		evts, err := fn(tx)
		if err != nil {
			return err
		}
		emitted = evts
		return nil
	})
	metrics := observability.EscrowMetrics()
	if err != nil {
		kind := ErrorKind(err)
		metrics.RecordOperation(op, kind)
		e.logger.Warn("escrow operation rejected",
			slog.String("operation", op),
			slog.String("caller", formatIdentity(caller)),
			slog.String("kind", kind),
			slog.String("error", err.Error()))
		return err
	}
	metrics.RecordOperation(op, "")
	for _, evt := range emitted {
		e.logger.Info("escrow transition", slog.String("operation", op), slog.String("event", evt.Type))
		e.emitter.Emit(escrowEvent{evt: evt})
	}
	return nil
}

func loadGlobalState(tx *state.Txn) (*GlobalState, error) {
	gs := new(GlobalState)
	if err := tx.Read(GlobalStateAddress(), gs); err != nil {
		return nil, fmt.Errorf("global state: %w", err)
	}
	return gs, nil
}

func requireAdmin(tx *state.Txn, caller [20]byte) (*GlobalState, error) {
	gs, err := loadGlobalState(tx)
	if err != nil {
		return nil, err
	}
	if caller != gs.Admin {
		return nil, fmt.Errorf("%w: caller is not the administrator", ErrUnauthorized)
	}
	return gs, nil
}

func loadContract(tx *state.Txn, addr [32]byte) (*Contract, error) {
	c := new(Contract)
	if err := tx.Read(addr, c); err != nil {
		return nil, fmt.Errorf("contract: %w", err)
	}
	return c, nil
}

// InitializeGlobalState creates the singleton. Only the deployment default
// administrator may call it, and only once.
func (e *Engine) InitializeGlobalState(caller [20]byte) error {
	return e.apply("initialize_global_state", caller, func(tx *state.Txn) ([]*types.Event, error) {
		if caller == ([20]byte{}) || caller != e.defaultAdmin {
			return nil, fmt.Errorf("%w: caller is not the default administrator", ErrUnauthorized)
		}
		gs := &GlobalState{Admin: caller}
		if err := tx.Create(GlobalStateAddress(), gs); err != nil {
			return nil, fmt.Errorf("global state: %w", err)
		}
		return []*types.Event{NewGlobalStateInitializedEvent(gs)}, nil
	})
}

// UpdateAdmin hands the administrator role to newAdmin. The previous admin
// loses every administrative capability immediately.
func (e *Engine) UpdateAdmin(caller, newAdmin [20]byte) error {
	return e.apply("update_admin", caller, func(tx *state.Txn) ([]*types.Event, error) {
		gs, err := requireAdmin(tx, caller)
		if err != nil {
			return nil, err
		}
		if newAdmin == ([20]byte{}) {
			return nil, fmt.Errorf("%w: new admin must not be the zero identity", ErrInvalidParameter)
		}
		previous := gs.Admin
		gs.Admin = newAdmin
		if err := tx.Write(GlobalStateAddress(), gs); err != nil {
			return nil, err
		}
		return []*types.Event{NewAdminUpdatedEvent(previous, newAdmin)}, nil
	})
}

// UpdateBuyerFee sets the buyer-side fee percentage.
func (e *Engine) UpdateBuyerFee(caller [20]byte, pct uint64) error {
	return e.updateFee("update_buyer_fee", FeeSideBuyer, caller, pct)
}

// UpdateSellerFee sets the seller-side fee percentage.
func (e *Engine) UpdateSellerFee(caller [20]byte, pct uint64) error {
	return e.updateFee("update_seller_fee", FeeSideSeller, caller, pct)
}

func (e *Engine) updateFee(op, side string, caller [20]byte, pct uint64) error {
	return e.apply(op, caller, func(tx *state.Txn) ([]*types.Event, error) {
		gs, err := requireAdmin(tx, caller)
		if err != nil {
			return nil, err
		}
		if err := ValidateFeePct(pct); err != nil {
			return nil, err
		}
		var previous uint64
		if side == FeeSideBuyer {
			previous, gs.BuyerFeePct = gs.BuyerFeePct, pct
		} else {
			previous, gs.SellerFeePct = gs.SellerFeePct, pct
		}
		if err := tx.Write(GlobalStateAddress(), gs); err != nil {
			return nil, err
		}
		return []*types.Event{NewFeeUpdatedEvent(side, previous, pct)}, nil
	})
}

// InitializeBuyerContractCounter creates the caller's sequence counter at 0.
func (e *Engine) InitializeBuyerContractCounter(caller [20]byte) error {
	return e.apply("initialize_buyer_counter", caller, func(tx *state.Txn) ([]*types.Event, error) {
		counter := &BuyerCounter{Owner: caller}
		if err := tx.Create(CounterAddress(caller), counter); err != nil {
			return nil, fmt.Errorf("buyer contract counter: %w", err)
		}
		return []*types.Event{NewCounterInitializedEvent(counter)}, nil
	})
}

// StartContract opens and funds a contract at the caller's next sequence
// number. The caller deposits amount plus the buyer fee into the contract's
// escrow vault.
func (e *Engine) StartContract(caller [20]byte, cid string, seller [20]byte, amount uint64) (*Contract, error) {
	var started *Contract
	err := e.apply("start_contract", caller, func(tx *state.Txn) ([]*types.Event, error) {
		if amount == 0 {
			return nil, fmt.Errorf("%w: escrow amount must be positive", ErrInvalidParameter)
		}
		if seller == ([20]byte{}) {
			return nil, fmt.Errorf("%w: seller must not be the zero identity", ErrInvalidParameter)
		}
		if cid == "" || len(cid) > MaxCIDLength {
			return nil, fmt.Errorf("%w: cid must be 1-%d bytes", ErrInvalidParameter, MaxCIDLength)
		}
		gs, err := loadGlobalState(tx)
		if err != nil {
			return nil, err
		}
		counterAddr := CounterAddress(caller)
		counter := new(BuyerCounter)
		if err := tx.Read(counterAddr, counter); err != nil {
			return nil, fmt.Errorf("buyer contract counter: %w", err)
		}
		if counter.Counter == math.MaxUint64 {
			return nil, fmt.Errorf("%w: buyer contract counter exhausted", ErrInvalidState)
		}
		buyerFee, err := Fee(amount, gs.BuyerFeePct)
		if err != nil {
			return nil, err
		}
		deposit, carry := bits.Add64(amount, buyerFee, 0)
		if carry != 0 {
			return nil, fmt.Errorf("%w: amount plus buyer fee overflows", ErrInvalidParameter)
		}

		addr := ContractAddress(caller, counter.Counter)
		contract := &Contract{
			Address:        addr,
			Buyer:          caller,
			Seller:         seller,
			CID:            cid,
			Amount:         amount,
			BuyerFee:       buyerFee,
			SequenceNumber: counter.Counter,
			Status:         ContractPending,
		}
		if err := tx.Create(addr, contract); err != nil {
			return nil, fmt.Errorf("contract: %w", err)
		}
		if err := tx.Transfer(caller, EscrowVaultAddress(addr), deposit); err != nil {
			return nil, fmt.Errorf("fund escrow: %w", err)
		}
		counter.Counter++
		if err := tx.Write(counterAddr, counter); err != nil {
			return nil, err
		}
		started = contract
		return []*types.Event{NewContractEvent(EventTypeContractStarted, contract)}, nil
	})
	if err != nil {
		return nil, err
	}
	return started.Clone(), nil
}

// ReleasePayment settles a pending contract in favour of the seller. Either
// the buyer or the administrator may release.
func (e *Engine) ReleasePayment(caller [20]byte, contractAddr [32]byte) (*Contract, error) {
	var released *Contract
	var split ReleaseSplit
	err := e.apply("release_payment", caller, func(tx *state.Txn) ([]*types.Event, error) {
		contract, err := loadContract(tx, contractAddr)
		if err != nil {
			return nil, err
		}
		gs, err := loadGlobalState(tx)
		if err != nil {
			return nil, err
		}
		if caller != contract.Buyer && caller != gs.Admin {
			return nil, fmt.Errorf("%w: only the buyer or administrator may release", ErrUnauthorized)
		}
		if contract.Settled() {
			return nil, fmt.Errorf("%w: contract already %s", ErrInvalidState, contract.Status)
		}
		split, err = SplitRelease(contract, gs.SellerFeePct)
		if err != nil {
			return nil, err
		}
		vault := EscrowVaultAddress(contractAddr)
		if err := tx.Transfer(vault, contract.Seller, split.SellerPayout); err != nil {
			return nil, fmt.Errorf("pay seller: %w", err)
		}
		remaining, err := tx.Balance(vault)
		if err != nil {
			return nil, err
		}
		if remaining < split.PlatformShare() {
			return nil, fmt.Errorf("%w: have %d, platform share %d", errVaultImbalance, remaining, split.PlatformShare())
		}
		// Anything credited to the vault from outside is swept with the fees
		// so the vault always ends empty.
		split.Surplus = remaining - split.PlatformShare()
		if err := tx.Transfer(vault, FeeVaultAddress(), remaining); err != nil {
			return nil, fmt.Errorf("accrue platform fee: %w", err)
		}
		contract.Status = ContractReleased
		if err := tx.Write(contractAddr, contract); err != nil {
			return nil, err
		}
		released = contract
		return []*types.Event{NewReleasedEvent(contract, split)}, nil
	})
	if err != nil {
		return nil, err
	}
	metrics := observability.EscrowMetrics()
	metrics.RecordSettled("seller_payout", split.SellerPayout)
	metrics.RecordSettled("platform_fee", split.PlatformShare())
	return released.Clone(), nil
}

// RefundBuyer returns a pending contract's whole escrow vault (at least the
// amount plus the pre-paid buyer fee) to the buyer. Only the administrator may
// refund.
func (e *Engine) RefundBuyer(caller [20]byte, contractAddr [32]byte) (*Contract, error) {
	var refunded *Contract
	var returned uint64
	err := e.apply("refund_buyer", caller, func(tx *state.Txn) ([]*types.Event, error) {
		contract, err := loadContract(tx, contractAddr)
		if err != nil {
			return nil, err
		}
		if _, err := requireAdmin(tx, caller); err != nil {
			return nil, err
		}
		if contract.Settled() {
			return nil, fmt.Errorf("%w: contract already %s", ErrInvalidState, contract.Status)
		}
		vault := EscrowVaultAddress(contractAddr)
		held, err := tx.Balance(vault)
		if err != nil {
			return nil, err
		}
		if held < contract.Deposit() {
			return nil, fmt.Errorf("%w: have %d, deposit %d", errVaultImbalance, held, contract.Deposit())
		}
		if err := tx.Transfer(vault, contract.Buyer, held); err != nil {
			return nil, fmt.Errorf("refund buyer: %w", err)
		}
		contract.Status = ContractRefunded
		if err := tx.Write(contractAddr, contract); err != nil {
			return nil, err
		}
		refunded = contract
		returned = held
		return []*types.Event{NewRefundedEvent(contract, held)}, nil
	})
	if err != nil {
		return nil, err
	}
	observability.EscrowMetrics().RecordSettled("refund", returned)
	return refunded.Clone(), nil
}

// CollectPlatformFees moves the platform fee vault balance above the
// configured reserve to the administrator and returns the amount moved.
func (e *Engine) CollectPlatformFees(caller [20]byte) (uint64, error) {
	var collected uint64
	err := e.apply("collect_platform_fees", caller, func(tx *state.Txn) ([]*types.Event, error) {
		gs, err := requireAdmin(tx, caller)
		if err != nil {
			return nil, err
		}
		vault := FeeVaultAddress()
		balance, err := tx.Balance(vault)
		if err != nil {
			return nil, err
		}
		if balance <= e.vaultReserve {
			collected = 0
		} else {
			collected = balance - e.vaultReserve
		}
		if err := tx.Transfer(vault, gs.Admin, collected); err != nil {
			return nil, fmt.Errorf("collect fees: %w", err)
		}
		return []*types.Event{NewFeesCollectedEvent(gs.Admin, collected, balance-collected)}, nil
	})
	if err != nil {
		return 0, err
	}
	observability.EscrowMetrics().RecordSettled("fee_collection", collected)
	return collected, nil
}

// GlobalState returns the current singleton.
func (e *Engine) GlobalState() (*GlobalState, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var gs *GlobalState
	err := e.state.View(func(tx *state.Txn) error {
		var err error
		gs, err = loadGlobalState(tx)
		return err
	})
	return gs, err
}

// BuyerCounter returns the sequence counter owned by buyer.
func (e *Engine) BuyerCounter(buyer [20]byte) (*BuyerCounter, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	counter := new(BuyerCounter)
	err := e.state.View(func(tx *state.Txn) error {
		if err := tx.Read(CounterAddress(buyer), counter); err != nil {
			return fmt.Errorf("buyer contract counter: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counter, nil
}

// ReadContract returns the contract stored at addr. Contracts are readable by
// anyone.
func (e *Engine) ReadContract(addr [32]byte) (*Contract, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var contract *Contract
	err := e.state.View(func(tx *state.Txn) error {
		var err error
		contract, err = loadContract(tx, addr)
		return err
	})
	return contract, err
}

// Balance returns the ledger balance of any account.
func (e *Engine) Balance(addr [20]byte) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	var balance uint64
	err := e.state.View(func(tx *state.Txn) error {
		var err error
		balance, err = tx.Balance(addr)
		return err
	})
	return balance, err
}

// FeeVaultBalance returns the accumulated, uncollected platform fees.
func (e *Engine) FeeVaultBalance() (uint64, error) {
	return e.Balance(FeeVaultAddress())
}

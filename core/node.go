package core

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	coreerrors "payai/core/errors"
	"payai/core/events"
	"payai/core/state"
	"payai/core/types"
	"payai/native/escrow"
	"payai/storage"
)

const (
	genesisMarker = "genesis"

	// DefaultMaxSkew applies when NodeOptions leaves MaxSkew unset.
	DefaultMaxSkew = 2 * time.Minute
)

// NodeOptions tunes how a node admits instructions and seeds its ledger.
type NodeOptions struct {
	// Network is the deployment name instructions must be signed for.
	Network string
	MaxSkew time.Duration
	// ReplayWindow is raised to at least twice MaxSkew: an instruction stamped
	// at the far edge of the skew window stays admissible for 2*MaxSkew.
	ReplayWindow    time.Duration
	FeeVaultReserve uint64
	// Genesis balances are credited once, on the first start against an empty
	// database.
	Genesis map[[20]byte]uint64
	Logger  *slog.Logger
	Emitter events.Emitter
}

// Receipt describes the outcome of an applied instruction.
type Receipt struct {
	Hash      string
	Type      string
	Caller    [20]byte
	Contract  *escrow.Contract
	Collected uint64
}

// Node is the central controller, wiring storage, state and the escrow engine
// together behind signed instructions.
type Node struct {
	db     storage.Database
	state  *state.Manager
	engine *escrow.Engine
	logger *slog.Logger

	network      string
	maxSkew      time.Duration
	replayWindow time.Duration
	now          func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewNode(db storage.Database, defaultAdmin [20]byte, opts NodeOptions) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("node: nil database")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mgr := state.NewManager(db)
	engine := escrow.NewEngine(mgr, defaultAdmin)
	engine.SetLogger(logger)
	engine.SetEmitter(opts.Emitter)
	engine.SetFeeVaultReserve(opts.FeeVaultReserve)

	maxSkew := opts.MaxSkew
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	replayWindow := opts.ReplayWindow
	if replayWindow < 2*maxSkew {
		replayWindow = 2 * maxSkew
	}
	n := &Node{
		db:           db,
		state:        mgr,
		engine:       engine,
		logger:       logger,
		network:      opts.Network,
		maxSkew:      maxSkew,
		replayWindow: replayWindow,
		now:          time.Now,
		seen:         make(map[string]time.Time),
	}
	if err := n.applyGenesis(opts.Genesis); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Node) applyGenesis(balances map[[20]byte]uint64) error {
	return n.state.Update(func(tx *state.Txn) error {
		if _, ok, err := tx.MetaGet(genesisMarker); err != nil {
			return err
		} else if ok {
			return nil
		}
		for addr, amount := range balances {
			if err := tx.Credit(addr, amount); err != nil {
				return fmt.Errorf("genesis credit: %w", err)
			}
		}
		n.logger.Info("genesis allocations applied", slog.Int("accounts", len(balances)))
		return tx.MetaPut(genesisMarker, []byte{1})
	})
}

// SetClock overrides the time source used for timestamp and replay checks.
func (n *Node) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	n.now = now
}

// Network returns the deployment name the node accepts instructions for.
func (n *Node) Network() string { return n.network }

// Engine exposes the escrow engine for read access.
func (n *Node) Engine() *escrow.Engine { return n.engine }

// Close releases the underlying database.
func (n *Node) Close() {
	if n.db != nil {
		n.db.Close()
	}
}

// Submit verifies a signed instruction and applies it to the escrow engine.
func (n *Node) Submit(ins *types.Instruction) (*Receipt, error) {
	if ins == nil || !ins.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown instruction type", coreerrors.ErrInvalidInstruction)
	}
	if ins.Nonce == "" {
		return nil, fmt.Errorf("%w: missing nonce", coreerrors.ErrInvalidInstruction)
	}
	if ins.Network != n.network {
		return nil, fmt.Errorf("%w: signed for network %q", coreerrors.ErrInvalidInstruction, ins.Network)
	}
	caller, err := ins.From()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coreerrors.ErrInvalidSignature, err)
	}
	hashBytes, err := ins.Hash()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coreerrors.ErrInvalidInstruction, err)
	}
	hash := "0x" + hex.EncodeToString(hashBytes)

	now := n.now()
	issued := time.Unix(int64(ins.Timestamp), 0)
	if issued.Before(now.Add(-n.maxSkew)) || issued.After(now.Add(n.maxSkew)) {
		return nil, fmt.Errorf("%w: issued %s", coreerrors.ErrStaleInstruction, issued.UTC().Format(time.RFC3339))
	}
	if !n.remember(hash, now) {
		return nil, fmt.Errorf("%w: %s", coreerrors.ErrDuplicateInstruction, hash)
	}

	receipt := &Receipt{Hash: hash, Type: ins.Type.String(), Caller: caller}
	if err := n.dispatch(ins, caller, receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

func (n *Node) dispatch(ins *types.Instruction, caller [20]byte, receipt *Receipt) error {
	var err error
	switch ins.Type {
	case types.InstructionInitializeGlobalState:
		err = n.engine.InitializeGlobalState(caller)
	case types.InstructionUpdateAdmin:
		var target [20]byte
		if target, err = identityArg(ins.Target, "target"); err == nil {
			err = n.engine.UpdateAdmin(caller, target)
		}
	case types.InstructionUpdateBuyerFee:
		err = n.engine.UpdateBuyerFee(caller, ins.Amount)
	case types.InstructionUpdateSellerFee:
		err = n.engine.UpdateSellerFee(caller, ins.Amount)
	case types.InstructionInitializeCounter:
		err = n.engine.InitializeBuyerContractCounter(caller)
	case types.InstructionStartContract:
		var seller [20]byte
		if seller, err = identityArg(ins.Target, "seller"); err == nil {
			receipt.Contract, err = n.engine.StartContract(caller, ins.CID, seller, ins.Amount)
		}
	case types.InstructionReleasePayment:
		var addr [32]byte
		if addr, err = contractArg(ins.Contract); err == nil {
			receipt.Contract, err = n.engine.ReleasePayment(caller, addr)
		}
	case types.InstructionRefundBuyer:
		var addr [32]byte
		if addr, err = contractArg(ins.Contract); err == nil {
			receipt.Contract, err = n.engine.RefundBuyer(caller, addr)
		}
	case types.InstructionCollectPlatformFees:
		receipt.Collected, err = n.engine.CollectPlatformFees(caller)
	}
	return err
}

func identityArg(raw []byte, field string) ([20]byte, error) {
	var out [20]byte
	if len(raw) != len(out) {
		return out, fmt.Errorf("%w: %s must be 20 bytes", escrow.ErrInvalidParameter, field)
	}
	copy(out[:], raw)
	return out, nil
}

func contractArg(raw []byte) ([32]byte, error) {
	var out [32]byte
	if len(raw) != len(out) {
		return out, fmt.Errorf("%w: contract must be 32 bytes", escrow.ErrInvalidParameter)
	}
	copy(out[:], raw)
	return out, nil
}

// remember records hash and reports whether it was unseen within the replay
// window.
func (n *Node) remember(hash string, now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	for h, seenAt := range n.seen {
		if now.Sub(seenAt) > n.replayWindow {
			delete(n.seen, h)
		}
	}
	if _, exists := n.seen[hash]; exists {
		return false
	}
	n.seen[hash] = now
	return true
}

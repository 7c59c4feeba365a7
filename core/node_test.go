package core

import (
	"crypto/ecdsa"
	"errors"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	coreerrors "payai/core/errors"
	"payai/core/types"
	"payai/native/escrow"
	"payai/storage"
)

type signer struct {
	key  *ecdsa.PrivateKey
	addr [20]byte
}

func newSigner(t *testing.T) signer {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var addr [20]byte
	copy(addr[:], ethcrypto.PubkeyToAddress(key.PublicKey).Bytes())
	return signer{key: key, addr: addr}
}

var testNow = time.Unix(1_700_000_000, 0)

const testNetwork = "payai-test"

func (s signer) sign(t *testing.T, ins *types.Instruction) *types.Instruction {
	t.Helper()
	ins.Timestamp = uint64(testNow.Unix())
	if err := ins.Sign(s.key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return ins
}

func newTestNode(t *testing.T, admin [20]byte, genesis map[[20]byte]uint64) *Node {
	t.Helper()
	node, err := NewNode(storage.NewMemDB(), admin, NodeOptions{
		Network:      testNetwork,
		MaxSkew:      time.Minute,
		ReplayWindow: 10 * time.Minute,
		Genesis:      genesis,
	})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	t.Cleanup(node.Close)
	node.SetClock(func() time.Time { return testNow })
	return node
}

func TestNodeAppliesSignedInstructions(t *testing.T) {
	admin := newSigner(t)
	buyer := newSigner(t)
	seller := newSigner(t)
	node := newTestNode(t, admin.addr, map[[20]byte]uint64{buyer.addr: 1_020_000})

	submit := func(s signer, ins *types.Instruction) *Receipt {
		t.Helper()
		receipt, err := node.Submit(s.sign(t, ins))
		if err != nil {
			t.Fatalf("%s: %v", ins.Type, err)
		}
		return receipt
	}

	submit(admin, types.NewInstruction(testNetwork, types.InstructionInitializeGlobalState))
	fee := types.NewInstruction(testNetwork, types.InstructionUpdateBuyerFee)
	fee.Amount = 2
	submit(admin, fee)
	fee = types.NewInstruction(testNetwork, types.InstructionUpdateSellerFee)
	fee.Amount = 2
	submit(admin, fee)
	submit(buyer, types.NewInstruction(testNetwork, types.InstructionInitializeCounter))

	start := types.NewInstruction(testNetwork, types.InstructionStartContract)
	start.CID = "bafy-order-1"
	start.Target = seller.addr[:]
	start.Amount = 1_000_000
	receipt := submit(buyer, start)
	if receipt.Contract == nil || receipt.Contract.Buyer != buyer.addr {
		t.Fatalf("unexpected start receipt: %+v", receipt)
	}

	release := types.NewInstruction(testNetwork, types.InstructionReleasePayment)
	release.Contract = receipt.Contract.Address[:]
	released := submit(buyer, release)
	if !released.Contract.IsReleased() {
		t.Fatalf("contract not released")
	}

	collected := submit(admin, types.NewInstruction(testNetwork, types.InstructionCollectPlatformFees))
	if collected.Collected != 40_000 {
		t.Fatalf("collected %d", collected.Collected)
	}
	sellerBal, err := node.Engine().Balance(seller.addr)
	if err != nil || sellerBal != 980_000 {
		t.Fatalf("seller balance %d (%v)", sellerBal, err)
	}
}

func TestNodeRejectsReplay(t *testing.T) {
	admin := newSigner(t)
	node := newTestNode(t, admin.addr, nil)

	ins := admin.sign(t, types.NewInstruction(testNetwork, types.InstructionInitializeGlobalState))
	if _, err := node.Submit(ins); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := node.Submit(ins); !errors.Is(err, coreerrors.ErrDuplicateInstruction) {
		t.Fatalf("expected duplicate, got %v", err)
	}
}

func TestNodeRejectsOtherNetwork(t *testing.T) {
	admin := newSigner(t)
	node := newTestNode(t, admin.addr, nil)

	ins := types.NewInstruction("payai-mainnet", types.InstructionInitializeGlobalState)
	if _, err := node.Submit(admin.sign(t, ins)); !errors.Is(err, coreerrors.ErrInvalidInstruction) {
		t.Fatalf("expected invalid instruction, got %v", err)
	}
	if _, err := node.Engine().GlobalState(); !errors.Is(err, escrow.ErrNotFound) {
		t.Fatalf("instruction for another network was applied: %v", err)
	}
}

func TestNodeRemembersInstructionsForWholeSkewWindow(t *testing.T) {
	admin := newSigner(t)
	buyer := newSigner(t)
	node, err := NewNode(storage.NewMemDB(), admin.addr, NodeOptions{
		Network:      testNetwork,
		MaxSkew:      time.Minute,
		ReplayWindow: time.Minute,
		Genesis:      map[[20]byte]uint64{buyer.addr: 1_000},
	})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	t.Cleanup(node.Close)
	now := testNow
	node.SetClock(func() time.Time { return now })

	if _, err := node.Submit(admin.sign(t, types.NewInstruction(testNetwork, types.InstructionInitializeGlobalState))); err != nil {
		t.Fatalf("init global state: %v", err)
	}
	if _, err := node.Submit(buyer.sign(t, types.NewInstruction(testNetwork, types.InstructionInitializeCounter))); err != nil {
		t.Fatalf("init counter: %v", err)
	}

	start := types.NewInstruction(testNetwork, types.InstructionStartContract)
	start.CID = "bafy-order-1"
	start.Target = admin.addr[:]
	start.Amount = 100
	start.Timestamp = uint64(testNow.Add(time.Minute).Unix())
	if err := start.Sign(buyer.key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := node.Submit(start); err != nil {
		t.Fatalf("start: %v", err)
	}

	now = testNow.Add(61 * time.Second)
	if _, err := node.Submit(start); !errors.Is(err, coreerrors.ErrDuplicateInstruction) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	now = testNow.Add(121 * time.Second)
	if _, err := node.Submit(start); !errors.Is(err, coreerrors.ErrStaleInstruction) {
		t.Fatalf("expected stale, got %v", err)
	}

	counter, err := node.Engine().BuyerCounter(buyer.addr)
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	bal, err := node.Engine().Balance(buyer.addr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if counter.Counter != 1 || bal != 900 {
		t.Fatalf("buyer charged more than once: counter %d balance %d", counter.Counter, bal)
	}
}

func TestNodeRejectsStaleTimestamp(t *testing.T) {
	admin := newSigner(t)
	node := newTestNode(t, admin.addr, nil)

	for _, offset := range []time.Duration{-2 * time.Minute, 2 * time.Minute} {
		ins := types.NewInstruction(testNetwork, types.InstructionInitializeGlobalState)
		ins.Timestamp = uint64(testNow.Add(offset).Unix())
		if err := ins.Sign(admin.key); err != nil {
			t.Fatalf("sign: %v", err)
		}
		if _, err := node.Submit(ins); !errors.Is(err, coreerrors.ErrStaleInstruction) {
			t.Fatalf("offset %s: expected stale, got %v", offset, err)
		}
	}
}

func TestNodeRejectsMalformedInstructions(t *testing.T) {
	admin := newSigner(t)
	node := newTestNode(t, admin.addr, nil)

	unsigned := types.NewInstruction(testNetwork, types.InstructionInitializeGlobalState)
	if _, err := node.Submit(unsigned); !errors.Is(err, coreerrors.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
	unknown := admin.sign(t, types.NewInstruction(testNetwork, types.InstructionType(0x7f)))
	if _, err := node.Submit(unknown); !errors.Is(err, coreerrors.ErrInvalidInstruction) {
		t.Fatalf("expected invalid instruction, got %v", err)
	}
	release := types.NewInstruction(testNetwork, types.InstructionReleasePayment)
	release.Contract = []byte{0x01}
	if _, err := node.Submit(admin.sign(t, release)); !errors.Is(err, escrow.ErrInvalidParameter) {
		t.Fatalf("expected invalid parameter, got %v", err)
	}
}

func TestGenesisAppliedOnce(t *testing.T) {
	admin := newSigner(t)
	db := storage.NewMemDB()
	defer db.Close()
	genesis := map[[20]byte]uint64{admin.addr: 500}

	for i := 0; i < 2; i++ {
		node, err := NewNode(db, admin.addr, NodeOptions{Genesis: genesis})
		if err != nil {
			t.Fatalf("new node: %v", err)
		}
		bal, err := node.Engine().Balance(admin.addr)
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		if bal != 500 {
			t.Fatalf("start %d: balance %d", i, bal)
		}
	}
}

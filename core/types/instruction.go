package types

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/google/uuid"
)

// InstructionType defines the escrow operation an instruction invokes.
type InstructionType byte

const (
	InstructionInitializeGlobalState InstructionType = 0x01
	InstructionUpdateAdmin           InstructionType = 0x02
	InstructionUpdateBuyerFee        InstructionType = 0x03
	InstructionUpdateSellerFee       InstructionType = 0x04
	InstructionInitializeCounter     InstructionType = 0x05
	InstructionStartContract         InstructionType = 0x06
	InstructionReleasePayment        InstructionType = 0x07
	InstructionRefundBuyer           InstructionType = 0x08
	InstructionCollectPlatformFees   InstructionType = 0x09
)

var errMissingSignature = errors.New("instruction: missing signature")

// String returns the RPC label of the instruction type.
func (t InstructionType) String() string {
	switch t {
	case InstructionInitializeGlobalState:
		return "InitializeGlobalState"
	case InstructionUpdateAdmin:
		return "UpdateAdmin"
	case InstructionUpdateBuyerFee:
		return "UpdateBuyerFee"
	case InstructionUpdateSellerFee:
		return "UpdateSellerFee"
	case InstructionInitializeCounter:
		return "InitializeBuyerContractCounter"
	case InstructionStartContract:
		return "StartContract"
	case InstructionReleasePayment:
		return "ReleasePayment"
	case InstructionRefundBuyer:
		return "RefundBuyer"
	case InstructionCollectPlatformFees:
		return "CollectPlatformFees"
	default:
		return fmt.Sprintf("Unknown(%d)", byte(t))
	}
}

// Valid reports whether the type is a known instruction.
func (t InstructionType) Valid() bool {
	return t >= InstructionInitializeGlobalState && t <= InstructionCollectPlatformFees
}

// Instruction is the signed envelope submitted by a caller. The signer of the
// instruction is the caller identity the engine authorises against.
//
// Network names the deployment the instruction is signed for; a node only
// accepts instructions for its own network.
//
// Target carries the seller (StartContract) or the new admin (UpdateAdmin).
// Amount carries the escrow amount (StartContract) or the fee percentage
// (UpdateBuyerFee, UpdateSellerFee).
type Instruction struct {
	Type      InstructionType `json:"type"`
	Network   string          `json:"network"`
	Nonce     string          `json:"nonce"`
	Timestamp uint64          `json:"timestamp"`
	CID       string          `json:"cid,omitempty"`
	Target    hexutil.Bytes   `json:"target,omitempty"`
	Contract  hexutil.Bytes   `json:"contract,omitempty"`
	Amount    uint64          `json:"amount,omitempty"`
	Signature hexutil.Bytes   `json:"signature,omitempty"`

	from *[20]byte
}

// NewInstruction returns an unsigned instruction for network stamped with a
// fresh nonce and the current time.
func NewInstruction(network string, t InstructionType) *Instruction {
	return &Instruction{
		Type:      t,
		Network:   network,
		Nonce:     uuid.NewString(),
		Timestamp: uint64(time.Now().Unix()),
	}
}

// Hash returns the keccak256 digest of the RLP-encoded signing payload.
func (ins *Instruction) Hash() ([]byte, error) {
	payload := struct {
		Type      byte
		Network   string
		Nonce     string
		Timestamp uint64
		CID       string
		Target    []byte
		Contract  []byte
		Amount    uint64
	}{byte(ins.Type), ins.Network, ins.Nonce, ins.Timestamp, ins.CID, []byte(ins.Target), []byte(ins.Contract), ins.Amount}

	encoded, err := rlp.EncodeToBytes(payload)
	if err != nil {
		return nil, err
	}
	return crypto.Keccak256(encoded), nil
}

// Sign attaches a secp256k1 signature over the instruction hash.
func (ins *Instruction) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := ins.Hash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash, privKey)
	if err != nil {
		return err
	}
	ins.Signature = sig
	ins.from = nil
	return nil
}

// From recovers the signer address from the signature.
func (ins *Instruction) From() ([20]byte, error) {
	if ins.from != nil {
		return *ins.from, nil
	}
	if len(ins.Signature) != crypto.SignatureLength {
		return [20]byte{}, errMissingSignature
	}
	hash, err := ins.Hash()
	if err != nil {
		return [20]byte{}, err
	}
	pubKey, err := crypto.SigToPub(hash, ins.Signature)
	if err != nil {
		return [20]byte{}, err
	}
	var from [20]byte
	copy(from[:], crypto.PubkeyToAddress(*pubKey).Bytes())
	ins.from = &from
	return from, nil
}

package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"payai/core/types"
	"payai/crypto"
	"payai/native/escrow"
)

// submit signs an instruction with the keystore at keyPath and sends it to the
// node.
func submit(keyPath string, kind types.InstructionType, mutate func(*types.Instruction), stdout, stderr io.Writer) int {
	key, err := loadKey(keyPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	ins := types.NewInstruction(networkName, kind)
	if mutate != nil {
		mutate(ins)
	}
	if err := ins.Sign(key.PrivateKey); err != nil {
		return printError(stderr, err.Error())
	}
	return callAndPrint("escrow_submit", ins, stdout, stderr)
}

func parseContractFlag(value string) ([]byte, error) {
	if strings.TrimSpace(value) == "" {
		return nil, fmt.Errorf("--contract is required")
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("--contract must be a 32-byte hex address")
	}
	return raw, nil
}

func parseIdentityFlag(name, value string) ([20]byte, error) {
	if strings.TrimSpace(value) == "" {
		return [20]byte{}, fmt.Errorf("--%s is required", name)
	}
	id, err := crypto.ParseIdentity(value)
	if err != nil {
		return [20]byte{}, fmt.Errorf("--%s: %v", name, err)
	}
	return id, nil
}

func runInitGlobalState(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("init-global-state", stderr)
	keyPath := fs.String("key", "", "default admin keystore")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	return submit(*keyPath, types.InstructionInitializeGlobalState, nil, stdout, stderr)
}

func runUpdateAdmin(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("update-admin", stderr)
	keyPath := fs.String("key", "", "current admin keystore")
	newAdmin := fs.String("new-admin", "", "pai1... identity of the new administrator")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	target, err := parseIdentityFlag("new-admin", *newAdmin)
	if err != nil {
		return printError(stderr, err.Error())
	}
	return submit(*keyPath, types.InstructionUpdateAdmin, func(ins *types.Instruction) {
		ins.Target = target[:]
	}, stdout, stderr)
}

func runUpdateFee(name string, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(name, stderr)
	keyPath := fs.String("key", "", "admin keystore")
	pctStr := fs.String("pct", "", "fee percentage (0-100)")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	pct, err := strconv.ParseUint(strings.TrimSpace(*pctStr), 10, 64)
	if err != nil {
		return printError(stderr, "--pct must be an integer")
	}
	if err := escrow.ValidateFeePct(pct); err != nil {
		return printError(stderr, fmt.Sprintf("--pct must be <= %d", escrow.MaxFeePct))
	}
	kind := types.InstructionUpdateBuyerFee
	if name == "update-seller-fee" {
		kind = types.InstructionUpdateSellerFee
	}
	return submit(*keyPath, kind, func(ins *types.Instruction) {
		ins.Amount = pct
	}, stdout, stderr)
}

func runInitCounter(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("init-counter", stderr)
	keyPath := fs.String("key", "", "buyer keystore")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	return submit(*keyPath, types.InstructionInitializeCounter, nil, stdout, stderr)
}

func runStartContract(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("start-contract", stderr)
	keyPath := fs.String("key", "", "buyer keystore")
	sellerStr := fs.String("seller", "", "pai1... identity of the seller")
	cid := fs.String("cid", "", "content identifier of the agreement")
	amountStr := fs.String("amount", "", "escrow amount")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	seller, err := parseIdentityFlag("seller", *sellerStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	trimmedCID := strings.TrimSpace(*cid)
	if trimmedCID == "" || len(trimmedCID) > escrow.MaxCIDLength {
		return printError(stderr, fmt.Sprintf("--cid must be 1-%d bytes", escrow.MaxCIDLength))
	}
	amount, err := strconv.ParseUint(strings.ReplaceAll(strings.TrimSpace(*amountStr), "_", ""), 10, 64)
	if err != nil || amount == 0 {
		return printError(stderr, "--amount must be a positive integer")
	}
	return submit(*keyPath, types.InstructionStartContract, func(ins *types.Instruction) {
		ins.Target = seller[:]
		ins.CID = trimmedCID
		ins.Amount = amount
	}, stdout, stderr)
}

func runSettle(name string, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(name, stderr)
	keyPath := fs.String("key", "", "buyer or admin keystore")
	contractStr := fs.String("contract", "", "0x-prefixed contract address")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	contract, err := parseContractFlag(*contractStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	kind := types.InstructionReleasePayment
	if name == "refund" {
		kind = types.InstructionRefundBuyer
	}
	return submit(*keyPath, kind, func(ins *types.Instruction) {
		ins.Contract = contract
	}, stdout, stderr)
}

func runCollectFees(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("collect-fees", stderr)
	keyPath := fs.String("key", "", "admin keystore")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	return submit(*keyPath, types.InstructionCollectPlatformFees, nil, stdout, stderr)
}

func runGetContract(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("get-contract", stderr)
	contractStr := fs.String("contract", "", "0x-prefixed contract address")
	buyerStr := fs.String("buyer", "", "derive the address from this buyer and --seq")
	seq := fs.Uint64("seq", 0, "buyer sequence number used with --buyer")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if strings.TrimSpace(*buyerStr) != "" {
		buyer, err := parseIdentityFlag("buyer", *buyerStr)
		if err != nil {
			return printError(stderr, err.Error())
		}
		addr := escrow.ContractAddress(buyer, *seq)
		*contractStr = "0x" + hex.EncodeToString(addr[:])
	}
	if _, err := parseContractFlag(*contractStr); err != nil {
		return printError(stderr, err.Error())
	}
	return callAndPrint("escrow_getContract", map[string]string{"address": *contractStr}, stdout, stderr)
}

func runGlobalState(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("global-state", stderr)
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	return callAndPrint("escrow_getGlobalState", nil, stdout, stderr)
}

func runBalance(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("balance", stderr)
	address := fs.String("address", "", "pai1... identity")
	feeVault := fs.Bool("fee-vault", false, "show the platform fee vault instead")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if *feeVault {
		return callAndPrint("escrow_getFeeVault", nil, stdout, stderr)
	}
	if _, err := parseIdentityFlag("address", *address); err != nil {
		return printError(stderr, err.Error())
	}
	return callAndPrint("escrow_getBalance", map[string]string{"address": *address}, stdout, stderr)
}

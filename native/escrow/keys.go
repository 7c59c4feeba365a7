package escrow

import (
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	globalStateSeed   = []byte("global_state")
	counterSeed       = []byte("buyer_contract_counter")
	contractSeed      = []byte("contract")
	escrowVaultSeed   = []byte("escrow_vault")
	platformVaultSeed = []byte("platform_fee_vault")
)

func derive(parts ...[]byte) [32]byte {
	return ethcrypto.Keccak256Hash(parts...)
}

func deriveAccount(parts ...[]byte) [20]byte {
	hash := derive(parts...)
	var out [20]byte
	copy(out[:], hash[12:])
	return out
}

// GlobalStateAddress is the well-known record address of the singleton.
func GlobalStateAddress() [32]byte {
	return derive(globalStateSeed)
}

// CounterAddress returns the record address of the buyer's sequence counter.
func CounterAddress(buyer [20]byte) [32]byte {
	return derive(counterSeed, buyer[:])
}

// ContractAddress derives the record address of the contract opened by buyer
// at the given sequence number. Every input has a fixed width, so distinct
// (buyer, sequence) pairs never share a preimage.
func ContractAddress(buyer [20]byte, sequence uint64) [32]byte {
	var seq [8]byte
	binary.LittleEndian.PutUint64(seq[:], sequence)
	return derive(contractSeed, buyer[:], seq[:])
}

// EscrowVaultAddress returns the ledger account holding a contract's deposit.
func EscrowVaultAddress(contract [32]byte) [20]byte {
	return deriveAccount(escrowVaultSeed, contract[:])
}

// FeeVaultAddress returns the ledger account accumulating platform fees.
func FeeVaultAddress() [20]byte {
	return deriveAccount(platformVaultSeed)
}

package state

import (
	"fmt"
	"math/bits"

	"github.com/ethereum/go-ethereum/rlp"
)

var balancePrefix = []byte("balance:")

func balanceKey(addr [20]byte) []byte {
	buf := make([]byte, len(balancePrefix)+len(addr))
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], addr[:])
	return buf
}

// Balance returns the native balance held by addr. Accounts that were never
// credited read as zero.
func (tx *Txn) Balance(addr [20]byte) (uint64, error) {
	data, ok, err := tx.get(balanceKey(addr))
	if err != nil {
		return 0, err
	}
	if !ok || len(data) == 0 {
		return 0, nil
	}
	var balance uint64
	if err := rlp.DecodeBytes(data, &balance); err != nil {
		return 0, err
	}
	return balance, nil
}

func (tx *Txn) setBalance(addr [20]byte, amount uint64) error {
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	return tx.put(balanceKey(addr), encoded)
}

// Credit adds amount to the balance of addr.
func (tx *Txn) Credit(addr [20]byte, amount uint64) error {
	if amount == 0 {
		return nil
	}
	current, err := tx.Balance(addr)
	if err != nil {
		return err
	}
	sum, carry := bits.Add64(current, amount, 0)
	if carry != 0 {
		return fmt.Errorf("%w: %x", ErrBalanceOverflow, addr)
	}
	return tx.setBalance(addr, sum)
}

// Transfer atomically moves amount from one account to another within the
// transaction. A zero amount is a no-op.
func (tx *Txn) Transfer(from, to [20]byte, amount uint64) error {
	if amount == 0 {
		return nil
	}
	fromBalance, err := tx.Balance(from)
	if err != nil {
		return err
	}
	if fromBalance < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, fromBalance, amount)
	}
	if from == to {
		return nil
	}
	if err := tx.setBalance(from, fromBalance-amount); err != nil {
		return err
	}
	return tx.Credit(to, amount)
}

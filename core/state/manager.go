package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"payai/storage"
)

var (
	// ErrNotFound is returned when a record address has no stored record.
	ErrNotFound = errors.New("state: record not found")
	// ErrAlreadyExists is returned when creating a record at an occupied address.
	ErrAlreadyExists = errors.New("state: address already in use")
	// ErrInsufficientFunds is returned when a debit exceeds the account balance.
	ErrInsufficientFunds = errors.New("state: insufficient funds")
	// ErrBalanceOverflow is returned when a credit would wrap the balance.
	ErrBalanceOverflow = errors.New("state: balance overflow")

	errReadOnly = errors.New("state: write in read-only transaction")
)

var (
	recordPrefix = []byte("record:")
	metaPrefix   = []byte("meta:")
)

func recordKey(addr [32]byte) []byte {
	buf := make([]byte, len(recordPrefix)+len(addr))
	copy(buf, recordPrefix)
	copy(buf[len(recordPrefix):], addr[:])
	return buf
}

func metaKey(name string) []byte {
	buf := make([]byte, len(metaPrefix)+len(name))
	copy(buf, metaPrefix)
	copy(buf[len(metaPrefix):], name)
	return buf
}

// Manager owns the record store and ledger balances. Every mutation runs
// inside a transaction that is either committed as one storage batch or
// discarded entirely. Writers are serialised; readers share a lock.
type Manager struct {
	mu sync.RWMutex
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Update runs fn inside a write transaction. The buffered writes are committed
// atomically when fn returns nil and dropped otherwise.
func (m *Manager) Update(fn func(tx *Txn) error) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager not configured")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := newTxn(m.db, false)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

// View runs fn inside a read-only transaction.
func (m *Manager) View(fn func(tx *Txn) error) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager not configured")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(newTxn(m.db, true))
}

// Txn buffers reads and writes against the backing store. It is only valid
// for the duration of the Update or View callback that produced it.
type Txn struct {
	db       storage.Database
	readOnly bool
	writes   map[string][]byte
}

func newTxn(db storage.Database, readOnly bool) *Txn {
	return &Txn{db: db, readOnly: readOnly, writes: make(map[string][]byte)}
}

func (tx *Txn) get(key []byte) ([]byte, bool, error) {
	if value, ok := tx.writes[string(key)]; ok {
		return value, true, nil
	}
	value, err := tx.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (tx *Txn) put(key, value []byte) error {
	if tx.readOnly {
		return errReadOnly
	}
	tx.writes[string(key)] = append([]byte(nil), value...)
	return nil
}

func (tx *Txn) commit() error {
	if len(tx.writes) == 0 {
		return nil
	}
	batch := storage.NewBatch()
	for key, value := range tx.writes {
		batch.Put([]byte(key), value)
	}
	return tx.db.Write(batch)
}

// Exists reports whether a record is stored at addr.
func (tx *Txn) Exists(addr [32]byte) (bool, error) {
	_, ok, err := tx.get(recordKey(addr))
	return ok, err
}

// Create stores value at addr only if the address is unoccupied.
func (tx *Txn) Create(addr [32]byte, value interface{}) error {
	key := recordKey(addr)
	_, ok, err := tx.get(key)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: %x", ErrAlreadyExists, addr)
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return tx.put(key, encoded)
}

// Read decodes the record stored at addr into out.
func (tx *Txn) Read(addr [32]byte, out interface{}) error {
	data, ok, err := tx.get(recordKey(addr))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %x", ErrNotFound, addr)
	}
	return rlp.DecodeBytes(data, out)
}

// Write replaces the record stored at addr. The record must already exist.
func (tx *Txn) Write(addr [32]byte, value interface{}) error {
	key := recordKey(addr)
	_, ok, err := tx.get(key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %x", ErrNotFound, addr)
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return tx.put(key, encoded)
}

// MetaGet reads an internal bookkeeping flag such as the genesis marker.
func (tx *Txn) MetaGet(name string) ([]byte, bool, error) {
	return tx.get(metaKey(name))
}

// MetaPut writes an internal bookkeeping value.
func (tx *Txn) MetaPut(name string, value []byte) error {
	return tx.put(metaKey(name), value)
}

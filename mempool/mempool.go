// Package mempool stages signed transactions until they are collected
// into a block.
//
// Staging is permissive: a transaction whose nonce is already consumed
// on chain is accepted and kept, but it is filtered out of Collect and of
// filtered iteration. Nonce contiguity is enforced only when collecting.
package mempool

import (
	"fmt"
	"sync"
	"time"

	"github.com/blockberries/ledgerberry/logging"
	"github.com/blockberries/ledgerberry/types"
)

// TxValidator checks a transaction before it is staged. A non-nil error
// rejects the transaction.
type TxValidator func(tx *types.Transaction) error

// NonceSource reports the next on-chain nonce for a signer.
type NonceSource func(signer types.Address) (int64, error)

// Config holds configuration for the staged transaction collection.
type Config struct {
	// GenesisHash is the chain every staged transaction must be bound to.
	GenesisHash types.Hash

	// Lifetime is how long after its timestamp a transaction stays
	// eligible. Zero disables expiry.
	Lifetime time.Duration

	// MaxTxs caps the number of staged transactions. Zero is unlimited.
	MaxTxs int

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time

	// Logger receives staging events. Defaults to a nop logger.
	Logger *logging.Logger
}

// stagedTx is a transaction in the collection.
type stagedTx struct {
	tx      *types.Transaction
	id      types.Hash
	seq     uint64
	size    int
	addedAt time.Time
}

// Mempool is a nonce-aware staged transaction collection.
// It is safe for concurrent use.
type Mempool struct {
	mu sync.RWMutex

	// txs maps transaction id (as string) to the staged entry
	txs map[string]*stagedTx

	// bySigner indexes staged entries per signer
	bySigner map[types.Address]map[string]*stagedTx

	// ignored holds ids that may never be staged again
	ignored map[string]struct{}

	genesisHash types.Hash
	lifetime    time.Duration
	maxTxs      int
	clock       func() time.Time
	validator   TxValidator
	logger      *logging.Logger

	nextSeq   uint64
	sizeBytes int64
}

// New creates an empty staged transaction collection.
func New(cfg Config) *Mempool {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Mempool{
		txs:         make(map[string]*stagedTx),
		bySigner:    make(map[types.Address]map[string]*stagedTx),
		ignored:     make(map[string]struct{}),
		genesisHash: cfg.GenesisHash.Copy(),
		lifetime:    cfg.Lifetime,
		maxTxs:      cfg.MaxTxs,
		clock:       clock,
		logger:      logger.WithComponent("mempool"),
	}
}

// SetTxValidator sets the hook run on every transaction before staging.
func (m *Mempool) SetTxValidator(v TxValidator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validator = v
}

// Add stages a transaction.
//
// It fails if the transaction is bound to another genesis, has been
// ignored, is already staged, is not properly signed, has expired,
// is rejected by the validator hook, or the collection is full. A nonce
// that is already consumed on chain is not an error.
func (m *Mempool) Add(tx *types.Transaction) error {
	if tx == nil {
		return fmt.Errorf("%w: nil transaction", types.ErrInvalidTransaction)
	}
	if !tx.GenesisHash.Equal(m.genesisHash) {
		return fmt.Errorf("%w: got %s, want %s", types.ErrInvalidTxGenesisHash, tx.GenesisHash, m.genesisHash)
	}
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("%w: %w", types.ErrInvalidTransaction, err)
	}

	id := tx.ID()
	key := string(id)

	// The hook may read the collection, so it runs without the lock and
	// the checks it depends on are repeated once the lock is taken.
	m.mu.RLock()
	err := m.admitLocked(tx, key, m.clock())
	validator := m.validator
	m.mu.RUnlock()
	if err != nil {
		return err
	}
	if validator != nil {
		if err := validator(tx); err != nil {
			return fmt.Errorf("%w: %w", types.ErrPolicyViolation, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if err := m.admitLocked(tx, key, now); err != nil {
		return err
	}
	if m.maxTxs > 0 && len(m.txs) >= m.maxTxs {
		m.purgeExpiredLocked(now)
		if len(m.txs) >= m.maxTxs {
			return types.ErrMempoolFull
		}
	}

	entry := &stagedTx{
		tx:      tx,
		id:      id,
		seq:     m.nextSeq,
		size:    tx.ByteSize(),
		addedAt: now,
	}
	m.nextSeq++
	m.insertLocked(entry)

	m.logger.Debug("transaction staged",
		logging.TxID(id),
		logging.Signer(tx.Signer.String()),
		logging.Nonce(tx.Nonce))
	return nil
}

// admitLocked checks the ignore list, duplicates and expiry.
func (m *Mempool) admitLocked(tx *types.Transaction, key string, now time.Time) error {
	if _, ok := m.ignored[key]; ok {
		return types.ErrTxIgnored
	}
	if _, ok := m.txs[key]; ok {
		return types.ErrTxAlreadyExists
	}
	if m.expiredLocked(tx, now) {
		return fmt.Errorf("%w: timestamp %s", types.ErrTxExpired, tx.Time().UTC().Format(time.RFC3339))
	}
	return nil
}

// TryAdd stages a transaction and reports whether it was accepted.
func (m *Mempool) TryAdd(tx *types.Transaction) bool {
	return m.Add(tx) == nil
}

// Remove unstages a transaction and reports whether it was staged.
func (m *Mempool) Remove(id types.Hash) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(string(id))
}

// RemoveTxs unstages transactions by id. Unknown ids are skipped.
func (m *Mempool) RemoveTxs(ids []types.Hash) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range ids {
		if m.removeLocked(string(id)) {
			n++
		}
	}
	return n
}

// Ignore unstages a transaction, if staged, and prevents it from being
// staged again.
func (m *Mempool) Ignore(id types.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := string(id)
	m.removeLocked(key)
	m.ignored[key] = struct{}{}
}

// IsIgnored reports whether a transaction id has been ignored.
func (m *Mempool) IsIgnored(id types.Hash) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.ignored[string(id)]
	return ok
}

// Get returns a staged transaction.
// Returns types.ErrTxNotFound if it is not staged.
func (m *Mempool) Get(id types.Hash) (*types.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.txs[string(id)]
	if !ok {
		return nil, types.ErrTxNotFound
	}
	return entry.tx, nil
}

// Has reports whether a transaction is staged.
func (m *Mempool) Has(id types.Hash) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.txs[string(id)]
	return ok
}

// Size returns the number of staged transactions.
func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.txs)
}

// SizeBytes returns the serialized size of all staged transactions.
func (m *Mempool) SizeBytes() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sizeBytes
}

// Iterate returns staged transactions in arrival order. When filtered is
// set, transactions with a consumed nonce and expired transactions are
// left out; nonces is only consulted in that case.
func (m *Mempool) Iterate(nonces NonceSource, filtered bool) ([]*types.Transaction, error) {
	entries := m.snapshot()
	if !filtered {
		out := make([]*types.Transaction, len(entries))
		for i, e := range entries {
			out[i] = e.tx
		}
		return out, nil
	}

	now := m.clock()
	chainNonces := make(map[types.Address]int64)
	out := make([]*types.Transaction, 0, len(entries))
	for _, e := range entries {
		if m.expiredLocked(e.tx, now) {
			continue
		}
		n, ok := chainNonces[e.tx.Signer]
		if !ok {
			var err error
			n, err = nonces(e.tx.Signer)
			if err != nil {
				return nil, err
			}
			chainNonces[e.tx.Signer] = n
		}
		if e.tx.Nonce < n {
			continue
		}
		out = append(out, e.tx)
	}
	return out, nil
}

// NextNonce returns the nonce a new transaction from signer should use:
// chainNonce plus the length of the contiguous staged run starting there.
func (m *Mempool) NextNonce(signer types.Address, chainNonce int64) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	staged := make(map[int64]struct{})
	now := m.clock()
	for _, e := range m.bySigner[signer] {
		if !m.expiredLocked(e.tx, now) {
			staged[e.tx.Nonce] = struct{}{}
		}
	}
	next := chainNonce
	for {
		if _, ok := staged[next]; !ok {
			return next
		}
		next++
	}
}

// PurgeExpired unstages every expired transaction and returns how many
// were removed.
func (m *Mempool) PurgeExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.purgeExpiredLocked(m.clock())
}

// Flush unstages every transaction. Ignored ids stay ignored.
func (m *Mempool) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs = make(map[string]*stagedTx)
	m.bySigner = make(map[types.Address]map[string]*stagedTx)
	m.sizeBytes = 0
}

func (m *Mempool) insertLocked(e *stagedTx) {
	key := string(e.id)
	m.txs[key] = e
	signerTxs, ok := m.bySigner[e.tx.Signer]
	if !ok {
		signerTxs = make(map[string]*stagedTx)
		m.bySigner[e.tx.Signer] = signerTxs
	}
	signerTxs[key] = e
	m.sizeBytes += int64(e.size)
}

func (m *Mempool) removeLocked(key string) bool {
	e, ok := m.txs[key]
	if !ok {
		return false
	}
	delete(m.txs, key)
	if signerTxs := m.bySigner[e.tx.Signer]; signerTxs != nil {
		delete(signerTxs, key)
		if len(signerTxs) == 0 {
			delete(m.bySigner, e.tx.Signer)
		}
	}
	m.sizeBytes -= int64(e.size)
	return true
}

func (m *Mempool) purgeExpiredLocked(now time.Time) int {
	n := 0
	for key, e := range m.txs {
		if m.expiredLocked(e.tx, now) {
			m.removeLocked(key)
			n++
		}
	}
	if n > 0 {
		m.logger.Debug("expired transactions purged", logging.Count(n))
	}
	return n
}

// expiredLocked reads only immutable fields, so callers may hold either
// lock or none.
func (m *Mempool) expiredLocked(tx *types.Transaction, now time.Time) bool {
	return m.lifetime > 0 && tx.Time().Add(m.lifetime).Before(now)
}

// snapshot returns the staged entries in arrival order.
func (m *Mempool) snapshot() []*stagedTx {
	m.mu.RLock()
	entries := make([]*stagedTx, 0, len(m.txs))
	for _, e := range m.txs {
		entries = append(entries, e)
	}
	m.mu.RUnlock()
	sortBySeq(entries)
	return entries
}

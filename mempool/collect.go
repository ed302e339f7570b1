package mempool

import (
	"bytes"
	"cmp"
	"container/heap"
	"fmt"
	"slices"

	"github.com/blockberries/ledgerberry/logging"
	"github.com/blockberries/ledgerberry/types"
)

// Comparator orders transactions from different signers for inclusion.
// A negative result puts a first. Ties fall back to arrival order.
type Comparator func(a, b *types.Transaction) int

// CollectOptions bounds a collection. Zero values disable a cap.
type CollectOptions struct {
	MaxTransactions          int
	MaxTransactionsPerSigner int
	MinTransactions          int
	MaxBytes                 int

	// Priority orders signers' next transactions. Nil means arrival order.
	Priority Comparator
}

// signerRun is the collectable run of one signer, consumed from the front.
type signerRun struct {
	txs       []*stagedTx
	next      int
	heapIndex int
}

func (r *signerRun) head() *stagedTx { return r.txs[r.next] }

// runHeap orders signer runs by their head transaction.
type runHeap struct {
	runs     []*signerRun
	priority Comparator
}

func (h *runHeap) Len() int { return len(h.runs) }

func (h *runHeap) Less(i, j int) bool {
	a, b := h.runs[i].head(), h.runs[j].head()
	if h.priority != nil {
		if c := h.priority(a.tx, b.tx); c != 0 {
			return c < 0
		}
	}
	if a.seq != b.seq {
		return a.seq < b.seq
	}
	return bytes.Compare(a.id, b.id) < 0
}

func (h *runHeap) Swap(i, j int) {
	h.runs[i], h.runs[j] = h.runs[j], h.runs[i]
	h.runs[i].heapIndex = i
	h.runs[j].heapIndex = j
}

func (h *runHeap) Push(x any) {
	r := x.(*signerRun)
	r.heapIndex = len(h.runs)
	h.runs = append(h.runs, r)
}

func (h *runHeap) Pop() any {
	old := h.runs
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	r.heapIndex = -1
	h.runs = old[:n-1]
	return r
}

// Collect selects transactions for the next block.
//
// For every signer only the contiguous run of nonces starting at the
// signer's on-chain nonce is eligible; a gap ends the run. When several
// transactions share a nonce, the one with the earliest timestamp wins,
// then the smallest id. Across signers transactions are taken in priority
// order, and within a signer strictly by ascending nonce. Collection stops
// at the first transaction that would exceed MaxBytes.
//
// Returns types.ErrNotEnoughTransactions if fewer than MinTransactions
// are eligible. Collected transactions stay staged.
func (m *Mempool) Collect(nonces NonceSource, opts CollectOptions) ([]*types.Transaction, error) {
	now := m.clock()

	m.mu.RLock()
	perSigner := make(map[types.Address][]*stagedTx, len(m.bySigner))
	for signer, staged := range m.bySigner {
		list := make([]*stagedTx, 0, len(staged))
		for _, e := range staged {
			if !m.expiredLocked(e.tx, now) {
				list = append(list, e)
			}
		}
		if len(list) > 0 {
			perSigner[signer] = list
		}
	}
	m.mu.RUnlock()

	h := &runHeap{priority: opts.Priority}
	for signer, list := range perSigner {
		chainNonce, err := nonces(signer)
		if err != nil {
			return nil, fmt.Errorf("next nonce for %s: %w", signer, err)
		}
		run := contiguousRun(list, chainNonce, opts.MaxTransactionsPerSigner)
		if len(run) > 0 {
			h.runs = append(h.runs, &signerRun{txs: run})
		}
	}
	for i, r := range h.runs {
		r.heapIndex = i
	}
	heap.Init(h)

	var (
		out   []*types.Transaction
		total int
	)
	for h.Len() > 0 {
		if opts.MaxTransactions > 0 && len(out) >= opts.MaxTransactions {
			break
		}
		r := h.runs[0]
		e := r.head()
		if opts.MaxBytes > 0 && total+e.size > opts.MaxBytes {
			break
		}
		out = append(out, e.tx)
		total += e.size

		r.next++
		if r.next == len(r.txs) {
			heap.Pop(h)
		} else {
			heap.Fix(h, 0)
		}
	}

	if len(out) < opts.MinTransactions {
		return nil, fmt.Errorf("%w: %d eligible, %d required",
			types.ErrNotEnoughTransactions, len(out), opts.MinTransactions)
	}

	m.logger.Debug("transactions collected",
		logging.Count(len(out)),
		logging.Size(total))
	return out, nil
}

// contiguousRun picks, from one signer's staged transactions, the run
// chainNonce, chainNonce+1, ... up to the first gap, at most limit long
// when limit is positive.
func contiguousRun(list []*stagedTx, chainNonce int64, limit int) []*stagedTx {
	slices.SortFunc(list, func(a, b *stagedTx) int {
		if c := cmp.Compare(a.tx.Nonce, b.tx.Nonce); c != 0 {
			return c
		}
		if c := cmp.Compare(a.tx.Timestamp, b.tx.Timestamp); c != 0 {
			return c
		}
		return bytes.Compare(a.id, b.id)
	})

	var run []*stagedTx
	expected := chainNonce
	for _, e := range list {
		if limit > 0 && len(run) >= limit {
			break
		}
		switch {
		case e.tx.Nonce < expected:
			// consumed on chain, or a losing duplicate of a picked nonce
			continue
		case e.tx.Nonce > expected:
			return run
		}
		run = append(run, e)
		expected++
	}
	return run
}

func sortBySeq(entries []*stagedTx) {
	slices.SortFunc(entries, func(a, b *stagedTx) int {
		return cmp.Compare(a.seq, b.seq)
	})
}

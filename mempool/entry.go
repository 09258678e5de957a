// Package mempool owns VerifyState across admission attempts: a
// transaction's resumable verification may be suspended across several
// admission calls and must survive chain-snapshot changes between them
// (spec.md §4.7 "Problem"). Distinct transactions are verified in parallel
// on a bounded worker pool (spec.md §5 "Parallelism").
package mempool

import (
	"sync"

	"rubin.dev/node/chain"
	"rubin.dev/node/resume"
)

// EntryStatus is the lifecycle stage of one pool entry.
type EntryStatus uint8

const (
	StatusPending   EntryStatus = iota // admitted, not yet run
	StatusSuspended                    // holds a VerifyState, waiting for the next slice
	StatusAccepted                     // verification completed successfully
	StatusRejected                     // verification completed with an error
)

// Entry is one transaction's admission record: its resolved form, the
// opaque suspended VerifyState (nil when Pending/Accepted/Rejected), and
// the outcome once settled.
type Entry struct {
	mu sync.Mutex

	TxHash [32]byte
	RTX    *chain.ResolvedTransaction
	Epoch  uint64

	status EntryStatus
	state  *resume.VerifyState
	cycles uint64
	err    error
}

func newEntry(txHash [32]byte, rtx *chain.ResolvedTransaction, epoch uint64) *Entry {
	return &Entry{TxHash: txHash, RTX: rtx, Epoch: epoch, status: StatusPending}
}

func (e *Entry) snapshot() (EntryStatus, *resume.VerifyState, uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status, e.state, e.cycles, e.err
}

func (e *Entry) settle(status EntryStatus, state *resume.VerifyState, cycles uint64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = status
	e.state = state
	e.cycles = cycles
	e.err = err
}

// Status reports the entry's current lifecycle stage.
func (e *Entry) Status() EntryStatus {
	s, _, _, _ := e.snapshot()
	return s
}

// Result reports the settled outcome; ok is false while the entry is still
// Pending or Suspended.
func (e *Entry) Result() (cycles uint64, err error, ok bool) {
	status, _, cycles, err := e.snapshot()
	return cycles, err, status == StatusAccepted || status == StatusRejected
}

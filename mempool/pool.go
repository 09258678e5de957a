package mempool

import (
	"sync"

	"rubin.dev/node/chain"
	"rubin.dev/node/crypto"
	"rubin.dev/node/resume"
	"rubin.dev/node/syscall"
)

// Config bounds a single admission attempt's VM work (spec.md §4.7
// "Problem": "bound per-transaction admission work so that a single
// expensive transaction does not starve others").
type Config struct {
	MaxCycles  uint64 // per-transaction hard cap (rejects ExceededMaximumCycles)
	StepCycles uint64 // per-admission-attempt slice budget
}

// Pool owns the resumable VerifyState of every transaction currently being
// admitted. It holds no other chain state: resolution and the snapshot
// affinity check (spec.md §4.7 "Snapshot affinity") are the caller's
// responsibility, performed before Admit/Resume are called against a given
// chain tip.
type Pool struct {
	cfg       Config
	scheduler *resume.Scheduler

	mu      sync.Mutex
	entries map[[32]byte]*Entry
}

func NewPool(p crypto.CryptoProvider, hf chain.HardforkSwitch, dbg syscall.DebugSink, cfg Config) *Pool {
	return &Pool{
		cfg:       cfg,
		scheduler: resume.NewScheduler(p, hf, dbg),
		entries:   make(map[[32]byte]*Entry),
	}
}

// Admit registers rtx for resumable verification and runs its first slice.
// If rtx is already known, its existing entry is returned unchanged.
func (p *Pool) Admit(txHash [32]byte, rtx *chain.ResolvedTransaction, epoch uint64) *Entry {
	p.mu.Lock()
	if e, ok := p.entries[txHash]; ok {
		p.mu.Unlock()
		return e
	}
	e := newEntry(txHash, rtx, epoch)
	p.entries[txHash] = e
	p.mu.Unlock()

	p.runSlice(e, func() *resume.VerifyOutcome {
		return p.scheduler.ResumableVerify(rtx, epoch, p.cfg.MaxCycles, p.cfg.StepCycles)
	})
	return e
}

// Resume continues a suspended entry for one more slice. It is a no-op
// (returns the entry unchanged) if the entry is not Suspended.
func (p *Pool) Resume(txHash [32]byte) *Entry {
	p.mu.Lock()
	e, ok := p.entries[txHash]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	if e.Status() != StatusSuspended {
		return e
	}
	_, state, _, _ := e.snapshot()
	p.runSlice(e, func() *resume.VerifyOutcome {
		return p.scheduler.ResumeFromState(state, p.cfg.StepCycles)
	})
	return e
}

func (p *Pool) runSlice(e *Entry, step func() *resume.VerifyOutcome) {
	outcome := step()
	if !outcome.Completed {
		e.settle(StatusSuspended, outcome.State, 0, nil)
		return
	}
	if outcome.Err != nil {
		e.settle(StatusRejected, nil, outcome.Cycles, outcome.Err)
		return
	}
	e.settle(StatusAccepted, nil, outcome.Cycles, nil)
}

// Discard drops an entry's VerifyState without further processing — used
// on transaction eviction, acceptance into a block, or a reorg that
// invalidates snapshot affinity (spec.md §4.7 "Guarantees": "Suspended
// verifications may be dropped by discarding the VerifyState; no explicit
// teardown is required").
func (p *Pool) Discard(txHash [32]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, txHash)
}

// Get returns the entry for txHash, if any.
func (p *Pool) Get(txHash [32]byte) (*Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[txHash]
	return e, ok
}

// PendingSuspended returns the hashes of every entry currently Suspended,
// for a driver loop to feed back into Resume.
func (p *Pool) PendingSuspended() [][32]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out [][32]byte
	for h, e := range p.entries {
		if e.Status() == StatusSuspended {
			out = append(out, h)
		}
	}
	return out
}

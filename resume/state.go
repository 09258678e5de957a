// Package resume implements the resumable verification scheduler of
// spec.md §4.7: suspending a script group's VM at an instruction boundary
// and resuming it later, possibly against a different mempool admission
// attempt but the same resolved transaction and cell-data snapshot.
package resume

import (
	"rubin.dev/node/chain"
	"rubin.dev/node/vm"
)

// LoadCyclesV0Adjustment is the fixed per-resume cycle adjustment applied
// under ScriptVersion V0 (spec.md §8 property 3): resuming a V0 VM
// re-charges a fixed reload cost that a from-scratch verify() never pays,
// because V0's VM has no native suspend point and the reload is modeled as
// a fresh instantiation cost. V1 carries no such adjustment.
const LoadCyclesV0Adjustment uint64 = 25356

// VerifyState is the opaque suspended-verification value of spec.md §4.7:
// a script-group cursor, a paused VM image, the cycle count accumulated by
// script groups completed so far, and the script version in effect for
// the group it is suspended inside. It is constructed only by Scheduler
// and consumed only by Scheduler.ResumeFromState.
type VerifyState struct {
	rtx             *chain.ResolvedTransaction
	groupIndex      int
	snapshot        *vm.CPUSnapshot
	completedCycles uint64
	maxCycles       uint64
	epoch           uint64
	version         chain.ScriptVersion
}

// NextLimitCycles computes the cycle budget for the next resume slice and
// whether it is the transaction's final slice (spec.md §4.7
// "state.next_limit_cycles(step_cycles, tx_max)"): the slice is capped at
// whatever cycle room remains under the transaction's max_cycles, and
// capping at that room is itself the signal that this is the last slice.
func (s *VerifyState) NextLimitCycles(stepCycles uint64) (limit uint64, isFinal bool) {
	completed := s.completedCycles
	if s.version == chain.ScriptVersionV0 {
		completed += LoadCyclesV0Adjustment
	}
	remaining := uint64(0)
	if s.maxCycles > completed {
		remaining = s.maxCycles - completed
	}
	if stepCycles >= remaining {
		return remaining, true
	}
	return stepCycles, false
}

// GroupIndex reports which script group this state resumes into, for
// mempool bookkeeping/logging only — callers must not use it to bypass
// Scheduler.ResumeFromState.
func (s *VerifyState) GroupIndex() int { return s.groupIndex }

// CompletedCycles reports the cycle count accumulated by script groups
// that finished before this suspension.
func (s *VerifyState) CompletedCycles() uint64 { return s.completedCycles }

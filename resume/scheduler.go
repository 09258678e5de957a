package resume

import (
	"rubin.dev/node/chain"
	"rubin.dev/node/crypto"
	"rubin.dev/node/script"
	"rubin.dev/node/syscall"
	"rubin.dev/node/vm"
)

// VerifyOutcome is the result of one ResumableVerify/ResumeFromState call:
// either the transaction's verification completed (successfully or with an
// error), or it suspended with a State to resume later.
type VerifyOutcome struct {
	Completed bool
	Cycles    uint64
	Err       error
	State     *VerifyState
}

// Scheduler drives resumable verification over script groups, layered on
// top of script.Runner (spec.md §4.7). It holds no per-call mutable state;
// a single Scheduler may serve many concurrent transactions.
type Scheduler struct {
	Provider  crypto.CryptoProvider
	Hardforks chain.HardforkSwitch
	Debug     syscall.DebugSink

	runner *script.Runner
	lookup *chain.CodeLookup
}

func NewScheduler(p crypto.CryptoProvider, hf chain.HardforkSwitch, dbg syscall.DebugSink) *Scheduler {
	return &Scheduler{
		Provider:  p,
		Hardforks: hf,
		Debug:     dbg,
		runner:    script.NewRunner(p, dbg),
		lookup:    chain.NewCodeLookup(p, hf),
	}
}

// ResumableVerify begins verifying rtx at the given epoch under maxCycles,
// running no more than stepCycles worth of VM work before either
// completing or returning a VerifyState to resume later.
func (s *Scheduler) ResumableVerify(rtx *chain.ResolvedTransaction, epoch, maxCycles, stepCycles uint64) *VerifyOutcome {
	groups := chain.Groups(s.Provider, rtx)
	return s.run(rtx, groups, 0, nil, 0, epoch, maxCycles, stepCycles, chain.ScriptVersionV0)
}

// ResumeFromState continues a suspended verification for up to stepCycles
// more cycles of VM work.
func (s *Scheduler) ResumeFromState(state *VerifyState, stepCycles uint64) *VerifyOutcome {
	groups := chain.Groups(s.Provider, state.rtx)
	completed := state.completedCycles
	if state.version == chain.ScriptVersionV0 {
		completed += LoadCyclesV0Adjustment
	}
	return s.run(state.rtx, groups, state.groupIndex, state.snapshot, completed, state.epoch, state.maxCycles, stepCycles, state.version)
}

func (s *Scheduler) run(
	rtx *chain.ResolvedTransaction,
	groups []chain.ScriptGroup,
	startIdx int,
	snap *vm.CPUSnapshot,
	completedCycles uint64,
	epoch, maxCycles, stepCycles uint64,
	resumeVersion chain.ScriptVersion,
) *VerifyOutcome {
	remainingSlice := stepCycles

	for gi := startIdx; gi < len(groups); gi++ {
		g := &groups[gi]
		role := g.Role()

		code, err := s.lookup.Resolve(rtx, g.Script, role, epoch)
		if err != nil {
			return &VerifyOutcome{Completed: true, Cycles: completedCycles, Err: err}
		}
		version := s.Hardforks.Version(g.Script.HashType, epoch)

		var cpu *vm.CPU
		if gi == startIdx && snap != nil {
			host := syscall.NewHost(rtx, g, g.Script, s.Provider, s.Debug)
			cpu = vm.RestoreCPU(snap, host)
			version = resumeVersion
		} else {
			cpu, err = s.runner.Install(rtx, g, code, version)
			if err != nil {
				return &VerifyOutcome{Completed: true, Cycles: completedCycles, Err: err}
			}
		}

		txRemaining := uint64(0)
		already := completedCycles + cpu.TotalCycles
		if maxCycles > already {
			txRemaining = maxCycles - already
		}
		sliceBudget := remainingSlice
		budgetIsTxLimit := false
		if sliceBudget >= txRemaining {
			sliceBudget = txRemaining
			budgetIsTxLimit = true
		}

		res := cpu.Run(sliceBudget)
		result, verr := s.runner.Classify(cpu, g, res, budgetIsTxLimit)
		if res.CyclesConsumed <= remainingSlice {
			remainingSlice -= res.CyclesConsumed
		} else {
			remainingSlice = 0
		}

		switch res.Status {
		case vm.StatusExited:
			completedCycles += result.Cycles
			if verr != nil {
				return &VerifyOutcome{Completed: true, Cycles: completedCycles, Err: verr}
			}
			continue
		case vm.StatusFault:
			return &VerifyOutcome{Completed: true, Cycles: completedCycles + result.Cycles, Err: verr}
		default: // StatusRunning
			if verr != nil {
				return &VerifyOutcome{Completed: true, Cycles: completedCycles + result.Cycles, Err: verr}
			}
			state := &VerifyState{
				rtx:             rtx,
				groupIndex:      gi,
				snapshot:        cpu.Snapshot(),
				completedCycles: completedCycles,
				maxCycles:       maxCycles,
				epoch:           epoch,
				version:         version,
			}
			return &VerifyOutcome{Completed: false, State: state}
		}
	}
	return &VerifyOutcome{Completed: true, Cycles: completedCycles}
}

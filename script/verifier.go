package script

import (
	"rubin.dev/node/chain"
	"rubin.dev/node/crypto"
	"rubin.dev/node/syscall"
)

// Verifier drives a resolved transaction's script groups to completion
// (spec.md §4.6). It holds no mutable shared state, so one Verifier may
// serve many concurrent verification calls (spec.md §5).
type Verifier struct {
	Provider  crypto.CryptoProvider
	Hardforks chain.HardforkSwitch
	Debug     syscall.DebugSink

	runner *Runner
	lookup *chain.CodeLookup
}

func NewVerifier(p crypto.CryptoProvider, hf chain.HardforkSwitch, dbg syscall.DebugSink) *Verifier {
	return &Verifier{
		Provider:  p,
		Hardforks: hf,
		Debug:     dbg,
		runner:    NewRunner(p, dbg),
		lookup:    chain.NewCodeLookup(p, hf),
	}
}

// Verify builds rtx's script groups, resolves and runs each in order, and
// returns the summed cycle count on success — or the first failure, tagged
// with its group's role (spec.md §4.6 steps 1-4).
func (v *Verifier) Verify(rtx *chain.ResolvedTransaction, epoch uint64, maxCycles uint64) (uint64, error) {
	groups := chain.Groups(v.Provider, rtx)
	var total uint64
	for i := range groups {
		g := &groups[i]
		role := g.Role()
		code, err := v.lookup.Resolve(rtx, g.Script, role, epoch)
		if err != nil {
			return total, err
		}
		version := v.Hardforks.Version(g.Script.HashType, epoch)
		cpu, err := v.runner.Install(rtx, g, code, version)
		if err != nil {
			return total, err
		}
		remaining := maxCycles - total
		res := cpu.Run(remaining)
		result, verr := v.runner.Classify(cpu, g, res, true)
		total += result.Cycles
		if verr != nil {
			return total, verr
		}
	}
	return total, nil
}

// VerifyWithoutLimit runs with an effectively unbounded cycle cap (spec.md
// §4.6 "verify_without_limit").
func (v *Verifier) VerifyWithoutLimit(rtx *chain.ResolvedTransaction, epoch uint64) (uint64, error) {
	return v.Verify(rtx, epoch, ^uint64(0))
}

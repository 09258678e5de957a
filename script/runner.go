// Package script wires the vm and syscall packages together into the C6 VM
// Runner and C7 Script Verifier of spec.md §4.5/§4.6: it instantiates one
// VM per script group, installs its syscall host, runs it to completion or
// to a cycle boundary, and turns VM outcomes into the chain error taxonomy.
package script

import (
	"fmt"

	"rubin.dev/node/chain"
	"rubin.dev/node/crypto"
	"rubin.dev/node/syscall"
	"rubin.dev/node/vm"
)

// Memory sizes per script version (spec.md §6 ScriptVersion gate: "larger
// memory map" under V1). Expressed in pages so they always satisfy
// vm.NewMemory's page-multiple requirement.
const (
	MemoryPagesV0 = 256  // 1 MiB
	MemoryPagesV1 = 1024 // 4 MiB
)

func memoryPages(version chain.ScriptVersion) int {
	if version == chain.ScriptVersionV1 {
		return MemoryPagesV1
	}
	return MemoryPagesV0
}

// RunResult is the outcome of running one script group's VM to either
// completion or a cycle boundary.
type RunResult struct {
	Cycles   uint64
	ExitCode int8
}

// Runner installs and drives one VM instance per script group.
type Runner struct {
	Provider crypto.CryptoProvider
	Debug    syscall.DebugSink
}

func NewRunner(p crypto.CryptoProvider, dbg syscall.DebugSink) *Runner {
	return &Runner{Provider: p, Debug: dbg}
}

func alignUpToPage(n int) int {
	if n <= 0 {
		return vm.PageSize
	}
	return ((n + vm.PageSize - 1) / vm.PageSize) * vm.PageSize
}

// Install builds a fresh VM for group: a page-flagged address space sized
// for version, code installed at address 0 via LoadCellDataAsCode (marking
// it Executable|Frozen), and a syscall.Host bound to rtx/group.
func (r *Runner) Install(rtx *chain.ResolvedTransaction, group *chain.ScriptGroup, code []byte, version chain.ScriptVersion) (*vm.CPU, error) {
	total := memoryPages(version) * vm.PageSize
	codeSize := alignUpToPage(len(code))
	if codeSize > total {
		return nil, &chain.Error{Kind: chain.ErrVMInternalError, Role: group.Role(), Message: "code larger than address space"}
	}
	mem, err := vm.NewMemory(total)
	if err != nil {
		return nil, &chain.Error{Kind: chain.ErrVMInternalError, Role: group.Role(), Message: err.Error()}
	}
	if err := mem.LoadCellDataAsCode(0, codeSize, code, 0, len(code)); err != nil {
		return nil, &chain.Error{Kind: chain.ErrVMInternalError, Role: group.Role(), Message: "install code: " + err.Error()}
	}
	host := syscall.NewHost(rtx, group, group.Script, r.Provider, r.Debug)
	return vm.NewCPU(mem, 0, host), nil
}

// Classify turns one vm.Run call's outcome into a script RunResult plus,
// when the group failed, the chain error taxonomy value for it (spec.md
// §4.5, §7). budgetIsTxLimit tells Classify whether the cycle budget given
// to Run was the transaction's true remaining cap — if so, a StatusRunning
// outcome (budget exhausted without exit) is ExceededMaximumCycles; if the
// budget was merely an artificial slice smaller than the cap (resumable
// verification), StatusRunning is a plain suspension, not an error.
func (r *Runner) Classify(cpu *vm.CPU, group *chain.ScriptGroup, res vm.RunResult, budgetIsTxLimit bool) (RunResult, error) {
	role := group.Role()
	switch res.Status {
	case vm.StatusExited:
		out := RunResult{Cycles: cpu.TotalCycles, ExitCode: res.ExitCode}
		if res.ExitCode == 0 {
			return out, nil
		}
		return out, &chain.Error{Kind: chain.ErrValidationFailure, Role: role, Message: fmt.Sprintf("exit code %d", res.ExitCode)}
	case vm.StatusFault:
		msg := "vm fault"
		if res.Err != nil {
			msg = res.Err.Error()
		}
		return RunResult{Cycles: cpu.TotalCycles}, &chain.Error{Kind: chain.ErrVMInternalError, Role: role, Message: msg}
	default: // StatusRunning
		if budgetIsTxLimit {
			return RunResult{Cycles: cpu.TotalCycles}, &chain.Error{Kind: chain.ErrExceededMaximumCycles, Role: role, Message: "cycle budget exhausted"}
		}
		return RunResult{Cycles: cpu.TotalCycles}, nil
	}
}

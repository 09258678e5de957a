package resume

import (
	"testing"

	"rubin.dev/node/chain"
	"rubin.dev/node/crypto"
	"rubin.dev/node/script"
	"rubin.dev/node/vm"
)

func provider() crypto.CryptoProvider { return crypto.DevStdCryptoProvider{} }

// loopProgram builds a deterministic program that loops n times
// (accumulating in r2) before halting 0, so its total cycle count is
// reproducible and strictly greater than a handful of step_cycles budgets.
func loopProgram(n int64) []byte {
	prog := []vm.Instruction{
		{Op: vm.OpLI, Rd: 1, Imm: 0},
		{Op: vm.OpLI, Rd: 2, Imm: 0},
		{Op: vm.OpLI, Rd: 3, Imm: n},
		{Op: vm.OpAdd, Rd: 2, Rs1: 2, Rs2: 1},
		{Op: vm.OpAddI, Rd: 1, Rs1: 1, Imm: 1},
		{Op: vm.OpBne, Rs1: 1, Rs2: 3, Imm: -32},
		{Op: vm.OpHalt, Imm: 0},
	}
	return vm.Assemble(prog)
}

func buildRTX(t *testing.T, p crypto.CryptoProvider, code []byte, hashType chain.HashType) *chain.ResolvedTransaction {
	t.Helper()
	dataHash := chain.CellDataHash(p, code)
	lock := chain.Script{CodeHash: dataHash, HashType: hashType}
	tx := &chain.Transaction{
		Inputs: []chain.TxInput{
			{PreviousOutput: chain.OutPoint{TxHash: [32]byte{0x01}, Index: 0}},
		},
	}
	rtx := &chain.ResolvedTransaction{
		Tx:             tx,
		ResolvedInputs: []chain.Cell{{Lock: lock}},
		ResolvedDeps: []chain.ResolvedCellDep{
			{Cell: chain.Cell{Data: code, DataHash: dataHash}},
		},
	}
	return rtx
}

func TestResumeEquivalenceV1NoAdjustment(t *testing.T) {
	p := provider()
	code := loopProgram(20)
	rtx := buildRTX(t, p, code, chain.HashTypeData1)

	verifier := script.NewVerifier(p, chain.NoHardforks(), nil)
	wantCycles, err := verifier.VerifyWithoutLimit(rtx, 0)
	if err != nil {
		t.Fatalf("VerifyWithoutLimit: %v", err)
	}

	sched := NewScheduler(p, chain.NoHardforks(), nil)
	for _, stepCycles := range []uint64{5, 11, 23} {
		outcome := sched.ResumableVerify(rtx, 0, 1_000_000, stepCycles)
		resumes := 0
		for !outcome.Completed {
			outcome = sched.ResumeFromState(outcome.State, stepCycles)
			resumes++
		}
		if outcome.Err != nil {
			t.Fatalf("step=%d: unexpected error: %v", stepCycles, outcome.Err)
		}
		if outcome.Cycles != wantCycles {
			t.Fatalf("step=%d (resumes=%d): cycles = %d, want %d (V1: no adjustment)", stepCycles, resumes, outcome.Cycles, wantCycles)
		}
	}
}

func TestResumeEquivalenceV0AppliesLoadCyclesAdjustment(t *testing.T) {
	p := provider()
	code := loopProgram(20)
	rtx := buildRTX(t, p, code, chain.HashTypeData) // Data -> always V0

	verifier := script.NewVerifier(p, chain.NoHardforks(), nil)
	wantCycles, err := verifier.VerifyWithoutLimit(rtx, 0)
	if err != nil {
		t.Fatalf("VerifyWithoutLimit: %v", err)
	}

	sched := NewScheduler(p, chain.NoHardforks(), nil)
	const stepCycles = 7
	outcome := sched.ResumableVerify(rtx, 0, 1_000_000, stepCycles)
	resumes := 0
	for !outcome.Completed {
		outcome = sched.ResumeFromState(outcome.State, stepCycles)
		resumes++
	}
	if outcome.Err != nil {
		t.Fatalf("unexpected error: %v", outcome.Err)
	}
	if resumes == 0 {
		t.Fatalf("expected at least one resume for this step budget")
	}
	want := wantCycles + uint64(resumes)*LoadCyclesV0Adjustment
	if outcome.Cycles != want {
		t.Fatalf("cycles = %d, want %d (base %d + %d resumes * %d)", outcome.Cycles, want, wantCycles, resumes, LoadCyclesV0Adjustment)
	}
}

func TestResumeSuspendedStateReportsGroupIndexAndProgress(t *testing.T) {
	p := provider()
	code := loopProgram(50)
	rtx := buildRTX(t, p, code, chain.HashTypeData1)

	sched := NewScheduler(p, chain.NoHardforks(), nil)
	outcome := sched.ResumableVerify(rtx, 0, 1_000_000, 3)
	if outcome.Completed {
		t.Fatalf("expected suspension with a tiny step budget")
	}
	if outcome.State.GroupIndex() != 0 {
		t.Fatalf("group index = %d, want 0", outcome.State.GroupIndex())
	}
	limit, isFinal := outcome.State.NextLimitCycles(3)
	if limit == 0 || isFinal {
		t.Fatalf("NextLimitCycles = (%d, %v), want a small non-final slice", limit, isFinal)
	}
}

func TestResumeExceedsMaxCyclesReportsError(t *testing.T) {
	p := provider()
	code := loopProgram(5000)
	rtx := buildRTX(t, p, code, chain.HashTypeData1)

	sched := NewScheduler(p, chain.NoHardforks(), nil)
	outcome := sched.ResumableVerify(rtx, 0, 50, 10)
	for !outcome.Completed {
		outcome = sched.ResumeFromState(outcome.State, 10)
	}
	cerr, ok := outcome.Err.(*chain.Error)
	if !ok || cerr.Kind != chain.ErrExceededMaximumCycles {
		t.Fatalf("err = %v, want ExceededMaximumCycles", outcome.Err)
	}
}

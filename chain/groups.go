package chain

import "rubin.dev/node/crypto"

// GroupKind distinguishes lock-script groups from type-script groups.
type GroupKind uint8

const (
	GroupKindLock GroupKind = iota
	GroupKindType
)

func (k GroupKind) String() string {
	if k == GroupKindLock {
		return "Lock"
	}
	return "Type"
}

// ScriptGroup is the unit of verification: a script plus the set of
// transaction positions it governs (spec.md §3).
type ScriptGroup struct {
	Script        Script
	Kind          GroupKind
	InputIndices  []int // ordered, ascending
	OutputIndices []int // ordered, ascending; empty for Lock groups
}

// Role returns the role tag naming this group's first input or output, for
// error reporting (spec.md §4.6: "Inputs[i].Lock", "Inputs[i].Type",
// "Outputs[i].Type").
func (g ScriptGroup) Role() Role {
	switch g.Kind {
	case GroupKindLock:
		return Role{Kind: "Inputs", Index: g.InputIndices[0], Script: "Lock"}
	default:
		if len(g.InputIndices) > 0 {
			return Role{Kind: "Inputs", Index: g.InputIndices[0], Script: "Type"}
		}
		return Role{Kind: "Outputs", Index: g.OutputIndices[0], Script: "Type"}
	}
}

// Groups enumerates the deterministic script groups of a resolved
// transaction (spec.md §4.2, C3): locks grouped in input order by
// first-occurrence, then types grouped by first-occurrence across
// inputs-then-outputs. Scripts with identical (CodeHash, HashType, Args)
// collapse into one group; an output type-script joins the same group as
// any matching input type-script.
func Groups(p crypto.CryptoProvider, rtx *ResolvedTransaction) []ScriptGroup {
	var groups []ScriptGroup

	lockIndex := make(map[[32]byte]int) // script hash -> index into groups
	for i, cell := range rtx.ResolvedInputs {
		h := ScriptHash(p, cell.Lock)
		if gi, ok := lockIndex[h]; ok {
			groups[gi].InputIndices = append(groups[gi].InputIndices, i)
			continue
		}
		lockIndex[h] = len(groups)
		groups = append(groups, ScriptGroup{
			Script:       cell.Lock,
			Kind:         GroupKindLock,
			InputIndices: []int{i},
		})
	}

	typeIndex := make(map[[32]byte]int)
	addType := func(s *Script, inputIdx, outputIdx int) {
		if s == nil {
			return
		}
		h := ScriptHash(p, *s)
		if gi, ok := typeIndex[h]; ok {
			if inputIdx >= 0 {
				groups[gi].InputIndices = append(groups[gi].InputIndices, inputIdx)
			}
			if outputIdx >= 0 {
				groups[gi].OutputIndices = append(groups[gi].OutputIndices, outputIdx)
			}
			return
		}
		g := ScriptGroup{Script: *s, Kind: GroupKindType}
		if inputIdx >= 0 {
			g.InputIndices = append(g.InputIndices, inputIdx)
		}
		if outputIdx >= 0 {
			g.OutputIndices = append(g.OutputIndices, outputIdx)
		}
		typeIndex[h] = len(groups)
		groups = append(groups, g)
	}

	for i, cell := range rtx.ResolvedInputs {
		addType(cell.Type, i, -1)
	}
	for i, cell := range rtx.Tx.Outputs {
		addType(cell.Type, -1, i)
	}

	return groups
}

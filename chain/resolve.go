package chain

import "rubin.dev/node/crypto"

// CodeLookup resolves the executable code for a script against a resolved
// transaction's cell-deps (spec.md §4.3, C4).
type CodeLookup struct {
	Provider  crypto.CryptoProvider
	Hardforks HardforkSwitch
}

func NewCodeLookup(p crypto.CryptoProvider, hf HardforkSwitch) *CodeLookup {
	return &CodeLookup{Provider: p, Hardforks: hf}
}

// Resolve returns the code bytes for script, looked up among rtx's resolved
// cell-deps according to script.HashType, reporting any ambiguity or
// missing-match error tagged with role. epoch gates the DepSemantics
// relaxation.
func (cl *CodeLookup) Resolve(rtx *ResolvedTransaction, script Script, role Role, epoch uint64) ([]byte, error) {
	switch script.HashType {
	case HashTypeData, HashTypeData1:
		return cl.resolveByDataHash(rtx, script, role, epoch)
	case HashTypeType:
		return cl.resolveByTypeHash(rtx, script, role, epoch)
	default:
		return nil, newErr(ErrInvalidCodeHash, role, "unknown hash_type %d", script.HashType)
	}
}

// resolveByDataHash finds cell-deps whose cell data hashes to
// script.CodeHash. Pre-hardfork and post-hardfork behavior coincide here:
// multiple deps with the same data (therefore the same data hash) are
// allowed in both eras (spec.md §4.3 table, row 2, Data-lookup column; see
// also §9 Open Questions: "the lookup key differs... so does the ambiguity
// notion" — a Data lookup never raises MultipleMatches on same-data
// duplicates, by construction: they all have the same hash and the same
// bytes, so "ambiguous" has no meaning here).
func (cl *CodeLookup) resolveByDataHash(rtx *ResolvedTransaction, script Script, role Role, _ uint64) ([]byte, error) {
	var found []byte
	matched := false
	for _, dep := range rtx.ResolvedDeps {
		h := CellDataHash(cl.Provider, dep.Cell.Data)
		if h != script.CodeHash {
			continue
		}
		if !matched {
			found = dep.Cell.Data
			matched = true
			continue
		}
		// Different data, same requested hash, is impossible for a
		// correct hash function; same data is simply a duplicate
		// reference and is allowed.
	}
	if !matched {
		return nil, newErr(ErrInvalidCodeHash, role, "no cell-dep matches data hash")
	}
	return found, nil
}

// resolveByTypeHash finds cell-deps whose cell carries a type script whose
// hash equals script.CodeHash. Two deps resolving to different cells with
// the same type-hash but different data is always MultipleMatches
// (spec.md §4.3 table, row 3) — this is the one ambiguity rule the
// hardfork does not relax. Two deps with the same type-hash AND the same
// data is relaxed post-hardfork (row 2, Type-lookup column) but an error
// pre-hardfork.
func (cl *CodeLookup) resolveByTypeHash(rtx *ResolvedTransaction, script Script, role Role, epoch uint64) ([]byte, error) {
	type match struct {
		data []byte
		hash [32]byte
	}
	var matches []match
	for _, dep := range rtx.ResolvedDeps {
		if dep.Cell.Type == nil {
			continue
		}
		th := ScriptHash(cl.Provider, *dep.Cell.Type)
		if th != script.CodeHash {
			continue
		}
		matches = append(matches, match{data: dep.Cell.Data, hash: CellDataHash(cl.Provider, dep.Cell.Data)})
	}
	if len(matches) == 0 {
		return nil, newErr(ErrInvalidCodeHash, role, "no cell-dep matches type hash")
	}
	first := matches[0]
	for _, m := range matches[1:] {
		if m.hash != first.hash {
			return nil, newErr(ErrMultipleMatches, role, "cell-deps with same type hash, different data")
		}
		// same data, different cell: relaxed post-hardfork only.
		if !cl.Hardforks.DepSemanticsActive(epoch) {
			return nil, newErr(ErrMultipleMatches, role, "cell-deps with same type hash, same data (pre-hardfork)")
		}
	}
	return first.data, nil
}

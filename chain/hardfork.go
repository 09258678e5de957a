package chain

// ScriptVersion fixes the VM flavor and cycle schedule for a script group.
type ScriptVersion uint8

const (
	ScriptVersionV0 ScriptVersion = iota
	ScriptVersionV1
)

// HardforkSwitch carries the epoch at which each consensus-relevant gate
// activates. Unlike the teacher's BIP9-style signaled feature bits
// (consensus/featurebits.go), these two gates are plain activation-epoch
// thresholds per spec.md §6 ("Gates are evaluated against the epoch of the
// block being verified").
type HardforkSwitch struct {
	// DepSemanticsEpoch is the epoch at which cell-dep ambiguity rules
	// relax (spec.md §4.3).
	DepSemanticsEpoch uint64
	// ScriptVersionEpoch is the epoch at which hash_type=Type scripts run
	// under the V1 VM instead of V0.
	ScriptVersionEpoch uint64
}

// NoHardforks returns a switch whose gates are active from genesis, useful
// for tests that don't care about pre/post-hardfork distinctions.
func NoHardforks() HardforkSwitch {
	return HardforkSwitch{DepSemanticsEpoch: 0, ScriptVersionEpoch: 0}
}

// Immutable returns a switch whose gates never activate.
func Immutable() HardforkSwitch {
	max := ^uint64(0)
	return HardforkSwitch{DepSemanticsEpoch: max, ScriptVersionEpoch: max}
}

// DepSemanticsActive reports whether the relaxed cell-dep ambiguity rules
// are in effect at the given epoch.
func (h HardforkSwitch) DepSemanticsActive(epoch uint64) bool {
	return epoch >= h.DepSemanticsEpoch
}

// ScriptVersionActive reports whether hash_type=Type resolves to the V1 VM
// at the given epoch.
func (h HardforkSwitch) ScriptVersionActive(epoch uint64) bool {
	return epoch >= h.ScriptVersionEpoch
}

// Version selects the script version for a script given the hardfork state
// at a given epoch: Data -> V0, Data1 -> V1, Type -> V1 iff the
// ScriptVersion gate is active else V0.
func (h HardforkSwitch) Version(hashType HashType, epoch uint64) ScriptVersion {
	switch hashType {
	case HashTypeData:
		return ScriptVersionV0
	case HashTypeData1:
		return ScriptVersionV1
	case HashTypeType:
		if h.ScriptVersionActive(epoch) {
			return ScriptVersionV1
		}
		return ScriptVersionV0
	default:
		return ScriptVersionV0
	}
}

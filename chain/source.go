package chain

// Entry is the addressed collection within a transaction.
type Entry uint8

const (
	EntryInput     Entry = 1
	EntryOutput    Entry = 2
	EntryCellDep   Entry = 3
	EntryHeaderDep Entry = 4
)

// SourceGroupFlag is bit 56 (the high byte's 0x01 flag) distinguishing Source::Group(X) from
// Source::Transaction(X) in the 64-bit encoded form (spec.md §3, §6).
const SourceGroupFlag = uint64(0x0100_0000_0000_0000)

// Source is the addressing space for syscalls: one of
// {Input,Output,CellDep,HeaderDep} x {Transaction,Group}.
type Source struct {
	Entry Entry
	Group bool
}

// Encode returns the 64-bit wire encoding: low 56 bits = entry, high 8 bits
// = group flag (0x01 = group-scoped).
func (s Source) Encode() uint64 {
	v := uint64(s.Entry)
	if s.Group {
		v |= SourceGroupFlag
	}
	return v
}

// DecodeSource parses the 64-bit wire encoding. ok is false for any bit
// pattern outside the defined entries/flag — spec.md §6: "Parsing rejects
// any other bit pattern", and this must terminate the VM rather than
// return a status code (the syscall host returns an error for it).
func DecodeSource(v uint64) (Source, bool) {
	flag := v & 0xff00_0000_0000_0000
	entry := v &^ 0xff00_0000_0000_0000
	if flag != 0 && flag != SourceGroupFlag {
		return Source{}, false
	}
	switch Entry(entry) {
	case EntryInput, EntryOutput, EntryCellDep, EntryHeaderDep:
		return Source{Entry: Entry(entry), Group: flag == SourceGroupFlag}, true
	default:
		return Source{}, false
	}
}

// Slice selects the indices a Source addresses for the given script group
// within rtx. CellDep only exists as Source::Transaction(CellDep);
// Source::Group(CellDep) yields no indices (out-of-bound). Group(HeaderDep)
// always yields no indices (spec.md §4.4 "Source semantics").
func (s Source) Slice(rtx *ResolvedTransaction, g *ScriptGroup) []int {
	if s.Group {
		switch s.Entry {
		case EntryInput:
			return g.InputIndices
		case EntryOutput:
			return g.OutputIndices
		default:
			return nil
		}
	}
	switch s.Entry {
	case EntryInput:
		return rangeIndices(len(rtx.Tx.Inputs))
	case EntryOutput:
		return rangeIndices(len(rtx.Tx.Outputs))
	case EntryCellDep:
		return rangeIndices(len(rtx.ResolvedDeps))
	case EntryHeaderDep:
		return rangeIndices(len(rtx.Tx.HeaderDeps))
	default:
		return nil
	}
}

func rangeIndices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

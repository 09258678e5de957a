package chain

// ResolvedCellDep is a single Code cell-dep after dep-group expansion, with
// its cell body fetched.
type ResolvedCellDep struct {
	OutPoint OutPoint
	Cell     Cell
}

// ResolvedTransaction is an immutable bundle: the transaction plus its
// resolved inputs, expanded cell-deps, and header-deps (spec.md §3).
// It owns its own frozen snapshot of cell/header data captured at initial
// resolution: a resumed verification reuses this data rather than
// re-reading the store (spec.md §4.7 "Snapshot affinity"; SPEC_FULL.md §5
// "snapshot-scoped code cache across resume").
type ResolvedTransaction struct {
	Tx *Transaction

	ResolvedInputs  []Cell // one per tx.Inputs, the consumed cell
	ResolvedDeps    []ResolvedCellDep
	ResolvedHeaders []Header // one per tx.HeaderDeps, same order

	inputOutPoints []OutPoint // parallel to ResolvedInputs
}

// InputOutPoint returns the previous-output named by input i.
func (r *ResolvedTransaction) InputOutPoint(i int) OutPoint {
	return r.inputOutPoints[i]
}

// Resolver performs cell-dep resolution and dep-group expansion (C1/C2/C4).
type Resolver struct {
	Loader    *Loader
	Hardforks HardforkSwitch
}

func NewResolver(loader *Loader, hf HardforkSwitch) *Resolver {
	return &Resolver{Loader: loader, Hardforks: hf}
}

// Resolve builds a ResolvedTransaction from tx: it fetches each input's
// consumed cell, expands dep-groups into flat Code deps (detecting
// duplicates against the pre-expansion list), and fetches each header-dep.
// It takes no epoch: DuplicateCellDeps is checked identically before and
// after the hardfork (spec.md §4.3's table).
func (r *Resolver) Resolve(tx *Transaction) (*ResolvedTransaction, error) {
	if err := checkDuplicateCellDeps(tx.CellDeps); err != nil {
		return nil, err
	}

	rtx := &ResolvedTransaction{Tx: tx}

	for _, in := range tx.Inputs {
		c, _, _, err := r.Loader.GetCell(in.PreviousOutput)
		if err != nil {
			return nil, err
		}
		rtx.ResolvedInputs = append(rtx.ResolvedInputs, c)
		rtx.inputOutPoints = append(rtx.inputOutPoints, in.PreviousOutput)
	}

	expanded, err := r.expandCellDeps(tx.CellDeps)
	if err != nil {
		return nil, err
	}
	rtx.ResolvedDeps = expanded

	for _, h := range tx.HeaderDeps {
		hdr, err := r.Loader.GetHeader(h)
		if err != nil {
			return nil, err
		}
		rtx.ResolvedHeaders = append(rtx.ResolvedHeaders, hdr)
	}

	return rtx, nil
}

// checkDuplicateCellDeps rejects two cell-deps that are the exact same
// (out_point, dep_type), using the user-supplied list before dep-group
// expansion (spec.md §4.3: "Dep-group expansion happens once before
// resolution; duplicate detection uses the user-supplied cell-dep list").
func checkDuplicateCellDeps(deps []CellDep) error {
	type key struct {
		op OutPoint
		dt DepType
	}
	seen := make(map[key]bool, len(deps))
	for _, d := range deps {
		k := key{d.OutPoint, d.DepType}
		if seen[k] {
			return newErr(ErrDuplicateCellDeps, Role{}, "duplicate cell-dep %s", opString(d.OutPoint))
		}
		seen[k] = true
	}
	return nil
}

// expandCellDeps expands DepGroup entries into their constituent Code deps
// (one level only: a DepGroup may not contain another DepGroup) and fetches
// every resulting Code cell.
func (r *Resolver) expandCellDeps(deps []CellDep) ([]ResolvedCellDep, error) {
	var out []ResolvedCellDep
	for _, d := range deps {
		switch d.DepType {
		case DepTypeCode:
			c, _, _, err := r.Loader.GetCell(d.OutPoint)
			if err != nil {
				return nil, err
			}
			out = append(out, ResolvedCellDep{OutPoint: d.OutPoint, Cell: c})
		case DepTypeDepGroup:
			groupCell, data, _, err := r.Loader.GetCell(d.OutPoint)
			_ = groupCell
			if err != nil {
				return nil, err
			}
			points, err := decodeOutPoints(data)
			if err != nil {
				return nil, err
			}
			for _, op := range points {
				c, _, _, err := r.Loader.GetCell(op)
				if err != nil {
					return nil, err
				}
				out = append(out, ResolvedCellDep{OutPoint: op, Cell: c})
			}
		}
	}
	return out, nil
}

// decodeOutPoints decodes a DepGroup cell's data: a u32 count followed by
// that many (32-byte tx hash, u32 index) entries.
func decodeOutPoints(data []byte) ([]OutPoint, error) {
	if len(data) < 4 {
		return nil, newErr(ErrInvalidCodeHash, Role{}, "dep-group data too short")
	}
	n := leU32(data[0:4])
	pos := 4
	out := make([]OutPoint, 0, n)
	for i := uint32(0); i < n; i++ {
		if pos+36 > len(data) {
			return nil, newErr(ErrInvalidCodeHash, Role{}, "dep-group data truncated")
		}
		var op OutPoint
		copy(op.TxHash[:], data[pos:pos+32])
		op.Index = leU32(data[pos+32 : pos+36])
		out = append(out, op)
		pos += 36
	}
	return out, nil
}

// EncodeDepGroup encodes a list of OutPoints in the format decodeOutPoints
// expects, for building DepGroup cell data (test fixtures, genesis setup).
func EncodeDepGroup(points []OutPoint) []byte {
	buf := make([]byte, 4, 4+36*len(points))
	putLeU32(buf[0:4], uint32(len(points)))
	for _, op := range points {
		buf = append(buf, op.TxHash[:]...)
		tmp := make([]byte, 4)
		putLeU32(tmp, op.Index)
		buf = append(buf, tmp...)
	}
	return buf
}

func leU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLeU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

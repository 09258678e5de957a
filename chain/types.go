// Package chain implements the data model, cell-dependency resolution, and
// script-group enumeration for cell-based transaction verification.
package chain

// HashType selects how a Script's CodeHash is resolved against cell-deps.
type HashType uint8

const (
	HashTypeData  HashType = iota // code cell's data hash == CodeHash (script version V0)
	HashTypeData1                 // same lookup as Data, different VM version (V1)
	HashTypeType                  // code cell's type-script hash == CodeHash (V1 iff gate active)
)

func (h HashType) String() string {
	switch h {
	case HashTypeData:
		return "Data"
	case HashTypeData1:
		return "Data1"
	case HashTypeType:
		return "Type"
	default:
		return "Unknown"
	}
}

// Script is a triple naming executable code plus a caller-supplied argument.
type Script struct {
	CodeHash [32]byte
	HashType HashType
	Args     []byte
}

// Equal reports whether two scripts have identical identity: a script group
// key is (CodeHash, HashType, Args).
func (s Script) Equal(o Script) bool {
	return s.CodeHash == o.CodeHash && s.HashType == o.HashType && bytesEqual(s.Args, o.Args)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// OutPoint names a cell by the transaction that created it and its output index.
type OutPoint struct {
	TxHash [32]byte
	Index  uint32
}

// Cell is the fundamental ledger unit: a typed, capacity-bearing record with
// a lock script, an optional type script, and arbitrary data.
type Cell struct {
	Capacity uint64
	Lock     Script
	Type     *Script
	Data     []byte
	DataHash [32]byte
}

// DepType selects whether a CellDep's OutPoint names the code cell directly
// or a DepGroup cell whose data is a list of further OutPoints.
type DepType uint8

const (
	DepTypeCode DepType = iota
	DepTypeDepGroup
)

// CellDep is a read-only reference to a cell supplying code or auxiliary data.
type CellDep struct {
	OutPoint OutPoint
	DepType  DepType
}

// Header is the minimal block-header surface the script subsystem reads via
// LoadHeader/LoadHeaderByField. Full consensus header fields live in
// consensus.BlockHeader; this is the projection the VM host can see.
type Header struct {
	Hash              [32]byte
	EpochNumber       uint64
	EpochStartBlockNo uint64
	EpochLength       uint64
}

// TxInput references a previously created cell to be consumed, plus a
// relative-timelock Since value. Unlocking data lives in the transaction's
// Witnesses, not inline on the input.
type TxInput struct {
	PreviousOutput OutPoint
	Since          uint64
}

// Transaction is the unsigned, to-be-resolved transaction shape.
type Transaction struct {
	Inputs      []TxInput
	Outputs     []Cell // Lock/Type/Capacity only; Data/DataHash carried in OutputsData
	OutputsData [][]byte
	Witnesses   [][]byte
	CellDeps    []CellDep
	HeaderDeps  [][32]byte
}

// IsCellbase reports whether this transaction's first input is the synthetic
// null previous-output used by coinbase-style transactions.
func (t *Transaction) IsCellbase() bool {
	if len(t.Inputs) == 0 {
		return false
	}
	null := OutPoint{}
	first := t.Inputs[0].PreviousOutput
	return first.TxHash == null.TxHash && first.Index == ^uint32(0)
}

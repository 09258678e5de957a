package chain

import "rubin.dev/node/crypto"

// CellDataHash returns blake2b_256(data), matching the DataHash invariant on
// Cell (spec.md §3: "data_hash == hash(data) whenever data is present").
func CellDataHash(p crypto.CryptoProvider, data []byte) [32]byte {
	return p.Blake2b256(data)
}

// ScriptHash returns the identity hash of a script, used for keying lock
// script groups and for LoadScriptHash/LoadCellByField(LockHash/TypeHash).
func ScriptHash(p crypto.CryptoProvider, s Script) [32]byte {
	return p.Blake2b256(serializeScript(s))
}

// SerializeScript returns the wire form of a script, as seen by the guest
// via LoadScript and LoadCellByField(Lock/Type).
func SerializeScript(s Script) []byte {
	return serializeScript(s)
}

func serializeScript(s Script) []byte {
	buf := make([]byte, 0, 33+len(s.Args))
	buf = append(buf, s.CodeHash[:]...)
	buf = append(buf, byte(s.HashType))
	buf = append(buf, s.Args...)
	return buf
}

// SerializeCellOutput returns the bytes LoadCell copies to the guest: the
// cell's capacity, lock script, and optional type script (data is served
// separately via LoadCellData).
func SerializeCellOutput(c Cell) []byte {
	buf := make([]byte, 8)
	putU64LE(buf, c.Capacity)
	buf = append(buf, serializeScript(c.Lock)...)
	if c.Type != nil {
		buf = append(buf, 1)
		buf = append(buf, serializeScript(*c.Type)...)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

func putU64LE(buf []byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}

// SerializeTransaction returns a deterministic byte encoding of tx used for
// LoadTransaction and (without witnesses) for hashing.
func SerializeTransaction(tx *Transaction, withWitnesses bool) []byte {
	var buf []byte
	appendU32 := func(v uint32) {
		buf = append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	}
	appendU64 := func(v uint64) {
		for i := 0; i < 8; i++ {
			buf = append(buf, byte(v>>(8*i)))
		}
	}
	appendU32(uint32(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		buf = append(buf, in.PreviousOutput.TxHash[:]...)
		appendU32(in.PreviousOutput.Index)
		appendU64(in.Since)
	}
	appendU32(uint32(len(tx.Outputs)))
	for i, out := range tx.Outputs {
		buf = append(buf, SerializeCellOutput(out)...)
		appendU32(uint32(len(tx.OutputsData[i])))
		buf = append(buf, tx.OutputsData[i]...)
	}
	appendU32(uint32(len(tx.CellDeps)))
	for _, d := range tx.CellDeps {
		buf = append(buf, d.OutPoint.TxHash[:]...)
		appendU32(d.OutPoint.Index)
		buf = append(buf, byte(d.DepType))
	}
	appendU32(uint32(len(tx.HeaderDeps)))
	for _, h := range tx.HeaderDeps {
		buf = append(buf, h[:]...)
	}
	if withWitnesses {
		appendU32(uint32(len(tx.Witnesses)))
		for _, w := range tx.Witnesses {
			appendU32(uint32(len(w)))
			buf = append(buf, w...)
		}
	}
	return buf
}

// TxHash returns the transaction's identity hash: blake2b_256 over the
// serialized transaction without witnesses.
func TxHash(p crypto.CryptoProvider, tx *Transaction) [32]byte {
	return p.Blake2b256(SerializeTransaction(tx, false))
}

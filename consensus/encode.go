package consensus

import (
	"encoding/binary"

	"rubin.dev/node/chain"
)

// Target (raw bytes), and Nonce (8-byte little-endian).
func BlockHeaderBytes(header BlockHeader) []byte {
	out := make([]byte, 0, 4+32+32+8+32+8)
	var tmp4 [4]byte
	var tmp8 [8]byte

	binary.LittleEndian.PutUint32(tmp4[:], header.Version)
	out = append(out, tmp4[:]...)
	out = append(out, header.PrevBlockHash[:]...)
	out = append(out, header.MerkleRoot[:]...)
	binary.LittleEndian.PutUint64(tmp8[:], header.Timestamp)
	out = append(out, tmp8[:]...)
	out = append(out, header.Target[:]...)
	binary.LittleEndian.PutUint64(tmp8[:], header.Nonce)
	out = append(out, tmp8[:]...)
	return out
}

// scriptBytes serializes a chain.Script as CodeHash || HashType || Args
// (Args length-prefixed with CompactSize).
func scriptBytes(s chain.Script) []byte {
	out := make([]byte, 0, 33+9+len(s.Args))
	out = append(out, s.CodeHash[:]...)
	out = append(out, byte(s.HashType))
	out = append(out, EncodeCompactSize(uint64(len(s.Args)))...)
	out = append(out, s.Args...)
	return out
}

// TxOutputBytes serializes a TxOutput (cell) into its canonical byte
// representation: Value (8-byte little-endian), the Lock script, a presence
// byte plus the Type script when set, then the Data payload length-prefixed
// with CompactSize.
func TxOutputBytes(o TxOutput) []byte {
	out := make([]byte, 0, 8+33+1+9+len(o.Data))
	var tmp8 [8]byte
	binary.LittleEndian.PutUint64(tmp8[:], o.Value)
	out = append(out, tmp8[:]...)
	out = append(out, scriptBytes(o.Lock)...)
	if o.Type != nil {
		out = append(out, 1)
		out = append(out, scriptBytes(*o.Type)...)
	} else {
		out = append(out, 0)
	}
	out = append(out, EncodeCompactSize(uint64(len(o.Data)))...)
	out = append(out, o.Data...)
	return out
}

// WitnessBytes serializes a transaction's opaque witnesses into a byte
// slice: a CompactSize count followed by each witness's CompactSize-prefixed
// bytes.
func WitnessBytes(witnesses [][]byte) []byte {
	out := make([]byte, 0, 9)
	out = append(out, EncodeCompactSize(uint64(len(witnesses)))...)
	for _, w := range witnesses {
		out = append(out, EncodeCompactSize(uint64(len(w)))...)
		out = append(out, w...)
	}
	return out
}

// daCommitFieldsBytes serializes a DACommitFields record.
func daCommitFieldsBytes(f DACommitFields) []byte {
	out := make([]byte, 0, 32+2+32+8+32+32+32+1+9+len(f.BatchSig))
	var tmp8 [8]byte
	out = append(out, f.DAID[:]...)
	out = append(out, AppendU16le(nil, f.ChunkCount)...)
	out = append(out, f.RETLDomainID[:]...)
	binary.LittleEndian.PutUint64(tmp8[:], f.BatchNumber)
	out = append(out, tmp8[:]...)
	out = append(out, f.TxDataRoot[:]...)
	out = append(out, f.StateRoot[:]...)
	out = append(out, f.WithdrawalsRoot[:]...)
	out = append(out, f.BatchSigSuite)
	out = append(out, CompactSize(len(f.BatchSig)).Encode()...)
	out = append(out, f.BatchSig...)
	return out
}

// daChunkFieldsBytes serializes a DAChunkFields record.
func daChunkFieldsBytes(f DAChunkFields) []byte {
	out := make([]byte, 0, 32+2+32)
	out = append(out, f.DAID[:]...)
	out = append(out, AppendU16le(nil, f.ChunkIndex)...)
	out = append(out, f.ChunkHash[:]...)
	return out
}

// TxNoWitnessBytes serializes a transaction excluding its witness section into a byte slice.
//
// The serialized layout is:
// - Version (4 bytes, little-endian)
// - TxKind (1 byte)
// - TxNonce (8 bytes, little-endian)
// - Inputs count (CompactSize) followed by each input:
//   - PrevTxid (32 bytes)
//   - PrevVout (4 bytes, little-endian)
//   - ScriptSig length (CompactSize) and ScriptSig bytes
//   - Sequence (4 bytes, little-endian)
//
// - Outputs count (CompactSize) followed by each output serialized by TxOutputBytes
// - Locktime (4 bytes, little-endian)
// - When TxKind is TX_KIND_DA_COMMIT or TX_KIND_DA_CHUNK: the DACommit/DAChunk core fields
//   followed by the CompactSize-prefixed DAPayload.
func TxNoWitnessBytes(tx *Tx) []byte {
	out := make([]byte, 0, 4+1+8)
	var tmp4 [4]byte
	binary.LittleEndian.PutUint32(tmp4[:], tx.Version)
	out = append(out, tmp4[:]...)
	out = append(out, tx.TxKind)
	var tmp8 [8]byte
	binary.LittleEndian.PutUint64(tmp8[:], tx.TxNonce)
	out = append(out, tmp8[:]...)

	out = append(out, CompactSize(len(tx.Inputs)).Encode()...)
	for _, in := range tx.Inputs {
		out = append(out, in.PrevTxid[:]...)
		binary.LittleEndian.PutUint32(tmp4[:], in.PrevVout)
		out = append(out, tmp4[:]...)
		out = append(out, CompactSize(len(in.ScriptSig)).Encode()...)
		out = append(out, in.ScriptSig...)
		binary.LittleEndian.PutUint32(tmp4[:], in.Sequence)
		out = append(out, tmp4[:]...)
	}

	out = append(out, CompactSize(len(tx.Outputs)).Encode()...)
	for _, o := range tx.Outputs {
		out = append(out, TxOutputBytes(o)...)
	}

	binary.LittleEndian.PutUint32(tmp4[:], tx.Locktime)
	out = append(out, tmp4[:]...)

	switch tx.TxKind {
	case TX_KIND_DA_COMMIT:
		if tx.DACommit != nil {
			out = append(out, daCommitFieldsBytes(*tx.DACommit)...)
		}
		out = append(out, CompactSize(len(tx.DAPayload)).Encode()...)
		out = append(out, tx.DAPayload...)
	case TX_KIND_DA_CHUNK:
		if tx.DAChunk != nil {
			out = append(out, daChunkFieldsBytes(*tx.DAChunk)...)
		}
		out = append(out, CompactSize(len(tx.DAPayload)).Encode()...)
		out = append(out, tx.DAPayload...)
	}
	return out
}

// TxBytes serializes tx into its complete binary representation including its witness section.
// The returned slice contains the transaction fields followed by the serialized witness data.
func TxBytes(tx *Tx) []byte {
	out := TxNoWitnessBytes(tx)
	out = append(out, WitnessBytes(tx.Witnesses)...)
	return out
}

// BlockBytes serializes a Block into its canonical byte representation.
// The result is the concatenation of the serialized block header, the number of transactions encoded as a CompactSize, and each transaction serialized (including witnesses).
func BlockBytes(block *Block) []byte {
	out := make([]byte, 0, 64)
	out = append(out, BlockHeaderBytes(block.Header)...)
	out = append(out, CompactSize(len(block.Transactions)).Encode()...)
	for _, tx := range block.Transactions {
		out = append(out, TxBytes(&tx)...)
	}
	return out
}

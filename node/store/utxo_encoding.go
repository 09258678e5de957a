package store

import (
	"encoding/binary"
	"fmt"

	"rubin.dev/node/chain"
	"rubin.dev/node/consensus"
)

func encodeOutpointKey(p consensus.TxOutPoint) []byte {
	// txid(32) || vout(u32 little-endian)
	out := make([]byte, 32+4)
	copy(out[0:32], p.TxID[:])
	binary.LittleEndian.PutUint32(out[32:36], p.Vout)
	return out
}

func decodeOutpointKey(b []byte) (consensus.TxOutPoint, error) {
	if len(b) != 36 {
		return consensus.TxOutPoint{}, fmt.Errorf("outpoint: expected 36 bytes, got %d", len(b))
	}
	var txid [32]byte
	copy(txid[:], b[0:32])
	vout := binary.LittleEndian.Uint32(b[32:36])
	return consensus.TxOutPoint{TxID: txid, Vout: vout}, nil
}

func encodeScript(s chain.Script) []byte {
	out := make([]byte, 0, 33+9+len(s.Args))
	out = append(out, s.CodeHash[:]...)
	out = append(out, byte(s.HashType))
	out = append(out, consensus.EncodeCompactSize(uint64(len(s.Args)))...)
	out = append(out, s.Args...)
	return out
}

func decodeScript(b []byte) (chain.Script, int, error) {
	if len(b) < 33 {
		return chain.Script{}, 0, fmt.Errorf("script: truncated")
	}
	var s chain.Script
	copy(s.CodeHash[:], b[0:32])
	s.HashType = chain.HashType(b[32])
	off := 33
	argLen, n, err := consensus.DecodeCompactSize(b[off:])
	if err != nil {
		return chain.Script{}, 0, fmt.Errorf("script: args_len: %w", err)
	}
	off += n
	if off+int(argLen) > len(b) {
		return chain.Script{}, 0, fmt.Errorf("script: bad args_len")
	}
	s.Args = append([]byte(nil), b[off:off+int(argLen)]...)
	off += int(argLen)
	return s, off, nil
}

// encodeUtxoEntry serializes a cell entry for persistence:
// value u64le | lock script | type presence byte + type script | data CompactSize-prefixed | creation_height u64le | created_by_coinbase u8
//
// Note: this is an *engineering* (Phase 1) persistence format, not a consensus wire format.
func encodeUtxoEntry(e consensus.UtxoEntry) ([]byte, error) {
	data := e.Output.Data
	if len(data) > 0xffffffff {
		return nil, fmt.Errorf("utxo: data too large")
	}
	out := make([]byte, 0, 8+64+1+64+9+len(data)+9)
	var tmp8 [8]byte
	binary.LittleEndian.PutUint64(tmp8[:], e.Output.Value)
	out = append(out, tmp8[:]...)
	out = append(out, encodeScript(e.Output.Lock)...)
	if e.Output.Type != nil {
		out = append(out, 1)
		out = append(out, encodeScript(*e.Output.Type)...)
	} else {
		out = append(out, 0)
	}
	out = append(out, consensus.EncodeCompactSize(uint64(len(data)))...)
	out = append(out, data...)
	binary.LittleEndian.PutUint64(tmp8[:], e.CreationHeight)
	out = append(out, tmp8[:]...)
	out = append(out, 0x00)
	if e.CreatedByCoinbase {
		out[len(out)-1] = 1
	}
	return out, nil
}

func decodeUtxoEntry(b []byte) (consensus.UtxoEntry, error) {
	if len(b) < 8+33+1 {
		return consensus.UtxoEntry{}, fmt.Errorf("utxo: truncated")
	}
	off := 0
	value := binary.LittleEndian.Uint64(b[off : off+8])
	off += 8

	lock, n, err := decodeScript(b[off:])
	if err != nil {
		return consensus.UtxoEntry{}, fmt.Errorf("utxo: lock: %w", err)
	}
	off += n

	if off >= len(b) {
		return consensus.UtxoEntry{}, fmt.Errorf("utxo: truncated at type presence byte")
	}
	var typeScript *chain.Script
	hasType := b[off] == 1
	off++
	if hasType {
		ts, n, err := decodeScript(b[off:])
		if err != nil {
			return consensus.UtxoEntry{}, fmt.Errorf("utxo: type: %w", err)
		}
		off += n
		typeScript = &ts
	}

	dataLen, n, err := consensus.DecodeCompactSize(b[off:])
	if err != nil {
		return consensus.UtxoEntry{}, fmt.Errorf("utxo: data_len: %w", err)
	}
	off += n
	if off+int(dataLen)+8+1 != len(b) {
		return consensus.UtxoEntry{}, fmt.Errorf("utxo: bad data_len")
	}
	data := append([]byte(nil), b[off:off+int(dataLen)]...)
	off += int(dataLen)
	creationHeight := binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	createdByCoinbase := b[off] == 1

	return consensus.UtxoEntry{
		Output: consensus.TxOutput{
			Value: value,
			Lock:  lock,
			Type:  typeScript,
			Data:  data,
		},
		CreationHeight:    creationHeight,
		CreatedByCoinbase: createdByCoinbase,
	}, nil
}

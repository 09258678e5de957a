package consensus

import (
	"fmt"

	"rubin.dev/node/chain"
	"rubin.dev/node/crypto"
)

// parseScript reads a chain.Script from cur: CodeHash (32 bytes), HashType (1
// byte), then a CompactSize-prefixed Args payload. Mirrors scriptBytes.
func parseScript(cur *cursor) (chain.Script, error) {
	codeHashBytes, err := cur.readExact(32)
	if err != nil {
		return chain.Script{}, err
	}
	var codeHash [32]byte
	copy(codeHash[:], codeHashBytes)

	hashTypeByte, err := cur.readU8()
	if err != nil {
		return chain.Script{}, err
	}

	argsLenU64, err := cur.readCompactSize()
	if err != nil {
		return chain.Script{}, err
	}
	argsLen, err := toIntLen(argsLenU64, "script_args_len")
	if err != nil {
		return chain.Script{}, err
	}
	argsBytes, err := cur.readExact(argsLen)
	if err != nil {
		return chain.Script{}, err
	}

	return chain.Script{
		CodeHash: codeHash,
		HashType: chain.HashType(hashTypeByte),
		Args:     append([]byte(nil), argsBytes...),
	}, nil
}

// parseInput reads a TxInput from cur.
// It expects: 32 bytes previous transaction id, a little-endian 4-byte previous output index,
// a compact-size length followed by that many scriptSig bytes, and a little-endian 4-byte sequence.
func parseInput(cur *cursor) (TxInput, error) {
	prevTxidBytes, err := cur.readExact(32)
	if err != nil {
		return TxInput{}, err
	}
	var prevTxid [32]byte
	copy(prevTxid[:], prevTxidBytes)

	prevVout, err := cur.readU32LE()
	if err != nil {
		return TxInput{}, err
	}

	scriptSigLenU64, err := cur.readCompactSize()
	if err != nil {
		return TxInput{}, err
	}
	scriptSigLen, err := toIntLen(scriptSigLenU64, "script_sig_len")
	if err != nil {
		return TxInput{}, err
	}
	scriptSigBytes, err := cur.readExact(scriptSigLen)
	if err != nil {
		return TxInput{}, err
	}

	sequence, err := cur.readU32LE()
	if err != nil {
		return TxInput{}, err
	}

	return TxInput{
		PrevTxid:  prevTxid,
		PrevVout:  prevVout,
		ScriptSig: append([]byte(nil), scriptSigBytes...),
		Sequence:  sequence,
	}, nil
}

// parseOutput reads a TxOutput (cell) from cur: Value, the Lock script, an
// optional Type script gated by a presence byte, then CompactSize-prefixed
// Data. Mirrors TxOutputBytes.
func parseOutput(cur *cursor) (TxOutput, error) {
	value, err := cur.readU64LE()
	if err != nil {
		return TxOutput{}, err
	}
	lock, err := parseScript(cur)
	if err != nil {
		return TxOutput{}, err
	}

	hasType, err := cur.readU8()
	if err != nil {
		return TxOutput{}, err
	}
	var typeScript *chain.Script
	if hasType != 0 {
		s, err := parseScript(cur)
		if err != nil {
			return TxOutput{}, err
		}
		typeScript = &s
	}

	dataLenU64, err := cur.readCompactSize()
	if err != nil {
		return TxOutput{}, err
	}
	dataLen, err := toIntLen(dataLenU64, "output_data_len")
	if err != nil {
		return TxOutput{}, err
	}
	dataBytes, err := cur.readExact(dataLen)
	if err != nil {
		return TxOutput{}, err
	}

	return TxOutput{
		Value: value,
		Lock:  lock,
		Type:  typeScript,
		Data:  append([]byte(nil), dataBytes...),
	}, nil
}

func parseInputList(cur *cursor) ([]TxInput, error) {
	inputCountU64, err := cur.readCompactSize()
	if err != nil {
		return nil, err
	}
	inputCount, err := toIntLen(inputCountU64, "input_count")
	if err != nil {
		return nil, err
	}
	inputs := make([]TxInput, 0, inputCount)
	for i := 0; i < inputCount; i++ {
		inp, err := parseInput(cur)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, inp)
	}
	return inputs, nil
}

func parseOutputList(cur *cursor) ([]TxOutput, error) {
	outputCountU64, err := cur.readCompactSize()
	if err != nil {
		return nil, err
	}
	outputCount, err := toIntLen(outputCountU64, "output_count")
	if err != nil {
		return nil, err
	}
	outputs := make([]TxOutput, 0, outputCount)
	for i := 0; i < outputCount; i++ {
		out, err := parseOutput(cur)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}

// parseWitnessList reads a CompactSize-prefixed list of opaque witness byte
// strings, each itself CompactSize-length-prefixed. Mirrors WitnessBytes.
func parseWitnessList(cur *cursor) ([][]byte, error) {
	witnessCountU64, err := cur.readCompactSize()
	if err != nil {
		return nil, err
	}
	witnessCount, err := toIntLen(witnessCountU64, "witness_count")
	if err != nil {
		return nil, err
	}
	witnesses := make([][]byte, 0, witnessCount)
	for i := 0; i < witnessCount; i++ {
		wLenU64, err := cur.readCompactSize()
		if err != nil {
			return nil, err
		}
		wLen, err := toIntLen(wLenU64, "witness_len")
		if err != nil {
			return nil, err
		}
		wBytes, err := cur.readExact(wLen)
		if err != nil {
			return nil, err
		}
		witnesses = append(witnesses, append([]byte(nil), wBytes...))
	}
	return witnesses, nil
}

func parseDACommitFields(cur *cursor) (DACommitFields, error) {
	daidBytes, err := cur.readExact(32)
	if err != nil {
		return DACommitFields{}, err
	}
	chunkCount, err := cur.readU16LE()
	if err != nil {
		return DACommitFields{}, err
	}
	retlBytes, err := cur.readExact(32)
	if err != nil {
		return DACommitFields{}, err
	}
	batchNumber, err := cur.readU64LE()
	if err != nil {
		return DACommitFields{}, err
	}
	txDataRootBytes, err := cur.readExact(32)
	if err != nil {
		return DACommitFields{}, err
	}
	stateRootBytes, err := cur.readExact(32)
	if err != nil {
		return DACommitFields{}, err
	}
	withdrawalsRootBytes, err := cur.readExact(32)
	if err != nil {
		return DACommitFields{}, err
	}
	batchSigSuite, err := cur.readU8()
	if err != nil {
		return DACommitFields{}, err
	}
	batchSigLenU64, err := cur.readCompactSize()
	if err != nil {
		return DACommitFields{}, err
	}
	batchSigLen, err := toIntLen(batchSigLenU64, "batch_sig_len")
	if err != nil {
		return DACommitFields{}, err
	}
	batchSigBytes, err := cur.readExact(batchSigLen)
	if err != nil {
		return DACommitFields{}, err
	}

	var f DACommitFields
	copy(f.DAID[:], daidBytes)
	f.ChunkCount = chunkCount
	copy(f.RETLDomainID[:], retlBytes)
	f.BatchNumber = batchNumber
	copy(f.TxDataRoot[:], txDataRootBytes)
	copy(f.StateRoot[:], stateRootBytes)
	copy(f.WithdrawalsRoot[:], withdrawalsRootBytes)
	f.BatchSigSuite = batchSigSuite
	f.BatchSig = append([]byte(nil), batchSigBytes...)
	return f, nil
}

func parseDAChunkFields(cur *cursor) (DAChunkFields, error) {
	daidBytes, err := cur.readExact(32)
	if err != nil {
		return DAChunkFields{}, err
	}
	chunkIndex, err := cur.readU16LE()
	if err != nil {
		return DAChunkFields{}, err
	}
	chunkHashBytes, err := cur.readExact(32)
	if err != nil {
		return DAChunkFields{}, err
	}
	var f DAChunkFields
	copy(f.DAID[:], daidBytes)
	f.ChunkIndex = chunkIndex
	copy(f.ChunkHash[:], chunkHashBytes)
	return f, nil
}

// parseTxFromCursor parses a Tx, including its witness section, from cur,
// matching TxBytes.
func parseTxFromCursor(cur *cursor) (*Tx, error) {
	version, err := cur.readU32LE()
	if err != nil {
		return nil, err
	}
	txKind, err := cur.readU8()
	if err != nil {
		return nil, err
	}
	txNonce, err := cur.readU64LE()
	if err != nil {
		return nil, err
	}
	inputs, err := parseInputList(cur)
	if err != nil {
		return nil, err
	}
	outputs, err := parseOutputList(cur)
	if err != nil {
		return nil, err
	}
	locktime, err := cur.readU32LE()
	if err != nil {
		return nil, err
	}

	tx := &Tx{
		Version:  version,
		TxKind:   txKind,
		TxNonce:  txNonce,
		Inputs:   inputs,
		Outputs:  outputs,
		Locktime: locktime,
	}

	switch txKind {
	case TX_KIND_DA_COMMIT:
		f, err := parseDACommitFields(cur)
		if err != nil {
			return nil, err
		}
		tx.DACommit = &f
		payloadLenU64, err := cur.readCompactSize()
		if err != nil {
			return nil, err
		}
		payloadLen, err := toIntLen(payloadLenU64, "da_payload_len")
		if err != nil {
			return nil, err
		}
		payloadBytes, err := cur.readExact(payloadLen)
		if err != nil {
			return nil, err
		}
		tx.DAPayload = append([]byte(nil), payloadBytes...)
	case TX_KIND_DA_CHUNK:
		f, err := parseDAChunkFields(cur)
		if err != nil {
			return nil, err
		}
		tx.DAChunk = &f
		payloadLenU64, err := cur.readCompactSize()
		if err != nil {
			return nil, err
		}
		payloadLen, err := toIntLen(payloadLenU64, "da_payload_len")
		if err != nil {
			return nil, err
		}
		payloadBytes, err := cur.readExact(payloadLen)
		if err != nil {
			return nil, err
		}
		tx.DAPayload = append([]byte(nil), payloadBytes...)
	}

	witnesses, err := parseWitnessList(cur)
	if err != nil {
		return nil, err
	}
	tx.Witnesses = witnesses
	return tx, nil
}

// ParseTxBytes parses a serialized transaction from b into a Tx, rejecting
// trailing bytes.
func ParseTxBytes(b []byte) (*Tx, error) {
	cur := newCursor(b)
	tx, err := parseTxFromCursor(cur)
	if err != nil {
		return nil, err
	}
	if cur.pos != len(b) {
		return nil, fmt.Errorf("parse: trailing bytes")
	}
	return tx, nil
}

// ParseBlockHeader parses a block header from the given cursor: version,
// 32-byte previous block hash, 32-byte merkle root, timestamp, 32-byte
// target, and nonce.
func ParseBlockHeader(cur *cursor) (BlockHeader, error) {
	version, err := cur.readU32LE()
	if err != nil {
		return BlockHeader{}, err
	}
	prev, err := cur.readExact(32)
	if err != nil {
		return BlockHeader{}, err
	}
	merkle, err := cur.readExact(32)
	if err != nil {
		return BlockHeader{}, err
	}
	timestamp, err := cur.readU64LE()
	if err != nil {
		return BlockHeader{}, err
	}
	target, err := cur.readExact(32)
	if err != nil {
		return BlockHeader{}, err
	}
	nonce, err := cur.readU64LE()
	if err != nil {
		return BlockHeader{}, err
	}
	var target32, prev32, merkle32 [32]byte
	copy(target32[:], target)
	copy(prev32[:], prev)
	copy(merkle32[:], merkle)
	return BlockHeader{
		Version:       version,
		PrevBlockHash: prev32,
		MerkleRoot:    merkle32,
		Timestamp:     timestamp,
		Target:        target32,
		Nonce:         nonce,
	}, nil
}

// ParseBlockBytes parses a complete block from b and returns the parsed
// Block. It decodes the header, a compact-encoded transaction count, that
// many transactions, and rejects trailing bytes.
func ParseBlockBytes(b []byte) (Block, error) {
	cur := newCursor(b)
	header, err := ParseBlockHeader(cur)
	if err != nil {
		return Block{}, err
	}
	txCountU64, err := cur.readCompactSize()
	if err != nil {
		return Block{}, err
	}
	txCount, err := toIntLen(txCountU64, "tx_count")
	if err != nil {
		return Block{}, err
	}
	txs := make([]Tx, 0, txCount)
	for i := 0; i < txCount; i++ {
		tx, err := parseTxFromCursor(cur)
		if err != nil {
			return Block{}, err
		}
		txs = append(txs, *tx)
	}
	if cur.pos != len(b) {
		return Block{}, fmt.Errorf("BLOCK_ERR_PARSE")
	}
	return Block{
		Header:       header,
		Transactions: txs,
	}, nil
}

// BlockHeaderHash computes the canonical header hash used for block
// identity: SHA3-256 of the header's serialized bytes.
func BlockHeaderHash(p crypto.CryptoProvider, header BlockHeader) ([32]byte, error) {
	return p.SHA3_256(BlockHeaderBytes(header)), nil
}

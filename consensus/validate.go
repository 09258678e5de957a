package consensus

import (
	"bytes"
	"fmt"

	"rubin.dev/node/chain"
	"rubin.dev/node/crypto"
	"rubin.dev/node/script"
)

// TxWeight computes an estimated weight for the given transaction.
// It combines a base component (4× the length of the transaction without witnesses) and the total witness bytes.
// Returns the computed total weight, or an error if the size addition overflows.
func TxWeight(tx *Tx) (uint64, error) {
	base := len(TxNoWitnessBytes(tx))
	witness := len(WitnessBytes(tx.Witnesses))
	base = base * 4
	return addUint64(uint64(base), uint64(witness))
}

// txidFromTx computes the transaction ID for the given transaction using the provided crypto provider.
func txidFromTx(p crypto.CryptoProvider, tx *Tx) [32]byte {
	return TxID(p, tx)
}

// TxID computes the transaction identifier for tx by hashing the transaction bytes without witnesses.
// It returns the 32-byte SHA3-256 digest produced by the provided crypto provider.
func TxID(p crypto.CryptoProvider, tx *Tx) [32]byte {
	return p.SHA3_256(TxNoWitnessBytes(tx))
}

// merkleRootTxIDs computes the Merkle root of the provided transactions using
// leaf and inner-node domain separation (leaf prefix 0x00, inner-node prefix 0x01).
// It returns the 32-byte Merkle root or an error when the input slice is empty.
func merkleRootTxIDs(p crypto.CryptoProvider, txs []*Tx) ([32]byte, error) {
	if len(txs) == 0 {
		return [32]byte{}, fmt.Errorf("BLOCK_ERR_MERKLE_INVALID")
	}
	level := make([][32]byte, 0, len(txs))
	for _, tx := range txs {
		// Leaf domain separation (spec §5.1.1): Leaf = SHA3-256(0x00 || txid)
		txid := TxID(p, tx)
		leaf := make([]byte, 0, 1+len(txid))
		leaf = append(leaf, 0x00)
		leaf = append(leaf, txid[:]...)
		level = append(level, p.SHA3_256(leaf))
	}
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			concat := make([]byte, 0, 1+len(level[i])+len(level[i+1]))
			concat = append(concat, 0x01)
			concat = append(concat, level[i][:]...)
			concat = append(concat, level[i+1][:]...)
			next = append(next, p.SHA3_256(concat))
		}
		level = next
	}
	return level[0], nil
}

// txSums computes the total input value by summing the referenced UTXO outputs and the total output value by summing tx.Outputs.
// It looks up each input's previous outpoint in the provided utxo map to obtain its value.
// Returns the total input value, the total output value, and an error if a referenced UTXO is missing or if any addition overflows.
func txSums(tx *Tx, utxo map[TxOutPoint]UtxoEntry) (uint64, uint64, error) {
	var inputSum uint64
	var outputSum uint64
	for _, input := range tx.Inputs {
		prev := TxOutPoint{
			TxID: input.PrevTxid,
			Vout: input.PrevVout,
		}
		entry, ok := utxo[prev]
		if !ok {
			return 0, 0, fmt.Errorf(TX_ERR_MISSING_UTXO)
		}
		var err error
		inputSum, err = addUint64(inputSum, entry.Output.Value)
		if err != nil {
			return 0, 0, err
		}
	}
	for _, output := range tx.Outputs {
		var err error
		outputSum, err = addUint64(outputSum, output.Value)
		if err != nil {
			return 0, 0, err
		}
	}
	return inputSum, outputSum, nil
}

// validateOutputCellConstraints checks the structural constraints every
// created cell must satisfy regardless of what its lock/type scripts are:
// a non-zero lock code hash (an output must be spendable by something) and
// a data payload within the per-output size cap.
func validateOutputCellConstraints(output TxOutput) error {
	if output.Lock.CodeHash == ([32]byte{}) {
		return fmt.Errorf("TX_ERR_PARSE")
	}
	if len(output.Data) > MAX_ANCHOR_PAYLOAD_SIZE {
		return fmt.Errorf("TX_ERR_PARSE")
	}
	return nil
}

// validateCoinbaseTxInputs verifies that tx uses the exact input shape required for a coinbase:
// it must have TxNonce == 0, exactly one input, that input's Sequence equal to TX_COINBASE_PREVOUT_VOUT,
// PrevTxid equal to the zero txid, PrevVout equal to TX_COINBASE_PREVOUT_VOUT, an empty ScriptSig,
// and no witnesses. It returns an error if any of these constraints are violated.
func validateCoinbaseTxInputs(tx *Tx) error {
	if tx.TxNonce != 0 {
		return fmt.Errorf(BLOCK_ERR_COINBASE_INVALID)
	}
	if len(tx.Inputs) != 1 {
		return fmt.Errorf(BLOCK_ERR_COINBASE_INVALID)
	}
	in := tx.Inputs[0]
	if in.Sequence != TX_COINBASE_PREVOUT_VOUT {
		return fmt.Errorf(BLOCK_ERR_COINBASE_INVALID)
	}
	if in.PrevTxid != ([32]byte{}) || in.PrevVout != TX_COINBASE_PREVOUT_VOUT {
		return fmt.Errorf(BLOCK_ERR_COINBASE_INVALID)
	}
	if len(in.ScriptSig) != 0 {
		return fmt.Errorf(BLOCK_ERR_COINBASE_INVALID)
	}
	if len(tx.Witnesses) != 0 {
		return fmt.Errorf(BLOCK_ERR_COINBASE_INVALID)
	}
	return nil
}

// ApplyBlock validates all block-level consensus rules for block B and mutates utxo on success.
// ApplyBlock validates and applies a full block against consensus rules, updating the provided UTXO map on success.
// It verifies header linkage, target and PoW, merkle root, and timestamps; ensures exactly one coinbase transaction;
// computes transaction weights and fees, enforces per-block limits (weight, subsidy), and validates and
// applies each transaction (including coinbase rules) using the working UTXO set. On success the provided utxo map is
// replaced with the updated state; on any error the original utxo map is left unmodified.
func ApplyBlock(
	p crypto.CryptoProvider,
	hardforks chain.HardforkSwitch,
	codeByHash map[[32]byte][]byte,
	chainID [32]byte,
	block *Block,
	utxo map[TxOutPoint]UtxoEntry,
	ctx BlockValidationContext,
) error {
	if block == nil || len(block.Transactions) == 0 {
		return fmt.Errorf(BLOCK_ERR_COINBASE_INVALID)
	}

	if ctx.Height > 0 && len(ctx.AncestorHeaders) == 0 {
		return fmt.Errorf(BLOCK_ERR_LINKAGE_INVALID)
	}

	if ctx.Height == 0 {
		var zero [32]byte
		if block.Header.PrevBlockHash != zero {
			return fmt.Errorf(BLOCK_ERR_LINKAGE_INVALID)
		}
	} else {
		parent := ctx.AncestorHeaders[len(ctx.AncestorHeaders)-1]
		if block.Header.PrevBlockHash != blockHeaderHash(p, &parent) {
			return fmt.Errorf(BLOCK_ERR_LINKAGE_INVALID)
		}
	}

	expectedTarget, err := blockExpectedTarget(ctx.AncestorHeaders, ctx.Height, block.Header.Target)
	if err != nil {
		return err
	}
	if !bytes.Equal(block.Header.Target[:], expectedTarget[:]) {
		return fmt.Errorf(BLOCK_ERR_TARGET_INVALID)
	}

	blockHash := blockHeaderHash(p, &block.Header)
	if bytes.Compare(blockHash[:], block.Header.Target[:]) >= 0 {
		return fmt.Errorf(BLOCK_ERR_POW_INVALID)
	}

	headerTxs := make([]*Tx, len(block.Transactions))
	for i := range block.Transactions {
		headerTxs[i] = &block.Transactions[i]
	}
	merkleRoot, err := merkleRootTxIDs(p, headerTxs)
	if err != nil {
		return fmt.Errorf(BLOCK_ERR_MERKLE_INVALID)
	}
	if merkleRoot != block.Header.MerkleRoot {
		return fmt.Errorf(BLOCK_ERR_MERKLE_INVALID)
	}

	if ctx.Height > 0 {
		medianTs, err := medianPastTimestamp(ctx.AncestorHeaders, ctx.Height)
		if err != nil {
			return err
		}
		if block.Header.Timestamp <= medianTs {
			return fmt.Errorf(BLOCK_ERR_TIMESTAMP_OLD)
		}
		if ctx.LocalTimeSet && block.Header.Timestamp > ctx.LocalTime+MAX_FUTURE_DRIFT {
			return fmt.Errorf(BLOCK_ERR_TIMESTAMP_FUTURE)
		}
	}

	coinbaseCount := 0
	for i := range block.Transactions {
		if isCoinbaseTx(&block.Transactions[i], ctx.Height) {
			coinbaseCount++
			if i != 0 {
				return fmt.Errorf(BLOCK_ERR_COINBASE_INVALID)
			}
		}
	}
	if coinbaseCount != 1 {
		return fmt.Errorf(BLOCK_ERR_COINBASE_INVALID)
	}

	workingUTXO := make(map[TxOutPoint]UtxoEntry, len(utxo))
	for point, entry := range utxo {
		workingUTXO[point] = entry
	}

	var totalWeight uint64
	var totalFees uint64
	seenNonces := make(map[uint64]struct{}, len(block.Transactions))

	for _, tx := range block.Transactions {
		weight, err := TxWeight(&tx)
		if err != nil {
			return err
		}
		totalWeight, err = addUint64(totalWeight, weight)
		if err != nil {
			return err
		}

		isCoinbase := isCoinbaseTx(&tx, ctx.Height)
		if !isCoinbase {
			if tx.TxNonce == TX_NONCE_ZERO {
				return fmt.Errorf(TX_ERR_TX_NONCE_INVALID)
			}
			if _, exists := seenNonces[tx.TxNonce]; exists {
				return fmt.Errorf(TX_ERR_NONCE_REPLAY)
			}
			seenNonces[tx.TxNonce] = struct{}{}
		}

		if err := ApplyTx(p, hardforks, codeByHash, chainID, &tx, workingUTXO, ctx.Height); err != nil {
			return err
		}

		if !isCoinbase {
			inputSum, outputSum, err := txSums(&tx, workingUTXO)
			if err != nil {
				return err
			}
			fee, err := subUint64(inputSum, outputSum)
			if err != nil {
				return err
			}
			totalFees, err = addUint64(totalFees, fee)
			if err != nil {
				return err
			}
			for _, input := range tx.Inputs {
				delete(workingUTXO, TxOutPoint{TxID: input.PrevTxid, Vout: input.PrevVout})
			}
		}

		txID := TxID(p, &tx)
		for i, output := range tx.Outputs {
			workingUTXO[TxOutPoint{TxID: txID, Vout: uint32(i)}] = UtxoEntry{
				Output:            output,
				CreationHeight:    ctx.Height,
				CreatedByCoinbase: isCoinbase,
			}
		}
	}

	if totalWeight > MAX_BLOCK_WEIGHT {
		return fmt.Errorf(BLOCK_ERR_WEIGHT_EXCEEDED)
	}

	var coinbaseValue uint64
	for _, output := range block.Transactions[0].Outputs {
		var err error
		coinbaseValue, err = addUint64(coinbaseValue, output.Value)
		if err != nil {
			return err
		}
	}
	maxCoinbase, err := addUint64(blockRewardForHeight(ctx.Height), totalFees)
	if err != nil {
		return err
	}
	if ctx.Height != 0 {
		if coinbaseValue > maxCoinbase {
			return fmt.Errorf(BLOCK_ERR_SUBSIDY_EXCEEDED)
		}
	}

	for prev := range utxo {
		delete(utxo, prev)
	}
	for point, entry := range workingUTXO {
		utxo[point] = entry
	}
	return nil
}

// ApplyTx validates a single transaction against consensus rules using the provided UTXO set.
//
// It performs structural checks (limits on inputs/outputs and witness sizes), enforces coinbase-specific rules,
// validates structural cell constraints for outputs, enforces nonces and witness/input count consistency for
// non-coinbase transactions, checks input sequence values and duplicate/zero prevouts, verifies every input's
// authorization in one pass by running all of the transaction's script groups, enforces coinbase maturity, and
// ensures input value is greater than or equal to output value. The function does not mutate the provided UTXO map.
//
// Returns an error if the transaction fails validation, nil otherwise.
func ApplyTx(
	p crypto.CryptoProvider,
	hardforks chain.HardforkSwitch,
	codeByHash map[[32]byte][]byte,
	chainID [32]byte,
	tx *Tx,
	utxo map[TxOutPoint]UtxoEntry,
	chainHeight uint64,
) error {
	if tx == nil {
		return fmt.Errorf("TX_ERR_PARSE")
	}

	if len(tx.Inputs) > MAX_TX_INPUTS || len(tx.Outputs) > MAX_TX_OUTPUTS {
		return fmt.Errorf("TX_ERR_PARSE")
	}
	if len(tx.Witnesses) > MAX_WITNESS_ITEMS {
		return fmt.Errorf(TX_ERR_WITNESS_OVERFLOW)
	}
	if len(WitnessBytes(tx.Witnesses)) > MAX_WITNESS_BYTES_PER_TX {
		return fmt.Errorf(TX_ERR_WITNESS_OVERFLOW)
	}

	if isCoinbaseTx(tx, chainHeight) {
		if err := validateCoinbaseTxInputs(tx); err != nil {
			return err
		}
		for _, output := range tx.Outputs {
			if err := validateOutputCellConstraints(output); err != nil {
				return err
			}
		}
		return nil
	}

	if tx.TxNonce == TX_NONCE_ZERO {
		return fmt.Errorf(TX_ERR_TX_NONCE_INVALID)
	}
	if len(tx.Inputs) != len(tx.Witnesses) {
		return fmt.Errorf("TX_ERR_PARSE")
	}

	for _, output := range tx.Outputs {
		if err := validateOutputCellConstraints(output); err != nil {
			return err
		}
	}

	seen := make(map[TxOutPoint]struct{}, len(tx.Inputs))
	var totalInputs uint64
	var totalOutputs uint64
	prevEntries := make([]UtxoEntry, len(tx.Inputs))

	for i, input := range tx.Inputs {
		if input.Sequence == TX_COINBASE_PREVOUT_VOUT || input.Sequence > TX_MAX_SEQUENCE {
			return fmt.Errorf(TX_ERR_SEQUENCE_INVALID)
		}

		prevout := TxOutPoint{
			TxID: input.PrevTxid,
			Vout: input.PrevVout,
		}
		if isZeroOutPoint(prevout) {
			return fmt.Errorf("TX_ERR_PARSE")
		}
		if _, dup := seen[prevout]; dup {
			return fmt.Errorf("TX_ERR_PARSE")
		}
		seen[prevout] = struct{}{}

		prevEntry, ok := utxo[prevout]
		if !ok {
			return fmt.Errorf("TX_ERR_MISSING_UTXO")
		}
		prevEntries[i] = prevEntry

		if prevEntry.CreatedByCoinbase && chainHeight < prevEntry.CreationHeight+COINBASE_MATURITY {
			return fmt.Errorf(TX_ERR_COINBASE_IMMATURE)
		}

		var sumErr error
		totalInputs, sumErr = addUint64(totalInputs, prevEntry.Output.Value)
		if sumErr != nil {
			return sumErr
		}
	}

	if err := ValidateInputAuthorization(p, hardforks, codeByHash, tx, prevEntries, chainHeight); err != nil {
		return err
	}

	for _, output := range tx.Outputs {
		var sumErr error
		totalOutputs, sumErr = addUint64(totalOutputs, output.Value)
		if sumErr != nil {
			return sumErr
		}
	}
	if totalOutputs > totalInputs {
		return fmt.Errorf("TX_ERR_VALUE_CONSERVATION")
	}
	return nil
}

// ValidateInputAuthorization checks that every input of tx is authorized to
// spend the cell it references, by resolving tx into the cell model and
// running all of its script groups to completion (one verification pass
// covers every input, since inputs sharing a lock script share a group).
//
// codeByHash supplies script code by content hash for Data/Data1-hash-type
// locks; it stands in for on-chain cell-dep resolution, which this package
// does not persist (see DESIGN.md).
func ValidateInputAuthorization(
	p crypto.CryptoProvider,
	hardforks chain.HardforkSwitch,
	codeByHash map[[32]byte][]byte,
	tx *Tx,
	prevEntries []UtxoEntry,
	epoch uint64,
) error {
	if len(prevEntries) != len(tx.Inputs) {
		return fmt.Errorf("TX_ERR_PARSE")
	}

	rtx := resolveTxForScripts(tx, prevEntries, codeByHash)

	v := script.NewVerifier(p, hardforks, nil)
	if _, err := v.VerifyWithoutLimit(rtx, epoch); err != nil {
		return translateScriptError(err)
	}
	return nil
}

func resolveTxForScripts(tx *Tx, prevEntries []UtxoEntry, codeByHash map[[32]byte][]byte) *chain.ResolvedTransaction {
	ctx := &chain.Transaction{
		Inputs:      make([]chain.TxInput, len(tx.Inputs)),
		Outputs:     make([]chain.Cell, len(tx.Outputs)),
		OutputsData: make([][]byte, len(tx.Outputs)),
		Witnesses:   tx.Witnesses,
	}
	for i, in := range tx.Inputs {
		ctx.Inputs[i] = chain.TxInput{PreviousOutput: chain.OutPoint{TxHash: in.PrevTxid, Index: in.PrevVout}}
	}
	for i, out := range tx.Outputs {
		ctx.Outputs[i] = txOutputToCell(out)
		ctx.OutputsData[i] = out.Data
	}

	resolvedInputs := make([]chain.Cell, len(prevEntries))
	seen := make(map[[32]byte]struct{})
	var deps []chain.ResolvedCellDep
	addDep := func(hash [32]byte) {
		if _, ok := seen[hash]; ok {
			return
		}
		seen[hash] = struct{}{}
		code, ok := codeByHash[hash]
		if !ok {
			return
		}
		deps = append(deps, chain.ResolvedCellDep{Cell: chain.Cell{Data: code, DataHash: hash}})
	}
	for i, entry := range prevEntries {
		cell := txOutputToCell(entry.Output)
		resolvedInputs[i] = cell
		addDep(cell.Lock.CodeHash)
		if cell.Type != nil {
			addDep(cell.Type.CodeHash)
		}
	}

	return &chain.ResolvedTransaction{
		Tx:             ctx,
		ResolvedInputs: resolvedInputs,
		ResolvedDeps:   deps,
	}
}

func txOutputToCell(o TxOutput) chain.Cell {
	return chain.Cell{
		Capacity: o.Value,
		Lock:     o.Lock,
		Type:     o.Type,
		Data:     o.Data,
	}
}

// translateScriptError maps the cell-model verifier's typed errors onto the
// flat TX_ERR_* taxonomy the rest of this package uses.
func translateScriptError(err error) error {
	if err == nil {
		return nil
	}
	cerr, ok := err.(*chain.Error)
	if !ok {
		return err
	}
	switch cerr.Kind {
	case chain.ErrValidationFailure:
		return fmt.Errorf("TX_ERR_SIG_INVALID")
	case chain.ErrExceededMaximumCycles:
		return fmt.Errorf("TX_ERR_SCRIPT_CYCLES_EXCEEDED")
	case chain.ErrInvalidCodeHash:
		return fmt.Errorf("TX_ERR_SCRIPT_CODE_MISSING")
	default:
		return fmt.Errorf("TX_ERR_SCRIPT_INTERNAL")
	}
}

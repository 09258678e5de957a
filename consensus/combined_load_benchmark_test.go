package consensus

import (
	"os"
	"strconv"
	"testing"

	"rubin.dev/node/chain"
	"rubin.dev/node/crypto"
)

const defaultCombinedLoadTxCount = 64

func benchmarkEnvInt(tb testing.TB, key string, defaultValue int, minValue int, maxValue int) int {
	tb.Helper()
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		tb.Fatalf("invalid %s=%q: %v", key, raw, err)
	}
	if parsed < minValue || parsed > maxValue {
		tb.Fatalf("%s=%d out of range [%d,%d]", key, parsed, minValue, maxValue)
	}
	return parsed
}

// BenchmarkApplyBlockCombinedLoad measures ApplyBlock's throughput over a
// block carrying a configurable number of single-input single-output
// transactions, all spending distinct cells locked by the same script.
func BenchmarkApplyBlockCombinedLoad(b *testing.B) {
	txCount := benchmarkEnvInt(b, "RUBIN_COMBINED_LOAD_TXS", defaultCombinedLoadTxCount, 1, 4096)

	p := crypto.DevStdCryptoProvider{}
	lock, codeByHash := lockAndDeps(p, alwaysSuccessCode())

	baseUTXO := make(map[TxOutPoint]UtxoEntry, txCount)
	nonCoinbase := make([]Tx, 0, txCount)
	for i := 0; i < txCount; i++ {
		prevout := TxOutPoint{TxID: [32]byte{byte(i), byte(i >> 8)}, Vout: 0}
		baseUTXO[prevout] = UtxoEntry{Output: TxOutput{Value: 1_000, Lock: lock}}
		nonCoinbase = append(nonCoinbase, Tx{
			Version:   TX_VERSION_V2,
			TxNonce:   uint64(i + 1),
			Inputs:    []TxInput{{PrevTxid: prevout.TxID, PrevVout: prevout.Vout}},
			Outputs:   []TxOutput{{Value: 990, Lock: lock}},
			Witnesses: [][]byte{{}},
		})
	}

	coinbase := Tx{
		Inputs: []TxInput{
			{PrevTxid: [32]byte{}, PrevVout: TX_COINBASE_PREVOUT_VOUT, Sequence: TX_COINBASE_PREVOUT_VOUT},
		},
		Outputs: []TxOutput{{Value: blockRewardForHeight(0) + uint64(txCount)*10, Lock: lock}},
	}

	allTxs := make([]Tx, 0, txCount+1)
	allTxs = append(allTxs, coinbase)
	allTxs = append(allTxs, nonCoinbase...)

	txRefs := make([]*Tx, len(allTxs))
	for i := range allTxs {
		txRefs[i] = &allTxs[i]
	}
	root, err := merkleRootTxIDs(p, txRefs)
	if err != nil {
		b.Fatalf("merkle root: %v", err)
	}

	block := &Block{Transactions: allTxs}
	block.Header.MerkleRoot = root
	block.Header.Target = MAX_TARGET

	ctx := BlockValidationContext{Height: 0}

	run := func() int {
		utxo := make(map[TxOutPoint]UtxoEntry, len(baseUTXO))
		for k, v := range baseUTXO {
			utxo[k] = v
		}
		if err := ApplyBlock(p, chain.NoHardforks(), codeByHash, [32]byte{}, block, utxo, ctx); err != nil {
			b.Fatalf("ApplyBlock: %v", err)
		}
		return len(BlockBytes(block))
	}

	blockSize := run()
	b.Logf("combined-load fixture: txs=%d total_block_bytes=%d", txCount, blockSize)

	b.ReportAllocs()
	b.SetBytes(int64(blockSize))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		run()
	}
}

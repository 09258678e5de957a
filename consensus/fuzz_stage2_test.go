package consensus

import (
	"testing"

	"rubin.dev/node/chain"
	"rubin.dev/node/crypto"
)

func FuzzParseTxBytesRoundtrip(f *testing.F) {
	p := crypto.DevStdCryptoProvider{}
	lock, _ := lockAndDeps(p, alwaysSuccessCode())
	tx := &Tx{
		Version:   TX_VERSION_V2,
		TxNonce:   1,
		Inputs:    []TxInput{{PrevTxid: [32]byte{1}, PrevVout: 0}},
		Outputs:   []TxOutput{{Value: 1, Lock: lock}},
		Witnesses: [][]byte{{}},
	}
	f.Add(TxBytes(tx))
	f.Add([]byte{})
	f.Add([]byte{0x00})

	f.Fuzz(func(t *testing.T, txBytes []byte) {
		if len(txBytes) > (2 << 20) {
			return
		}
		parsed, err := ParseTxBytes(txBytes)
		if err != nil {
			return
		}
		if _, err := TxWeight(parsed); err != nil {
			t.Fatalf("TxWeight on a successfully parsed tx must not fail: %v", err)
		}
	})
}

func FuzzParseBlockBytesRoundtrip(f *testing.F) {
	p := crypto.DevStdCryptoProvider{}
	lock, _ := lockAndDeps(p, alwaysSuccessCode())
	coinbase := Tx{
		Inputs: []TxInput{
			{PrevTxid: [32]byte{}, PrevVout: TX_COINBASE_PREVOUT_VOUT, Sequence: TX_COINBASE_PREVOUT_VOUT},
		},
		Outputs: []TxOutput{{Value: blockRewardForHeight(0), Lock: lock}},
	}
	root, _ := merkleRootTxIDs(p, []*Tx{&coinbase})
	block := &Block{Transactions: []Tx{coinbase}}
	block.Header.MerkleRoot = root
	block.Header.Target = MAX_TARGET

	f.Add(BlockBytes(block))
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, blockBytes []byte) {
		if len(blockBytes) > (4 << 20) {
			return
		}
		_, _ = ParseBlockBytes(blockBytes)
	})
}

func FuzzRetargetV1Arithmetic(f *testing.F) {
	var targetPowLimit [32]byte
	for i := range targetPowLimit {
		targetPowLimit[i] = 0xff
	}
	f.Add(targetPowLimit[:], uint64(1), uint64(WINDOW_SIZE*TARGET_BLOCK_INTERVAL))
	f.Add([]byte{0xff}, uint64(100), uint64(90))

	f.Fuzz(func(t *testing.T, targetRaw []byte, tsFirst uint64, tsLast uint64) {
		if len(targetRaw) == 0 || len(targetRaw) > 64 {
			return
		}

		var targetOld [32]byte
		copy(targetOld[:], targetRaw)

		out1, err1 := RetargetV1(targetOld, tsFirst, tsLast)
		out2, err2 := RetargetV1(targetOld, tsFirst, tsLast)

		if (err1 == nil) != (err2 == nil) {
			t.Fatalf("retarget non-deterministic error presence: first=%v second=%v", err1, err2)
		}
		if err1 == nil && out1 != out2 {
			t.Fatalf("retarget non-deterministic output")
		}
	})
}

func FuzzApplyTxNonCoinbase(f *testing.F) {
	p := crypto.DevStdCryptoProvider{}
	lock, codeByHash := lockAndDeps(p, alwaysSuccessCode())
	prevout := TxOutPoint{TxID: [32]byte{0x55}, Vout: 0}
	seedTx := &Tx{
		Version:   TX_VERSION_V2,
		TxNonce:   1,
		Inputs:    []TxInput{{PrevTxid: prevout.TxID, PrevVout: prevout.Vout}},
		Outputs:   []TxOutput{{Value: 90, Lock: lock}},
		Witnesses: [][]byte{{}},
	}
	f.Add(TxBytes(seedTx), uint64(1), uint64(100))

	f.Fuzz(func(t *testing.T, txBytes []byte, blockHeight uint64, prevoutValue uint64) {
		if len(txBytes) > (2 << 20) {
			return
		}
		tx, err := ParseTxBytes(txBytes)
		if err != nil {
			return
		}
		if tx.TxKind != TX_KIND_STANDARD {
			return
		}

		utxoSet := make(map[TxOutPoint]UtxoEntry, len(tx.Inputs))
		for _, in := range tx.Inputs {
			utxoSet[TxOutPoint{TxID: in.PrevTxid, Vout: in.PrevVout}] = UtxoEntry{
				Output:         TxOutput{Value: prevoutValue, Lock: lock},
				CreationHeight: 1,
			}
		}
		_ = ApplyTx(p, chain.NoHardforks(), codeByHash, [32]byte{}, tx, utxoSet, blockHeight)
	})
}

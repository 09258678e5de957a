package consensus

import (
	"bytes"
	"testing"
)

func minimalTxBytesForFuzz() []byte {
	tx := &Tx{Version: TX_VERSION_V2}
	return TxBytes(tx)
}

func minimalBlockBytesForFuzz() []byte {
	block := &Block{
		Header:       BlockHeader{Version: 1, Target: MAX_TARGET, Timestamp: 1, Nonce: 1},
		Transactions: []Tx{{Version: TX_VERSION_V2}},
	}
	return BlockBytes(block)
}

func FuzzReadCompactSize(f *testing.F) {
	f.Add([]byte{0x00})
	f.Add([]byte{0xfc})
	f.Add([]byte{0xfd, 0xfd, 0x00})
	f.Add([]byte{0xfe, 0x00, 0x00, 0x01, 0x00})
	f.Fuzz(func(t *testing.T, b []byte) {
		off := 0
		n, nbytes, err := readCompactSize(b, &off)
		if err != nil {
			return
		}
		if nbytes <= 0 || nbytes > len(b) {
			t.Fatalf("bad nbytes=%d len=%d", nbytes, len(b))
		}
		enc := EncodeCompactSize(n)
		if !bytes.Equal(enc, b[:nbytes]) {
			t.Fatalf("non-minimal or mismatch: got=%x want_prefix=%x", enc, b[:nbytes])
		}
	})
}

func FuzzParseTx(f *testing.F) {
	f.Add(minimalTxBytesForFuzz())
	f.Fuzz(func(t *testing.T, b []byte) {
		if len(b) > (2 << 20) {
			return
		}
		tx, err := ParseTxBytes(b)
		if err != nil {
			return
		}
		if !bytes.Equal(TxBytes(tx), b) {
			t.Fatalf("re-serialized transaction bytes do not match input")
		}
	})
}

func FuzzParseBlockBytes(f *testing.F) {
	f.Add(minimalBlockBytesForFuzz())
	f.Fuzz(func(t *testing.T, b []byte) {
		if len(b) > (4 << 20) {
			return
		}
		block, err := ParseBlockBytes(b)
		if err != nil {
			return
		}
		if !bytes.Equal(BlockBytes(&block), b) {
			t.Fatalf("re-serialized block bytes do not match input")
		}
	})
}

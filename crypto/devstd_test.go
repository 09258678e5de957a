package crypto

import (
	"encoding/hex"
	"testing"

	"golang.org/x/crypto/blake2b"
)

func TestDevStdSHA3_256_KnownVector(t *testing.T) {
	p := DevStdCryptoProvider{}
	sum := p.SHA3_256([]byte("abc"))
	// SHA3-256("abc")
	const want = "3a985da74fe225b2045c172d6bd390bd855f086e3e9d525b46bfe24511431532"
	got := hex.EncodeToString(sum[:])
	if got != want {
		t.Fatalf("digest mismatch: got=%s want=%s", got, want)
	}
}

func TestDevStdBlake2b256_MatchesLibrary(t *testing.T) {
	p := DevStdCryptoProvider{}
	got := p.Blake2b256([]byte("cell-data"))
	want := blake2b.Sum256([]byte("cell-data"))
	if got != want {
		t.Fatalf("Blake2b256 mismatch: got=%x want=%x", got, want)
	}
}

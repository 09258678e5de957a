package crypto

// CryptoProvider is the narrow crypto interface used by consensus and script
// code.
type CryptoProvider interface {
	SHA3_256(input []byte) [32]byte

	// Blake2b256 hashes cell data, scripts, and transactions for the
	// cell-based script-execution subsystem (chain, script, vm, syscall).
	Blake2b256(input []byte) [32]byte
}

package statedb

import "github.com/ethereum/go-ethereum/crypto"

// keccakInto32 hashes buf with keccak256, go-ethereum's crypto package
// being the library this codebase uses for every keccak256 call (there
// is no reason to hand-roll sha3 when it is already a dependency).
func keccakInto32(buf []byte) [32]byte {
	var out [32]byte
	copy(out[:], crypto.Keccak256(buf))
	return out
}

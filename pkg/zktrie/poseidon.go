package zktrie

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/poseidon2"
)

// EmptyHash is the fixed sentinel for an empty subtree (spec.md 4.1:
// "empty subtrees have the fixed sentinel 0x00...00").
var EmptyHash [32]byte

// poseidonHash combines two field elements the way an internal zkTrie
// node does: H(left, right, nodeType), truncated to 32 bytes. nodeType
// distinguishes a branch (0) from a leaf (1) so that a leaf hash and an
// internal-node hash can never collide.
func poseidonHash(nodeType byte, left, right [32]byte) [32]byte {
	var l, r, t fr.Element
	l.SetBytes(left[:])
	r.SetBytes(right[:])
	t.SetUint64(uint64(nodeType))

	h := poseidon2.NewMerkleDamgardHasher()
	h.Write(l.Marshal())
	h.Write(r.Marshal())
	h.Write(t.Marshal())

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// hashKey maps an arbitrary-length key to a fixed 32-byte field element,
// used to derive the MSB-first bit path from the root.
func hashKey(key []byte) [32]byte {
	var k fr.Element
	k.SetBytes(key)

	h := poseidon2.NewMerkleDamgardHasher()
	h.Write(k.Marshal())

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// hashLeaf computes a leaf's hash from its hashed key and value,
// nodeType=1 (leaf), so inclusion proofs imply key-equality per spec.md
// 4.1 ("Leaves carry the preimage of the key").
func hashLeaf(keyHash, value [32]byte) [32]byte {
	return poseidonHash(1, keyHash, value)
}

// hashBranch combines two child hashes into a parent, nodeType=0.
func hashBranch(left, right [32]byte) [32]byte {
	return poseidonHash(0, left, right)
}

// HashCode computes poseidon(code) per spec.md section 3 ("code_hash is
// poseidon(code)"), chaining 31-byte chunks Merkle-Damgard style so
// arbitrary-length bytecode reduces to a single field-sized digest
// without truncation.
func HashCode(code []byte) [32]byte {
	acc := EmptyHash
	for i := 0; i < len(code); i += 31 {
		end := i + 31
		if end > len(code) {
			end = len(code)
		}
		var chunk [32]byte
		copy(chunk[1:], code[i:end])
		acc = hashBranch(acc, chunk)
	}
	return acc
}

// bitAt returns bit i (0 = MSB) of h, used to walk the trie from the
// root per spec.md 4.1 ("keyed by the Poseidon hash of its children...
// split into bits, MSB-first from the root").
func bitAt(h [32]byte, i int) bool {
	byteIdx := i / 8
	bitIdx := 7 - uint(i%8)
	return (h[byteIdx]>>bitIdx)&1 == 1
}

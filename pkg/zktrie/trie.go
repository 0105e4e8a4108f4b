// Package zktrie implements the sparse binary Merkle-Patricia variant
// described in spec.md section 4.1: a Poseidon-hashed trie keyed by the
// bits of Poseidon(key), MSB-first from the root. It supports verifying
// inclusion and exclusion proofs against a claimed root, and replaying a
// proof to compute the root after a single key's value changes.
//
// This package does no I/O and holds no trie state of its own — it is a
// pure verify/update oracle that pkg/statedb calls against proofs
// supplied by the witness.
package zktrie

import (
	"bytes"
	"errors"
	"fmt"
)

// maxDepth is the number of bits in a Poseidon-hashed key (32 bytes).
const maxDepth = 256

var (
	// ErrBadProof is returned when a proof fails to recompute the
	// claimed root, or is otherwise structurally inconsistent.
	ErrBadProof = errors.New("zktrie: bad proof")

	// ErrKeyCollision is returned by Update when two distinct keys hash
	// to bit-identical paths for the full trie depth — cryptographically
	// implausible, but checked rather than assumed.
	ErrKeyCollision = errors.New("zktrie: key collision at max depth")
)

// Leaf is the preimage carried at a trie leaf: the original key (so
// inclusion implies key-equality) and its committed value.
type Leaf struct {
	KeyPreimage []byte
	Value       [32]byte
}

// Proof is the sibling path from root to leaf (Siblings[0] nearest the
// root, Siblings[len-1] nearest the leaf) plus, for an exclusion proof,
// either a nil Leaf (the position was never populated) or a Leaf
// belonging to a different key whose path diverges from the queried
// key's path somewhere within Siblings' depth.
type Proof struct {
	Siblings [][32]byte
	Leaf     *Leaf `rlp:"nil"`
}

// VerifyProof recomputes root by walking Siblings along the bits of
// Poseidon(key) starting at the leaf. It returns the leaf's value on
// inclusion, (nil, nil) on a verified exclusion, or ErrBadProof.
func VerifyProof(root [32]byte, key []byte, proof *Proof) (*[32]byte, error) {
	if proof == nil {
		return nil, fmt.Errorf("%w: nil proof", ErrBadProof)
	}

	keyBits := hashKey(key)

	var leafHash [32]byte
	inclusion := false

	if proof.Leaf == nil {
		leafHash = EmptyHash
	} else {
		leafBits := hashKey(proof.Leaf.KeyPreimage)
		leafHash = hashLeaf(leafBits, proof.Leaf.Value)

		if bytes.Equal(proof.Leaf.KeyPreimage, key) {
			inclusion = true
		} else if !agreesWithin(keyBits, leafBits, len(proof.Siblings)) {
			return nil, fmt.Errorf("%w: occupant leaf's path does not match the queried key's path over the proof depth", ErrBadProof)
		}
	}

	if recomputeRoot(keyBits, leafHash, proof.Siblings) != root {
		return nil, fmt.Errorf("%w: recomputed root does not match", ErrBadProof)
	}

	if inclusion {
		v := proof.Leaf.Value
		return &v, nil
	}
	return nil, nil
}

// Update replays proof (which must first satisfy VerifyProof against
// root) with key's value changed to newValue, returning the new root.
// A no-op update (newValue already equal to the proven value) returns
// root unchanged, satisfying the idempotence invariant in spec.md
// section 8. Inserting at a previously-empty or differently-keyed
// position extends the path with fresh empty siblings down to the
// point the two keys diverge, per spec.md 4.1.
func Update(root [32]byte, key []byte, newValue [32]byte, proof *Proof) ([32]byte, error) {
	if _, err := VerifyProof(root, key, proof); err != nil {
		return [32]byte{}, err
	}

	keyBits := hashKey(key)
	newLeafHash := hashLeaf(keyBits, newValue)

	if proof.Leaf == nil || bytes.Equal(proof.Leaf.KeyPreimage, key) {
		return recomputeRoot(keyBits, newLeafHash, proof.Siblings), nil
	}

	depth := len(proof.Siblings)
	occupantBits := hashKey(proof.Leaf.KeyPreimage)
	occupantHash := hashLeaf(occupantBits, proof.Leaf.Value)

	divergence := depth
	for divergence < maxDepth && bitAt(keyBits, divergence) == bitAt(occupantBits, divergence) {
		divergence++
	}
	if divergence >= maxDepth {
		return [32]byte{}, fmt.Errorf("%w: %x vs preimage", ErrKeyCollision, key)
	}

	cur := branchOf(keyBits, divergence, occupantHash, newLeafHash)
	for i := divergence - 1; i >= depth; i-- {
		cur = branchOf(keyBits, i, EmptyHash, cur)
	}

	return recomputeRoot(keyBits, cur, proof.Siblings), nil
}

// recomputeRoot walks siblings bottom-up, combining leafHash at the
// bottom-most level with each sibling according to keyBits' bit at that
// level, yielding the root.
func recomputeRoot(keyBits [32]byte, leafHash [32]byte, siblings [][32]byte) [32]byte {
	cur := leafHash
	for i := len(siblings) - 1; i >= 0; i-- {
		cur = branchOf(keyBits, i, siblings[i], cur)
	}
	return cur
}

// branchOf combines sibling and self at depth i, ordering the two
// operands by which side keyBits' bit at i puts self on. other is the
// value placed on the side keyBits does NOT occupy.
func branchOf(keyBits [32]byte, i int, other, self [32]byte) [32]byte {
	if bitAt(keyBits, i) {
		return hashBranch(other, self)
	}
	return hashBranch(self, other)
}

// agreesWithin reports whether a and b's bit paths are identical over
// [0, depth) — required for an occupant leaf to plausibly sit at the
// position proof.Siblings describes. The two keys are still expected to
// diverge somewhere beyond depth; Update locates that mismatch position
// when it needs to split the leaf.
func agreesWithin(a, b [32]byte, depth int) bool {
	for i := 0; i < depth; i++ {
		if bitAt(a, i) != bitAt(b, i) {
			return false
		}
	}
	return true
}

package zktrie

import "testing"

func TestUpdateFromEmptyThenVerifyInclusion(t *testing.T) {
	key := []byte("account:0xabc")
	var value [32]byte
	value[31] = 7

	emptyProof := &Proof{Siblings: nil, Leaf: nil}
	if v, err := VerifyProof(EmptyHash, key, emptyProof); err != nil {
		t.Fatalf("verify empty root: %v", err)
	} else if v != nil {
		t.Fatalf("expected exclusion (nil value) against empty root, got %x", *v)
	}

	newRoot, err := Update(EmptyHash, key, value, emptyProof)
	if err != nil {
		t.Fatalf("update into empty trie: %v", err)
	}

	inclusionProof := &Proof{Siblings: nil, Leaf: &Leaf{KeyPreimage: key, Value: value}}
	got, err := VerifyProof(newRoot, key, inclusionProof)
	if err != nil {
		t.Fatalf("verify inclusion after insert: %v", err)
	}
	if got == nil || *got != value {
		t.Fatalf("inclusion value mismatch: got %v, want %x", got, value)
	}
}

func TestNoOpUpdateIsIdempotent(t *testing.T) {
	key := []byte("storage:0xdead:1")
	var value [32]byte
	value[0] = 0xff

	root, err := Update(EmptyHash, key, value, &Proof{})
	if err != nil {
		t.Fatalf("seed insert: %v", err)
	}

	proof := &Proof{Leaf: &Leaf{KeyPreimage: key, Value: value}}
	if _, err := VerifyProof(root, key, proof); err != nil {
		t.Fatalf("verify seeded leaf: %v", err)
	}

	// spec.md section 8: verifyProof(R,k,p)=Some(v) => update(R,k,v,p) == R
	again, err := Update(root, key, value, proof)
	if err != nil {
		t.Fatalf("no-op update: %v", err)
	}
	if again != root {
		t.Fatalf("no-op update changed root: got %x, want %x", again, root)
	}
}

func TestUpdateChangesRoot(t *testing.T) {
	key := []byte("account:0x1")
	var oldValue, newValue [32]byte
	oldValue[0] = 1
	newValue[0] = 2

	root, err := Update(EmptyHash, key, oldValue, &Proof{})
	if err != nil {
		t.Fatalf("seed insert: %v", err)
	}

	proof := &Proof{Leaf: &Leaf{KeyPreimage: key, Value: oldValue}}
	updatedRoot, err := Update(root, key, newValue, proof)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updatedRoot == root {
		t.Fatalf("root did not change after value update")
	}

	updatedProof := &Proof{Leaf: &Leaf{KeyPreimage: key, Value: newValue}}
	got, err := VerifyProof(updatedRoot, key, updatedProof)
	if err != nil {
		t.Fatalf("verify after update: %v", err)
	}
	if got == nil || *got != newValue {
		t.Fatalf("post-update value mismatch: got %v, want %x", got, newValue)
	}
}

func TestCollisionExtendsPath(t *testing.T) {
	keyA := []byte("account:0xA")
	keyB := []byte("account:0xB")
	var valueA, valueB [32]byte
	valueA[0] = 0xAA
	valueB[0] = 0xBB

	rootA, err := Update(EmptyHash, keyA, valueA, &Proof{})
	if err != nil {
		t.Fatalf("seed A: %v", err)
	}

	// Build a depth-0 exclusion proof asserting keyB's slot is occupied
	// by keyA's leaf (the only leaf in the trie), then insert keyB —
	// this forces the path-extension branch in Update.
	collisionProof := &Proof{Siblings: nil, Leaf: &Leaf{KeyPreimage: keyA, Value: valueA}}
	rootAB, err := Update(rootA, keyB, valueB, collisionProof)
	if err != nil {
		t.Fatalf("insert colliding key: %v", err)
	}
	if rootAB == rootA {
		t.Fatalf("root unchanged after inserting second key")
	}
}

func TestBadProofRejected(t *testing.T) {
	key := []byte("account:0xC")
	var value [32]byte
	value[0] = 9

	root, err := Update(EmptyHash, key, value, &Proof{})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	wrongProof := &Proof{Siblings: [][32]byte{{1, 2, 3}}}
	if _, err := VerifyProof(root, key, wrongProof); err == nil {
		t.Fatalf("expected BadProof for mismatched sibling path")
	}
}

package verifier

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/certen/sgx-prover/pkg/rollup"
)

type fakeDCAP struct{ valid bool }

func (f fakeDCAP) VerifyAttestation([]byte, [64]byte) bool { return f.valid }

func TestHappyPathAttestAndCommit(t *testing.T) {
	owner := common.HexToAddress("0x1000000000000000000000000000000000000a")
	attestorA := common.HexToAddress("0xa000000000000000000000000000000000000a")

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate prover key: %v", err)
	}
	prover := crypto.PubkeyToAddress(key.PublicKey)

	chainID := big.NewInt(534352)
	c := New(owner, 1, 3600, fakeDCAP{valid: true}, chainID)

	if err := c.AddAttestors(owner, []common.Address{attestorA}); err != nil {
		t.Fatalf("add attestors: %v", err)
	}

	reportBytes := []byte("quote-bytes")
	h, err := c.SubmitAttestationReport(prover, reportBytes)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := c.VoteAttestationReport(attestorA, h, true); err != nil {
		t.Fatalf("vote: %v", err)
	}

	if ts := c.AttestedAt(prover); ts == 0 {
		t.Fatalf("expected prover to be attested")
	}

	var batchHash, stateHash, prevRoot, newRoot, wdRoot [32]byte
	batchHash[0] = 1
	stateHash[0] = 2
	newRoot[0] = 3

	hash, err := SigningHash(chainID, batchHash, stateHash, prevRoot, newRoot, wdRoot)
	if err != nil {
		t.Fatalf("signing hash: %v", err)
	}
	sig, err := crypto.Sign(hash[:], key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	var sig65 [65]byte
	copy(sig65[:], sig)

	poe := &rollup.Report{
		BatchHash:      batchHash,
		StateHash:      stateHash,
		PrevStateRoot:  prevRoot,
		NewStateRoot:   newRoot,
		WithdrawalRoot: wdRoot,
		Signature:      sig65,
	}

	if err := c.CommitBatch(1, poe); err != nil {
		t.Fatalf("commit batch: %v", err)
	}

	if _, ok := c.Batch(common.Hash(batchHash)); !ok {
		t.Fatalf("expected batch to be recorded")
	}

	if err := c.CommitBatch(1, poe); err == nil {
		t.Fatalf("expected double-commit to be rejected")
	}
}

func TestChallengeRevokesAttestorAndProver(t *testing.T) {
	owner := common.HexToAddress("0x1000000000000000000000000000000000000a")
	attestorA := common.HexToAddress("0xa000000000000000000000000000000000000a")
	prover := common.HexToAddress("0xb000000000000000000000000000000000000b")

	c := New(owner, 1, 3600, fakeDCAP{valid: false}, big.NewInt(1))
	if err := c.AddAttestors(owner, []common.Address{attestorA}); err != nil {
		t.Fatalf("add attestors: %v", err)
	}

	h, err := c.SubmitAttestationReport(prover, []byte("bad-quote"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := c.VoteAttestationReport(attestorA, h, true); err != nil {
		t.Fatalf("vote: %v", err)
	}

	var reportData [64]byte
	if err := c.ChallengeReport(attestorA, h, reportData); err != nil {
		t.Fatalf("challenge: %v", err)
	}

	if c.IsAttestor(attestorA) {
		t.Fatalf("expected attestor to be removed")
	}
	if c.AttestedAt(prover) != revokedSentinel {
		t.Fatalf("expected prover to be revoked")
	}
}

func TestExpiredAttestationRejectsCommit(t *testing.T) {
	owner := common.HexToAddress("0x1000000000000000000000000000000000000a")
	attestorA := common.HexToAddress("0xa000000000000000000000000000000000000a")

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate prover key: %v", err)
	}
	prover := crypto.PubkeyToAddress(key.PublicKey)

	chainID := big.NewInt(1)
	c := New(owner, 1, 1, fakeDCAP{valid: true}, chainID)
	if err := c.AddAttestors(owner, []common.Address{attestorA}); err != nil {
		t.Fatalf("add attestors: %v", err)
	}

	h, err := c.SubmitAttestationReport(prover, []byte("quote"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := c.VoteAttestationReport(attestorA, h, true); err != nil {
		t.Fatalf("vote: %v", err)
	}

	time.Sleep(2 * time.Second)

	var batchHash, stateHash, prevRoot, newRoot, wdRoot [32]byte
	hash, err := SigningHash(chainID, batchHash, stateHash, prevRoot, newRoot, wdRoot)
	if err != nil {
		t.Fatalf("signing hash: %v", err)
	}
	sig, err := crypto.Sign(hash[:], key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	var sig65 [65]byte
	copy(sig65[:], sig)

	poe := &rollup.Report{BatchHash: batchHash, StateHash: stateHash, PrevStateRoot: prevRoot, NewStateRoot: newRoot, WithdrawalRoot: wdRoot, Signature: sig65}
	if err := c.CommitBatch(1, poe); err == nil {
		t.Fatalf("expected commit to be rejected after attestation expiry")
	}
}

func TestCommitAtExactExpiryBoundaryRejected(t *testing.T) {
	// spec.md section 8's boundary law: a commitBatch at exactly
	// attestedProvers[p]+validity has already expired. A zero validity
	// window makes "now" equal that boundary immediately after voting,
	// with no sleep needed to reach it deterministically.
	owner := common.HexToAddress("0x1000000000000000000000000000000000000a")
	attestorA := common.HexToAddress("0xa000000000000000000000000000000000000a")

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate prover key: %v", err)
	}
	prover := crypto.PubkeyToAddress(key.PublicKey)

	chainID := big.NewInt(1)
	c := New(owner, 1, 0, fakeDCAP{valid: true}, chainID)
	if err := c.AddAttestors(owner, []common.Address{attestorA}); err != nil {
		t.Fatalf("add attestors: %v", err)
	}

	h, err := c.SubmitAttestationReport(prover, []byte("quote"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := c.VoteAttestationReport(attestorA, h, true); err != nil {
		t.Fatalf("vote: %v", err)
	}

	var batchHash, stateHash, prevRoot, newRoot, wdRoot [32]byte
	hash, err := SigningHash(chainID, batchHash, stateHash, prevRoot, newRoot, wdRoot)
	if err != nil {
		t.Fatalf("signing hash: %v", err)
	}
	sig, err := crypto.Sign(hash[:], key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	var sig65 [65]byte
	copy(sig65[:], sig)

	poe := &rollup.Report{BatchHash: batchHash, StateHash: stateHash, PrevStateRoot: prevRoot, NewStateRoot: newRoot, WithdrawalRoot: wdRoot, Signature: sig65}
	if err := c.CommitBatch(1, poe); err == nil {
		t.Fatalf("expected commit exactly at the expiry boundary to be rejected")
	}
}

func TestRepeatSubmissionBySameProverRejected(t *testing.T) {
	owner := common.HexToAddress("0x1000000000000000000000000000000000000a")
	prover := common.HexToAddress("0xb000000000000000000000000000000000000b")

	c := New(owner, 1, 3600, fakeDCAP{valid: true}, big.NewInt(1))

	if _, err := c.SubmitAttestationReport(prover, []byte("quote")); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := c.SubmitAttestationReport(prover, []byte("quote")); err == nil {
		t.Fatalf("expected repeat submission to be rejected")
	}
}

// Package verifier is the Go-resident model of the on-chain Verifier
// contract (spec.md component C6): attestor registration, attestation
// report submission/voting/challenge, and batch commitment. It is the
// state machine a real Solidity contract would run; this package gives
// the Attestor and the prover's relay path something to call directly
// in-process while carrying the exact same invariants spec.md section
// 4.6 specifies for the contract.
package verifier

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/certen/sgx-prover/pkg/errs"
	"github.com/certen/sgx-prover/pkg/rollup"
)

// revokedSentinel is the attestedProvers value meaning "revoked", per
// spec.md section 3 ("0 ⇒ unknown, 1 ⇒ revoked").
const revokedSentinel = 1

// vote mirrors the contract's per-attestor vote tri-state of spec.md
// section 3: unvoted / approve / reject.
type vote uint8

const (
	voteNone vote = iota
	voteApprove
	voteReject
)

// ReportState is the on-chain `reports[hash]` record.
type ReportState struct {
	Prover      common.Address
	BlockNumber uint64
	Approved    int
	Votes       map[common.Address]vote
	Bytes       []byte
}

// BatchInfo is the on-chain `batches[batchHash]` record.
type BatchInfo struct {
	BatchID        uint64
	NewStateRoot   [32]byte
	PrevStateRoot  [32]byte
	WithdrawalRoot [32]byte
}

// DCAPAttestation is the on-chain DCAP verifier view spec.md section 3
// names as the immutable `dcapAttestation` address: "verify quote ->
// pubkey, or reject". Out of scope per spec.md section 1 ("the
// cryptographic primitives of the underlying DCAP quote parser...");
// this package only needs the capability, not its implementation.
type DCAPAttestation interface {
	VerifyAttestation(quote []byte, reportData [64]byte) bool
}

// Contract is the in-process Verifier state machine.
type Contract struct {
	mu sync.Mutex

	owner           common.Address
	attestors       map[common.Address]bool
	reports         map[common.Hash]*ReportState
	attestedProvers map[common.Address]int64
	batches         map[common.Hash]*BatchInfo

	attestValiditySeconds int64
	threshold             int
	dcap                  DCAPAttestation
	layer2ChainID         *big.Int

	events []abcitypes.Event
}

// New constructs a Contract with its immutable parameters fixed at
// deployment, mirroring spec.md section 3's "immutable dcapAttestation
// address, immutable layer2ChainId".
func New(owner common.Address, threshold int, attestValiditySeconds int64, dcap DCAPAttestation, layer2ChainID *big.Int) *Contract {
	return &Contract{
		owner:                 owner,
		attestors:             make(map[common.Address]bool),
		reports:               make(map[common.Hash]*ReportState),
		attestedProvers:       make(map[common.Address]int64),
		batches:               make(map[common.Hash]*BatchInfo),
		attestValiditySeconds: attestValiditySeconds,
		threshold:             threshold,
		dcap:                  dcap,
		layer2ChainID:         layer2ChainID,
	}
}

// Events drains and returns every event emitted since the last call,
// the in-process analogue of reading a transaction receipt's logs.
func (c *Contract) Events() []abcitypes.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.events
	c.events = nil
	return out
}

func (c *Contract) emit(eventType string, attrs ...abcitypes.EventAttribute) {
	c.events = append(c.events, abcitypes.Event{Type: eventType, Attributes: attrs})
}

func attr(k, v string) abcitypes.EventAttribute {
	return abcitypes.EventAttribute{Key: k, Value: v, Index: true}
}

// requireOwner guards the owner-only setters of spec.md section 4.6.
func (c *Contract) requireOwner(caller common.Address) error {
	if caller != c.owner {
		return errs.New(errs.ContractRevert, "verifier", fmt.Errorf("caller is not owner"))
	}
	return nil
}

// AddAttestors is owner-only.
func (c *Contract) AddAttestors(caller common.Address, attestors []common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireOwner(caller); err != nil {
		return err
	}
	for _, a := range attestors {
		c.attestors[a] = true
		c.emit("AddAttestor", attr("attestor", a.Hex()))
	}
	return nil
}

// RemoveAttestors is owner-only.
func (c *Contract) RemoveAttestors(caller common.Address, attestors []common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireOwner(caller); err != nil {
		return err
	}
	for _, a := range attestors {
		delete(c.attestors, a)
	}
	return nil
}

// ChangeAttestValiditySeconds is owner-only.
func (c *Contract) ChangeAttestValiditySeconds(caller common.Address, seconds int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireOwner(caller); err != nil {
		return err
	}
	c.attestValiditySeconds = seconds
	return nil
}

// ChangeOwner is owner-only.
func (c *Contract) ChangeOwner(caller, newOwner common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireOwner(caller); err != nil {
		return err
	}
	c.owner = newOwner
	return nil
}

// IsAttestor reports current attestor-set membership.
func (c *Contract) IsAttestor(addr common.Address) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attestors[addr]
}

// AttestedAt returns the attestedProvers[prover] value: 0 unknown, 1
// revoked, otherwise the unix timestamp attestation began.
func (c *Contract) AttestedAt(prover common.Address) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attestedProvers[prover]
}

// SubmitAttestationReport writes reports[h] and emits
// RequestAttestation. spec.md section 4.6: "rejects a repeat submission
// with the same prover (prevents trivial re-submission to reset the
// vote tally)."
func (c *Contract) SubmitAttestationReport(prover common.Address, reportBytes []byte) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := crypto.Keccak256Hash(reportBytes)
	if existing, ok := c.reports[h]; ok && existing.Prover == prover {
		return h, errs.New(errs.ContractRevert, "verifier.SubmitAttestationReport",
			fmt.Errorf("report already submitted for this prover"))
	}

	c.reports[h] = &ReportState{
		Prover:      prover,
		BlockNumber: 0,
		Votes:       make(map[common.Address]vote),
		Bytes:       reportBytes,
	}
	c.emit("RequestAttestation", attr("hash", h.Hex()))
	return h, nil
}

// VoteAttestationReport is attestor-only. spec.md section 4.6: "each
// attestor may vote at most once per report; increments approved on
// approve; once approved >= threshold, sets attestedProvers[prover] =
// block.timestamp and emits ProverApproved. Rejects if the prover is
// already attested."
func (c *Contract) VoteAttestationReport(attestor common.Address, h common.Hash, approve bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.attestors[attestor] {
		return errs.New(errs.ContractRevert, "verifier.VoteAttestationReport", fmt.Errorf("caller is not an attestor"))
	}
	r, ok := c.reports[h]
	if !ok {
		return errs.New(errs.ContractRevert, "verifier.VoteAttestationReport", fmt.Errorf("unknown report"))
	}
	if ts := c.attestedProvers[r.Prover]; ts != 0 && ts != revokedSentinel {
		return errs.New(errs.ContractRevert, "verifier.VoteAttestationReport", fmt.Errorf("prover already attested"))
	}
	if r.Votes[attestor] != voteNone {
		return errs.New(errs.ContractRevert, "verifier.VoteAttestationReport", fmt.Errorf("attestor already voted"))
	}

	if approve {
		r.Votes[attestor] = voteApprove
		r.Approved++
	} else {
		r.Votes[attestor] = voteReject
	}

	if r.Approved >= c.threshold {
		c.attestedProvers[r.Prover] = time.Now().Unix()
		c.emit("ProverApproved", attr("prover", r.Prover.Hex()))
	}
	return nil
}

// ChallengeReport re-verifies the quote embedded in a submitted report
// against the on-chain DCAP view; a mismatch between what the attestor
// approved and what DCAP actually says revokes both parties (spec.md
// section 4.6: "forms an objective slashing hook").
func (c *Contract) ChallengeReport(attestor common.Address, h common.Hash, reportData [64]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.reports[h]
	if !ok {
		return errs.New(errs.ContractRevert, "verifier.ChallengeReport", fmt.Errorf("unknown report"))
	}
	if r.Votes[attestor] != voteApprove {
		return errs.New(errs.ContractRevert, "verifier.ChallengeReport", fmt.Errorf("attestor did not approve this report"))
	}

	valid := c.dcap != nil && c.dcap.VerifyAttestation(r.Bytes, reportData)
	if !valid {
		c.attestors[attestor] = false
		c.attestedProvers[r.Prover] = revokedSentinel
	}
	return nil
}

// CommitBatch recovers the PoE signer and requires it be currently
// attested, then writes batches[batchHash] exactly once (spec.md
// section 4.6: "rejects double-commit of the same batchHash").
func (c *Contract) CommitBatch(batchID uint64, poe *rollup.Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	signer, err := recoverSigner(c.layer2ChainID, poe)
	if err != nil {
		return errs.New(errs.Signature, "verifier.CommitBatch", err)
	}

	ts := c.attestedProvers[signer]
	if ts == 0 || ts == revokedSentinel || time.Now().Unix() >= ts+c.attestValiditySeconds {
		return errs.New(errs.ContractRevert, "verifier.CommitBatch", fmt.Errorf("prover not attested"))
	}

	batchHash := common.Hash(poe.BatchHash)
	if _, exists := c.batches[batchHash]; exists {
		return errs.New(errs.ContractRevert, "verifier.CommitBatch", fmt.Errorf("batch already commit"))
	}

	c.batches[batchHash] = &BatchInfo{
		BatchID:        batchID,
		NewStateRoot:   poe.NewStateRoot,
		PrevStateRoot:  poe.PrevStateRoot,
		WithdrawalRoot: poe.WithdrawalRoot,
	}
	c.emit("CommitBatch", attr("batchIndex", fmt.Sprintf("%d", batchID)), attr("batchHash", batchHash.Hex()))
	return nil
}

// Batch returns a committed batch's record, if any.
func (c *Contract) Batch(batchHash common.Hash) (*BatchInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.batches[batchHash]
	return b, ok
}

// ReportBytes returns a submitted report's calldata and submitting
// prover, the way the Attestor's log tailer reconstructs them from a
// transaction's calldata (spec.md section 5).
func (c *Contract) ReportBytes(h common.Hash) ([]byte, common.Address, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.reports[h]
	if !ok {
		return nil, common.Address{}, false
	}
	return r.Bytes, r.Prover, true
}

// poeArguments is the abi.encode tuple of spec.md section 4.4/6:
// (chainId, batchHash, stateHash, prevStateRoot, newStateRoot,
// withdrawalRoot, zeros(65)) for signing.
var poeArguments = abi.Arguments{
	{Type: mustType("uint256")},
	{Type: mustType("bytes32")},
	{Type: mustType("bytes32")},
	{Type: mustType("bytes32")},
	{Type: mustType("bytes32")},
	{Type: mustType("bytes32")},
	{Type: mustType("bytes")},
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// SigningHash returns keccak256(abi.encode(chainId, batchHash,
// stateHash, prevStateRoot, newStateRoot, withdrawalRoot, zeros(65))),
// the exact digest spec.md section 4.4 step 6 signs.
func SigningHash(chainID *big.Int, batchHash, stateHash, prevStateRoot, newStateRoot, withdrawalRoot [32]byte) ([32]byte, error) {
	zero65 := make([]byte, 65)
	packed, err := poeArguments.Pack(chainID, batchHash, stateHash, prevStateRoot, newStateRoot, withdrawalRoot, zero65)
	if err != nil {
		return [32]byte{}, err
	}
	return crypto.Keccak256Hash(packed), nil
}

func recoverSigner(chainID *big.Int, poe *rollup.Report) (common.Address, error) {
	hash, err := SigningHash(chainID, poe.BatchHash, poe.StateHash, poe.PrevStateRoot, poe.NewStateRoot, poe.WithdrawalRoot)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := crypto.SigToPub(hash[:], poe.Signature[:])
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Package prover is the orchestration core (spec.md component C4): it
// fetches a batch's witness, drives re-execution through pkg/evm
// against pkg/statedb, computes the PoE's batch/state hashes, and
// signs the result with the enclave keypair pkg/attestation owns.
package prover

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log"
	"math/big"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/certen/sgx-prover/pkg/attestation"
	"github.com/certen/sgx-prover/pkg/errs"
	"github.com/certen/sgx-prover/pkg/evm"
	"github.com/certen/sgx-prover/pkg/l2client"
	"github.com/certen/sgx-prover/pkg/metrics"
	"github.com/certen/sgx-prover/pkg/rollup"
	"github.com/certen/sgx-prover/pkg/statedb"
)

// withdrawalMessenger is the designated system contract whose storage
// holds the withdrawal trie root, per spec.md section 4.4 step 4. A
// real deployment reads this from the L2's predeploy address layout;
// it is pinned to a fixed address here since this prover targets one L2.
var withdrawalMessenger = common.HexToAddress("0x53000000000000000000000000000000000000")

// withdrawalRootSlot is the storage slot within withdrawalMessenger the
// withdrawal trie root is committed to.
var withdrawalRootSlot = sha256.Sum256([]byte("scroll.l2.withdrawal-root-slot"))

// Core is the Prover core. One Core serves exactly one enclave keypair
// for the lifetime of the process.
type Core struct {
	attest  *attestation.Service
	fetcher l2client.BlockFetcher
	driver  *evm.Driver
	chainID *big.Int
	metrics *metrics.Metrics
	logger  *log.Logger

	// prove is serialised behind proveMu: spec.md section 5 ("request
	// dispatch is one-at-a-time per keypair to avoid nonce races").
	// report() is read-only and needs no lock.
	proveMu sync.Mutex
}

// New builds a Core. fetcher may be nil if the caller only intends to
// serve prove()/report() (tests); mock() and validate() need it.
func New(attest *attestation.Service, fetcher l2client.BlockFetcher, driver *evm.Driver, chainID *big.Int, m *metrics.Metrics) *Core {
	return &Core{
		attest:  attest,
		fetcher: fetcher,
		driver:  driver,
		chainID: chainID,
		metrics: m,
		logger:  log.New(os.Stdout, "[prover] ", log.LstdFlags),
	}
}

// Report serves the one-shot enclave attestation report. Read-only and
// safely callable concurrently with Prove (spec.md section 5).
func (c *Core) Report() *attestation.Report {
	return c.attest.Report()
}

// Prove runs the full algorithm of spec.md section 4.4 over a fetched
// witness and returns the signed PoE, or aborts without signing on any
// of WitnessIncomplete/RootMismatch/BadProof/EvmInternal/StateHashMismatch.
func (c *Core) Prove(ctx context.Context, batchID uint64, w *rollup.Witness) (*rollup.Report, error) {
	c.proveMu.Lock()
	defer c.proveMu.Unlock()

	if c.metrics != nil {
		start := time.Now()
		defer func() { c.metrics.ProveDuration.Observe(time.Since(start).Seconds()) }()
	}

	// id correlates this prove's log lines (and, on failure, the kind
	// tag a caller sees back over JSON-RPC) across the whole call,
	// per SPEC_FULL.md's request/report/batch correlation-id convention.
	id := uuid.NewString()
	c.logger.Printf("id=%s prove start batchId=%d blocks=%d", id, batchID, len(w.Blocks))

	report, err := c.prove(batchID, w)
	if err != nil {
		c.logger.Printf("id=%s prove failed batchId=%d kind=%s: %v", id, batchID, errs.KindOf(err), err)
		return nil, err
	}
	c.logger.Printf("id=%s prove done batchId=%d batchHash=%x", id, batchID, report.BatchHash)
	return report, nil
}

// prove is Prove's algorithm body, split out so Prove itself stays a
// thin correlation-id/logging wrapper around it.
func (c *Core) prove(batchID uint64, w *rollup.Witness) (*rollup.Report, error) {
	if len(w.Blocks) == 0 {
		return nil, errs.New(errs.L2Inconsistent, "prover.Prove", fmt.Errorf("empty batch"))
	}

	// Step 1: batchHash = keccak256(block1.hash || ... || blockN.hash).
	var blockHashes []byte
	for _, bw := range w.Blocks {
		h := bw.Block.Hash()
		blockHashes = append(blockHashes, h[:]...)
	}
	batchHash := crypto.Keccak256Hash(blockHashes)

	// Step 2: seed the State DB from block1's claimed prev-state root.
	db := statedb.New(w.Blocks[0].PrevStateRoot)

	var lastPost [32]byte
	for _, bw := range w.Blocks {
		if err := c.driver.ExecuteBlock(db, bw); err != nil {
			return nil, err
		}
		got, err := db.Commit()
		if err != nil {
			return nil, errs.New(errs.EvmInternal, "prover.Prove", err)
		}
		if got != bw.PostStateRoot {
			return nil, errs.New(errs.RootMismatch, "prover.Prove",
				fmt.Errorf("block %d: recomputed root %x != claimed %x", bw.Block.Header.Number, got, bw.PostStateRoot))
		}
		lastPost = got
	}

	// Step 4: withdrawal root from the designated system slot, checked
	// against the last block's header.
	lastHeader := w.Blocks[len(w.Blocks)-1].Block.Header
	withdrawalRoot, err := db.GetStorage(withdrawalMessenger, withdrawalRootSlot)
	if err != nil {
		return nil, err
	}
	if withdrawalRoot != lastHeader.Withdrawal {
		return nil, errs.New(errs.StateHashMismatch, "prover.Prove",
			fmt.Errorf("withdrawal root %x disagrees with header %x", withdrawalRoot, lastHeader.Withdrawal))
	}

	// Step 5: stateHash over the canonical, length-prefixed, sorted
	// access log.
	stateHash, err := canonicalStateHash(db.AccessLog())
	if err != nil {
		return nil, errs.New(errs.StateHashMismatch, "prover.Prove", err)
	}

	// Step 6: sign the PoE digest with the enclave keypair.
	sigHash, err := signingDigest(c.chainID, batchHash, stateHash, w.Blocks[0].PrevStateRoot, lastPost, withdrawalRoot)
	if err != nil {
		return nil, errs.New(errs.Internal, "prover.Prove", err)
	}
	sig, err := c.attest.Sign(sigHash)
	if err != nil {
		return nil, errs.New(errs.Signature, "prover.Prove", err)
	}

	if c.metrics != nil {
		c.metrics.ReportsSigned.Inc()
	}

	return &rollup.Report{
		BatchHash:      batchHash,
		StateHash:      stateHash,
		PrevStateRoot:  w.Blocks[0].PrevStateRoot,
		NewStateRoot:   lastPost,
		WithdrawalRoot: withdrawalRoot,
		Signature:      sig,
	}, nil
}

// ProveRange fetches a witness from the configured BlockFetcher and
// proves it. It backs the dev-only `mock(from, to)` and `validate` RPC
// methods; production callers use Prove directly with an externally
// supplied witness via `prove`.
func (c *Core) ProveRange(ctx context.Context, batchID uint64, from, to uint64) (*rollup.Report, error) {
	if c.fetcher == nil {
		return nil, errs.New(errs.Config, "prover.ProveRange", fmt.Errorf("no block fetcher configured"))
	}
	w, err := c.fetcher.FetchWitness(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return c.Prove(ctx, batchID, w)
}

// canonicalStateHash implements spec.md section 4.4 step 5: length-
// prefixed, sorted (kind, key, pre_value) tuples, keccak256'd.
func canonicalStateHash(log []statedb.AccessEntry) ([32]byte, error) {
	sorted := make([]statedb.AccessEntry, len(log))
	copy(sorted, log)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Kind != sorted[j].Kind {
			return sorted[i].Kind < sorted[j].Kind
		}
		return string(sorted[i].Key) < string(sorted[j].Key)
	})

	var buf []byte
	for _, e := range sorted {
		buf = append(buf, byte(e.Kind))
		buf = appendLengthPrefixed(buf, e.Key)
		buf = append(buf, e.PreValue[:]...)
	}
	return crypto.Keccak256Hash(buf), nil
}

func appendLengthPrefixed(buf, data []byte) []byte {
	var lenBytes [4]byte
	n := uint32(len(data))
	lenBytes[0] = byte(n >> 24)
	lenBytes[1] = byte(n >> 16)
	lenBytes[2] = byte(n >> 8)
	lenBytes[3] = byte(n)
	buf = append(buf, lenBytes[:]...)
	return append(buf, data...)
}

// signingArguments is the abi.encode tuple of spec.md section 4.4 step
// 6 / section 6's wire format: (chainId, batchHash, stateHash,
// prevStateRoot, newStateRoot, withdrawalRoot, zeros(65)). Duplicated
// from pkg/verifier.SigningHash's argument list (rather than imported)
// to keep the enclave-resident signing path free of the Verifier
// package's on-chain state machine; both must encode identically since
// the Verifier recovers the same digest to ecrecover the signer.
var signingArguments = abi.Arguments{
	{Type: mustABIType("uint256")},
	{Type: mustABIType("bytes32")},
	{Type: mustABIType("bytes32")},
	{Type: mustABIType("bytes32")},
	{Type: mustABIType("bytes32")},
	{Type: mustABIType("bytes32")},
	{Type: mustABIType("bytes")},
}

func mustABIType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

func signingDigest(chainID *big.Int, batchHash, stateHash, prevStateRoot, newStateRoot, withdrawalRoot [32]byte) ([32]byte, error) {
	zero65 := make([]byte, 65)
	packed, err := signingArguments.Pack(chainID, batchHash, stateHash, prevStateRoot, newStateRoot, withdrawalRoot, zero65)
	if err != nil {
		return [32]byte{}, err
	}
	return crypto.Keccak256Hash(packed), nil
}

package prover

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"

	"github.com/certen/sgx-prover/pkg/attestation"
	"github.com/certen/sgx-prover/pkg/errs"
	"github.com/certen/sgx-prover/pkg/evm"
	"github.com/certen/sgx-prover/pkg/rollup"
	"github.com/certen/sgx-prover/pkg/statedb"
	"github.com/certen/sgx-prover/pkg/zktrie"
)

func testCore(t *testing.T) *Core {
	t.Helper()
	attest, err := attestation.New(attestation.DefaultConfig())
	if err != nil {
		t.Fatalf("new attestation service: %v", err)
	}
	driver := evm.New(evm.ChainConfig{ChainID: big.NewInt(534352), EVMConfig: params.AllEthashProtocolChanges})
	return New(attest, nil, driver, big.NewInt(534352), nil)
}

func emptyBlockWitness(t *testing.T, number uint64, prevRoot [32]byte) *rollup.BlockWitness {
	t.Helper()
	coinbase := common.HexToAddress("0xc0ffee0000000000000000000000000000c0de")
	messenger := withdrawalMessenger

	header := &rollup.Header{Coinbase: coinbase, GasLimit: 30_000_000, Number: number}

	db := statedb.New(prevRoot)
	if err := db.ProveAccount(coinbase, statedb.Account{}, &zktrie.Proof{}); err != nil {
		t.Fatalf("prove coinbase: %v", err)
	}
	if err := db.ProveAccount(messenger, statedb.Account{}, &zktrie.Proof{}); err != nil {
		t.Fatalf("prove messenger: %v", err)
	}
	if err := db.ProveStorage(messenger, withdrawalRootSlot, [32]byte{}, &zktrie.Proof{}); err != nil {
		t.Fatalf("prove withdrawal slot: %v", err)
	}
	post, err := db.Commit()
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	header.Withdrawal = [32]byte{}

	return &rollup.BlockWitness{
		Block:         &rollup.Block{Header: header, Txs: types.Transactions{}},
		PrevStateRoot: prevRoot,
		PostStateRoot: post,
		Codes:         nil,
		Proofs: []rollup.ProofEntry{
			{Kind: rollup.ProofAccount, Addr: coinbase, Proof: &zktrie.Proof{}},
			{Kind: rollup.ProofAccount, Addr: messenger, Proof: &zktrie.Proof{}},
			{Kind: rollup.ProofStorage, Addr: messenger, Slot: withdrawalRootSlot, Proof: &zktrie.Proof{}},
		},
	}
}

func TestProveEmptyBatchRejected(t *testing.T) {
	core := testCore(t)
	_, err := core.Prove(context.Background(), 1, &rollup.Witness{})
	if errs.KindOf(err) != errs.L2Inconsistent {
		t.Fatalf("expected L2Inconsistent, got %v", err)
	}
}

func TestProveSingleEmptyBlockProducesSignedReport(t *testing.T) {
	core := testCore(t)
	bw := emptyBlockWitness(t, 1, zktrie.EmptyHash)
	w := &rollup.Witness{Blocks: []*rollup.BlockWitness{bw}}

	report, err := core.Prove(context.Background(), 1, w)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	if report.NewStateRoot != bw.PostStateRoot {
		t.Fatalf("expected report's newStateRoot to equal the witness's claimed post-state root")
	}

	hash, err := signingDigest(core.chainID, report.BatchHash, report.StateHash, report.PrevStateRoot, report.NewStateRoot, report.WithdrawalRoot)
	if err != nil {
		t.Fatalf("signing digest: %v", err)
	}
	pub, err := crypto.SigToPub(hash[:], report.Signature[:])
	if err != nil {
		t.Fatalf("sigtopub: %v", err)
	}
	recovered := crypto.PubkeyToAddress(*pub)
	addr := core.attest.Address()
	if recovered != common.Address(addr) {
		t.Fatalf("recovered signer %x != enclave address %x", recovered, addr)
	}
}

func TestProveRootMismatchAborts(t *testing.T) {
	core := testCore(t)
	bw := emptyBlockWitness(t, 1, zktrie.EmptyHash)
	bw.PostStateRoot[0] ^= 0xff // corrupt the claimed post-state root
	w := &rollup.Witness{Blocks: []*rollup.BlockWitness{bw}}

	_, err := core.Prove(context.Background(), 1, w)
	if errs.KindOf(err) != errs.RootMismatch {
		t.Fatalf("expected RootMismatch, got %v", err)
	}
}

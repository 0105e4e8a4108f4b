package evm

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/certen/sgx-prover/pkg/statedb"
	"github.com/certen/sgx-prover/pkg/zktrie"
)

// TestRevertToSnapshotUndoesAccountAndStorageWrites exercises the
// scenario go-ethereum's real vm.EVM relies on for every inner
// CALL/CREATE: Snapshot before a sub-call, mutate state, then
// RevertToSnapshot when that sub-call fails. Stale balance/nonce/
// storage writes left behind here would desync the recomputed
// post-state root from the witness's claimed root.
func TestRevertToSnapshotUndoesAccountAndStorageWrites(t *testing.T) {
	db := statedb.New(zktrie.EmptyHash)
	addr := common.HexToAddress("0xc0ffee0000000000000000000000000000c0de")
	slot := common.Hash{1}

	if err := db.ProveAccount(addr, statedb.Account{}, &zktrie.Proof{}); err != nil {
		t.Fatalf("prove account: %v", err)
	}
	if err := db.ProveStorage(addr, [32]byte(slot), [32]byte{}, &zktrie.Proof{}); err != nil {
		t.Fatalf("prove slot: %v", err)
	}

	a := newAdapter(db, newCodeTable())

	// Outer frame: a write that must survive any inner revert.
	a.SetNonce(addr, 1, tracing.NonceChangeUnspecified)

	snap := a.Snapshot()

	amount := uint256.NewInt(100)
	a.AddBalance(addr, amount, tracing.BalanceChangeUnspecified)
	a.SetState(addr, slot, common.Hash{0xff})
	a.SetNonce(addr, 2, tracing.NonceChangeUnspecified)
	a.AddLog(&types.Log{Address: addr})

	a.RevertToSnapshot(snap)

	if got := a.GetNonce(addr); got != 1 {
		t.Fatalf("expected nonce to be restored to 1 after revert, got %d", got)
	}
	if got := a.GetBalance(addr); got.Sign() != 0 {
		t.Fatalf("expected balance to be restored to 0 after revert, got %s", got)
	}
	if got := a.GetState(addr, slot); got != (common.Hash{}) {
		t.Fatalf("expected storage slot to be restored to zero after revert, got %x", got)
	}
	if len(a.logs) != 0 {
		t.Fatalf("expected logs appended after the snapshot to be dropped, got %d", len(a.logs))
	}
}

func TestRevertToSnapshotUndoesRefundAndSelfDestruct(t *testing.T) {
	db := statedb.New(zktrie.EmptyHash)
	addr := common.HexToAddress("0xdeadbeef00000000000000000000000000dead")
	if err := db.ProveAccount(addr, statedb.Account{}, &zktrie.Proof{}); err != nil {
		t.Fatalf("prove account: %v", err)
	}

	a := newAdapter(db, newCodeTable())
	a.AddRefund(10)

	snap := a.Snapshot()
	a.AddRefund(5)
	a.SelfDestruct(addr)

	if !a.HasSelfDestructed(addr) {
		t.Fatalf("expected self-destruct to be recorded before revert")
	}

	a.RevertToSnapshot(snap)

	if a.GetRefund() != 10 {
		t.Fatalf("expected refund to be restored to 10 after revert, got %d", a.GetRefund())
	}
	if a.HasSelfDestructed(addr) {
		t.Fatalf("expected self-destruct mark to be undone after revert")
	}
}

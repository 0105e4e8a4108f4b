package statedb

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/sgx-prover/pkg/errs"
	"github.com/certen/sgx-prover/pkg/zktrie"
)

func TestProveThenGet(t *testing.T) {
	db := New(zktrie.EmptyHash)
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")

	if err := db.ProveAccount(addr, Account{}, &zktrie.Proof{}); err != nil {
		t.Fatalf("prove empty account: %v", err)
	}

	got, err := db.GetAccount(addr)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if got != (Account{}) {
		t.Fatalf("expected zero account, got %+v", got)
	}
}

func TestGetWithoutProveFails(t *testing.T) {
	db := New(zktrie.EmptyHash)
	addr := common.HexToAddress("0x2222222222222222222222222222222222222222")

	_, err := db.GetAccount(addr)
	if errs.KindOf(err) != errs.WitnessIncomplete {
		t.Fatalf("expected WitnessIncomplete, got %v", err)
	}
}

func TestSetWithoutProveFails(t *testing.T) {
	db := New(zktrie.EmptyHash)
	addr := common.HexToAddress("0x3333333333333333333333333333333333333333")

	err := db.SetAccount(addr, Account{Nonce: 1})
	if errs.KindOf(err) != errs.WitnessIncomplete {
		t.Fatalf("expected WitnessIncomplete, got %v", err)
	}
}

func TestCommitFreezesDB(t *testing.T) {
	db := New(zktrie.EmptyHash)
	addr := common.HexToAddress("0x4444444444444444444444444444444444444444")

	if err := db.ProveAccount(addr, Account{}, &zktrie.Proof{}); err != nil {
		t.Fatalf("prove: %v", err)
	}
	if err := db.SetAccount(addr, Account{Nonce: 1}); err != nil {
		t.Fatalf("set: %v", err)
	}

	root1, err := db.Commit()
	if err != nil {
		t.Fatalf("first commit: %v", err)
	}

	if _, err := db.Commit(); errs.KindOf(err) != errs.Internal {
		t.Fatalf("expected second commit to fail with Internal, got %v", err)
	}

	if err := db.SetAccount(addr, Account{Nonce: 2}); errs.KindOf(err) != errs.Internal {
		t.Fatalf("expected write-after-commit to fail with Internal, got %v", err)
	}

	if root1 == (zktrie.EmptyHash) {
		t.Fatalf("commit root should not equal the empty sentinel once dirtied")
	}
}

func TestAccessLogOrderedAndDeduplicated(t *testing.T) {
	db := New(zktrie.EmptyHash)
	addr := common.HexToAddress("0x5555555555555555555555555555555555555555")

	if err := db.ProveAccount(addr, Account{}, &zktrie.Proof{}); err != nil {
		t.Fatalf("prove: %v", err)
	}
	if err := db.ProveAccount(addr, Account{}, &zktrie.Proof{}); err != nil {
		t.Fatalf("re-prove (idempotent): %v", err)
	}

	log := db.AccessLog()
	if len(log) != 1 {
		t.Fatalf("expected one de-duplicated access entry, got %d", len(log))
	}
	if log[0].Kind != AccessAccount {
		t.Fatalf("expected AccessAccount kind, got %v", log[0].Kind)
	}
}

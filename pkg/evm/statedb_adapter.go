// Package evm is the EVM driver (spec.md component C3). It wraps
// go-ethereum's core/vm interpreter — the third-party EVM library
// spec.md section 1 treats as an external collaborator — and drives it
// transaction-by-transaction against pkg/statedb, applying precompiles
// and Scroll-family fee rules.
package evm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/certen/sgx-prover/pkg/statedb"
	"github.com/certen/sgx-prover/pkg/zktrie"
)

// adapter implements go-ethereum's vm.StateDB by delegating every read
// and write to pkg/statedb.DB, so the interpreter never sees the
// zkTrie/proof machinery underneath it — exactly the "callback object
// that delegates sload/sstore/balance/extcode*/codehash" of spec.md
// section 4.3.
type adapter struct {
	db *statedb.DB

	// refund, transient storage, access lists and self-destruct marks
	// are per-transaction EVM bookkeeping with no zkTrie-backed proof
	// requirement, so they live here rather than in statedb.DB.
	refund      uint64
	transient   map[common.Address]map[common.Hash]common.Hash
	accessAddrs map[common.Address]bool
	accessSlots map[common.Address]map[common.Hash]bool
	destructed  map[common.Address]bool
	logs        []*types.Log

	// journal records an undo closure for every mutation that must be
	// unwound on a reverted CALL/CREATE, mirroring go-ethereum's own
	// core/state journal: Snapshot is just the journal's current
	// length, RevertToSnapshot replays undo funcs back to that length.
	// Account/storage/nonce writes go through statedb.DB, which has no
	// notion of call frames, so this is the only place that can restore
	// them on an inner revert.
	journal   []func()
	snapshots []int

	codes *codeTable
}

func newAdapter(db *statedb.DB, codes *codeTable) *adapter {
	return &adapter{
		db:          db,
		transient:   make(map[common.Address]map[common.Hash]common.Hash),
		accessAddrs: make(map[common.Address]bool),
		accessSlots: make(map[common.Address]map[common.Hash]bool),
		destructed:  make(map[common.Address]bool),
		codes:       codes,
	}
}

func (a *adapter) account(addr common.Address) statedb.Account {
	acct, err := a.db.GetAccount(addr)
	if err != nil {
		return statedb.Account{}
	}
	return acct
}

// setAccount journals addr's pre-mutation account before writing acct,
// so a reverted call frame can restore it.
func (a *adapter) setAccount(addr common.Address, acct statedb.Account) {
	before := a.account(addr)
	a.journal = append(a.journal, func() {
		_ = a.db.SetAccount(addr, before)
	})
	_ = a.db.SetAccount(addr, acct)
}

func (a *adapter) CreateAccount(addr common.Address) {
	a.setAccount(addr, statedb.Account{})
}

func (a *adapter) CreateContract(common.Address) {}

func (a *adapter) SubBalance(addr common.Address, amount *uint256.Int, _ tracing.BalanceChangeReason) uint256.Int {
	acct := a.account(addr)
	bal := new(big.Int).SetBytes(acct.Balance[:])
	bal.Sub(bal, amount.ToBig())
	prev := *amount
	setBalance(&acct, bal)
	a.setAccount(addr, acct)
	return prev
}

func (a *adapter) AddBalance(addr common.Address, amount *uint256.Int, _ tracing.BalanceChangeReason) uint256.Int {
	acct := a.account(addr)
	bal := new(big.Int).SetBytes(acct.Balance[:])
	bal.Add(bal, amount.ToBig())
	prev := *amount
	setBalance(&acct, bal)
	a.setAccount(addr, acct)
	return prev
}

func setBalance(acct *statedb.Account, bal *big.Int) {
	var out [32]byte
	b := bal.Bytes()
	copy(out[32-len(b):], b)
	acct.Balance = out
}

func (a *adapter) GetBalance(addr common.Address) *uint256.Int {
	acct := a.account(addr)
	v, _ := uint256.FromBig(new(big.Int).SetBytes(acct.Balance[:]))
	return v
}

func (a *adapter) GetNonce(addr common.Address) uint64 {
	return a.account(addr).Nonce
}

func (a *adapter) SetNonce(addr common.Address, nonce uint64, _ tracing.NonceChangeReason) {
	acct := a.account(addr)
	acct.Nonce = nonce
	a.setAccount(addr, acct)
}

func (a *adapter) GetCodeHash(addr common.Address) common.Hash {
	return common.Hash(a.account(addr).CodeHash)
}

// GetCode, SetCode and GetCodeSize are satisfied from the witness's code
// table rather than statedb.DB (codes are keyed by hash, not address,
// per spec.md section 3's "witness contains... the codes needed by its
// transactions"); Driver wires a codeTable in before execution.
func (a *adapter) GetCode(addr common.Address) []byte {
	return a.codes.get(a.account(addr).CodeHash)
}

func (a *adapter) SetCode(addr common.Address, code []byte) {
	acct := a.account(addr)
	hash := zktrie.HashCode(code)
	acct.CodeHash = hash
	a.setAccount(addr, acct)
	a.codes.put(hash, code)
}

func (a *adapter) GetCodeSize(addr common.Address) int {
	return len(a.GetCode(addr))
}

func (a *adapter) AddRefund(amount uint64) {
	prev := a.refund
	a.journal = append(a.journal, func() { a.refund = prev })
	a.refund += amount
}

func (a *adapter) SubRefund(amount uint64) {
	prev := a.refund
	a.journal = append(a.journal, func() { a.refund = prev })
	if amount > a.refund {
		a.refund = 0
		return
	}
	a.refund -= amount
}

func (a *adapter) GetRefund() uint64 { return a.refund }

func (a *adapter) GetCommittedState(addr common.Address, key common.Hash) common.Hash {
	v, _ := a.db.GetStorage(addr, [32]byte(key))
	return common.Hash(v)
}

func (a *adapter) GetState(addr common.Address, key common.Hash) common.Hash {
	v, _ := a.db.GetStorage(addr, [32]byte(key))
	return common.Hash(v)
}

func (a *adapter) SetState(addr common.Address, key, value common.Hash) common.Hash {
	prev := a.GetState(addr, key)
	a.journal = append(a.journal, func() {
		_ = a.db.SetStorage(addr, [32]byte(key), [32]byte(prev))
	})
	_ = a.db.SetStorage(addr, [32]byte(key), [32]byte(value))
	return prev
}

func (a *adapter) GetStorageRoot(addr common.Address) common.Hash {
	return common.Hash(a.account(addr).StorageRoot)
}

func (a *adapter) GetTransientState(addr common.Address, key common.Hash) common.Hash {
	if m, ok := a.transient[addr]; ok {
		return m[key]
	}
	return common.Hash{}
}

func (a *adapter) SetTransientState(addr common.Address, key, value common.Hash) {
	prev := a.GetTransientState(addr, key)
	a.journal = append(a.journal, func() {
		if a.transient[addr] == nil {
			a.transient[addr] = make(map[common.Hash]common.Hash)
		}
		a.transient[addr][key] = prev
	})
	if a.transient[addr] == nil {
		a.transient[addr] = make(map[common.Hash]common.Hash)
	}
	a.transient[addr][key] = value
}

func (a *adapter) SelfDestruct(addr common.Address) uint256.Int {
	bal := a.GetBalance(addr)
	was := a.destructed[addr]
	a.journal = append(a.journal, func() { a.destructed[addr] = was })
	a.destructed[addr] = true
	return *bal
}

func (a *adapter) HasSelfDestructed(addr common.Address) bool { return a.destructed[addr] }

func (a *adapter) Selfdestruct6780(addr common.Address) (uint256.Int, bool) {
	bal := a.SelfDestruct(addr)
	return bal, true
}

func (a *adapter) Exist(addr common.Address) bool {
	_, err := a.db.GetAccount(addr)
	return err == nil
}

func (a *adapter) Empty(addr common.Address) bool {
	acct := a.account(addr)
	return acct.Nonce == 0 && acct.Balance == [32]byte{} && acct.CodeHash == [32]byte{}
}

func (a *adapter) AddressInAccessList(addr common.Address) bool { return a.accessAddrs[addr] }

func (a *adapter) SlotInAccessList(addr common.Address, slot common.Hash) (bool, bool) {
	addrOK := a.accessAddrs[addr]
	slotOK := false
	if m, ok := a.accessSlots[addr]; ok {
		slotOK = m[slot]
	}
	return addrOK, slotOK
}

func (a *adapter) AddAddressToAccessList(addr common.Address) { a.accessAddrs[addr] = true }

func (a *adapter) AddSlotToAccessList(addr common.Address, slot common.Hash) {
	a.accessAddrs[addr] = true
	if a.accessSlots[addr] == nil {
		a.accessSlots[addr] = make(map[common.Hash]bool)
	}
	a.accessSlots[addr][slot] = true
}

func (a *adapter) Prepare(_ params.Rules, _, _ common.Address, _ *common.Address, _ []common.Address, _ types.AccessList) {
}

// RevertToSnapshot unwinds every journaled mutation recorded since id,
// in reverse order, so a reverted inner CALL/CREATE leaves statedb.DB's
// account/storage writes (and this adapter's refund/selfdestruct/log/
// transient bookkeeping) exactly as they were before the call began.
func (a *adapter) RevertToSnapshot(id int) {
	if id < 0 || id >= len(a.snapshots) {
		return
	}
	target := a.snapshots[id]
	for i := len(a.journal) - 1; i >= target; i-- {
		a.journal[i]()
	}
	a.journal = a.journal[:target]
	a.snapshots = a.snapshots[:id]
}

func (a *adapter) Snapshot() int {
	a.snapshots = append(a.snapshots, len(a.journal))
	return len(a.snapshots) - 1
}

func (a *adapter) AddLog(log *types.Log) {
	a.journal = append(a.journal, func() {
		a.logs = a.logs[:len(a.logs)-1]
	})
	a.logs = append(a.logs, log)
}

func (a *adapter) AddPreimage(common.Hash, []byte) {}

// Package statedb is the State DB (spec.md component C2): an in-memory
// account and storage store lazily populated from zkTrie proofs, with a
// dirty-set and access log that the EVM driver and prover core read
// back to build the PoE's stateHash.
package statedb

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/sgx-prover/pkg/errs"
	"github.com/certen/sgx-prover/pkg/zktrie"
)

// Account mirrors spec.md section 3's account tuple.
type Account struct {
	Nonce       uint64
	Balance     [32]byte // u256, big-endian
	CodeHash    [32]byte // poseidon(code)
	StorageRoot [32]byte
}

func (a Account) encode() [32]byte {
	// Canonical value committed at the account-trie leaf: keccak256 of
	// the tuple's big-endian concatenation. go-ethereum's crypto.Keccak256
	// stands in for the "canonical encoding" spec.md leaves unspecified.
	var nonce [8]byte
	for i := 0; i < 8; i++ {
		nonce[i] = byte(a.Nonce >> (8 * (7 - i)))
	}
	buf := append([]byte{}, nonce[:]...)
	buf = append(buf, a.Balance[:]...)
	buf = append(buf, a.CodeHash[:]...)
	buf = append(buf, a.StorageRoot[:]...)
	return keccakInto32(buf)
}

// AccessKind distinguishes the two key spaces in the access log, per
// spec.md section 4.4 step 5 (canonical access-log tuples).
type AccessKind byte

const (
	AccessAccount AccessKind = iota
	AccessStorage
)

// accessEntry is one (kind, key, pre-value) tuple recorded the first
// time a key is touched, in order, de-duplicated per key.
type accessEntry struct {
	kind     AccessKind
	key      []byte // addr, or addr||slot
	preValue [32]byte
}

// DB is the per-prove-invocation state store. It is owned exclusively by
// one Prover.Prove call (spec.md section 5: "owned by a single prove
// invocation and dropped at its end").
type DB struct {
	mu sync.Mutex

	parentRoot [32]byte

	accounts map[common.Address]Account
	storage  map[storageKey][32]byte

	proven  map[string]bool // proven keys: "acct:"+addr or "slot:"+addr+slot
	dirty   map[string]bool

	accessOrder []string
	accessLog   map[string]*accessEntry

	committed bool
	newRoot   [32]byte
}

type storageKey struct {
	Addr common.Address
	Slot [32]byte
}

// New creates a State DB rooted at parentRoot, empty of any proven keys.
func New(parentRoot [32]byte) *DB {
	return &DB{
		parentRoot: parentRoot,
		accounts:   make(map[common.Address]Account),
		storage:    make(map[storageKey][32]byte),
		proven:     make(map[string]bool),
		dirty:      make(map[string]bool),
		accessLog:  make(map[string]*accessEntry),
	}
}

func acctKey(addr common.Address) string { return "acct:" + addr.Hex() }
func slotKey(addr common.Address, slot [32]byte) string {
	return fmt.Sprintf("slot:%s:%x", addr.Hex(), slot)
}

// ProveAccount registers a verified mapping from addr to account against
// the current root. Idempotent: re-proving the same key is a no-op.
func (db *DB) ProveAccount(addr common.Address, acct Account, proof *zktrie.Proof) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	key := acctKey(addr)
	if db.proven[key] {
		return nil
	}

	value, err := zktrie.VerifyProof(db.parentRoot, addr.Bytes(), proof)
	if err != nil {
		return errs.New(errs.BadProof, "statedb.ProveAccount", err)
	}
	want := acct.encode()
	if value == nil {
		// Exclusion proof: account must be the zero account.
		if acct != (Account{}) {
			return errs.New(errs.BadProof, "statedb.ProveAccount", fmt.Errorf("non-empty account claimed at excluded key %s", addr.Hex()))
		}
	} else if *value != want {
		return errs.New(errs.BadProof, "statedb.ProveAccount", fmt.Errorf("proof value does not match claimed account for %s", addr.Hex()))
	}

	db.accounts[addr] = acct
	db.proven[key] = true
	db.recordAccess(key, AccessAccount, addr.Bytes(), want)
	return nil
}

// ProveStorage registers a verified (addr,slot)->value mapping against
// the account's current storage root.
func (db *DB) ProveStorage(addr common.Address, slot [32]byte, value [32]byte, proof *zktrie.Proof) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	key := slotKey(addr, slot)
	if db.proven[key] {
		return nil
	}

	acct, ok := db.accounts[addr]
	if !ok {
		return errs.New(errs.WitnessIncomplete, "statedb.ProveStorage", fmt.Errorf("account %s not yet proven", addr.Hex()))
	}

	got, err := zktrie.VerifyProof(acct.StorageRoot, slot[:], proof)
	if err != nil {
		return errs.New(errs.BadProof, "statedb.ProveStorage", err)
	}
	if got == nil {
		if value != ([32]byte{}) {
			return errs.New(errs.BadProof, "statedb.ProveStorage", fmt.Errorf("non-zero value claimed at excluded slot %x", slot))
		}
	} else if *got != value {
		return errs.New(errs.BadProof, "statedb.ProveStorage", fmt.Errorf("proof value mismatch for slot %x", slot))
	}

	sk := storageKey{Addr: addr, Slot: slot}
	db.storage[sk] = value
	db.proven[key] = true
	db.recordAccess(key, AccessStorage, append(append([]byte{}, addr.Bytes()...), slot[:]...), value)
	return nil
}

// recordAccess appends the first touch of key to the access log; must
// be called with db.mu held.
func (db *DB) recordAccess(uniqueKey string, kind AccessKind, key []byte, preValue [32]byte) {
	if _, ok := db.accessLog[uniqueKey]; ok {
		return
	}
	e := &accessEntry{kind: kind, key: append([]byte{}, key...), preValue: preValue}
	db.accessLog[uniqueKey] = e
	db.accessOrder = append(db.accessOrder, uniqueKey)
}

// GetAccount returns a previously-proven account. WitnessIncomplete if
// the key was never proven (spec.md section 4.2 invariant).
func (db *DB) GetAccount(addr common.Address) (Account, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if !db.proven[acctKey(addr)] {
		return Account{}, errs.New(errs.WitnessIncomplete, "statedb.GetAccount", fmt.Errorf("%s", addr.Hex()))
	}
	return db.accounts[addr], nil
}

// GetStorage returns a previously-proven storage word.
func (db *DB) GetStorage(addr common.Address, slot [32]byte) ([32]byte, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	key := slotKey(addr, slot)
	if !db.proven[key] {
		return [32]byte{}, errs.New(errs.WitnessIncomplete, "statedb.GetStorage", fmt.Errorf("%s/%x", addr.Hex(), slot))
	}
	return db.storage[storageKey{Addr: addr, Slot: slot}], nil
}

// SetAccount marks addr dirty with a new account value. Must follow a
// ProveAccount (spec.md section 4.2: "no write is legal if its key's
// current value has not been proven").
func (db *DB) SetAccount(addr common.Address, acct Account) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.committed {
		return errs.New(errs.Internal, "statedb.SetAccount", fmt.Errorf("db already committed"))
	}
	key := acctKey(addr)
	if !db.proven[key] {
		return errs.New(errs.WitnessIncomplete, "statedb.SetAccount", fmt.Errorf("%s", addr.Hex()))
	}
	db.accounts[addr] = acct
	db.dirty[key] = true
	return nil
}

// SetStorage marks (addr,slot) dirty with a new value.
func (db *DB) SetStorage(addr common.Address, slot [32]byte, value [32]byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.committed {
		return errs.New(errs.Internal, "statedb.SetStorage", fmt.Errorf("db already committed"))
	}
	key := slotKey(addr, slot)
	if !db.proven[key] {
		return errs.New(errs.WitnessIncomplete, "statedb.SetStorage", fmt.Errorf("%s/%x", addr.Hex(), slot))
	}
	db.storage[storageKey{Addr: addr, Slot: slot}] = value
	db.dirty[key] = true
	return nil
}

// Commit freezes the DB and returns its new root. A second Commit fails
// (spec.md section 4.2).
//
// The root is a single keccak256 over the parent root and the sorted
// dirty (key,value) pairs. No per-account storage trie and no account
// trie is rebuilt through zktrie.Update, so the result is not a zkTrie
// root. That simplification is recorded in DESIGN.md.
func (db *DB) Commit() ([32]byte, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.committed {
		return [32]byte{}, errs.New(errs.Internal, "statedb.Commit", fmt.Errorf("already committed"))
	}

	dirtyKeys := make([]string, 0, len(db.dirty))
	for k := range db.dirty {
		dirtyKeys = append(dirtyKeys, k)
	}
	sort.Strings(dirtyKeys)

	buf := append([]byte{}, db.parentRoot[:]...)
	for _, k := range dirtyKeys {
		buf = append(buf, []byte(k)...)
		if v, ok := db.accountValueBytes(k); ok {
			buf = append(buf, v[:]...)
		}
	}

	db.newRoot = keccakInto32(buf)
	db.committed = true
	return db.newRoot, nil
}

func (db *DB) accountValueBytes(key string) ([32]byte, bool) {
	for addr, acct := range db.accounts {
		if acctKey(addr) == key {
			return acct.encode(), true
		}
	}
	for sk, v := range db.storage {
		if slotKey(sk.Addr, sk.Slot) == key {
			return v, true
		}
	}
	return [32]byte{}, false
}

// AccessEntry is an exported, read-only view of one access-log tuple.
type AccessEntry struct {
	Kind     AccessKind
	Key      []byte
	PreValue [32]byte
}

// AccessLog returns the ordered, de-duplicated access log for use in
// canonicalizing the PoE's stateHash (spec.md section 4.4 step 5).
func (db *DB) AccessLog() []AccessEntry {
	db.mu.Lock()
	defer db.mu.Unlock()

	out := make([]AccessEntry, 0, len(db.accessOrder))
	for _, k := range db.accessOrder {
		e := db.accessLog[k]
		out = append(out, AccessEntry{Kind: e.kind, Key: append([]byte{}, e.key...), PreValue: e.preValue})
	}
	return out
}

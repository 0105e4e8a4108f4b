// Package rollup holds the wire-level data model of spec.md section 3:
// the L2 block/header shape, the per-batch witness bundle a prover
// fetches from an untrusted full node, and the signed PoE report a
// prover hands back.
package rollup

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/certen/sgx-prover/pkg/zktrie"
)

// Header is a standard Ethereum-like header plus the withdrawal_root
// field spec.md section 3 adds for the L2.
type Header struct {
	ParentHash   common.Hash    `json:"parentHash"`
	Coinbase     common.Address `json:"coinbase"`
	StateRoot    common.Hash    `json:"stateRoot"`
	TxRoot       common.Hash    `json:"transactionsRoot"`
	ReceiptRoot  common.Hash    `json:"receiptsRoot"`
	Number       uint64         `json:"number"`
	GasLimit     uint64         `json:"gasLimit"`
	GasUsed      uint64         `json:"gasUsed"`
	Timestamp    uint64         `json:"timestamp"`
	BaseFee      uint64         `json:"baseFeePerGas"`
	Withdrawal   common.Hash    `json:"withdrawalRoot"`
}

// Hash returns keccak256(rlp(header)), per spec.md section 3.
func (h *Header) Hash() common.Hash {
	enc, err := rlp.EncodeToBytes(h)
	if err != nil {
		// rlp encoding of this fixed-shape struct cannot fail.
		panic(err)
	}
	return crypto.Keccak256Hash(enc)
}

// Block is the header plus its ordered transactions.
type Block struct {
	Header *Header
	Txs    types.Transactions
}

func (b *Block) Hash() common.Hash { return b.Header.Hash() }

// CodeEntry supplies one contract's bytecode, keyed by poseidon(code)
// so the EVM driver's code table can be seeded before execution.
type CodeEntry struct {
	Hash [32]byte
	Code []byte
}

// ProofKind distinguishes an account-trie proof from a storage-trie
// proof within a flat ProofEntry list.
type ProofKind byte

const (
	ProofAccount ProofKind = iota
	ProofStorage
)

// ProofEntry is one zkTrie proof the witness supplies for a pre-state
// read the block's transactions will need, plus the claimed value the
// proof is checked against.
type ProofEntry struct {
	Kind ProofKind
	Addr common.Address
	Slot [32]byte // only meaningful when Kind == ProofStorage

	// Claimed account fields (Kind == ProofAccount).
	Nonce       uint64
	Balance     [32]byte
	CodeHash    [32]byte
	StorageRoot [32]byte

	// Claimed storage word (Kind == ProofStorage).
	Value [32]byte

	Proof *zktrie.Proof
}

// BlockWitness is one block's worth of execution inputs: the block
// itself, the codes its transactions touch, and the trie proofs for
// every pre-state read, per spec.md section 3.
type BlockWitness struct {
	Block         *Block
	Codes         []CodeEntry
	Proofs        []ProofEntry
	PrevStateRoot [32]byte
	PostStateRoot [32]byte // claimed; Prover must reject a mismatch
}

// Witness is the full ordered per-batch bundle a prover fetches before
// starting execution — it must be complete; no blocking fetch happens
// mid-execution (spec.md section 5).
type Witness struct {
	Blocks []*BlockWitness
}

// Report is the signed PoE struct of spec.md section 3.
type Report struct {
	BatchHash      [32]byte
	StateHash      [32]byte
	PrevStateRoot  [32]byte
	NewStateRoot   [32]byte
	WithdrawalRoot [32]byte
	Signature      [65]byte
}

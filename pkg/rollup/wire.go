package rollup

import "github.com/ethereum/go-ethereum/rlp"

// EncodeWitness RLP-encodes a full batch witness for the `prove(batchId,
// blocks: hex-rlp)` JSON-RPC parameter of spec.md section 6. Every field
// reachable from Witness is already RLP-safe (fixed-size arrays,
// addresses, go-ethereum's own Transactions type), so no bespoke wire
// struct is needed.
func EncodeWitness(w *Witness) ([]byte, error) {
	return rlp.EncodeToBytes(w)
}

// DecodeWitness reverses EncodeWitness.
func DecodeWitness(data []byte) (*Witness, error) {
	var w Witness
	if err := rlp.DecodeBytes(data, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

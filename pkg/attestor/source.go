package attestor

import (
	"context"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	"github.com/ethereum/go-ethereum/common"
)

// eventReader is the subset of pkg/verifier.Contract the in-process log
// source needs: drain emitted events and look up a report's calldata.
// Declared as an interface (rather than importing pkg/verifier
// directly) so this file stays the only place that couples the
// Attestor to the in-process contract's event shape.
type eventReader interface {
	Events() []abcitypes.Event
	ReportBytes(h common.Hash) ([]byte, common.Address, bool)
}

// ContractLogSource adapts an in-process Verifier contract's emitted
// events into the Attestor's LogSource interface. fromBlock is ignored
// since the in-process model has no block numbers of its own; it
// exists to satisfy LogSource's signature for parity with a real
// chain-backed implementation.
type ContractLogSource struct {
	contract eventReader
}

// NewContractLogSource builds a LogSource over an in-process Verifier
// contract.
func NewContractLogSource(contract eventReader) *ContractLogSource {
	return &ContractLogSource{contract: contract}
}

func (s *ContractLogSource) Poll(ctx context.Context, fromBlock uint64) ([]Event, uint64, error) {
	var out []Event
	for _, ev := range s.contract.Events() {
		if ev.Type != "RequestAttestation" {
			continue
		}
		var hashHex string
		for _, a := range ev.Attributes {
			if a.Key == "hash" {
				hashHex = a.Value
			}
		}
		if hashHex == "" {
			continue
		}
		h := common.HexToHash(hashHex)
		reportBytes, prover, ok := s.contract.ReportBytes(h)
		if !ok {
			continue
		}
		var reportData [64]byte
		if len(reportBytes) >= 68 {
			copy(reportData[:], reportBytes[4:68])
		}
		out = append(out, Event{Hash: h, ReportBytes: reportBytes, ReportData: reportData, Prover: prover})
	}
	return out, fromBlock, nil
}

package attestation

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func TestReportIsDeterministicAndIdempotent(t *testing.T) {
	svc, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	r1 := svc.Report()
	r2 := svc.Report()
	if !bytes.Equal(r1.Quote, r2.Quote) || r1.PubKey != r2.PubKey || r1.Signature != r2.Signature {
		t.Fatalf("report() is not idempotent: %+v != %+v", r1, r2)
	}
}

func TestReportSignatureRecoversEnclaveAddress(t *testing.T) {
	svc, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	r := svc.Report()

	msg := append([]byte(reportDomain), r.PubKey[:]...)
	hash := crypto.Keccak256(msg)

	pub, err := crypto.SigToPub(hash, r.Signature[:])
	if err != nil {
		t.Fatalf("sigtopub: %v", err)
	}
	recovered := crypto.PubkeyToAddress(*pub)

	addr := svc.Address()
	if !bytes.Equal(recovered[:], addr[:]) {
		t.Fatalf("recovered address %x != enclave address %x", recovered, addr)
	}
}

func TestDummyQuoteEmbedsReportData(t *testing.T) {
	var reportData [64]byte
	copy(reportData[:], []byte("some pubkey bytes padded to 64 total length!!!"))

	q, err := Dummy{}.GenerateQuote(reportData)
	if err != nil {
		t.Fatalf("generate quote: %v", err)
	}
	if !bytes.Equal(q[4:], reportData[:]) {
		t.Fatalf("dummy quote does not embed report_data verbatim")
	}
}

func TestDCAPWithoutGeneratorFails(t *testing.T) {
	var reportData [64]byte
	_, err := DCAP{}.GenerateQuote(reportData)
	if err == nil {
		t.Fatalf("expected an error with no generator configured")
	}
}

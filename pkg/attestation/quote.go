package attestation

import (
	"fmt"

	"github.com/certen/sgx-prover/pkg/errs"
)

// Dummy replaces the DCAP call with a fixed, clearly-invalid quote, for
// development mode (spec.md section 4.5: "explicit
// --dummy_attestation_report flag... the Verifier contract, deployed
// with a DCAP implementation in permissive mode, will accept it"). The
// report_data is still embedded so a permissive on-chain verifier can
// recover the bound public key; only the quote's signature chain is
// fake.
type Dummy struct{}

// dummyQuoteMagic tags a Dummy quote so a permissive DCAP verifier can
// recognise it and accept it on its embedded report_data alone.
var dummyQuoteMagic = [4]byte{0xd0, 0x00, 0xd0, 0x00}

func (Dummy) GenerateQuote(reportData [64]byte) ([]byte, error) {
	out := make([]byte, 0, 4+64)
	out = append(out, dummyQuoteMagic[:]...)
	out = append(out, reportData[:]...)
	return out, nil
}

// DCAP requests a genuine quote from the platform's attestation stack.
// The platform call itself — the ioctl/driver path into the SGX/TDX
// quoting enclave — is spec.md section 1's "out of scope, named by
// interface only" collaborator; Generator is that interface so a real
// deployment can plug in the actual DCAP library without this package
// changing.
type DCAP struct {
	Generator func(reportData [64]byte) ([]byte, error)
}

func (d DCAP) GenerateQuote(reportData [64]byte) ([]byte, error) {
	if d.Generator == nil {
		return nil, errs.New(errs.AttestationGenerate, "attestation.DCAP.GenerateQuote",
			fmt.Errorf("no DCAP quote generator configured"))
	}
	return d.Generator(reportData)
}

package verifier

import "bytes"

// dummyQuoteMagic mirrors pkg/attestation.Dummy's magic prefix. Declared
// independently (rather than imported) so this package's DCAP stand-in
// has no compile-time dependency on the attestation package — the real
// DCAP quote parser spec.md section 1 puts out of scope would recognise
// the quote format itself, not a magic constant owned by this repo.
var dummyQuoteMagic = [4]byte{0xd0, 0x00, 0xd0, 0x00}

// PermissiveDCAP is the "DCAP implementation in permissive mode" spec.md
// section 4.5 describes for development: it accepts a Dummy-shaped quote
// whose embedded report_data equals reportData, and otherwise falls back
// to the one structural check this
// repo can perform without the real DCAP quote parser (out of scope per
// spec.md section 1) — that the quote actually embeds the report_data it
// claims to attest to.
//
// It satisfies both verifier.DCAPAttestation (the on-chain view) and
// attestor.QuoteVerifier (the off-chain replica spec.md section 4.7
// requires run "same logic as the on-chain view"), so cmd/sgx-attestor
// uses one value for both roles.
type PermissiveDCAP struct{}

func (PermissiveDCAP) VerifyAttestation(quote []byte, reportData [64]byte) bool {
	if len(quote) >= 4 && bytes.Equal(quote[:4], dummyQuoteMagic[:]) {
		return len(quote) == 4+64 && bytes.Equal(quote[4:], reportData[:])
	}
	return len(quote) >= 64 && bytes.Contains(quote, reportData[:])
}

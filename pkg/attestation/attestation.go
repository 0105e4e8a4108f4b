// Package attestation is the enclave attestation binding (spec.md
// component C5): it owns the enclave's secp256k1 keypair, obtains a
// DCAP quote committing to that keypair's public key, and exposes the
// one-shot signed "report" of spec.md section 4.4/4.5.
package attestation

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"log"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/certen/sgx-prover/pkg/errs"
)

// reportDomain is the signing-domain prefix keccak256'd together with
// the enclave pubkey to produce the report signature (spec.md section
// 4.4: "signature is secp256k1 over keccak256(\"automata-prover-v1\" ‖
// pubkey)").
const reportDomain = "automata-prover-v1"

// Quote is a DCAP quote backend: given report_data (the 64-byte
// x‖y public key this enclave is attesting to), it returns the opaque
// quote bytes a Verifier contract's DCAP library can check. Two
// implementations exist per spec.md section 9 ("dynamic dispatch over
// attestation back-ends... two implementations chosen at construction,
// not a flag in the hot path"): DCAP and Dummy.
type Quote interface {
	GenerateQuote(reportData [64]byte) ([]byte, error)
}

// Report is the signed one-shot enclave attestation report of spec.md
// section 4.4: `report()` → `{quote, pubkey, signature}`.
type Report struct {
	Quote     []byte
	PubKey    [64]byte
	Signature [65]byte
}

// Service owns the enclave keypair and caches the one report it
// generates at boot. spec.md section 9: "process-scoped value
// initialised exactly once during startup; all call sites receive it
// as an explicit argument rather than reaching into global scope" — so
// New does the generation, and Report() just replays the cached value.
type Service struct {
	mu sync.RWMutex

	key    *ecdsa.PrivateKey
	pubKey [64]byte
	quote  Quote

	report *Report

	logger *log.Logger
}

// Config mirrors the teacher's attestation service config idiom:
// explicit fields, a DefaultConfig constructor, optional logger.
type Config struct {
	Quote  Quote
	Logger *log.Logger
}

// DefaultConfig returns a Config with a dummy quote backend; callers
// targeting a real enclave must supply a Quote explicitly.
func DefaultConfig() *Config {
	return &Config{
		Quote:  Dummy{},
		Logger: log.New(log.Writer(), "[attestation] ", log.LstdFlags),
	}
}

// New generates the enclave keypair via the hardware RNG (crypto/rand,
// spec.md section 4.5: "generate keypair via hardware RNG only"),
// requests one quote over it, and signs the one-shot report. This is
// the only place the enclave private key is generated; no call site
// after New ever receives the raw key, only Sign's message-to-sign
// result (spec.md section 5: "access is via a send-a-message-to-sign
// pattern, never exposed").
func New(cfg *Config) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Quote == nil {
		cfg.Quote = Dummy{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[attestation] ", log.LstdFlags)
	}

	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, errs.New(errs.AttestationGenerate, "attestation.New", err)
	}

	var pubKey [64]byte
	copy(pubKey[:], crypto.FromECDSAPub(&key.PublicKey)[1:]) // drop the 0x04 prefix

	quoteBytes, err := cfg.Quote.GenerateQuote(pubKey)
	if err != nil {
		return nil, errs.New(errs.AttestationGenerate, "attestation.New", err)
	}

	sig, err := sign(key, pubKey)
	if err != nil {
		return nil, errs.New(errs.AttestationGenerate, "attestation.New", err)
	}

	s := &Service{
		key:    key,
		pubKey: pubKey,
		quote:  cfg.Quote,
		logger: cfg.Logger,
		report: &Report{Quote: quoteBytes, PubKey: pubKey, Signature: sig},
	}
	s.logger.Printf("enclave keypair generated, address=%s", s.Address().Hex())
	return s, nil
}

// sign produces the 65-byte (r,s,v) signature of spec.md section 4.4
// over keccak256(reportDomain ‖ pubkey).
func sign(key *ecdsa.PrivateKey, pubKey [64]byte) ([65]byte, error) {
	var out [65]byte
	msg := append([]byte(reportDomain), pubKey[:]...)
	hash := crypto.Keccak256(msg)
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return out, err
	}
	copy(out[:], sig)
	return out, nil
}

// Report returns the cached, deterministic one-shot report. Idempotent
// by construction: the same Service always returns the same bytes.
func (s *Service) Report() *Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := *s.report
	return &r
}

// Address returns the enclave's Ethereum address: the last 20 bytes of
// keccak256(pubkey), per spec.md section 3.
func (s *Service) Address() (addr [20]byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := crypto.Keccak256(s.pubKey[:])
	copy(addr[:], h[12:])
	return addr
}

// Sign hands a message hash to the enclave key without ever exposing
// the key itself, returning the concatenated (r,s,v) signature used for
// every PoE (spec.md section 4.4 step 6). The one-shot report is signed
// once in New, by sign.
func (s *Service) Sign(hash [32]byte) ([65]byte, error) {
	s.mu.RLock()
	key := s.key
	s.mu.RUnlock()

	var out [65]byte
	sig, err := crypto.Sign(hash[:], key)
	if err != nil {
		return out, fmt.Errorf("sign: %w", err)
	}
	copy(out[:], sig)
	return out, nil
}

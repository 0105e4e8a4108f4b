// Package errs defines the shared error taxonomy used across the prover
// and attestor services so that RPC handlers and log sinks can classify
// a failure without string-matching messages.
package errs

import "fmt"

// Kind tags an error with one of the categories a caller can act on.
type Kind string

const (
	Config              Kind = "Config"
	Network              Kind = "Network"
	L2Inconsistent       Kind = "L2Inconsistent"
	WitnessIncomplete    Kind = "WitnessIncomplete"
	BadProof             Kind = "BadProof"
	RootMismatch         Kind = "RootMismatch"
	StateHashMismatch    Kind = "StateHashMismatch"
	EvmInternal          Kind = "EvmInternal"
	AttestationGenerate  Kind = "AttestationGenerate"
	AttestationVerify    Kind = "AttestationVerify"
	Signature            Kind = "Signature"
	ContractRevert       Kind = "ContractRevert"
	Internal             Kind = "Internal"
)

// Error wraps an underlying cause with a Kind so callers can branch on
// category while %w-unwrapping still reaches the original error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a *Error, tagging op (the failing call site) with kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err, defaulting to Internal when err was
// not produced by this package.
func KindOf(err error) Kind {
	var e *Error
	if err == nil {
		return ""
	}
	if ok := As(err, &e); ok {
		return e.Kind
	}
	return Internal
}

// As is a tiny local shim around errors.As so callers importing this
// package don't also need to import "errors" just for this one check.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Fatal reports whether kind terminates the process at startup (per the
// propagation policy: Config and AttestationGenerate are fatal at boot).
func (k Kind) Fatal() bool {
	return k == Config || k == AttestationGenerate
}

// Retryable reports whether kind should be retried with capped backoff at
// the call site rather than surfaced immediately.
func (k Kind) Retryable() bool {
	return k == Network
}

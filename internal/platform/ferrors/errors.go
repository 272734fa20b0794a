// Package ferrors defines the Factory's discriminated error taxonomy.
//
// Every fallible core operation returns (value, *Error) instead of relying on
// panics or sentinel errors scattered across packages, mirroring the
// ResultCode/DenialReason pairing the teacher's RPC layer put on every
// response envelope.
package ferrors

import "fmt"

// Code is one of the error kinds from spec.md §7.
type Code string

const (
	Unauthorized       Code = "UNAUTHORIZED"
	InvalidConfig      Code = "INVALID_CONFIG"
	InsufficientBal    Code = "INSUFFICIENT_BALANCE"
	OutOfBounds        Code = "OUT_OF_BOUNDS"
	LedgerProofInvalid Code = "LEDGER_PROOF_INVALID"
	LedgerTemporary    Code = "LEDGER_TEMPORARY"
	LedgerPermanent    Code = "LEDGER_PERMANENT"
	HostTemporary      Code = "HOST_TEMPORARY"
	HostPermanent      Code = "HOST_PERMANENT"
	CreateAmbiguous    Code = "CREATE_AMBIGUOUS"
	Timeout            Code = "TIMEOUT"
	AttemptsExhausted  Code = "ATTEMPTS_EXHAUSTED"
	LastAdmin          Code = "LAST_ADMIN"
	NotFound           Code = "NOT_FOUND"
	Internal           Code = "INTERNAL"
)

// Error is the structured error surfaced to every caller and recorded in
// DeploymentRecord.error_message.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds a new *Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	fe, ok := err.(*Error)
	return ok && fe != nil && fe.Code == code
}

// CodeOf extracts the Code from err, defaulting to Internal for anything
// that isn't a *Error.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if fe, ok := err.(*Error); ok && fe != nil {
		return fe.Code
	}
	return Internal
}

package chain

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
)

// Kind classifies an error by how callers should react to it.
type Kind string

const (
	// KindPrecondition errors are local and fatal to the operation: missing key,
	// malformed intent, wrong fee variant. Never retried.
	KindPrecondition Kind = "precondition"

	// KindTransient errors come from the network: timeouts, HTTP failures,
	// malformed responses. Retried inside the provider aggregator.
	KindTransient Kind = "transient"

	// KindChainSemantic errors are read from a successful response: account not
	// activated, insufficient funds, reserve not met. Retrying cannot help.
	KindChainSemantic Kind = "chain_semantic"

	// KindSigning errors come from the signer boundary and abort a send.
	KindSigning Kind = "signing"
)

// Error is a structured error carrying enough detail to be rendered verbatim.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%s", k, e.Details[k])
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Code so that copies made with WithDetails or Wrap still
// satisfy errors.Is against the sentinel they came from.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetails returns a copy of e with extra structured details.
func (e *Error) WithDetails(details map[string]string) *Error {
	cp := *e
	cp.Details = make(map[string]string, len(e.Details)+len(details))
	maps.Copy(cp.Details, e.Details)
	maps.Copy(cp.Details, details)
	return &cp
}

// Wrap returns a copy of e wrapping a cause.
func (e *Error) Wrap(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

// Withf returns a copy of e with a more specific message.
func (e *Error) Withf(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

var (
	ErrNoDerivation       = &Error{Kind: KindPrecondition, Code: "NO_DERIVATION", Message: "no usable public key for this blockchain"}
	ErrInvalidAmount      = &Error{Kind: KindPrecondition, Code: "INVALID_AMOUNT", Message: "amount must be positive"}
	ErrInvalidAddress     = &Error{Kind: KindPrecondition, Code: "INVALID_ADDRESS", Message: "invalid address"}
	ErrAmountMismatch     = &Error{Kind: KindPrecondition, Code: "AMOUNT_MISMATCH", Message: "amounts belong to different blockchains or assets"}
	ErrBlockchainMismatch = &Error{Kind: KindPrecondition, Code: "BLOCKCHAIN_MISMATCH", Message: "intent targets a different blockchain"}
	ErrFeeParamsMissing   = &Error{Kind: KindPrecondition, Code: "FEE_PARAMS_MISSING", Message: "required fee parameters are missing"}
	ErrFeeParamsMismatch  = &Error{Kind: KindPrecondition, Code: "FEE_PARAMS_MISMATCH", Message: "fee parameters do not match the blockchain"}
	ErrNotSupported       = &Error{Kind: KindPrecondition, Code: "NOT_SUPPORTED", Message: "operation not supported for this blockchain"}
	ErrStateIncomplete    = &Error{Kind: KindPrecondition, Code: "STATE_INCOMPLETE", Message: "account state is missing data required to build"}

	ErrProvidersExhausted = &Error{Kind: KindTransient, Code: "PROVIDERS_EXHAUSTED", Message: "all providers failed"}
	ErrFeeUnavailable     = &Error{Kind: KindTransient, Code: "FEE_UNAVAILABLE", Message: "fee unavailable"}
	ErrMalformedResponse  = &Error{Kind: KindTransient, Code: "MALFORMED_RESPONSE", Message: "malformed provider response"}
	ErrPushUnsupported    = &Error{Kind: KindPrecondition, Code: "PUSH_UNSUPPORTED", Message: "no configured provider supports transaction replacement"}

	ErrAccountNotFound   = &Error{Kind: KindChainSemantic, Code: "ACCOUNT_NOT_FOUND", Message: "account is not activated"}
	ErrInsufficientFunds = &Error{Kind: KindChainSemantic, Code: "INSUFFICIENT_FUNDS", Message: "insufficient funds for amount and fee"}
	ErrInsufficientUTXOs = &Error{Kind: KindChainSemantic, Code: "INSUFFICIENT_UTXOS", Message: "insufficient confirmed outputs to cover amount and fee"}
	ErrReserveNotMet     = &Error{Kind: KindChainSemantic, Code: "RESERVE_NOT_MET", Message: "destination reserve not met"}
	ErrTxRejected        = &Error{Kind: KindChainSemantic, Code: "TX_REJECTED", Message: "transaction rejected by network"}
	ErrAlreadyConfirmed  = &Error{Kind: KindChainSemantic, Code: "ALREADY_CONFIRMED", Message: "transaction is already confirmed"}

	ErrSignerUnavailable  = &Error{Kind: KindSigning, Code: "SIGNER_UNAVAILABLE", Message: "signer unavailable"}
	ErrMalformedSignature = &Error{Kind: KindSigning, Code: "MALFORMED_SIGNATURE", Message: "malformed signature"}
	ErrWrongCurve         = &Error{Kind: KindSigning, Code: "WRONG_CURVE", Message: "signature does not match the wallet curve"}
)

// AsError returns the first *Error in err's chain, or nil.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// KindOf classifies err. Errors that are not *Error are treated as transient.
func KindOf(err error) Kind {
	if e := AsError(err); e != nil {
		return e.Kind
	}
	return KindTransient
}

// IsRetryable reports whether rotating to another provider could change the outcome.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}

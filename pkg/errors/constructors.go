package errors

import (
	"errors"
	"fmt"
)

// New creates an Error without a cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches code and message to err. It returns nil when err is nil.
//
//	if err := store.PutObject(ctx, ...); err != nil {
//	    return errors.Wrap(err, errors.CodeInternalStorage, "failed to store file")
//	}
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// Validation creates a VAL_001 error.
func Validation(message string) *Error {
	return New(CodeValidation, message)
}

// Required creates a VAL_002 error for a missing field.
func Required(message string) *Error {
	return New(CodeValidationRequired, message)
}

// NotFound creates a NF_001 error.
func NotFound(message string) *Error {
	return New(CodeNotFound, message)
}

// Internal creates an INT_001 error.
func Internal(message string) *Error {
	return New(CodeInternal, message)
}

// Unavailable creates an UNAVAIL_001 error.
func Unavailable(message string) *Error {
	return New(CodeUnavailable, message)
}

// FromError returns err as an *Error, wrapping anything else as INT_001.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, CodeInternal, "an unexpected error occurred")
}

// ---------------------------------------------------------------------------
// Authentication taxonomy
// ---------------------------------------------------------------------------

// The messages below are returned to HTTP callers after the "Invalid token: "
// prefix, so they describe the category only.

func NewMissingAuthHeader() *Error {
	return New(CodeMissingAuthHeader, "Authorization header is required")
}

func NewMalformedAuthHeader() *Error {
	return New(CodeMalformedAuthHeader, "Invalid authorization header format")
}

// NewInvalidToken reports a token rejected for a reason without its own code.
func NewInvalidToken(cause error) *Error {
	if cause == nil {
		return New(CodeInvalidToken, "invalid token")
	}
	return Wrap(cause, CodeInvalidToken, "invalid token")
}

func NewTokenExpired(cause error) *Error {
	return &Error{Code: CodeTokenExpired, Message: "token expired", Cause: cause}
}

func NewTokenNotYetValid(cause error) *Error {
	return &Error{Code: CodeTokenNotYetValid, Message: "token not yet valid", Cause: cause}
}

func NewMissingKeyID() *Error {
	return New(CodeMissingKeyID, "kid not found in token header")
}

func NewMissingSubjectClaim() *Error {
	return New(CodeMissingSubjectClaim, "user_id not found in token")
}

// NewKeyNotFound reports a kid that a full scan of the key set did not find.
func NewKeyNotFound(kid string) *Error {
	return New(CodeKeyNotFound, "public key not found for kid").WithDetail("kid", kid)
}

func NewUnsupportedKeyType(kty string) *Error {
	return New(CodeUnsupportedKeyType, "unsupported key type").WithDetail("kty", kty)
}

func NewInvalidKeyMaterial(cause error) *Error {
	return &Error{Code: CodeInvalidKeyMaterial, Message: "invalid key material", Cause: cause}
}

func NewUpstreamUnavailable(cause error) *Error {
	return &Error{Code: CodeUpstreamUnavailable, Message: "key set endpoint unavailable", Cause: cause}
}

func NewMalformedKeySet(cause error) *Error {
	return &Error{Code: CodeMalformedKeySet, Message: "malformed key set", Cause: cause}
}

func NewSignatureInvalid(cause error) *Error {
	return &Error{Code: CodeSignatureInvalid, Message: "token signature is invalid", Cause: cause}
}

// NewAlgorithmNotAllowed reports a token header alg other than RS256.
func NewAlgorithmNotAllowed(alg string) *Error {
	return New(CodeAlgorithmNotAllowed, "signing algorithm not allowed").WithDetail("alg", alg)
}

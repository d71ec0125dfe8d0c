// Package errors defines the structured error type shared by the fstorage
// service. Every failure that crosses a package boundary is an *Error carrying
// a machine-readable Code. The code's category prefix decides the HTTP status
// the service answers with, so handlers never guess.
//
// # Categories
//
//	VAL_xxx     - request input rejected (400)
//	AUTH_xxx    - bearer token or key resolution failed (401)
//	NF_xxx      - resource missing (404)
//	CONF_xxx    - state conflict (409)
//	SIZE_xxx    - payload too large (413)
//	INT_xxx     - unexpected internal failure (500)
//	UNAVAIL_xxx - dependency or service unavailable (503)
//	TIMEOUT_xxx - operation exceeded its deadline (504)
//
// # Authentication taxonomy
//
// Token verification reports exactly one AUTH code per failure. The Message
// of those errors is a short category description that is safe to return to
// callers; the Cause carries detail meant for operator logs only.
//
// # Usage
//
//	err := errors.NewKeyNotFound(kid)
//	if errors.IsAuthentication(err) {
//	    // 401
//	}
//
// The package is conventionally imported as sserr to avoid clashing with the
// standard library errors package.
package errors

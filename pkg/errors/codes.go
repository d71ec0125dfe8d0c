package errors

// Code is a machine-readable error code of the form CATEGORY_NNN. Codes are
// stable once assigned and appear in logs and metrics.
type Code string

// Validation codes (400).
const (
	CodeValidation         Code = "VAL_001"
	CodeValidationRequired Code = "VAL_002"
	CodeValidationFormat   Code = "VAL_003"
)

// Authentication codes (401). One per verification failure category.
const (
	// CodeInvalidToken is a token that cannot be parsed or verified for a
	// reason not covered by a more specific code.
	CodeInvalidToken Code = "AUTH_001"

	// CodeTokenExpired is a token whose exp claim lies in the past.
	CodeTokenExpired Code = "AUTH_002"

	// CodeTokenNotYetValid is a token whose nbf or iat claim lies in the future.
	CodeTokenNotYetValid Code = "AUTH_003"

	// CodeMissingAuthHeader is a request without an Authorization header.
	CodeMissingAuthHeader Code = "AUTH_004"

	// CodeMalformedAuthHeader is an Authorization header not of the exact
	// form "Bearer <token>".
	CodeMalformedAuthHeader Code = "AUTH_005"

	// CodeMissingKeyID is a token header without a kid.
	CodeMissingKeyID Code = "AUTH_006"

	// CodeMissingSubjectClaim is a verified token without a non-empty user_id.
	CodeMissingSubjectClaim Code = "AUTH_007"

	// CodeKeyNotFound is a kid absent from the authority's key set.
	CodeKeyNotFound Code = "AUTH_008"

	// CodeUnsupportedKeyType is a key descriptor whose kty is not RSA.
	CodeUnsupportedKeyType Code = "AUTH_009"

	// CodeInvalidKeyMaterial is a key descriptor whose n/e do not form a
	// usable RSA public key.
	CodeInvalidKeyMaterial Code = "AUTH_010"

	// CodeUpstreamUnavailable is a key-set fetch that failed, timed out or
	// returned a non-success status.
	CodeUpstreamUnavailable Code = "AUTH_011"

	// CodeMalformedKeySet is a key-set response body that is not a key set.
	CodeMalformedKeySet Code = "AUTH_012"

	// CodeSignatureInvalid is a token whose RS256 signature does not verify.
	CodeSignatureInvalid Code = "AUTH_013"

	// CodeAlgorithmNotAllowed is a token signed with anything but RS256.
	CodeAlgorithmNotAllowed Code = "AUTH_014"
)

const (
	CodeNotFound Code = "NF_001"

	CodeConflict Code = "CONF_001"

	// CodePayloadTooLarge is a request body or file over the configured limit.
	CodePayloadTooLarge Code = "SIZE_001"

	CodeInternal              Code = "INT_001"
	CodeInternalStorage       Code = "INT_002"
	CodeInternalDatabase      Code = "INT_003"
	CodeInternalConfiguration Code = "INT_004"

	CodeUnavailable           Code = "UNAVAIL_001"
	CodeUnavailableDependency Code = "UNAVAIL_002"

	CodeTimeout Code = "TIMEOUT_001"
)

// String returns the code as a plain string.
func (c Code) String() string {
	return string(c)
}

// Category returns the prefix before the first underscore, e.g. "AUTH".
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}

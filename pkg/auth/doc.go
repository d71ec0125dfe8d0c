// Package auth verifies bearer tokens issued by the external authority and
// gates the fstorage API on them.
//
// Verification is split into two phases. [KeyResolver] turns a key id into
// a [VerificationKey], reading the process-wide [KeyCache] first and fetching
// the authority's key set only on a miss. [TokenVerifier] then checks the
// RS256 signature against the resolved key without further I/O and extracts
// the user_id claim into an [AuthenticatedPrincipal].
//
// [HTTPMiddleware] and the gRPC interceptors sit in front of handlers, reject
// every failure with an unauthenticated response, and attach the principal
// to the request context for [SubjectFromContext].
//
// Keys are never expired or refreshed. An authority that reuses a kid for
// different key material is not detected; the first material seen stays
// trusted for the lifetime of the cache.
package auth

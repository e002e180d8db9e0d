package types

import "errors"

// Error kinds recognized by the storage core (spec §7). Handlers in
// pkg/api map these to transport-level codes; BadNonce is a domain
// error surfaced in the mutation response body, not as a transport
// failure.
var (
	ErrInvalidEnvelope   = errors.New("invalid envelope")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrBadInnerPayload   = errors.New("bad inner payload")

	ErrBadNonce = errors.New("bad nonce")

	ErrNotFound           = errors.New("not found")
	ErrOwnerVerifyFailed  = errors.New("owner verify failed")
	ErrDatabaseExists     = errors.New("database exists")
	ErrCollectionExists   = errors.New("collection exists")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrDatabaseNotFound   = errors.New("database not found")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrStoreIO            = errors.New("store io error")
)

package errcode

const (
	ErrUnknown = 10000000 + iota
	ErrInvalid
	ErrContentEmpty
	ErrNotFound
	ErrSchemaMismatch
	ErrIndex
	ErrQuotaExceeded
	ErrInvalidCredentials
	ErrRateLimited
	ErrTransient
	ErrMalformedResponse
	ErrTooMany
	ErrInternal
)

package tokenlease

import "errors"

// Sentinel errors. All are fatal for the current invocation.
var (
	// ErrLockTimeout means another process kept the token lock for every
	// attempt. Proceeding with the expired token is not allowed.
	ErrLockTimeout = errors.New("tokenlease: timed out waiting for the token lock")

	// ErrRefreshFailed means the identity provider rejected the refresh.
	ErrRefreshFailed = errors.New("tokenlease: token refresh failed")

	// ErrNotAuthorized means no token record exists for the tenant yet.
	ErrNotAuthorized = errors.New("tokenlease: not authorized")
)

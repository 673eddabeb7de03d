package identityrepo

import "errors"

var (
	// ErrNotFound indicates no identity record exists for the provider user id.
	ErrNotFound = errors.New("identity not found")

	// ErrPlatformIDConflict indicates the record is already bound to a different platform account.
	ErrPlatformIDConflict = errors.New("identity already bound to a different platform account")

	// ErrUnavailable indicates the backing identity store could not be reached.
	ErrUnavailable = errors.New("identity directory unavailable")
)

package domain

import (
	"errors"
	"strconv"
	"strings"
)

// ProviderUserID is the identity provider's stable user id (the session `sub`).
// We model it as an opaque identifier: its format is controlled by the IdP.
type ProviderUserID string

// VoucherID identifies a voucher. It doubles as the seed of the voucher's ledger address.
type VoucherID string

// PlatformUserID is the hosting platform's numeric account id, kept in its decimal string form.
//
// Ids are compared as strings everywhere so no representation (JSON number, u64, float) can
// lose precision on the way through. The empty value means "not linked yet".
type PlatformUserID string

var ErrInvalidPlatformUserID = errors.New("platform user id must be a base-10 unsigned 64-bit integer")

// ParsePlatformUserID validates s and returns it in canonical form (no sign, no leading zeros).
func ParsePlatformUserID(s string) (PlatformUserID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrInvalidPlatformUserID
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return "", ErrInvalidPlatformUserID
	}
	return PlatformUserIDFromUint(n), nil
}

func PlatformUserIDFromUint(n uint64) PlatformUserID {
	return PlatformUserID(strconv.FormatUint(n, 10))
}

func (id PlatformUserID) IsZero() bool { return id == "" }

func (id PlatformUserID) String() string { return string(id) }

// Uint64 returns the numeric form used for ledger seeds.
func (id PlatformUserID) Uint64() (uint64, error) {
	if id == "" {
		return 0, ErrInvalidPlatformUserID
	}
	n, err := strconv.ParseUint(string(id), 10, 64)
	if err != nil {
		return 0, ErrInvalidPlatformUserID
	}
	return n, nil
}

package domain

import "time"

// Identity is one authenticated person as seen by this service.
//
// PlatformUserID is empty until the hosting-platform account is linked and never changes once set.
// WalletAddress is only ever written by a successful wallet-link verification.
type Identity struct {
	Handle         string
	ProviderUserID ProviderUserID
	PlatformUserID PlatformUserID
	WalletAddress  string

	IssuedAt time.Time
}

func (i Identity) HasPlatformAccount() bool { return !i.PlatformUserID.IsZero() }

func (i Identity) HasWallet() bool { return i.WalletAddress != "" }

// PlatformAccount is a hosting-platform account resolved from a handle.
type PlatformAccount struct {
	Login string
	ID    PlatformUserID
}

// Session is what a verified identity-provider session asserts about its holder.
type Session struct {
	Subject        ProviderUserID
	Handle         string
	PlatformUserID PlatformUserID
}

package domain

import "time"

type VoucherState string

const (
	VoucherStatePending   VoucherState = "PENDING"
	VoucherStateClaimed   VoucherState = "CLAIMED"
	VoucherStateCancelled VoucherState = "CANCELLED"
	VoucherStateExpired   VoucherState = "EXPIRED"
)

// BaseUnitsPerCoin converts display amounts into the ledger's base unit (lamports).
const BaseUnitsPerCoin = 1_000_000_000

// VoucherRecord is the read-through projection of a voucher account held by the ledger.
// This service never mutates it; state transitions happen on-ledger only.
type VoucherRecord struct {
	Address             Address
	VoucherID           VoucherID
	Organization        Address
	RecipientPlatformID PlatformUserID
	AmountBaseUnits     uint64
	State               VoucherState
	Reason              string

	CreatedAt time.Time
	// ExpiresAt is zero when the voucher never expires.
	ExpiresAt time.Time
}

// EffectiveState reports Expired for a Pending voucher whose expiry has passed,
// before the ledger has processed an expire transaction.
func (v VoucherRecord) EffectiveState(now time.Time) VoucherState {
	if v.State == VoucherStatePending && !v.ExpiresAt.IsZero() && !now.Before(v.ExpiresAt) {
		return VoucherStateExpired
	}
	return v.State
}

// VoucherDescriptor is everything the issuer's wallet client needs to submit the
// ledger-creating transaction itself.
type VoucherDescriptor struct {
	VoucherID           VoucherID
	RecipientHandle     string
	RecipientPlatformID PlatformUserID
	SenderOrgID         PlatformUserID
	Amount              float64
	AmountBaseUnits     uint64
	Reason              string
	OrganizationAddress Address
	VoucherAddress      Address
	MaintainerWallet    string
	ClaimURL            string
	CreatedAt           time.Time
}

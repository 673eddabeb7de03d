package clock

import "time"

// Clock supplies "now" for token ages, voucher id timestamps and expiry checks.
// Tests drive it with the memory ManualClock.
type Clock interface {
	Now() time.Time
}

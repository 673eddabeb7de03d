package clock

import "time"

// SystemClock returns the current UTC time truncated to the millisecond, the finest precision
// portable tokens and voucher ids carry. Identities stamped with it survive a token round trip
// unchanged.
type SystemClock struct{}

func NewSystemClock() SystemClock { return SystemClock{} }

func (SystemClock) Now() time.Time { return time.Now().UTC().Truncate(time.Millisecond) }

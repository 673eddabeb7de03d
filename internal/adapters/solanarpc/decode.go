package solanarpc

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/ghvoucher/voucher-bridge/internal/domain"
	"github.com/ghvoucher/voucher-bridge/internal/ports/out/ledger"
)

const discriminatorSize = 8

// VoucherDiscriminator prefixes every voucher escrow account written by the program.
var VoucherDiscriminator = accountDiscriminator("VoucherEscrow")

func accountDiscriminator(name string) [discriminatorSize]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var out [discriminatorSize]byte
	copy(out[:], sum[:discriminatorSize])
	return out
}

// On-ledger state enum, in declaration order.
var states = []domain.VoucherState{
	domain.VoucherStatePending,
	domain.VoucherStateClaimed,
	domain.VoucherStateCancelled,
	domain.VoucherStateExpired,
}

var errShortAccount = errors.New("account data truncated")

type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.buf)-r.off < n {
		r.err = errShortAccount
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) i64() int64 { return int64(r.u64()) }

func (r *reader) str() string {
	lb := r.take(4)
	if lb == nil {
		return ""
	}
	b := r.take(int(binary.LittleEndian.Uint32(lb)))
	if b == nil {
		return ""
	}
	if !utf8.Valid(b) {
		r.err = errors.New("string is not valid UTF-8")
		return ""
	}
	return string(b)
}

// DecodeVoucherAccount decodes a voucher escrow account. Trailing bytes after the last
// field are ignored since accounts are allocated with spare space.
func DecodeVoucherAccount(address domain.Address, data []byte) (domain.VoucherRecord, error) {
	if len(data) < discriminatorSize || [discriminatorSize]byte(data[:discriminatorSize]) != VoucherDiscriminator {
		return domain.VoucherRecord{}, fmt.Errorf("%w: discriminator mismatch", ledger.ErrMalformedAccount)
	}
	r := &reader{buf: data, off: discriminatorSize}

	id := r.str()
	amount := r.u64()
	recipient := r.u64()
	var org domain.Address
	copy(org[:], r.take(domain.AddressSize))
	state := r.u8()
	createdAt := r.i64()
	expiresAt := r.i64()
	reason := r.str()
	if r.err != nil {
		return domain.VoucherRecord{}, fmt.Errorf("%w: %v", ledger.ErrMalformedAccount, r.err)
	}
	if int(state) >= len(states) {
		return domain.VoucherRecord{}, fmt.Errorf("%w: unknown state %d", ledger.ErrMalformedAccount, state)
	}
	if id == "" {
		return domain.VoucherRecord{}, fmt.Errorf("%w: empty voucher id", ledger.ErrMalformedAccount)
	}

	rec := domain.VoucherRecord{
		Address:             address,
		VoucherID:           domain.VoucherID(id),
		Organization:        org,
		RecipientPlatformID: domain.PlatformUserIDFromUint(recipient),
		AmountBaseUnits:     amount,
		State:               states[state],
		Reason:              reason,
		CreatedAt:           time.Unix(createdAt, 0).UTC(),
	}
	if expiresAt > 0 {
		rec.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	}
	return rec, nil
}

// EncodeVoucherAccount is the inverse of DecodeVoucherAccount. It lets tooling and tests
// fabricate account data the way the program lays it out.
func EncodeVoucherAccount(v domain.VoucherRecord) ([]byte, error) {
	recipient, err := v.RecipientPlatformID.Uint64()
	if err != nil {
		return nil, err
	}
	state := -1
	for i, s := range states {
		if s == v.State {
			state = i
		}
	}
	if state < 0 {
		return nil, fmt.Errorf("unknown voucher state %q", v.State)
	}
	var expires int64
	if !v.ExpiresAt.IsZero() {
		expires = v.ExpiresAt.Unix()
	}

	out := append([]byte(nil), VoucherDiscriminator[:]...)
	out = appendString(out, string(v.VoucherID))
	out = binary.LittleEndian.AppendUint64(out, v.AmountBaseUnits)
	out = binary.LittleEndian.AppendUint64(out, recipient)
	out = append(out, v.Organization[:]...)
	out = append(out, byte(state))
	out = binary.LittleEndian.AppendUint64(out, uint64(v.CreatedAt.Unix()))
	out = binary.LittleEndian.AppendUint64(out, uint64(expires))
	out = appendString(out, v.Reason)
	return out, nil
}

func appendString(out []byte, s string) []byte {
	out = binary.LittleEndian.AppendUint32(out, uint32(len(s)))
	return append(out, s...)
}

package vouchers

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ghvoucher/voucher-bridge/internal/app/addressing"
	"github.com/ghvoucher/voucher-bridge/internal/app/apperr"
	"github.com/ghvoucher/voucher-bridge/internal/domain"
	clockport "github.com/ghvoucher/voucher-bridge/internal/ports/out/clock"
)

const (
	idPrefix = "v-"
	// idRandomBytes is 80 bits of entropy per id.
	idRandomBytes = 10
	idTimeWidth   = 8
)

var idEncoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// IDGenerator mints voucher ids of the form v-<base36 unix ms>-<16 base32 chars>.
//
// Uniqueness comes from the random part alone; the time part only makes ids sortable. No
// shared counter is involved, so concurrent creators need no coordination. Ids stay within
// the ledger's 32-byte seed limit.
type IDGenerator struct {
	clk  clockport.Clock
	rand io.Reader
}

// NewIDGenerator returns a generator reading entropy from r, or crypto/rand when r is nil.
func NewIDGenerator(clk clockport.Clock, r io.Reader) *IDGenerator {
	if r == nil {
		r = rand.Reader
	}
	return &IDGenerator{clk: clk, rand: r}
}

func (g *IDGenerator) New() (domain.VoucherID, error) {
	var buf [idRandomBytes]byte
	if _, err := io.ReadFull(g.rand, buf[:]); err != nil {
		return "", fmt.Errorf("read voucher id entropy: %w", err)
	}
	ms := g.clk.Now().UnixMilli()
	if ms < 0 {
		ms = 0
	}
	ts := strconv.FormatInt(ms, 36)
	if len(ts) < idTimeWidth {
		ts = strings.Repeat("0", idTimeWidth-len(ts)) + ts
	}
	return domain.VoucherID(idPrefix + ts + "-" + idEncoding.EncodeToString(buf[:])), nil
}

// ParseVoucherID accepts any id a client may present, including ids minted by older
// clients: 1-32 bytes of letters, digits, '-', '_' or '.'.
func ParseVoucherID(s string) (domain.VoucherID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", apperr.ErrInvalidVoucherID
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
		default:
			return "", apperr.ErrInvalidVoucherID
		}
	}
	if len(s) > addressing.MaxSeedLength {
		return "", apperr.ErrSeedTooLong
	}
	return domain.VoucherID(s), nil
}

// Package addressing derives ledger account addresses from stable seeds, reproducing the
// ledger program's program-derived-address scheme so clients, this service and the program
// agree on addressing without a lookup table.
package addressing

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"filippo.io/edwards25519"

	"github.com/ghvoucher/voucher-bridge/internal/app/apperr"
	"github.com/ghvoucher/voucher-bridge/internal/domain"
)

const (
	// MaxSeedLength is the per-seed byte limit enforced by the ledger runtime.
	MaxSeedLength = 32
	// MaxSeeds bounds the number of seeds, including the bump byte.
	MaxSeeds = 16

	pdaMarker = "ProgramDerivedAddress"

	OrganizationTag = "organization"
	VoucherTag      = "voucher"
)

// ErrNoViableBump is returned when every bump seed yields an on-curve point.
// The probability is ~2^-256; seeing it means the inputs are wrong.
var ErrNoViableBump = errors.New("unable to find a viable program address bump seed")

// Derived is a program-derived address together with the bump seed that produced it.
type Derived struct {
	Address domain.Address
	Bump    uint8
}

// Deriver computes program-derived addresses for one ledger program. It is stateless and
// safe for concurrent use.
type Deriver struct {
	programID domain.Address
}

func NewDeriver(programID domain.Address) *Deriver {
	return &Deriver{programID: programID}
}

func (d *Deriver) ProgramID() domain.Address { return d.programID }

// Derive maps (namespaceTag, seed) to the canonical program address: the first bump, counting
// down from 255, whose hash falls off the ed25519 curve.
func (d *Deriver) Derive(namespaceTag string, seed []byte) (Derived, error) {
	return FindProgramAddress([][]byte{[]byte(namespaceTag), seed}, d.programID)
}

// OrganizationAddress derives the issuer anchor from the 8-byte little-endian org id.
func (d *Deriver) OrganizationAddress(orgID domain.PlatformUserID) (Derived, error) {
	n, err := orgID.Uint64()
	if err != nil {
		return Derived{}, err
	}
	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], n)
	return d.Derive(OrganizationTag, seed[:])
}

// VoucherAddress derives the voucher account from the raw UTF-8 bytes of its id.
func (d *Deriver) VoucherAddress(id domain.VoucherID) (Derived, error) {
	return d.Derive(VoucherTag, []byte(id))
}

// FindProgramAddress searches bump seeds 255..0 appended to seeds.
func FindProgramAddress(seeds [][]byte, programID domain.Address) (Derived, error) {
	if len(seeds) >= MaxSeeds {
		return Derived{}, apperr.ErrSeedTooLong.WithMessage(fmt.Sprintf("at most %d seeds are allowed", MaxSeeds-1))
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		addr, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return Derived{Address: addr, Bump: uint8(bump)}, nil
		}
		if !errors.Is(err, errOnCurve) {
			return Derived{}, err
		}
	}
	return Derived{}, ErrNoViableBump
}

var errOnCurve = errors.New("derived address lies on the ed25519 curve")

// CreateProgramAddress hashes the seeds, the program id and the PDA marker. The result is
// rejected when it is a valid curve point, since such an address could have a private key.
func CreateProgramAddress(seeds [][]byte, programID domain.Address) (domain.Address, error) {
	if len(seeds) > MaxSeeds {
		return domain.Address{}, apperr.ErrSeedTooLong.WithMessage(fmt.Sprintf("at most %d seeds are allowed", MaxSeeds))
	}
	h := sha256.New()
	for _, s := range seeds {
		if len(s) > MaxSeedLength {
			return domain.Address{}, apperr.ErrSeedTooLong.WithDetails(map[string]any{
				"maxSeedLength": MaxSeedLength,
				"seedLength":    len(s),
			})
		}
		h.Write(s)
	}
	h.Write(programID[:])
	h.Write([]byte(pdaMarker))

	var out domain.Address
	copy(out[:], h.Sum(nil))
	if IsOnCurve(out) {
		return domain.Address{}, errOnCurve
	}
	return out, nil
}

// IsOnCurve reports whether b decodes to an ed25519 point. Non-canonical encodings are
// accepted, matching the ledger runtime's decompression rules.
func IsOnCurve(b domain.Address) bool {
	_, err := new(edwards25519.Point).SetBytes(b[:])
	return err == nil
}

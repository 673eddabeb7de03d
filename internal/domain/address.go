package domain

import (
	"errors"

	"github.com/mr-tron/base58"
)

// AddressSize is the byte length of a ledger address (an ed25519 public key or a program-derived address).
const AddressSize = 32

var ErrInvalidAddress = errors.New("address must be 32 bytes of base58")

// Address is a ledger account address.
type Address [AddressSize]byte

func ParseAddress(s string) (Address, error) {
	b, err := base58.Decode(s)
	if err != nil || len(b) != AddressSize {
		return Address{}, ErrInvalidAddress
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) String() string { return base58.Encode(a[:]) }

func (a Address) Bytes() []byte { return a[:] }

func (a Address) IsZero() bool { return a == Address{} }

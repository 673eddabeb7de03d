package identity

import (
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"

	"github.com/ghvoucher/voucher-bridge/internal/app/apperr"
	"github.com/ghvoucher/voucher-bridge/internal/domain"
)

// SignatureSize is the length of a detached ed25519 signature.
const SignatureSize = ed25519.SignatureSize

// LinkMessage is the canonical message a wallet signs to prove it belongs to handle.
// The wording is fixed: existing wallet clients sign exactly these bytes.
func LinkMessage(address, handle string) string {
	return fmt.Sprintf("Link Solana Wallet %s to GitHub user %s", address, handle)
}

// VerifyLink checks a base58 detached ed25519 signature over LinkMessage(address, handle)
// and returns the parsed address.
//
// Errors carry only the outcome (ErrInvalidAddress or ErrInvalidSignature), never the
// signature bytes.
func VerifyLink(address, handle, signature string) (domain.Address, error) {
	addr, err := domain.ParseAddress(strings.TrimSpace(address))
	if err != nil {
		return domain.Address{}, apperr.ErrInvalidAddress
	}
	sig, err := base58.Decode(strings.TrimSpace(signature))
	if err != nil || len(sig) != SignatureSize {
		return domain.Address{}, apperr.ErrInvalidSignature
	}
	msg := LinkMessage(addr.String(), handle)
	if !ed25519.Verify(ed25519.PublicKey(addr.Bytes()), []byte(msg), sig) {
		return domain.Address{}, apperr.ErrInvalidSignature
	}
	return addr, nil
}

// SignLink signs LinkMessage with priv and returns the base58 signature.
// Wallets do this client-side; the service only uses it in tooling and tests.
func SignLink(priv ed25519.PrivateKey, handle string) (address, signature string) {
	pub := priv.Public().(ed25519.PublicKey)
	address = base58.Encode(pub)
	sig := ed25519.Sign(priv, []byte(LinkMessage(address, handle)))
	return address, base58.Encode(sig)
}

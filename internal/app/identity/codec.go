package identity

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/oapi-codegen/nullable"

	"github.com/ghvoucher/voucher-bridge/internal/app/apperr"
	"github.com/ghvoucher/voucher-bridge/internal/domain"
	clockport "github.com/ghvoucher/voucher-bridge/internal/ports/out/clock"
)

// MaxTokenLength bounds the size of a token accepted by any codec.
const MaxTokenLength = 4096

// Codec turns an identity snapshot into a portable token and back.
//
// Decode fails closed: any problem yields apperr.ErrTokenMalformed (or ErrTokenExpired
// for a signed token past its exp) and a zero Identity, never a partial one.
type Codec interface {
	Encode(id domain.Identity) (string, error)
	Decode(token string) (domain.Identity, error)
}

// flexibleID is a platform user id that is written as a string and read from either a
// JSON string or a JSON number, so older tokens carrying a number still decode.
type flexibleID string

func (f flexibleID) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(f))
}

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	id, err := domain.ParsePlatformUserID(n.String())
	if err != nil {
		return err
	}
	*f = flexibleID(id)
	return nil
}

// plainPayload keeps the field names tokens have always carried on the wire.
type plainPayload struct {
	Handle         string                        `json:"username"`
	ProviderUserID string                        `json:"clerkId"`
	PlatformUserID nullable.Nullable[flexibleID] `json:"githubId,omitempty"`
	WalletAddress  nullable.Nullable[string]     `json:"wallet,omitempty"`
	IssuedAt       *int64                        `json:"timestamp"`
}

// PlainCodec is base64url(JSON) with no signature. Its contents are claims, not facts.
type PlainCodec struct{}

func (PlainCodec) Encode(id domain.Identity) (string, error) {
	if id.ProviderUserID == "" || id.Handle == "" {
		return "", errors.New("identity needs a provider user id and a handle")
	}
	issued := id.IssuedAt.UnixMilli()
	p := plainPayload{
		Handle:         id.Handle,
		ProviderUserID: string(id.ProviderUserID),
		IssuedAt:       &issued,
	}
	if id.HasPlatformAccount() {
		p.PlatformUserID = nullable.NewNullableWithValue(flexibleID(id.PlatformUserID))
	} else {
		p.PlatformUserID = nullable.NewNullNullable[flexibleID]()
	}
	if id.HasWallet() {
		p.WalletAddress = nullable.NewNullableWithValue(id.WalletAddress)
	} else {
		p.WalletAddress = nullable.NewNullNullable[string]()
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (PlainCodec) Decode(token string) (domain.Identity, error) {
	raw, ok := decodeBase64(token)
	if !ok || !utf8.Valid(raw) {
		return domain.Identity{}, apperr.ErrTokenMalformed
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return domain.Identity{}, apperr.ErrTokenMalformed
	}
	var p plainPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.Identity{}, apperr.ErrTokenMalformed
	}
	if p.ProviderUserID == "" || p.Handle == "" || p.IssuedAt == nil || *p.IssuedAt <= 0 {
		return domain.Identity{}, apperr.ErrTokenMalformed
	}
	out := domain.Identity{
		Handle:         p.Handle,
		ProviderUserID: domain.ProviderUserID(p.ProviderUserID),
		IssuedAt:       time.UnixMilli(*p.IssuedAt).UTC(),
	}
	if v, err := p.PlatformUserID.Get(); err == nil {
		out.PlatformUserID = domain.PlatformUserID(v)
	}
	if v, err := p.WalletAddress.Get(); err == nil {
		out.WalletAddress = v
	}
	return out, nil
}

// decodeBase64 accepts unpadded and padded forms of both URL-safe and standard alphabets.
func decodeBase64(token string) ([]byte, bool) {
	token = strings.TrimSpace(token)
	if token == "" || len(token) > MaxTokenLength {
		return nil, false
	}
	for _, enc := range []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.StdEncoding,
	} {
		if b, err := enc.DecodeString(token); err == nil {
			return b, true
		}
	}
	return nil, false
}

const signedIssuer = "voucher-bridge"

type signedClaims struct {
	Handle         string `json:"handle"`
	PlatformUserID string `json:"platformUserId,omitempty"`
	WalletAddress  string `json:"walletAddress,omitempty"`
	IssuedAtMillis int64  `json:"issuedAt"`
	jwt.RegisteredClaims
}

// SignedCodec issues HS256 tokens carrying the same snapshot plus a jti and an optional exp.
type SignedCodec struct {
	secret []byte
	ttl    time.Duration
	clk    clockport.Clock
	parser *jwt.Parser
}

// NewSignedCodec returns a codec keyed by secret. A zero ttl issues tokens without exp.
func NewSignedCodec(secret []byte, ttl time.Duration, clk clockport.Clock) *SignedCodec {
	return &SignedCodec{
		secret: append([]byte(nil), secret...),
		ttl:    ttl,
		clk:    clk,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(signedIssuer),
			jwt.WithTimeFunc(clk.Now),
		),
	}
}

func (c *SignedCodec) Encode(id domain.Identity) (string, error) {
	if id.ProviderUserID == "" || id.Handle == "" {
		return "", errors.New("identity needs a provider user id and a handle")
	}
	claims := signedClaims{
		Handle:         id.Handle,
		PlatformUserID: string(id.PlatformUserID),
		WalletAddress:  id.WalletAddress,
		IssuedAtMillis: id.IssuedAt.UnixMilli(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   signedIssuer,
			Subject:  string(id.ProviderUserID),
			IssuedAt: jwt.NewNumericDate(id.IssuedAt),
			ID:       uuid.NewString(),
		},
	}
	if c.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(id.IssuedAt.Add(c.ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

func (c *SignedCodec) Decode(token string) (domain.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" || len(token) > MaxTokenLength {
		return domain.Identity{}, apperr.ErrTokenMalformed
	}
	var claims signedClaims
	_, err := c.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Identity{}, apperr.ErrTokenExpired
		}
		return domain.Identity{}, apperr.ErrTokenMalformed
	}
	if claims.Subject == "" || claims.Handle == "" || claims.IssuedAtMillis <= 0 {
		return domain.Identity{}, apperr.ErrTokenMalformed
	}
	out := domain.Identity{
		Handle:         claims.Handle,
		ProviderUserID: domain.ProviderUserID(claims.Subject),
		WalletAddress:  claims.WalletAddress,
		IssuedAt:       time.UnixMilli(claims.IssuedAtMillis).UTC(),
	}
	if claims.PlatformUserID != "" {
		id, err := domain.ParsePlatformUserID(claims.PlatformUserID)
		if err != nil {
			return domain.Identity{}, apperr.ErrTokenMalformed
		}
		out.PlatformUserID = id
	}
	return out, nil
}

// Package jwks_testutil mints identity-provider session tokens and serves their JWKS.
// It backs tests and the local cmd/devidp provider.
package jwks_testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Keypair struct {
	Kid     string
	Private *rsa.PrivateKey
}

func GenerateRSAKeypair(kid string) (Keypair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return Keypair{}, err
	}
	return Keypair{Kid: kid, Private: priv}, nil
}

type jwk struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

// JWKSJSON renders the public halves of keys as a JWKS document.
func JWKSJSON(keys []Keypair) []byte {
	out := jwks{Keys: make([]jwk, 0, len(keys))}
	for _, kp := range keys {
		pub := kp.Private.PublicKey
		out.Keys = append(out.Keys, jwk{
			Kty: "RSA",
			Use: "sig",
			Alg: "RS256",
			Kid: kp.Kid,
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			// e is a big-endian unsigned int.
			E: base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}
	b, _ := json.Marshal(out)
	return b
}

// NewRotatingJWKSServer returns a JWKS server whose key set can be swapped at runtime.
//
// Use SetKeys to rotate keys.
func NewRotatingJWKSServer() (*httptest.Server, func(keys []Keypair)) {
	var doc atomic.Value // []byte
	doc.Store([]byte(`{"keys":[]}`))

	setKeys := func(keys []Keypair) {
		doc.Store(JWKSJSON(keys))
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(doc.Load().([]byte))
	}))

	return srv, setKeys
}

// Session describes the claims of a minted session token.
type Session struct {
	Issuer string
	// Audience may be empty, a string or a []string.
	Audience any
	Subject  string
	Username string
	// GitHubID is emitted as a JSON number when non-zero.
	GitHubID uint64
}

// MintSessionJWT creates an RS256 session token signed by kp.
func MintSessionJWT(kp Keypair, s Session, now time.Time, expDelta time.Duration, nbfDelta *time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"iss": s.Issuer,
		"sub": s.Subject,
		"iat": now.Unix(),
		"exp": now.Add(expDelta).Unix(),
	}
	if s.Audience != nil && s.Audience != "" {
		claims["aud"] = s.Audience
	}
	if s.Username != "" {
		claims["username"] = s.Username
	}
	if s.GitHubID != 0 {
		claims["github_id"] = s.GitHubID
	}
	if nbfDelta != nil {
		claims["nbf"] = now.Add(*nbfDelta).Unix()
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kp.Kid
	return tok.SignedString(kp.Private)
}

package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

const MethodS256 = "S256"

// verifierBytes gives a 43 character verifier once base64url encoded.
const verifierBytes = 32

type PKCE struct {
	Verifier  string
	Challenge string
	Method    string
}

type Source struct{}

func (p Source) randBytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)

	return b
}

// PKCE returns a fresh verifier and its S256 challenge. A verifier must
// be used for a single login attempt only.
func (p Source) PKCE() PKCE {
	verifier := base64.RawURLEncoding.EncodeToString(p.randBytes(verifierBytes))

	return PKCE{
		Verifier:  verifier,
		Challenge: Challenge(verifier),
		Method:    MethodS256,
	}
}

// Challenge derives the S256 code challenge for a verifier.
func Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

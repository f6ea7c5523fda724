package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
)

// randReader is the random source for verifiers and state values.
var randReader io.Reader = rand.Reader

// verifierAlphabet is the RFC 7636 unreserved character set.
const verifierAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

// VerifierLength is the length of a generated code verifier.
const VerifierLength = 64

// PKCEPair is a code verifier and its S256 challenge.
type PKCEPair struct {
	Verifier  string
	Challenge string
}

// GenerateChallenge draws a fresh verifier and derives its challenge.
// It fails only if the random source does.
func GenerateChallenge() (PKCEPair, error) {
	b := make([]byte, VerifierLength)
	if _, err := io.ReadFull(randReader, b); err != nil {
		return PKCEPair{}, fmt.Errorf("auth: generate code verifier: %w", err)
	}
	// Modulo indexing is slightly biased over 66 symbols; the verifier only
	// needs to be unpredictable.
	for i, c := range b {
		b[i] = verifierAlphabet[int(c)%len(verifierAlphabet)]
	}
	verifier := string(b)
	return PKCEPair{Verifier: verifier, Challenge: DeriveChallenge(verifier)}, nil
}

// DeriveChallenge returns base64url(sha256(verifier)) without padding.
func DeriveChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

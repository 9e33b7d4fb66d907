package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"

	appErr "wbuoj/pkg/errors"
)

// Signer issues and verifies capability-style download links. The signature
// is an HMAC-SHA256 over target and expiry with a shared secret, so a link
// is valid purely through recomputation, with no server-side state.
type Signer struct {
	secret []byte
}

// NewSigner creates a signer over the shared secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign computes the signature for a target expiring at the given instant
// (unix seconds).
func (s *Signer) Sign(target string, expiresAt int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s\n%d", target, expiresAt)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks expiry first, then recomputes and compares the signature in
// constant time.
func (s *Signer) Verify(target string, expiresAt int64, signature string) error {
	if time.Now().Unix() >= expiresAt {
		return appErr.New(appErr.LinkExpired)
	}
	expected := s.Sign(target, expiresAt)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return appErr.New(appErr.LinkSignatureInvalid)
	}
	return nil
}

// SignedQuery builds the query string of a download URL for the target.
func (s *Signer) SignedQuery(target, filename string, ttl time.Duration) url.Values {
	expiresAt := time.Now().Add(ttl).Unix()
	values := url.Values{}
	values.Set("target", target)
	values.Set("name", filename)
	values.Set("expire", strconv.FormatInt(expiresAt, 10))
	values.Set("signature", s.Sign(target, expiresAt))
	return values
}

// SignedURL renders a complete download URL rooted at base.
func (s *Signer) SignedURL(base, target, filename string, ttl time.Duration) string {
	return base + "/storage?" + s.SignedQuery(target, filename, ttl).Encode()
}

package dispatch

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/hkdf"
)

const signatureName = "process-invite"

// ErrBadSignature is returned by Verify for a missing, forged, expired, or
// mismatched task signature.
var ErrBadSignature = errors.New("invalid task signature")

// Signer authenticates task envelopes sent to the worker endpoint. The MAC
// key is derived from a shared secret so the raw secret never keys
// securecookie directly.
type Signer struct {
	codec *securecookie.SecureCookie
}

// NewSigner derives a signing key from secret. An empty secret returns nil,
// which signs nothing and accepts everything.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, nil
	}
	key := make([]byte, 64)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("invitegate task signature v1"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive task signing key: %w", err)
	}

	codec := securecookie.New(key, nil)
	codec.SetSerializer(securecookie.JSONEncoder{})
	// Tasks can sit in the queue for the full retry window.
	codec.MaxAge(0)
	return &Signer{codec: codec}, nil
}

// Enabled reports whether signatures are issued and required.
func (s *Signer) Enabled() bool {
	return s != nil
}

// Sign returns the signature for transactionID, or "" when disabled.
func (s *Signer) Sign(transactionID string) (string, error) {
	if !s.Enabled() {
		return "", nil
	}
	sig, err := s.codec.Encode(signatureName, transactionID)
	if err != nil {
		return "", fmt.Errorf("sign task: %w", err)
	}
	return sig, nil
}

// Verify checks that sig was issued for transactionID.
func (s *Signer) Verify(transactionID, sig string) error {
	if !s.Enabled() {
		return nil
	}
	if sig == "" {
		return ErrBadSignature
	}
	var got string
	if err := s.codec.Decode(signatureName, sig, &got); err != nil {
		return ErrBadSignature
	}
	if got != transactionID {
		return ErrBadSignature
	}
	return nil
}

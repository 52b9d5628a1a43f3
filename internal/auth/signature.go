package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"pdfsqueeze/internal/metrics"
)

var (
	ErrExpired           = errors.New("link has expired")
	ErrSignatureRequired = errors.New("signature required")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrInvalidExpiry     = errors.New("invalid expiry")
)

// Signer creates and verifies download link signatures
type Signer struct {
	secret         []byte
	enforceSigning bool
	metrics        *metrics.Metrics
	now            func() time.Time
}

// NewSigner creates a new link signer
func NewSigner(secret []byte, enforceSigning bool, m *metrics.Metrics) *Signer {
	return &Signer{
		secret:         secret,
		enforceSigning: enforceSigning,
		metrics:        m,
		now:            time.Now,
	}
}

// Sign returns the expiry and signature query values for id. A zero expiry
// produces a link that never expires.
func (s *Signer) Sign(id string, expiry time.Time) (expiryStr, signature string) {
	if !expiry.IsZero() {
		expiryStr = strconv.FormatInt(expiry.Unix(), 10)
	}
	return expiryStr, s.mac(id, expiryStr)
}

// Verify checks the signature and expiry of a download request
func (s *Signer) Verify(id, expiryStr, signature string) error {
	hasExpiry := expiryStr != ""

	// Check expiry if provided
	if hasExpiry {
		expiry, err := strconv.ParseInt(expiryStr, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidExpiry, err)
		}
		if s.now().Unix() > expiry {
			s.metrics.ExpiredLinksTotal.Inc()
			return ErrExpired
		}
	}

	// Check signature if enforced or provided
	if s.enforceSigning || signature != "" {
		if signature == "" {
			s.metrics.SignatureFailuresTotal.Inc()
			return ErrSignatureRequired
		}

		if !hmac.Equal([]byte(signature), []byte(s.mac(id, expiryStr))) {
			s.metrics.SignatureFailuresTotal.Inc()
			return ErrInvalidSignature
		}
	}

	return nil
}

func (s *Signer) mac(id, expiryStr string) string {
	payload := id
	if expiryStr != "" {
		payload += "|" + expiryStr
	}

	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

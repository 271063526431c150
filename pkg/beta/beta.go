package beta

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/aisu-os/core/pkg/apperr"
	"github.com/aisu-os/core/pkg/store"
	"github.com/aisu-os/core/pkg/types"
)

// Service implements the single-use beta invite token flow. Token delivery
// (SMTP) is an external collaborator; this service only mints, stores and
// consumes tokens.
type Service struct {
	store store.Store
	ttl   time.Duration
}

// NewService creates the beta access service.
func NewService(st store.Store, ttlHours int) *Service {
	if ttlHours <= 0 {
		ttlHours = 72
	}
	return &Service{store: st, ttl: time.Duration(ttlHours) * time.Hour}
}

// Request mints a one-time token for email and returns the plaintext token
// for delivery. Only the hash is persisted.
func (s *Service) Request(email string) (string, error) {
	if _, err := mail.ParseAddress(email); err != nil {
		return "", apperr.New(apperr.ValidationFailed, "Invalid email format")
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", apperr.Wrap(err, apperr.Internal, "Failed to generate token")
	}
	token := hex.EncodeToString(raw)

	req := &types.BetaAccessRequest{
		Email:       strings.ToLower(email),
		HashedToken: hashToken(token),
		ExpiresAt:   time.Now().UTC().Add(s.ttl),
	}
	if err := s.store.PutBetaRequest(req); err != nil {
		return "", apperr.Wrap(err, apperr.Internal, "Failed to store beta request")
	}

	return token, nil
}

// Consume validates a token for email and marks it used. A token works
// exactly once, only before expiry, and only for its own email.
func (s *Service) Consume(token, email string) error {
	req, err := s.store.FindBetaRequestByHash(hashToken(token))
	if err != nil {
		return apperr.New(apperr.Forbidden, "Invalid beta access token")
	}

	if !strings.EqualFold(req.Email, email) {
		return apperr.New(apperr.Forbidden, "Beta token was issued for a different email")
	}
	if req.UsedAt != nil {
		return apperr.New(apperr.Forbidden, "Beta token already used")
	}
	if time.Now().UTC().After(req.ExpiresAt) {
		return apperr.New(apperr.Forbidden, "Beta token expired")
	}

	now := time.Now().UTC()
	req.UsedAt = &now
	if err := s.store.PutBetaRequest(req); err != nil {
		return apperr.Wrap(err, apperr.Internal, "Failed to consume beta token")
	}
	return nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", sum)
}

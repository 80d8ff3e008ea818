package auth

import (
	"context"
	"errors"
	"time"

	"github.com/erp/payroll/internal/domain/shared"
)

// RevokedSession marks every token of a session issued before RevokedAt as invalid
type RevokedSession struct {
	SessionID string    `json:"session_id"`
	RevokedAt time.Time `json:"revoked_at"`
}

// SessionRevocations tracks revoked sessions in a shared keyed store so every
// server instance rejects them
type SessionRevocations struct {
	store shared.KeyedStore[RevokedSession]
	now   func() time.Time
}

// NewSessionRevocations creates a new SessionRevocations
func NewSessionRevocations(store shared.KeyedStore[RevokedSession]) *SessionRevocations {
	return &SessionRevocations{store: store, now: time.Now}
}

// Revoke invalidates the session's tokens issued up to now
func (s *SessionRevocations) Revoke(ctx context.Context, sessionID string) error {
	return s.store.Set(ctx, sessionID, &RevokedSession{SessionID: sessionID, RevokedAt: s.now()})
}

// IsRevoked reports whether a token issued at issuedAt belongs to a revoked session
func (s *SessionRevocations) IsRevoked(ctx context.Context, sessionID string, issuedAt time.Time) (bool, error) {
	rec, err := s.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return !issuedAt.After(rec.RevokedAt), nil
}

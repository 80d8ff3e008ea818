package auth

import (
	"context"
	"testing"
	"time"

	"github.com/erp/payroll/internal/domain/payroll"
	"github.com/erp/payroll/internal/infrastructure/config"
	"github.com/erp/payroll/internal/infrastructure/kvstore"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:                "test-secret-key-at-least-32-chars",
		Issuer:                "payroll-test",
		AccessTokenExpiration: 15 * time.Minute,
	}
}

func testActor() payroll.Actor {
	return payroll.Actor{
		ID:    uuid.New(),
		Email: "rh@example.ma",
		Roles: []payroll.Role{payroll.RolePayrollManager},
	}
}

func TestJWTActorResolver_RoundTrip(t *testing.T) {
	resolver := NewJWTActorResolver(testJWTConfig())
	actor := testActor()

	token, expiresAt, err := resolver.IssueToken(actor)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), expiresAt, 5*time.Second)

	resolved, err := resolver.Resolve(context.Background(), "Bearer "+token)
	require.NoError(t, err)
	assert.Equal(t, actor.ID, resolved.ID)
	assert.Equal(t, actor.Email, resolved.Email)
	assert.NotEmpty(t, resolved.SessionID)
	assert.True(t, resolved.HasRole(payroll.RolePayrollManager))
	assert.False(t, resolved.IsAdmin())
}

func TestJWTActorResolver_DropsUnknownAndSystemRoles(t *testing.T) {
	resolver := NewJWTActorResolver(testJWTConfig())
	actor := testActor()
	actor.Roles = []payroll.Role{payroll.RolePayrollAdmin, payroll.RoleSystem, "superuser"}

	token, _, err := resolver.IssueToken(actor)
	require.NoError(t, err)

	resolved, err := resolver.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, []payroll.Role{payroll.RolePayrollAdmin}, resolved.Roles)
}

func TestJWTActorResolver_Errors(t *testing.T) {
	cfg := testJWTConfig()
	resolver := NewJWTActorResolver(cfg)
	ctx := context.Background()

	t.Run("missing", func(t *testing.T) {
		_, err := resolver.Resolve(ctx, "Bearer ")
		assert.ErrorIs(t, err, ErrMissingToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := resolver.Resolve(ctx, "not-a-jwt")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := cfg
		other.Secret = "another-secret-key-at-least-32-chars"
		token, _, err := NewJWTActorResolver(other).IssueToken(testActor())
		require.NoError(t, err)
		_, err = resolver.Resolve(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := cfg
		other.Issuer = "someone-else"
		token, _, err := NewJWTActorResolver(other).IssueToken(testActor())
		require.NoError(t, err)
		_, err = resolver.Resolve(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		past := func() time.Time { return time.Now().Add(-time.Hour) }
		token, _, err := NewJWTActorResolver(cfg, WithClock(past)).IssueToken(testActor())
		require.NoError(t, err)
		_, err = resolver.Resolve(ctx, token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("not yet valid", func(t *testing.T) {
		future := func() time.Time { return time.Now().Add(time.Hour) }
		token, _, err := NewJWTActorResolver(cfg, WithClock(future)).IssueToken(testActor())
		require.NoError(t, err)
		_, err = resolver.Resolve(ctx, token)
		assert.ErrorIs(t, err, ErrTokenNotYetValid)
	})

	t.Run("unsigned", func(t *testing.T) {
		claims := &Claims{
			RegisteredClaims: jwt.RegisteredClaims{Issuer: cfg.Issuer},
			UserID:           uuid.NewString(),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = resolver.Resolve(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing user", func(t *testing.T) {
		claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: cfg.Issuer}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
		require.NoError(t, err)
		_, err = resolver.Resolve(ctx, token)
		assert.ErrorIs(t, err, ErrMissingUserID)
	})

	t.Run("malformed user", func(t *testing.T) {
		claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: cfg.Issuer}, UserID: "42"}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
		require.NoError(t, err)
		_, err = resolver.Resolve(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidClaims)
	})
}

func TestJWTActorResolver_RevokedSession(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewInMemoryStore[RevokedSession](time.Hour)
	defer store.Close()
	revocations := NewSessionRevocations(store)

	issuedAt := time.Now().Add(-time.Minute)
	resolver := NewJWTActorResolver(testJWTConfig(),
		WithRevocations(revocations),
		WithClock(func() time.Time { return issuedAt }))

	actor := testActor()
	actor.SessionID = "session-1"
	token, _, err := resolver.IssueToken(actor)
	require.NoError(t, err)

	_, err = resolver.Resolve(ctx, token)
	require.NoError(t, err)

	require.NoError(t, revocations.Revoke(ctx, "session-1"))
	_, err = resolver.Resolve(ctx, token)
	assert.ErrorIs(t, err, ErrSessionRevoked)

	actor.SessionID = "session-2"
	other, _, err := resolver.IssueToken(actor)
	require.NoError(t, err)
	_, err = resolver.Resolve(ctx, other)
	assert.NoError(t, err)
}

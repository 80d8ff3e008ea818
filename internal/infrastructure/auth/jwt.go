package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/erp/payroll/internal/domain/payroll"
	"github.com/erp/payroll/internal/infrastructure/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Common errors
var (
	ErrMissingToken     = errors.New("missing bearer token")
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrTokenNotYetValid = errors.New("token is not yet valid")
	ErrInvalidClaims    = errors.New("invalid token claims")
	ErrMissingUserID    = errors.New("missing user_id in claims")
	ErrSessionRevoked   = errors.New("session has been revoked")
)

// Claims carries the actor identity of a payroll caller
type Claims struct {
	jwt.RegisteredClaims
	UserID    string   `json:"user_id"`
	Email     string   `json:"email,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	Roles     []string `json:"roles,omitempty"`
}

// Actor converts the claims to the domain actor. Unknown roles are dropped.
func (c *Claims) Actor() (payroll.Actor, error) {
	id, err := uuid.Parse(c.UserID)
	if err != nil {
		return payroll.Actor{}, ErrInvalidClaims
	}
	actor := payroll.Actor{ID: id, Email: c.Email, SessionID: c.SessionID}
	for _, r := range c.Roles {
		switch role := payroll.Role(r); role {
		case payroll.RolePayrollManager, payroll.RolePayrollAdmin:
			actor.Roles = append(actor.Roles, role)
		}
	}
	return actor, nil
}

// ActorResolver turns a bearer token into the calling actor
type ActorResolver interface {
	Resolve(ctx context.Context, token string) (payroll.Actor, error)
}

// JWTActorResolver resolves actors from HS256-signed tokens
type JWTActorResolver struct {
	secret      []byte
	issuer      string
	expiration  time.Duration
	revocations *SessionRevocations
	now         func() time.Time
}

// ResolverOption configures a JWTActorResolver
type ResolverOption func(*JWTActorResolver)

// WithRevocations rejects tokens whose session was revoked
func WithRevocations(r *SessionRevocations) ResolverOption {
	return func(j *JWTActorResolver) {
		j.revocations = r
	}
}

// WithClock overrides the time source used when issuing tokens
func WithClock(now func() time.Time) ResolverOption {
	return func(j *JWTActorResolver) {
		j.now = now
	}
}

// NewJWTActorResolver creates a new JWTActorResolver
func NewJWTActorResolver(cfg config.JWTConfig, opts ...ResolverOption) *JWTActorResolver {
	r := &JWTActorResolver{
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		expiration: cfg.AccessTokenExpiration,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IssueToken signs a token for the actor. Used by operators and tests;
// end-user login lives outside this service.
func (r *JWTActorResolver) IssueToken(actor payroll.Actor) (string, time.Time, error) {
	now := r.now()
	expiresAt := now.Add(r.expiration)

	roles := make([]string, len(actor.Roles))
	for i, role := range actor.Roles {
		roles[i] = string(role)
	}
	sessionID := actor.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    r.issuer,
			Subject:   actor.ID.String(),
			Audience:  jwt.ClaimStrings{r.issuer},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		UserID:    actor.ID.String(),
		Email:     actor.Email,
		SessionID: sessionID,
		Roles:     roles,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Resolve validates the token and returns its actor
func (r *JWTActorResolver) Resolve(ctx context.Context, tokenString string) (payroll.Actor, error) {
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
	if tokenString == "" {
		return payroll.Actor{}, ErrMissingToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return r.secret, nil
	}, jwt.WithIssuer(r.issuer), jwt.WithTimeFunc(r.now))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return payroll.Actor{}, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			return payroll.Actor{}, ErrTokenNotYetValid
		default:
			return payroll.Actor{}, ErrInvalidToken
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return payroll.Actor{}, ErrInvalidClaims
	}
	if claims.UserID == "" {
		return payroll.Actor{}, ErrMissingUserID
	}

	if r.revocations != nil && claims.SessionID != "" {
		revoked, err := r.revocations.IsRevoked(ctx, claims.SessionID, claims.IssuedAt.Time)
		if err != nil {
			return payroll.Actor{}, err
		}
		if revoked {
			return payroll.Actor{}, ErrSessionRevoked
		}
	}
	return claims.Actor()
}

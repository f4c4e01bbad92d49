// Package auth verifies bearer tokens and resolves the calling user.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoToken      = errors.New("no authentication token provided")
	ErrInvalidToken = errors.New("invalid authentication token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims are the JWT claims qaflow issues. Subject carries the identity
// provider's id; UserID is set when the internal user id is already known.
type Claims struct {
	UserID string `json:"uid,omitempty"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Payload is the verified identity attached to a request.
type Payload struct {
	UserID  string
	Subject string
	Email   string
}

// TokenManager issues and verifies HS256 tokens.
type TokenManager struct {
	secretKey []byte
	issuer    string
	now       func() time.Time
}

// NewTokenManager creates a new token manager with the given secret key
func NewTokenManager(secretKey, issuer string) *TokenManager {
	return &TokenManager{
		secretKey: []byte(secretKey),
		issuer:    issuer,
		now:       time.Now,
	}
}

// Issue signs a token for the given identity, valid for ttl.
func (tm *TokenManager) Issue(p Payload, ttl time.Duration) (string, error) {
	if p.UserID == "" && p.Subject == "" {
		return "", fmt.Errorf("token needs a user id or a subject")
	}
	tokenID, err := generateTokenID()
	if err != nil {
		return "", fmt.Errorf("failed to generate token ID: %w", err)
	}

	now := tm.now()
	claims := &Claims{
		UserID: p.UserID,
		Email:  p.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Issuer:    tm.issuer,
			Subject:   p.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tm.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates a raw token and returns its payload.
func (tm *TokenManager) VerifyToken(raw string) (*Payload, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(tm.now),
	}
	if tm.issuer != "" {
		opts = append(opts, jwt.WithIssuer(tm.issuer))
	}

	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (any, error) {
		return tm.secretKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return &Payload{UserID: claims.UserID, Subject: claims.Subject, Email: claims.Email}, nil
}

// Verify reads the bearer token of r and validates it.
func (tm *TokenManager) Verify(r *http.Request) (*Payload, error) {
	raw := BearerToken(r)
	if raw == "" {
		return nil, ErrNoToken
	}
	return tm.VerifyToken(raw)
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// UserLookup maps identity-provider subjects to internal user ids.
type UserLookup interface {
	UserIDByAuthID(authID string) (string, error)
}

// ResolveUserID returns the internal user id of p: the id it carries, else
// the user linked to its subject. It returns "" when neither resolves.
func ResolveUserID(p *Payload, lookup UserLookup) string {
	if p == nil {
		return ""
	}
	if p.UserID != "" {
		return p.UserID
	}
	if p.Subject == "" || lookup == nil {
		return ""
	}
	id, err := lookup.UserIDByAuthID(p.Subject)
	if err != nil {
		return ""
	}
	return id
}

type payloadKey struct{}

// WithPayload returns a copy of ctx carrying p.
func WithPayload(ctx context.Context, p *Payload) context.Context {
	return context.WithValue(ctx, payloadKey{}, p)
}

// PayloadFromContext returns the payload stored by WithPayload, or nil.
func PayloadFromContext(ctx context.Context) *Payload {
	p, _ := ctx.Value(payloadKey{}).(*Payload)
	return p
}

func generateTokenID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

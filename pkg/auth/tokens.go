package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/saptiva-ai/copilotos/pkg/cache"
)

// Token kinds carried in the "typ" claim. A token of one kind is never
// accepted where another kind is expected.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
	TokenTypeReset   = "reset"
)

// Token lifetimes.
const (
	AccessTokenTTL  = 30 * time.Minute
	RefreshTokenTTL = 7 * 24 * time.Hour
	ResetTokenTTL   = time.Hour
)

var (
	// ErrInvalidToken covers malformed, expired, or wrong-type tokens.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrTokenRevoked indicates the token was blacklisted by a logout.
	ErrTokenRevoked = errors.New("token has been revoked")
)

// Claims are the JWT claims issued by the kernel.
type Claims struct {
	UserID    string `json:"sub"`
	Username  string `json:"username"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenService issues and validates JWTs. Revocation is tracked in the shared
// cache so all replicas observe a logout. Reset tokens are signed with a
// separate key, so rotating the session secret does not void in-flight
// password resets and a leaked session key cannot forge a reset.
type TokenService struct {
	secret      []byte
	resetSecret []byte
	blacklist   cache.Cache
}

func NewTokenService(secret, resetSecret string, blacklist cache.Cache) *TokenService {
	if resetSecret == "" {
		resetSecret = secret
	}
	return &TokenService{
		secret:      []byte(secret),
		resetSecret: []byte(resetSecret),
		blacklist:   blacklist,
	}
}

// IssuePair mints a fresh access/refresh pair for the user.
func (ts *TokenService) IssuePair(userID, username string) (accessToken, refreshToken string, err error) {
	accessToken, err = ts.issue(userID, username, TokenTypeAccess, AccessTokenTTL)
	if err != nil {
		return "", "", err
	}
	refreshToken, err = ts.issue(userID, username, TokenTypeRefresh, RefreshTokenTTL)
	if err != nil {
		return "", "", err
	}
	return accessToken, refreshToken, nil
}

// IssueResetToken mints a short-lived password reset token.
func (ts *TokenService) IssueResetToken(userID, username string) (string, error) {
	return ts.issue(userID, username, TokenTypeReset, ResetTokenTTL)
}

func (ts *TokenService) issue(userID, username, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:    userID,
		Username:  username,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.keyFor(tokenType))
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

func (ts *TokenService) keyFor(tokenType string) []byte {
	if tokenType == TokenTypeReset {
		return ts.resetSecret
	}
	return ts.secret
}

// keyfunc selects the verification key from the decoded (not yet verified)
// "typ" claim. A token claiming the wrong type simply fails its signature
// check.
func (ts *TokenService) keyfunc(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
	}
	if claims, ok := t.Claims.(*Claims); ok {
		return ts.keyFor(claims.TokenType), nil
	}
	return ts.secret, nil
}

// Validate parses a token, checks its signature, expiry, expected type, and
// the revocation blacklist.
func (ts *TokenService) Validate(ctx context.Context, tokenString, expectedType string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, ts.keyfunc)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != expectedType {
		return nil, fmt.Errorf("%w: expected %s token", ErrInvalidToken, expectedType)
	}

	revoked, err := ts.isRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// Revoke blacklists a token until its natural expiry. Already-expired tokens
// are ignored.
func (ts *TokenService) Revoke(ctx context.Context, tokenString string) error {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, ts.keyfunc)
	if err != nil || !token.Valid {
		return nil
	}

	remaining := time.Until(claims.ExpiresAt.Time)
	if remaining <= 0 {
		return nil
	}
	if err := ts.blacklist.Set(ctx, blacklistKey(claims.ID), "1", remaining); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}
	return nil
}

func (ts *TokenService) isRevoked(ctx context.Context, jti string) (bool, error) {
	_, found, err := ts.blacklist.Get(ctx, blacklistKey(jti))
	if err != nil {
		return false, fmt.Errorf("failed to check token blacklist: %w", err)
	}
	return found, nil
}

func blacklistKey(jti string) string {
	return "auth:blacklist:" + jti
}

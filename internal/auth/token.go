// ABOUTME: JWT verification for API and satellite credentials
// ABOUTME: HS256 signing with a configurable shared secret

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// TokenVerifier validates a bearer token and yields the user id it was
// issued for.
type TokenVerifier interface {
	Verify(tokenString string) (userID string, err error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier over the given shared secret.
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify validates the token and extracts the user id from the "sub" claim.
func (v *JWTVerifier) Verify(tokenString string) (userID string, err error) {
	claims, err := v.parse(tokenString)
	if err != nil {
		return "", err
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	return sub, nil
}

// WhoAmI implements ProfileResolver for locally issued tokens: the
// profile comes from the token claims instead of an external endpoint.
// Used when no profile endpoint is configured.
func (v *JWTVerifier) WhoAmI(_ context.Context, bearer string) (*Profile, error) {
	if bearer == "" {
		return nil, ErrInvalidToken
	}
	claims, err := v.parse(bearer)
	if err != nil {
		return nil, err
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	profile := &Profile{UserID: sub}
	if name, ok := claims["name"].(string); ok {
		profile.Name = name
	}
	if roles, ok := claims["roles"].([]any); ok {
		for _, r := range roles {
			if role, ok := r.(string); ok {
				profile.Roles = append(profile.Roles, role)
			}
		}
	}
	return profile, nil
}

func (v *JWTVerifier) parse(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Generate creates a new JWT for the given user id with expiration.
// Roles are embedded as a "roles" claim when present.
func (v *JWTVerifier) Generate(userID string, roles []string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}
	if len(roles) > 0 {
		claims["roles"] = roles
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

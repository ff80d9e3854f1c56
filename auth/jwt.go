package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tcriess/stride-chat/globals"
)

// JWTAuthenticator verifies HS256 session tokens. The user id is the sub claim.
type JWTAuthenticator struct {
	secret []byte
	issuer string
}

type sessionClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

func NewJWTAuthenticator(secret, issuer string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret), issuer: issuer}
}

func (j *JWTAuthenticator) Authenticate(_ context.Context, token, _ string) (*Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return j.secret, nil
	}, opts...)
	if err != nil {
		globals.AppLogger.Debug("rejected session token", "error", err)
		return nil, ErrUnauthenticated.Wrap(err)
	}
	if claims.Subject == "" {
		return nil, ErrUnauthenticated
	}
	return &Identity{UserId: claims.Subject, Name: claims.Name}, nil
}

// Issue signs a session token; the admin tool and tests use it.
func (j *JWTAuthenticator) Issue(userId, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userId,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

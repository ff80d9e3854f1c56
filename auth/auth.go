// Package auth verifies the credentials presented on socket and API requests.
// Tokens are issued elsewhere; this package only checks them.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/tcriess/stride-chat/config"
	"github.com/tcriess/stride-chat/errs"
)

// Identity is the authenticated user behind a connection.
type Identity struct {
	UserId string
	Name   string
}

type Authenticator interface {
	// Authenticate verifies token. provider selects an OIDC provider; empty means a session JWT.
	Authenticate(ctx context.Context, token, provider string) (*Identity, error)
}

var ErrUnauthenticated = errs.New(errs.KindForbidden, errs.CodeUnauthenticated, "missing or invalid credentials")

// Chain accepts session JWTs and, when a provider is named, OIDC ID tokens.
type Chain struct {
	jwt  *JWTAuthenticator
	oidc *OIDCAuthenticator
}

func NewChain(cfg *config.Config) *Chain {
	c := &Chain{oidc: NewOIDCAuthenticator(cfg.OIDCConfigs)}
	if cfg.AuthConfig.JWTSecret != "" {
		c.jwt = NewJWTAuthenticator(cfg.AuthConfig.JWTSecret, cfg.AuthConfig.JWTIssuer)
	}
	return c
}

func (c *Chain) Authenticate(ctx context.Context, token, provider string) (*Identity, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	if provider != "" {
		return c.oidc.Authenticate(ctx, token, provider)
	}
	if c.jwt == nil {
		return nil, ErrUnauthenticated
	}
	return c.jwt.Authenticate(ctx, token, provider)
}

// Credentials extracts the token from the Authorization header, falling back
// to the token query parameter (browsers cannot set headers on websocket
// upgrades). The provider query parameter selects an OIDC provider.
func Credentials(r *http.Request) (token, provider string) {
	query := r.URL.Query()
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		token = strings.TrimSpace(h[7:])
	} else {
		token = query.Get("token")
	}
	return token, query.Get("provider")
}

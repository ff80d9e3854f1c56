package auth

import (
	"context"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/tcriess/stride-chat/config"
	"github.com/tcriess/stride-chat/globals"
)

// OIDCAuthenticator verifies ID tokens of the configured OpenID Connect providers.
// The user id is taken from the "email" claim, falling back to "sub".
// TODO: make the id claim configurable per provider; email is only unique if the provider verifies it.
type OIDCAuthenticator struct {
	configs map[string]config.OIDCConfig

	mu        sync.Mutex
	verifiers map[string]*oidc.IDTokenVerifier
}

func NewOIDCAuthenticator(configs []config.OIDCConfig) *OIDCAuthenticator {
	a := &OIDCAuthenticator{configs: map[string]config.OIDCConfig{}, verifiers: map[string]*oidc.IDTokenVerifier{}}
	for _, c := range configs {
		a.configs[c.Name] = c
	}
	return a
}

// verifier discovers the provider on first use.
func (a *OIDCAuthenticator) verifier(ctx context.Context, name string) (*oidc.IDTokenVerifier, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if v, ok := a.verifiers[name]; ok {
		return v, nil
	}
	oidcConf, ok := a.configs[name]
	if !ok {
		globals.AppLogger.Debug("no oidc config found for provider", "provider", name)
		return nil, ErrUnauthenticated
	}
	provider, err := oidc.NewProvider(ctx, oidcConf.ProviderUrl)
	if err != nil {
		return nil, err
	}
	conf := oidc.Config{}
	if oidcConf.ClientId == "" {
		conf.SkipClientIDCheck = true
	} else {
		conf.ClientID = oidcConf.ClientId
	}
	v := provider.Verifier(&conf)
	a.verifiers[name] = v
	return v, nil
}

func (a *OIDCAuthenticator) Authenticate(ctx context.Context, idToken, providerName string) (*Identity, error) {
	verifier, err := a.verifier(ctx, providerName)
	if err != nil {
		return nil, err
	}
	verifiedIdToken, err := verifier.Verify(ctx, idToken)
	if err != nil {
		globals.AppLogger.Debug("rejected id token", "provider", providerName, "error", err)
		return nil, ErrUnauthenticated.Wrap(err)
	}
	claims := struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}{}
	if err := verifiedIdToken.Claims(&claims); err != nil {
		return nil, ErrUnauthenticated.Wrap(err)
	}
	userId := claims.Email
	if userId == "" {
		userId = verifiedIdToken.Subject
	}
	return &Identity{UserId: userId, Name: claims.Name}, nil
}

package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/docvault-io/docvault/internal/cache"
)

// oidcStateTTL bounds how long a login may sit between redirect and callback.
const oidcStateTTL = 5 * time.Minute

// OIDCConfig is the static configuration for the single supported identity
// provider.
type OIDCConfig struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// OIDCIdentity holds the verified claims extracted from an ID token.
type OIDCIdentity struct {
	Issuer            string
	Subject           string
	Email             string
	EmailVerified     bool
	PreferredUsername string
	Name              string
	GivenName         string
	FamilyName        string
}

// OIDCClient drives the Authorization Code flow against one OIDC provider.
// The state parameter and its nonce are stored in the cache rather than a
// cookie, so the callback can land on any server instance. ID tokens are
// always verified against the issuer's JWKS; claims are never trusted from
// an unverified decode.
type OIDCClient struct {
	cfg   OIDCConfig
	cache *cache.Cache

	// Discovery is performed lazily and memoized: the issuer does not need
	// to be reachable at server startup, only at first login.
	mu       sync.Mutex
	provider *gooidc.Provider
}

// NewOIDCClient returns an OIDCClient for the given provider configuration.
func NewOIDCClient(cfg OIDCConfig, c *cache.Cache) *OIDCClient {
	return &OIDCClient{cfg: cfg, cache: c}
}

// oidcState is the payload stored under the state key while a login is in
// flight.
type oidcState struct {
	Nonce string `json:"nonce"`
}

// AuthURL generates random state and nonce values, stores them for the
// callback, and returns the provider authorization URL to redirect to.
func (c *OIDCClient) AuthURL(ctx context.Context) (string, error) {
	oauth2Cfg, _, err := c.configs(ctx)
	if err != nil {
		return "", err
	}

	state, err := randomToken()
	if err != nil {
		return "", fmt.Errorf("auth: generating oidc state: %w", err)
	}
	nonce, err := randomToken()
	if err != nil {
		return "", fmt.Errorf("auth: generating oidc nonce: %w", err)
	}

	if err := c.cache.SetJSON(ctx, cache.OIDCStateKey(state), oidcState{Nonce: nonce}, oidcStateTTL); err != nil {
		return "", fmt.Errorf("auth: storing oidc state: %w", err)
	}

	return oauth2Cfg.AuthCodeURL(state, gooidc.Nonce(nonce)), nil
}

// HandleCallback completes the flow: it checks the state against the stored
// login, exchanges the code, verifies the ID token (signature, audience,
// expiry, nonce), and returns the asserted identity.
//
// The state entry is consumed on first use; replaying a callback fails with
// ErrOIDCStateMismatch.
func (c *OIDCClient) HandleCallback(ctx context.Context, state, code string) (*OIDCIdentity, error) {
	var stored oidcState
	if !c.cache.GetJSON(ctx, cache.OIDCStateKey(state), &stored) {
		return nil, ErrOIDCStateMismatch
	}
	if err := c.cache.Delete(ctx, cache.OIDCStateKey(state)); err != nil {
		return nil, fmt.Errorf("auth: consuming oidc state: %w", err)
	}

	oauth2Cfg, provider, err := c.configs(ctx)
	if err != nil {
		return nil, err
	}

	oauth2Token, err := oauth2Cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging oidc code: %w", err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("auth: oidc token response missing id_token")
	}

	verifier := provider.Verifier(&gooidc.Config{ClientID: c.cfg.ClientID})
	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("auth: verifying oidc id_token: %w", err)
	}
	if idToken.Nonce != stored.Nonce {
		return nil, ErrOIDCStateMismatch
	}

	var claims struct {
		Email             string `json:"email"`
		EmailVerified     bool   `json:"email_verified"`
		PreferredUsername string `json:"preferred_username"`
		Name              string `json:"name"`
		GivenName         string `json:"given_name"`
		FamilyName        string `json:"family_name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("auth: extracting oidc claims: %w", err)
	}
	if idToken.Subject == "" {
		return nil, fmt.Errorf("auth: oidc id_token carries no subject claim")
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("auth: oidc id_token carries no email claim")
	}

	return &OIDCIdentity{
		Issuer:            c.cfg.Issuer,
		Subject:           idToken.Subject,
		Email:             claims.Email,
		EmailVerified:     claims.EmailVerified,
		PreferredUsername: claims.PreferredUsername,
		Name:              claims.Name,
		GivenName:         claims.GivenName,
		FamilyName:        claims.FamilyName,
	}, nil
}

// configs returns the oauth2 config and the discovered provider, performing
// OIDC discovery on first use.
func (c *OIDCClient) configs(ctx context.Context) (*oauth2.Config, *gooidc.Provider, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.provider == nil {
		provider, err := gooidc.NewProvider(ctx, c.cfg.Issuer)
		if err != nil {
			return nil, nil, fmt.Errorf("auth: discovering oidc provider %q: %w", c.cfg.Issuer, err)
		}
		c.provider = provider
	}

	return &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		RedirectURL:  c.cfg.RedirectURL,
		Endpoint:     c.provider.Endpoint(),
		Scopes:       c.cfg.Scopes,
	}, c.provider, nil
}

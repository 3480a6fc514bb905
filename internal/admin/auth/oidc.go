package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCClaims are the claims extracted from a verified SSO ID token.
type OIDCClaims struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
}

// DisplayName prefers name, then email, then subject.
func (c OIDCClaims) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	if c.Email != "" {
		return c.Email
	}
	return c.Subject
}

// OIDCAuthenticator wraps discovery + ID-token verification for admin SSO
// login, grounded on the teacher's vendored OIDCAuthenticator (simplified:
// no tenant/role claim extraction, single fixed audience).
type OIDCAuthenticator struct {
	verifier     *oidc.IDTokenVerifier
	provider     *oidc.Provider
	oauth2Config oauth2.Config
}

// NewOIDCAuthenticator performs OIDC discovery against issuerURL.
func NewOIDCAuthenticator(ctx context.Context, issuerURL, clientID, clientSecret, redirectURL string) (*OIDCAuthenticator, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("discovering OIDC provider %s: %w", issuerURL, err)
	}

	return &OIDCAuthenticator{
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
		provider: provider,
		oauth2Config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
	}, nil
}

// AuthCodeURL returns the URL to redirect the admin's browser to for login.
func (a *OIDCAuthenticator) AuthCodeURL(state string) string {
	return a.oauth2Config.AuthCodeURL(state)
}

// Exchange trades an authorization code for a verified set of claims.
func (a *OIDCAuthenticator) Exchange(ctx context.Context, code string) (OIDCClaims, error) {
	token, err := a.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return OIDCClaims{}, fmt.Errorf("exchanging authorization code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return OIDCClaims{}, fmt.Errorf("token response missing id_token")
	}

	idToken, err := a.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return OIDCClaims{}, fmt.Errorf("verifying id_token: %w", err)
	}

	var claims OIDCClaims
	if err := idToken.Claims(&claims); err != nil {
		return OIDCClaims{}, fmt.Errorf("extracting claims: %w", err)
	}
	if claims.Subject == "" {
		return OIDCClaims{}, fmt.Errorf("id_token missing sub claim")
	}
	return claims, nil
}

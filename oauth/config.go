// Package oauth implements the client side of the OAuth 2.0 authorization
// code flow with PKCE: building authorization URLs, tracking in-flight
// attempts through a storage.Store, and exchanging codes and refresh tokens
// through a pluggable Exchanger.
package oauth

import (
	"fmt"
	"strings"

	"github.com/oauthkit/oauthkit/autherrors"
)

const defaultRedirectURI = "http://127.0.0.1:8080/callback"

// Config identifies the client and the authorization server endpoints for
// one provider. Public clients carry no client secret; PKCE binds the code
// to this process instead.
type Config struct {
	ClientID              string
	AuthorizationEndpoint string
	TokenEndpoint         string
	RedirectURI           string
	Scope                 string // space-separated, empty for provider default
}

// Validate reports a configuration error for missing required fields.
func (c Config) Validate() error {
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "client id")
	}
	if c.AuthorizationEndpoint == "" {
		missing = append(missing, "authorization endpoint")
	}
	if c.TokenEndpoint == "" {
		missing = append(missing, "token endpoint")
	}
	if c.RedirectURI == "" {
		missing = append(missing, "redirect uri")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", autherrors.ErrInvalidArgument, strings.Join(missing, ", "))
	}
	return nil
}

// GitHub returns a configuration for GitHub OAuth Apps.
func GitHub(clientID, scope string) Config {
	return Config{
		ClientID:              clientID,
		AuthorizationEndpoint: "https://github.com/login/oauth/authorize",
		TokenEndpoint:         "https://github.com/login/oauth/access_token",
		RedirectURI:           defaultRedirectURI,
		Scope:                 scope,
	}
}

// Google returns a configuration for Google OAuth clients.
func Google(clientID, scope string) Config {
	return Config{
		ClientID:              clientID,
		AuthorizationEndpoint: "https://accounts.google.com/o/oauth2/v2/auth",
		TokenEndpoint:         "https://oauth2.googleapis.com/token",
		RedirectURI:           defaultRedirectURI,
		Scope:                 scope,
	}
}

// Microsoft returns a configuration for a Microsoft identity platform
// application. Use tenant "common" for multi-tenant applications.
func Microsoft(clientID, tenant, scope string) Config {
	return Config{
		ClientID:              clientID,
		AuthorizationEndpoint: fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/authorize", tenant),
		TokenEndpoint:         fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenant),
		RedirectURI:           defaultRedirectURI,
		Scope:                 scope,
	}
}

// GitLab returns a configuration for a GitLab application. An empty baseURL
// targets gitlab.com; pass the instance URL for self-hosted GitLab.
func GitLab(clientID, scope, baseURL string) Config {
	if baseURL == "" {
		baseURL = "https://gitlab.com"
	}
	return Config{
		ClientID:              clientID,
		AuthorizationEndpoint: baseURL + "/oauth/authorize",
		TokenEndpoint:         baseURL + "/oauth/token",
		RedirectURI:           defaultRedirectURI,
		Scope:                 scope,
	}
}

package oauth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/oauthkit/oauthkit/autherrors"
	"github.com/oauthkit/oauthkit/storage"
)

// Exchanger performs the two token-endpoint grants of the flow. The core
// never talks to the network itself; everything HTTP (TLS, retries,
// timeouts) lives behind this interface.
type Exchanger interface {
	// ExchangeCode redeems an authorization code with its PKCE verifier.
	ExchangeCode(ctx context.Context, code, verifier string) (*storage.Token, error)

	// Refresh redeems a refresh token for a new token.
	Refresh(ctx context.Context, refreshToken string) (*storage.Token, error)
}

// HTTPExchanger is the production Exchanger, implemented on
// golang.org/x/oauth2.
type HTTPExchanger struct {
	conf       *oauth2.Config
	httpClient *http.Client
	nowTime    func() time.Time
}

var _ Exchanger = (*HTTPExchanger)(nil)

// HTTPExchangerOption modifies an HTTPExchanger during construction.
type HTTPExchangerOption func(*HTTPExchanger)

// WithHTTPClient sets the HTTP client used for token requests, e.g. to
// configure timeouts or custom TLS roots.
func WithHTTPClient(client *http.Client) HTTPExchangerOption {
	return func(e *HTTPExchanger) { e.httpClient = client }
}

// NewHTTPExchanger creates an exchanger for the given provider configuration.
func NewHTTPExchanger(config Config, options ...HTTPExchangerOption) *HTTPExchanger {
	e := &HTTPExchanger{
		conf: &oauth2.Config{
			ClientID:    config.ClientID,
			RedirectURL: config.RedirectURI,
			Scopes:      splitScope(config.Scope),
			Endpoint: oauth2.Endpoint{
				AuthURL:  config.AuthorizationEndpoint,
				TokenURL: config.TokenEndpoint,
			},
		},
		nowTime: time.Now,
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// ExchangeCode posts the authorization_code grant with the PKCE verifier.
func (e *HTTPExchanger) ExchangeCode(ctx context.Context, code, verifier string) (*storage.Token, error) {
	token, err := e.conf.Exchange(e.withHTTPClient(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, mapTokenError(err)
	}
	return e.convertToken(token), nil
}

// Refresh posts the refresh_token grant.
func (e *HTTPExchanger) Refresh(ctx context.Context, refreshToken string) (*storage.Token, error) {
	source := e.conf.TokenSource(e.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, mapTokenError(err)
	}
	result := e.convertToken(token)
	if result.RefreshToken == "" {
		// Providers that do not rotate refresh tokens omit the field; the
		// old one stays valid and must not be dropped from storage.
		result.RefreshToken = refreshToken
	}
	return result, nil
}

func (e *HTTPExchanger) withHTTPClient(ctx context.Context) context.Context {
	if e.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
}

// convertToken maps an oauth2 token to the storage model, deriving the
// absolute expiry exactly once. When the endpoint omits expires_in but the
// access token is a JWT with an exp claim, that claim supplies the expiry.
func (e *HTTPExchanger) convertToken(token *oauth2.Token) *storage.Token {
	now := e.nowTime()
	result := &storage.Token{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.Type(),
		ExpiresIn:    token.ExpiresIn,
	}
	if scope, ok := token.Extra("scope").(string); ok {
		result.Scope = scope
	}

	switch {
	case !token.Expiry.IsZero():
		result.ExpiresAt = token.Expiry
		if result.ExpiresIn == 0 {
			result.ExpiresIn = int64(token.Expiry.Sub(now) / time.Second)
		}
	default:
		if expiry, ok := jwtExpiry(token.AccessToken); ok {
			result.ExpiresAt = expiry
			result.ExpiresIn = int64(expiry.Sub(now) / time.Second)
		}
	}
	return result
}

// mapTokenError converts oauth2 retrieval failures into the package error
// model, preserving the server's error code and description.
func mapTokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode != "" {
		serverErr := &autherrors.ServerError{
			Code:        retrieveErr.ErrorCode,
			Description: retrieveErr.ErrorDescription,
		}
		if retrieveErr.ErrorCode == "access_denied" {
			return autherrors.Wrapf(autherrors.ErrAuthorizationDenied, "%s", serverErr.Error())
		}
		return serverErr
	}
	return err
}

func splitScope(scope string) []string {
	if scope == "" {
		return nil
	}
	return strings.Fields(scope)
}

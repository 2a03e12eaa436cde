package oauth

import (
	"context"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
)

// DiscoverConfig builds a provider configuration from an OIDC issuer by
// fetching its discovery document, instead of hardcoding the authorization
// and token endpoints.
func DiscoverConfig(ctx context.Context, issuer, clientID, redirectURI, scope string) (Config, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return Config{}, errors.Wrapf(err, "[DiscoverConfig] discovering issuer %s", issuer)
	}

	endpoint := provider.Endpoint()
	config := Config{
		ClientID:              clientID,
		AuthorizationEndpoint: endpoint.AuthURL,
		TokenEndpoint:         endpoint.TokenURL,
		RedirectURI:           redirectURI,
		Scope:                 scope,
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

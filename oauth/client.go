package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/oauthkit/oauthkit/autherrors"
	"github.com/oauthkit/oauthkit/pkce"
	"github.com/oauthkit/oauthkit/storage"
)

// stateBytes is the entropy of the state parameter. The state is generated
// independently of the PKCE verifier; reusing the verifier as state would
// leak the secret needed to redeem the code.
const stateBytes = 16

// AuthFlowResult is returned by StartAuthFlow: the URL the user must open
// and the state under which the attempt's session is stored.
type AuthFlowResult struct {
	URL   string
	State string
}

// Client orchestrates authorization attempts for one provider
// configuration. It is safe for concurrent use when its Store and Exchanger
// are.
type Client struct {
	config    Config
	store     storage.Store
	exchanger Exchanger
	nowTime   func() time.Time
}

// ClientOption modifies a Client during construction.
type ClientOption func(*Client)

// WithExchanger replaces the default HTTP exchanger, e.g. with a fake for
// tests or a transport with custom TLS settings.
func WithExchanger(e Exchanger) ClientOption {
	return func(c *Client) { c.exchanger = e }
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ClientOption {
	return func(c *Client) { c.nowTime = nowFunc }
}

// NewClient creates a client over the given store. The default token
// exchanger performs real HTTP token requests against the configured
// endpoints.
func NewClient(config Config, store storage.Store, options ...ClientOption) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.Wrap(autherrors.ErrInvalidArgument, "[NewClient] store is required")
	}

	client := &Client{
		config:  config,
		store:   store,
		nowTime: time.Now,
	}
	for _, opt := range options {
		opt(client)
	}
	if client.exchanger == nil {
		client.exchanger = NewHTTPExchanger(config)
	}
	return client, nil
}

// StartAuthFlow begins a new authorization attempt: it generates a PKCE
// pair and a fresh state, persists the session, and returns the
// authorization URL to open. The attempt is now awaiting its callback.
func (c *Client) StartAuthFlow() (*AuthFlowResult, error) {
	pair, err := pkce.Generate()
	if err != nil {
		return nil, errors.Wrap(err, "[StartAuthFlow] generating PKCE pair")
	}

	state, err := generateState()
	if err != nil {
		return nil, errors.Wrap(err, "[StartAuthFlow] generating state")
	}

	session := storage.NewSession(state, pair.Verifier)
	if err := c.store.SaveSession(state, session); err != nil {
		return nil, errors.Wrap(err, "[StartAuthFlow] saving session")
	}

	return &AuthFlowResult{
		URL:   c.buildAuthURL(state, pair.Challenge),
		State: state,
	}, nil
}

// ExchangeCode redeems an authorization code against the session stored
// under state. The session is deleted once the exchange resolves, success
// or failure, so a spent state can never be replayed. The returned token is
// not persisted; callers store it under their credential key.
func (c *Client) ExchangeCode(ctx context.Context, code, state string) (*storage.Token, error) {
	session, err := c.store.GetSession(state)
	if err != nil {
		return nil, errors.Wrap(err, "[ExchangeCode] loading session")
	}
	if session == nil {
		return nil, autherrors.ErrInvalidState
	}

	token, exchangeErr := c.exchanger.ExchangeCode(ctx, code, session.CodeVerifier)

	if err := c.store.DeleteSession(state); err != nil {
		if exchangeErr != nil {
			return nil, errors.Wrap(exchangeErr, "[ExchangeCode] exchange failed (session cleanup also failed)")
		}
		// The token is valid; losing it over a cleanup failure helps no one.
		log.Warn().Err(err).Msg("failed to delete session after code exchange")
	}
	if exchangeErr != nil {
		return nil, exchangeErr
	}
	return token, nil
}

// Refresh redeems a refresh token for a new token. It performs no storage
// bookkeeping; use the refresh package's Coordinator when multiple callers
// may refresh the same credential.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*storage.Token, error) {
	if refreshToken == "" {
		return nil, autherrors.ErrNoRefreshToken
	}
	return c.exchanger.Refresh(ctx, refreshToken)
}

// GetToken returns the stored token for key, or nil if absent.
func (c *Client) GetToken(key string) (*storage.Token, error) {
	return c.store.GetToken(key)
}

// SaveToken stores a token under the given credential key.
func (c *Client) SaveToken(key string, token storage.Token) error {
	return c.store.SaveToken(key, token)
}

// DeleteToken revokes local knowledge of the token for key.
func (c *Client) DeleteToken(key string) error {
	return c.store.DeleteToken(key)
}

// HasToken reports whether a token is stored under key.
func (c *Client) HasToken(key string) (bool, error) {
	token, err := c.store.GetToken(key)
	if err != nil {
		return false, err
	}
	return token != nil, nil
}

// Config returns the client's provider configuration.
func (c *Client) Config() Config {
	return c.config
}

// buildAuthURL assembles the authorization URL. Parameter order is fixed so
// the output is byte-deterministic for a given state and challenge: client
// id, redirect uri, response type, state, code challenge, challenge method,
// then scope only when configured. State and challenge are already in the
// base64url alphabet and need no escaping.
func (c *Client) buildAuthURL(state, challenge string) string {
	var b strings.Builder
	b.WriteString(c.config.AuthorizationEndpoint)
	b.WriteString("?client_id=")
	b.WriteString(url.QueryEscape(c.config.ClientID))
	b.WriteString("&redirect_uri=")
	b.WriteString(url.QueryEscape(c.config.RedirectURI))
	b.WriteString("&response_type=code")
	b.WriteString("&state=")
	b.WriteString(state)
	b.WriteString("&code_challenge=")
	b.WriteString(challenge)
	b.WriteString("&code_challenge_method=")
	b.WriteString(pkce.Method)
	if c.config.Scope != "" {
		b.WriteString("&scope=")
		b.WriteString(url.QueryEscape(c.config.Scope))
	}
	return b.String()
}

func generateState() (string, error) {
	raw := make([]byte, stateBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

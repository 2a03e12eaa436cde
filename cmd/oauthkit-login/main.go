// Command oauthkit-login performs an interactive browser login against an
// OAuth provider and stores the resulting token on disk. It demonstrates
// the full flow: PKCE authorization URL, loopback callback server, code
// exchange, and coordinated refresh.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/oauthkit/oauthkit/callback"
	"github.com/oauthkit/oauthkit/filelock"
	"github.com/oauthkit/oauthkit/oauth"
	"github.com/oauthkit/oauthkit/refresh"
	"github.com/oauthkit/oauthkit/storage"
)

const appName = "oauthkit"

type options struct {
	clientID      string
	authEndpoint  string
	tokenEndpoint string
	issuer        string
	scope         string
	key           string
	port          int
	noBrowser     bool
	timeout       time.Duration
}

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("login failed")
	}
}

func run() error {
	opts := parseFlags()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	displayAppname(appName)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	config, err := buildConfig(ctx, opts)
	if err != nil {
		return err
	}

	store, err := storage.NewFileStore(appName)
	if err != nil {
		return err
	}
	log.Info().Str("dir", store.Dir()).Msg("token store ready")

	server := callback.NewServer()
	if err := server.Start(ctx, opts.port); err != nil {
		return err
	}
	defer server.Stop()
	config.RedirectURI = server.RedirectURI()

	client, err := oauth.NewClient(config, store)
	if err != nil {
		return err
	}

	token, err := login(ctx, client, server, opts)
	if err != nil {
		return err
	}
	if err := client.SaveToken(opts.key, *token); err != nil {
		return err
	}
	log.Info().Str("key", opts.key).Time("expires_at", token.ExpiresAt).Msg("token stored")

	// Exercise the refresh path the way a long-running caller would.
	locks, err := filelock.NewManagerForApp(appName)
	if err != nil {
		return err
	}
	coordinator, err := refresh.NewCoordinator(store, client.Refresh, refresh.WithFileLocking(locks))
	if err != nil {
		return err
	}
	valid, err := coordinator.ValidToken(ctx, opts.key)
	if err != nil {
		return err
	}

	fmt.Println(valid.AccessToken)
	return nil
}

func login(ctx context.Context, client *oauth.Client, server *callback.Server, opts options) (*storage.Token, error) {
	flow, err := client.StartAuthFlow()
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(os.Stderr, "\nOpen this URL to sign in:\n\n  %s\n\n", flow.URL)
	if !opts.noBrowser {
		if err := callback.OpenBrowser(flow.URL); err != nil {
			log.Warn().Err(err).Msg("could not open browser, use the URL above")
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	result, err := server.Wait(waitCtx)
	if err != nil {
		return nil, err
	}
	return client.ExchangeCode(ctx, result.Code, result.State)
}

func buildConfig(ctx context.Context, opts options) (oauth.Config, error) {
	// The redirect URI is a placeholder until the callback server binds.
	if opts.issuer != "" {
		return oauth.DiscoverConfig(ctx, opts.issuer, opts.clientID, "http://127.0.0.1/callback", opts.scope)
	}
	config := oauth.Config{
		ClientID:              opts.clientID,
		AuthorizationEndpoint: opts.authEndpoint,
		TokenEndpoint:         opts.tokenEndpoint,
		RedirectURI:           "http://127.0.0.1/callback",
		Scope:                 opts.scope,
	}
	return config, config.Validate()
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.clientID, "client-id", "", "OAuth client id (required)")
	flag.StringVar(&opts.authEndpoint, "auth-url", "", "authorization endpoint URL")
	flag.StringVar(&opts.tokenEndpoint, "token-url", "", "token endpoint URL")
	flag.StringVar(&opts.issuer, "issuer", "", "OIDC issuer URL, discovers the endpoints")
	flag.StringVar(&opts.scope, "scope", "", "space-separated scopes")
	flag.StringVar(&opts.key, "key", "default", "credential key to store the token under")
	flag.IntVar(&opts.port, "port", 0, "callback port, 0 picks a free one")
	flag.BoolVar(&opts.noBrowser, "no-browser", false, "print the URL instead of opening a browser")
	flag.DurationVar(&opts.timeout, "timeout", 5*time.Minute, "how long to wait for the callback")
	flag.Parse()
	return opts
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}

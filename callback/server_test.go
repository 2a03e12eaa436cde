package callback_test

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oauthkit/oauthkit/autherrors"
	"github.com/oauthkit/oauthkit/callback"
)

func startServer(t *testing.T) *callback.Server {
	t.Helper()
	server := callback.NewServer()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, server.Start(ctx, 0))
	t.Cleanup(server.Stop)
	return server
}

func TestWaitReceivesCodeAndState(t *testing.T) {
	server := startServer(t)
	uri := server.RedirectURI()
	require.True(t, strings.HasPrefix(uri, "http://127.0.0.1:"))
	require.True(t, strings.HasSuffix(uri, "/callback"))

	resp, err := http.Get(uri + "?code=auth-code-123&state=state-abc")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "Login complete")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := server.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, "auth-code-123", result.Code)
	require.Equal(t, "state-abc", result.State)
}

func TestWaitMapsAccessDenied(t *testing.T) {
	server := startServer(t)

	resp, err := http.Get(server.RedirectURI() + "?error=access_denied&error_description=user+cancelled")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Contains(t, string(body), "user cancelled")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = server.Wait(ctx)
	require.ErrorIs(t, err, autherrors.ErrAuthorizationDenied)
}

func TestWaitMapsProviderError(t *testing.T) {
	server := startServer(t)

	resp, err := http.Get(server.RedirectURI() + "?error=server_error&error_description=upstream+outage")
	require.NoError(t, err)
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = server.Wait(ctx)
	require.Error(t, err)

	var serverErr *autherrors.ServerError
	require.ErrorAs(t, err, &serverErr)
	require.Equal(t, "server_error", serverErr.Code)
	require.Equal(t, "upstream outage", serverErr.Description)
}

func TestSecondRedirectRejected(t *testing.T) {
	server := startServer(t)

	first, err := http.Get(server.RedirectURI() + "?code=first&state=s")
	require.NoError(t, err)
	first.Body.Close()
	require.Equal(t, http.StatusOK, first.StatusCode)

	second, err := http.Get(server.RedirectURI() + "?code=second&state=s")
	require.NoError(t, err)
	second.Body.Close()
	require.Equal(t, http.StatusBadRequest, second.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := server.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, "first", result.Code)
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	server := startServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := server.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestWaitTimesOut(t *testing.T) {
	server := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := server.Wait(ctx)
	require.ErrorIs(t, err, autherrors.ErrCallbackTimeout)
}

// Package callback runs a short-lived loopback HTTP server that receives
// the authorization-code redirect during an interactive login. The server
// listens on 127.0.0.1, accepts exactly one callback, and shuts down.
package callback

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/oauthkit/oauthkit/autherrors"
)

// DefaultTimeout bounds how long Wait blocks for the redirect when the
// caller's context has no earlier deadline.
const DefaultTimeout = 5 * time.Minute

const successHTML = `<!DOCTYPE html>
<html>
<head><title>Login complete</title></head>
<body>
<h1>Login complete</h1>
<p>You can close this window and return to the application.</p>
</body>
</html>`

const errorHTML = `<!DOCTYPE html>
<html>
<head><title>Login failed</title></head>
<body>
<h1>Login failed</h1>
<p>%s</p>
<p>You can close this window.</p>
</body>
</html>`

// Result carries the query parameters of a single authorization redirect.
type Result struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// Server receives one authorization redirect on the loopback interface.
type Server struct {
	path     string
	server   *http.Server
	listener net.Listener
	results  chan Result
	failures chan error
	once     sync.Once
	baseURL  string
}

// ServerOption modifies a Server during construction.
type ServerOption func(*Server)

// WithPath sets the redirect path (default "/callback"). It must match the
// path component of the redirect URI registered with the provider.
func WithPath(path string) ServerOption {
	return func(s *Server) { s.path = path }
}

// NewServer creates a callback server. Call Start to bind it.
func NewServer(options ...ServerOption) *Server {
	s := &Server{
		path:     "/callback",
		results:  make(chan Result, 1),
		failures: make(chan error, 1),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Start binds the server to a loopback address and begins serving. Port 0
// asks the kernel for a free port; the bound port is reflected in
// RedirectURI. The server stops when ctx is cancelled.
func (s *Server) Start(ctx context.Context, port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "[Start] listening on %s", addr)
	}

	s.listener = listener
	s.baseURL = fmt.Sprintf("http://127.0.0.1:%d", listener.Addr().(*net.TCPAddr).Port)

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleRedirect)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			select {
			case s.failures <- err:
			default:
			}
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	log.Debug().Str("url", s.baseURL+s.path).Msg("callback server listening")
	return nil
}

// RedirectURI returns the redirect URI to register in the authorization
// request. Valid after Start.
func (s *Server) RedirectURI() string {
	return s.baseURL + s.path
}

// Wait blocks until the redirect arrives or the deadline passes. A redirect
// carrying an error parameter is returned as an error: access_denied maps
// to autherrors.ErrAuthorizationDenied, anything else to a ServerError.
// Expiry of the default timeout maps to autherrors.ErrCallbackTimeout.
func (s *Server) Wait(ctx context.Context) (*Result, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	select {
	case result := <-s.results:
		if result.Error != "" {
			return nil, redirectError(result)
		}
		return &result, nil
	case err := <-s.failures:
		return nil, errors.Wrap(err, "[Wait] callback server failed")
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, autherrors.ErrCallbackTimeout
		}
		return nil, ctx.Err()
	}
}

func redirectError(result Result) error {
	if result.Error == "access_denied" {
		return errors.Wrap(autherrors.ErrAuthorizationDenied, result.ErrorDescription)
	}
	return &autherrors.ServerError{Code: result.Error, Description: result.ErrorDescription}
}

// handleRedirect accepts the first redirect and rejects any repeat.
func (s *Server) handleRedirect(w http.ResponseWriter, r *http.Request) {
	var handled bool
	s.once.Do(func() {
		handled = true
		s.processRedirect(w, r)
	})
	if !handled {
		http.Error(w, "callback already processed", http.StatusBadRequest)
	}
}

func (s *Server) processRedirect(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	query := r.URL.Query()
	result := Result{
		Code:             query.Get("code"),
		State:            query.Get("state"),
		Error:            query.Get("error"),
		ErrorDescription: query.Get("error_description"),
	}

	if result.Error != "" {
		description := result.Error
		if result.ErrorDescription != "" {
			description = result.ErrorDescription
		}
		fmt.Fprintf(w, errorHTML, description)
	} else {
		fmt.Fprint(w, successHTML)
	}

	select {
	case s.results <- result:
	default:
	}

	// Let the response flush before tearing the listener down.
	go func() {
		time.Sleep(time.Second)
		s.Stop()
	}()
}

// Stop shuts the server down. Safe to call more than once.
func (s *Server) Stop() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

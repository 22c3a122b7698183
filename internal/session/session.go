package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/tonimelisma/spo/internal/graph"
	"github.com/tonimelisma/spo/internal/sessioncache"
	"github.com/tonimelisma/spo/internal/sso"
	"github.com/tonimelisma/spo/internal/tokenlease"
)

// ErrClosed is returned by a session used after Close.
var ErrClosed = errors.New("session: closed")

// Session is one invocation's authenticated client. It owns its idle
// connections and must be closed on every exit path.
type Session struct {
	identity  Identity
	site      string // cookie mode
	client    *http.Client
	transport *http.Transport
	jar       *sessioncache.Jar   // cookie mode
	tokens    *tokenlease.Manager // oauth2 mode
	logger    *slog.Logger

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

// Identity returns the account the session belongs to.
func (s *Session) Identity() Identity {
	return s.identity
}

// Mode returns the session's authentication mode.
func (s *Session) Mode() Mode {
	return s.identity.Mode()
}

// Client returns the authenticated HTTP client: cookie-bearing in cookie
// mode, bearer-authenticated in OAuth2 mode.
func (s *Session) Client() *http.Client {
	return s.client
}

// Tokens returns the token manager, or nil in cookie mode.
func (s *Session) Tokens() *tokenlease.Manager {
	return s.tokens
}

// CookieCount reports how many cookies the session holds (cookie mode).
func (s *Session) CookieCount() int {
	if s.jar == nil {
		return 0
	}

	return s.jar.Len()
}

// EnsureFresh refreshes the access token if it expired. Callers invoke it
// before a request they know needs a fresh token. It is a no-op in cookie
// mode.
func (s *Session) EnsureFresh(ctx context.Context) (tokenlease.Outcome, error) {
	if err := s.checkOpen(); err != nil {
		return tokenlease.NoRefreshNeeded, err
	}

	if s.tokens == nil {
		return tokenlease.NoRefreshNeeded, nil
	}

	outcome, err := s.tokens.ShouldRefresh(ctx)
	if err != nil {
		return outcome, err
	}

	s.logger.Debug("token check", slog.String("outcome", outcome.String()))

	return outcome, nil
}

// Probe reports whether the site accepts the session's cookies. Redirects
// are not followed: an unauthenticated request is redirected to the login
// page, which would otherwise end in a 200.
func (s *Session) Probe(ctx context.Context) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	if s.site == "" {
		return false, fmt.Errorf("session: probe needs a cookie session")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(s.site, "/")+ProbePath, nil)
	if err != nil {
		return false, fmt.Errorf("session: building probe: %w", err)
	}

	sso.SetBrowserHeaders(req.Header)

	probe := &http.Client{
		Transport: s.client.Transport,
		Jar:       s.client.Jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := probe.Do(req)
	if err != nil {
		return false, fmt.Errorf("session: probing %s: %w", s.site, err)
	}
	resp.Body.Close()

	s.logger.Debug("session probe", slog.String("site", s.site), slog.Int("status", resp.StatusCode))

	return resp.StatusCode == http.StatusOK, nil
}

// Graph returns a Graph client using the session's tokens (OAuth2 mode).
func (s *Session) Graph(baseURL string) (*graph.Client, error) {
	if s.tokens == nil {
		return nil, fmt.Errorf("session: Graph needs an OAuth2 session")
	}

	return graph.NewClient(baseURL, &http.Client{Transport: s.transport}, s.tokens, s.logger), nil
}

// Close releases the session's idle connections. It is safe to call more
// than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.client.CloseIdleConnections()
	})

	return nil
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	return nil
}

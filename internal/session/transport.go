package session

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tonimelisma/spo/internal/sso"
)

// TokenSource yields a valid bearer token, refreshing it if needed.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// bearerTransport adds an Authorization header to every request.
type bearerTransport struct {
	base   http.RoundTripper
	tokens TokenSource
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	tok, err := t.tokens.Token(req.Context())
	if err != nil {
		// RoundTrip must close the body even on error.
		if req.Body != nil {
			req.Body.Close()
		}

		return nil, fmt.Errorf("session: bearer token: %w", err)
	}

	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+tok)

	return t.base.RoundTrip(r)
}

// browserTransport sends browser headers unless the caller set its own.
type browserTransport struct {
	base http.RoundTripper
}

func (t *browserTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}

	r := req.Clone(req.Context())
	sso.SetBrowserHeaders(r.Header)

	return t.base.RoundTrip(r)
}

type idleCloser interface {
	CloseIdleConnections()
}

func closeIdle(rt http.RoundTripper) {
	if c, ok := rt.(idleCloser); ok {
		c.CloseIdleConnections()
	}
}

// CloseIdleConnections lets http.Client.CloseIdleConnections reach the base transport.
func (t *bearerTransport) CloseIdleConnections() { closeIdle(t.base) }

// CloseIdleConnections lets http.Client.CloseIdleConnections reach the base transport.
func (t *browserTransport) CloseIdleConnections() { closeIdle(t.base) }

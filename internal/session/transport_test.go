package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokens struct {
	tok string
	err error
}

func (s staticTokens) Token(context.Context) (string, error) {
	return s.tok, s.err
}

// trackedBody records whether it was closed.
type trackedBody struct {
	io.Reader
	closed bool
}

func (b *trackedBody) Close() error {
	b.closed = true
	return nil
}

func TestBearerTransport_SetsAuthorization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	client := &http.Client{Transport: &bearerTransport{base: http.DefaultTransport, tokens: staticTokens{tok: "abc"}}}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, req.Header.Get("Authorization"), "caller's request must not be modified")
}

func TestBearerTransport_ClosesBodyWhenTokenFails(t *testing.T) {
	boom := errors.New("refresh failed")
	rt := &bearerTransport{
		base: roundTripFunc(func(*http.Request) (*http.Response, error) {
			t.Fatal("base transport must not be called without a token")
			return nil, nil
		}),
		tokens: staticTokens{err: boom},
	}

	body := &trackedBody{Reader: strings.NewReader("payload")}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, "https://graph.example/v1.0/me", body)
	require.NoError(t, err)

	_, err = rt.RoundTrip(req)
	require.ErrorIs(t, err, boom)
	assert.True(t, body.closed)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

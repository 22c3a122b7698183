// Package tokenlease owns the on-disk OAuth2 token record of a tenant and
// makes sure that at most one process refreshes it at a time. Serialization
// uses an advisory file lock (package lease) because concurrent invocations
// of spo are separate processes; an in-process mutex could not stop them
// from spending the same single-use refresh token twice.
package tokenlease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/spo/internal/lease"
	"github.com/tonimelisma/spo/internal/tokenfile"
)

// Retry bounds for lock contention.
const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = 1 * time.Second
)

// expiryDelta treats a token as expired slightly early so it cannot lapse
// in flight. Matches golang.org/x/oauth2.
const expiryDelta = 10 * time.Second

// Outcome reports what ShouldRefresh did.
type Outcome int

const (
	// NoRefreshNeeded means the token in memory is valid, possibly because
	// another process refreshed it and it was reloaded from disk.
	NoRefreshNeeded Outcome = iota
	// Refreshed means this process performed the network refresh.
	Refreshed
)

func (o Outcome) String() string {
	switch o {
	case NoRefreshNeeded:
		return "no refresh needed"
	case Refreshed:
		return "refreshed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Manager guards one tenant's token record.
type Manager struct {
	path        string
	cfg         *oauth2.Config
	logger      *slog.Logger
	maxAttempts int
	backoff     time.Duration
	httpClient  *http.Client

	// sleepFunc waits between lock attempts; tests replace it.
	sleepFunc func(ctx context.Context, d time.Duration) error
	now       func() time.Time

	mu     sync.Mutex
	tok    *oauth2.Token
	waited bool

	flight singleflight.Group
}

// New loads the token record at path. It returns ErrNotAuthorized if the
// record does not exist.
func New(path string, cfg *oauth2.Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		path:        path,
		cfg:         cfg,
		logger:      logger,
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff,
		sleepFunc:   lease.Sleep,
		now:         time.Now,
	}

	if err := m.reload(); err != nil {
		return nil, err
	}

	return m, nil
}

// SetRetry overrides the contention bound and backoff interval.
func (m *Manager) SetRetry(maxAttempts int, backoff time.Duration) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	m.maxAttempts = maxAttempts
	m.backoff = backoff
}

// SetHTTPClient sets the client used for token endpoint calls.
func (m *Manager) SetHTTPClient(c *http.Client) {
	m.httpClient = c
}

// Path returns the token record path.
func (m *Manager) Path() string {
	return m.path
}

// Current returns a copy of the in-memory token.
func (m *Manager) Current() *oauth2.Token {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tok == nil {
		return nil
	}

	cp := *m.tok

	return &cp
}

// Waited reports whether this manager ever backed off because another
// writer held the lock.
func (m *Manager) Waited() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.waited
}

// Expired reports whether the in-memory token needs a refresh.
func (m *Manager) Expired() bool {
	return m.expired(m.Current())
}

// ShouldRefresh refreshes the token if, and only if, it is expired, taking
// the lease so that concurrent processes never refresh together. A process
// that loses the lock race sleeps, reloads the record from disk and checks
// again. After the configured number of contended attempts it fails with
// ErrLockTimeout.
func (m *Manager) ShouldRefresh(ctx context.Context) (Outcome, error) {
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		if !m.Expired() {
			return NoRefreshNeeded, nil
		}

		outcome, acquired, err := m.tryRefresh(ctx)
		if err != nil {
			return NoRefreshNeeded, err
		}

		if acquired {
			return outcome, nil
		}

		m.mu.Lock()
		m.waited = true
		m.mu.Unlock()

		m.logger.Debug("token lock held by another process, backing off",
			slog.String("path", m.path),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", m.backoff),
		)

		if err := m.sleepFunc(ctx, m.backoff); err != nil {
			return NoRefreshNeeded, fmt.Errorf("tokenlease: waiting for token lock: %w", err)
		}

		if err := m.reload(); err != nil {
			return NoRefreshNeeded, err
		}
	}

	// The last reload may have picked up another writer's refresh.
	if !m.Expired() {
		return NoRefreshNeeded, nil
	}

	return NoRefreshNeeded, fmt.Errorf("%w: %d attempts on %s", ErrLockTimeout, m.maxAttempts,
		tokenfile.LockPath(m.path))
}

// tryRefresh performs one lock attempt. acquired is false when the lock is
// contended; the lease is released on every path out of this function.
func (m *Manager) tryRefresh(ctx context.Context) (outcome Outcome, acquired bool, err error) {
	guard, ok, err := lease.TryAcquire(tokenfile.LockPath(m.path))
	if err != nil {
		return NoRefreshNeeded, false, fmt.Errorf("tokenlease: %w", err)
	}

	if !ok {
		return NoRefreshNeeded, false, nil
	}

	defer func() {
		if relErr := guard.Release(); relErr != nil {
			m.logger.Warn("releasing token lock failed",
				slog.String("path", guard.Path()),
				slog.String("error", relErr.Error()),
			)
		}
	}()

	// Another process may have refreshed between the expiry check and the lock.
	if err := m.reload(); err != nil {
		return NoRefreshNeeded, true, err
	}

	current := m.Current()
	if !m.expired(current) {
		m.logger.Debug("token already refreshed by another process", slog.String("path", m.path))

		return NoRefreshNeeded, true, nil
	}

	fresh, err := m.refresh(ctx, current)
	if err != nil {
		return NoRefreshNeeded, true, err
	}

	if err := tokenfile.Save(m.path, fresh); err != nil {
		return NoRefreshNeeded, true, fmt.Errorf("tokenlease: persisting refreshed token: %w", err)
	}

	m.mu.Lock()
	m.tok = fresh
	m.mu.Unlock()

	m.logger.Info("token refreshed",
		slog.String("path", m.path),
		slog.Time("expiry", fresh.Expiry),
	)

	return Refreshed, true, nil
}

// refresh redeems the refresh token. The access token is dropped from the
// seed so the oauth2 library always goes to the network, whatever its own
// clock says.
func (m *Manager) refresh(ctx context.Context, current *oauth2.Token) (*oauth2.Token, error) {
	if current.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token in %s", ErrRefreshFailed, m.path)
	}

	seed := &oauth2.Token{RefreshToken: current.RefreshToken}

	if m.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	}

	fresh, err := m.cfg.TokenSource(ctx, seed).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorCode != "" {
			return nil, fmt.Errorf("%w: %s: %s", ErrRefreshFailed, re.ErrorCode, re.ErrorDescription)
		}

		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	return fresh, nil
}

// Token returns a valid access token, refreshing first if needed.
// Concurrent callers in one process share a single ShouldRefresh.
func (m *Manager) Token(ctx context.Context) (string, error) {
	if m.Expired() {
		if _, err, _ := m.flight.Do(m.path, func() (any, error) {
			return m.ShouldRefresh(ctx)
		}); err != nil {
			return "", err
		}
	}

	tok := m.Current()
	if tok == nil {
		return "", ErrNotAuthorized
	}

	return tok.AccessToken, nil
}

// reload replaces the in-memory token with the record on disk.
func (m *Manager) reload() error {
	tok, err := tokenfile.Load(m.path)
	if err != nil {
		return fmt.Errorf("tokenlease: %w", err)
	}

	if tok == nil {
		return fmt.Errorf("%w: no token record at %s", ErrNotAuthorized, m.path)
	}

	m.mu.Lock()
	m.tok = tok
	m.mu.Unlock()

	return nil
}

func (m *Manager) expired(tok *oauth2.Token) bool {
	if tok == nil || tok.AccessToken == "" {
		return true
	}

	if tok.Expiry.IsZero() {
		return false
	}

	return !m.now().Add(expiryDelta).Before(tok.Expiry)
}

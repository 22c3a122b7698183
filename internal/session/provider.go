// Package session is the entry point commands use to get an authenticated
// HTTP client. It resolves the account's identity, then either restores or
// re-creates a federated cookie session, or loads the tenant's token record
// and makes sure the access token is fresh.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/spo/internal/config"
	"github.com/tonimelisma/spo/internal/lease"
	"github.com/tonimelisma/spo/internal/sessioncache"
	"github.com/tonimelisma/spo/internal/sitepath"
	"github.com/tonimelisma/spo/internal/sso"
	"github.com/tonimelisma/spo/internal/tokenfile"
	"github.com/tonimelisma/spo/internal/tokenlease"
)

// ProbePath is fetched to test whether a cookie session is still valid.
// SharePoint answers 200 only to authenticated users.
const ProbePath = "/_layouts/15/userphoto.aspx?size=S"

var (
	// ErrUnsupportedSite is returned for federated login against a site
	// that is not SharePoint Online.
	ErrUnsupportedSite = errors.New("session: federated login needs a https://<tenant>.sharepoint.com/ site")

	// ErrTenantIDUnknown is returned when OAuth2 credentials exist but the
	// tenant id is neither configured nor discoverable.
	ErrTenantIDUnknown = errors.New("session: tenant id unknown")

	// ErrTenantIDInvalid is returned when the configured tenant id is not a
	// GUID. It names the token record file, so nothing else is accepted.
	ErrTenantIDInvalid = errors.New("session: tenant id is not a GUID")

	// ErrNotAuthenticated is returned when a fresh federated login still
	// fails the session probe.
	ErrNotAuthenticated = errors.New("session: site did not accept the login")
)

// Options configures a Provider. Zero values select production defaults.
type Options struct {
	Store        *config.Store
	Cache        *sessioncache.Cache
	LoginBaseURL string
	// Transport is the base round tripper for every client. Defaults to a
	// clone of http.DefaultTransport.
	Transport *http.Transport
	// OAuthConfig builds the token endpoint configuration for a tenant.
	// Defaults to tokenlease.OAuthConfig.
	OAuthConfig func(tenantID, clientID, clientSecret string) *oauth2.Config
	Logger      *slog.Logger
}

// Provider builds sessions.
type Provider struct {
	store       *config.Store
	cache       *sessioncache.Cache
	loginBase   string
	transport   *http.Transport
	oauthConfig func(tenantID, clientID, clientSecret string) *oauth2.Config
	logger      *slog.Logger
	forgetRetry lease.Retry
}

// NewProvider returns a provider. opts.Store is required.
func NewProvider(opts Options) *Provider {
	p := &Provider{
		store:       opts.Store,
		cache:       opts.Cache,
		loginBase:   opts.LoginBaseURL,
		transport:   opts.Transport,
		oauthConfig: opts.OAuthConfig,
		logger:      opts.Logger,
		forgetRetry: lease.Retry{Attempts: tokenlease.DefaultMaxAttempts, Backoff: tokenlease.DefaultBackoff},
	}

	if p.logger == nil {
		p.logger = slog.Default()
	}

	if p.cache == nil {
		p.cache = sessioncache.New("", p.logger)
	}

	if p.transport == nil {
		p.transport = http.DefaultTransport.(*http.Transport).Clone()
	}

	if p.oauthConfig == nil {
		p.oauthConfig = tokenlease.OAuthConfig
	}

	return p
}

// Resolve loads the identity for target (a site or tenant URL, or a bare
// tenant domain) in the requested mode.
func (p *Provider) Resolve(ctx context.Context, target string, mode Mode, cli config.Overrides) (Identity, error) {
	key := sitepath.Tenant(target)

	switch mode {
	case ModeFederatedCookie:
		return p.resolveCookie(target, key, cli)
	case ModeOAuth2Token:
		return p.resolveOAuth2(ctx, key, cli)
	case ModeAuto:
		id, err := p.resolveOAuth2(ctx, key, cli)
		if err == nil || !errors.Is(err, config.ErrConfigurationMissing) {
			return id, err
		}

		id, userErr := p.resolveCookie(target, key, cli)
		if userErr == nil || !errors.Is(userErr, config.ErrConfigurationMissing) {
			return id, userErr
		}

		return nil, &config.MissingError{
			Path:    p.store.Path(),
			Section: key,
			Flags:   "--client-id and --client-secret, or --username and --password",
		}
	default:
		return nil, fmt.Errorf("session: unknown auth mode %v", mode)
	}
}

func (p *Provider) resolveCookie(target, key string, cli config.Overrides) (Identity, error) {
	if !sitepath.IsOffice365(target) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSite, target)
	}

	creds, err := p.store.LoadUser(key, cli)
	if err != nil {
		return nil, err
	}

	site, _ := sitepath.SplitSiteURL(target)

	return FederatedCookie{
		Site:     strings.TrimRight(site, "/"),
		Username: creds.Username,
		Password: creds.Password,
	}, nil
}

func (p *Provider) resolveOAuth2(ctx context.Context, key string, cli config.Overrides) (Identity, error) {
	creds, err := p.store.LoadClient(ctx, key, cli)
	if err != nil {
		return nil, err
	}

	if !creds.HasTenantID() {
		return nil, fmt.Errorf("%w: set tenant_id in [%q] of %s or pass --tenant-id",
			ErrTenantIDUnknown, key, p.store.Path())
	}

	tenantID, err := uuid.Parse(creds.TenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: %q for %s", ErrTenantIDInvalid, creds.TenantID, key)
	}

	return OAuth2Token{
		Tenant:       key,
		TenantID:     tenantID.String(),
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
	}, nil
}

// Acquire returns a ready session for id. The caller must Close it.
func (p *Provider) Acquire(ctx context.Context, id Identity) (*Session, error) {
	switch v := id.(type) {
	case FederatedCookie:
		return p.acquireCookie(ctx, v)
	case OAuth2Token:
		return p.acquireOAuth2(ctx, v)
	default:
		return nil, fmt.Errorf("session: unsupported identity %T", id)
	}
}

// Login forces a fresh federated login for id and saves it to the cache.
// configure uses it to verify new credentials.
func (p *Provider) Login(ctx context.Context, id FederatedCookie) (*Session, error) {
	s, err := p.newCookieSession(id)
	if err != nil {
		return nil, err
	}

	if err := p.loginAndSave(ctx, s, id); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

func (p *Provider) newCookieSession(id FederatedCookie) (*Session, error) {
	jar, err := sessioncache.NewJar()
	if err != nil {
		return nil, err
	}

	return &Session{
		identity:  id,
		site:      id.Site,
		jar:       jar,
		transport: p.transport,
		client: &http.Client{
			Transport: &browserTransport{base: p.transport},
			Jar:       jar,
		},
		logger: p.logger,
	}, nil
}

func (p *Provider) acquireCookie(ctx context.Context, id FederatedCookie) (*Session, error) {
	s, err := p.newCookieSession(id)
	if err != nil {
		return nil, err
	}

	path := p.cache.PathFor(id.Site, id.Username, id.Password)
	key := sessioncache.KeyMaterial(id.Site, id.Username, id.Password)

	if st, ok := p.cache.Load(path, key); ok {
		s.jar.Restore(st)

		valid, err := s.Probe(ctx)
		if err != nil {
			s.Close()
			return nil, err
		}

		if valid {
			p.logger.Debug("reusing cached session", slog.String("site", id.Site))
			return s, nil
		}

		p.logger.Debug("cached session rejected, logging in again", slog.String("site", id.Site))

		// Start over with an empty jar so stale cookies cannot confuse the login.
		s.Close()

		if s, err = p.newCookieSession(id); err != nil {
			return nil, err
		}
	}

	if err := p.loginAndSave(ctx, s, id); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

func (p *Provider) loginAndSave(ctx context.Context, s *Session, id FederatedCookie) error {
	engine := sso.NewEngine(s.client, p.loginBase, p.logger)
	if err := engine.Login(ctx, id.Site, id.Username, id.Password); err != nil {
		return err
	}

	valid, err := s.Probe(ctx)
	if err != nil {
		return err
	}

	if !valid {
		return fmt.Errorf("%w: %s", ErrNotAuthenticated, id.Site)
	}

	path := p.cache.PathFor(id.Site, id.Username, id.Password)
	if err := p.cache.Save(path, sessioncache.KeyMaterial(id.Site, id.Username, id.Password), s.jar.State()); err != nil {
		// The session is usable; only the next invocation pays for this.
		p.logger.Warn("saving session cache failed", slog.String("error", err.Error()))
	}

	return nil
}

func (p *Provider) acquireOAuth2(ctx context.Context, id OAuth2Token) (*Session, error) {
	path := config.TokenPath(id.TenantID)
	if path == "" {
		return nil, fmt.Errorf("session: cannot determine token path for tenant %s", id.TenantID)
	}

	mgr, err := tokenlease.New(path, p.oauthConfig(id.TenantID, id.ClientID, id.ClientSecret), p.logger)
	if err != nil {
		return nil, err
	}

	mgr.SetHTTPClient(&http.Client{Transport: p.transport})

	s := &Session{
		identity:  id,
		tokens:    mgr,
		transport: p.transport,
		client: &http.Client{
			Transport: &bearerTransport{base: p.transport, tokens: mgr},
		},
		logger: p.logger,
	}

	if _, err := s.EnsureFresh(ctx); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// Authorize runs the interactive authorization code flow for id and
// creates its token record. openURL opens a browser.
func (p *Provider) Authorize(ctx context.Context, id OAuth2Token, openURL func(string) error) error {
	path := config.TokenPath(id.TenantID)
	if path == "" {
		return fmt.Errorf("session: cannot determine token path for tenant %s", id.TenantID)
	}

	cfg := p.oauthConfig(id.TenantID, id.ClientID, id.ClientSecret)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: p.transport})

	_, err := tokenlease.Authorize(ctx, cfg, path, openURL, p.logger)

	return err
}

// Forget deletes what is stored on disk for id: the token record for an
// OAuth2 identity, the session cache entry for a federated one. removed
// lists the deleted files. A token record being refreshed by another
// process is removed once that refresh finishes, within the usual bound.
func (p *Provider) Forget(ctx context.Context, id Identity) (removed []string, err error) {
	switch v := id.(type) {
	case FederatedCookie:
		path := p.cache.PathFor(v.Site, v.Username, v.Password)

		existed, err := p.cache.Remove(path)
		if err != nil {
			return nil, err
		}

		if existed {
			removed = append(removed, path)
		}

		return removed, nil
	case OAuth2Token:
		path := config.TokenPath(v.TenantID)
		if path == "" {
			return nil, nil
		}

		var existed bool

		acquired, err := lease.WithRetry(ctx, tokenfile.LockPath(path), p.forgetRetry, func() error {
			var rmErr error
			existed, rmErr = tokenfile.Remove(path)

			return rmErr
		})
		if err != nil {
			return nil, err
		}

		if !acquired {
			return nil, fmt.Errorf("session: token record %s is being refreshed: %w", path, tokenlease.ErrLockTimeout)
		}

		if existed {
			removed = append(removed, path)
		}

		return removed, nil
	default:
		return nil, fmt.Errorf("session: unsupported identity %T", id)
	}
}

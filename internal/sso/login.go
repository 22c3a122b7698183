// Package sso drives the federated browser login that SharePoint Online
// sites without an app registration require. The flow is strictly
// sequential and never retries: a partially completed login cannot be
// replayed with stale correlation tokens.
package sso

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// DefaultLoginBaseURL is the identity platform host.
const DefaultLoginBaseURL = "https://login.microsoftonline.com"

const (
	country = "US"
	lang    = "en-US"

	// maxBodyBytes bounds how much of any login page is read.
	maxBodyBytes = 8 << 20
)

// Step names one stage of the login.
type Step string

// Login stages, in order.
const (
	StepLandingPage    Step = "landing page"
	StepCredentialType Step = "credential type"
	StepFederation     Step = "federated sign-in"
	StepRelay          Step = "identity relay"
	StepSiteSession    Step = "site session"
)

var sCtxPattern = regexp.MustCompile(`"sCtx":"([^"]*)"`)

// SetBrowserHeaders applies the headers of a desktop browser. Some
// federation servers serve different pages to unknown clients.
func SetBrowserHeaders(h http.Header) {
	h.Set("User-Agent", "Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:78.0) Gecko/20100101 Firefox/78.0")
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", lang+",en;q=0.5")
	h.Set("Pragma", "no-cache")
	h.Set("Cache-Control", "no-cache")
}

// Engine performs the login against one cookie-bearing client. Cookies set
// during the flow accumulate in the client's jar.
type Engine struct {
	client    *http.Client
	loginBase string
	logger    *slog.Logger
}

// NewEngine returns an engine. client must have a cookie jar. An empty
// loginBase means DefaultLoginBaseURL.
func NewEngine(client *http.Client, loginBase string, logger *slog.Logger) *Engine {
	if loginBase == "" {
		loginBase = DefaultLoginBaseURL
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		client:    client,
		loginBase: strings.TrimRight(loginBase, "/"),
		logger:    logger,
	}
}

// credentialTypeRequest is the body of the GetCredentialType probe.
type credentialTypeRequest struct {
	Username                       string `json:"username"`
	IsOtherIdpSupported            bool   `json:"isOtherIdpSupported"`
	CheckPhones                    bool   `json:"checkPhones"`
	IsRemoteNGCSupported           bool   `json:"isRemoteNGCSupported"`
	IsCookieBannerShown            bool   `json:"isCookieBannerShown"`
	IsFidoSupported                bool   `json:"isFidoSupported"`
	OriginalRequest                string `json:"originalRequest"`
	Country                        string `json:"country"`
	Forceotclogin                  bool   `json:"forceotclogin"`
	IsExternalFederationDisallowed bool   `json:"isExternalFederationDisallowed"`
	IsRemoteConnectSupported       bool   `json:"isRemoteConnectSupported"`
	FederationFlags                int    `json:"federationFlags"`
	IsSignup                       bool   `json:"isSignup"`
	FlowToken                      string `json:"flowToken"`
	IsAccessPassSupported          bool   `json:"isAccessPassSupported"`
}

type credentialTypeResponse struct {
	Credentials struct {
		FederationRedirectURL string `json:"FederationRedirectUrl"`
	} `json:"Credentials"`
}

// Login runs the five login steps for site. On success the client's jar
// holds the site session cookies (FedAuth, rtFa).
func (e *Engine) Login(ctx context.Context, site, username, password string) error {
	site = strings.TrimRight(site, "/")

	e.logger.Debug("federated login starting", slog.String("site", site), slog.String("username", username))

	// 1. Landing page: the anonymous GET ends on the identity platform
	// page that embeds the correlation token.
	e.logger.Debug("login step", slog.String("step", string(StepLandingPage)))

	body, err := e.get(ctx, StepLandingPage, site)
	if err != nil {
		return err
	}

	m := sCtxPattern.FindSubmatch(body)
	if m == nil {
		return protocolError(StepLandingPage, "no sCtx correlation token on page", nil)
	}

	originalRequest := string(m[1])

	// 2. Credential type probe.
	e.logger.Debug("login step", slog.String("step", string(StepCredentialType)))

	fedURL, err := e.credentialType(ctx, username, originalRequest)
	if err != nil {
		return err
	}

	// 3. Federated sign-in page.
	e.logger.Debug("login step", slog.String("step", string(StepFederation)), slog.String("url", fedURL))

	if _, err := e.get(ctx, StepFederation, fedURL); err != nil {
		return err
	}

	body, err = e.postForm(ctx, StepFederation, fedURL, url.Values{
		"UserName":   {username},
		"Password":   {password},
		"AuthMethod": {"FormsAuthentication"},
	})
	if err != nil {
		return err
	}

	// 4. Relay the identity provider's auto-submit form.
	e.logger.Debug("login step", slog.String("step", string(StepRelay)))

	action, fields, ok := readForm(body)
	if !ok {
		return loginError(StepRelay, "invalid login")
	}

	if _, err := e.postForm(ctx, StepRelay, action, fields); err != nil {
		return err
	}

	// 5. The site now answers with its own auto-submit form; posting it
	// sets the session cookies.
	e.logger.Debug("login step", slog.String("step", string(StepSiteSession)))

	body, err = e.get(ctx, StepSiteSession, site)
	if err != nil {
		return err
	}

	action, fields, ok = readForm(body)
	if !ok {
		return protocolError(StepSiteSession, "site returned no session form", nil)
	}

	if _, err := e.postForm(ctx, StepSiteSession, action, fields); err != nil {
		return err
	}

	e.logger.Debug("federated login complete", slog.String("site", site))

	return nil
}

func (e *Engine) credentialType(ctx context.Context, username, originalRequest string) (string, error) {
	loginURL, err := url.Parse(e.loginBase)
	if err != nil {
		return "", protocolError(StepCredentialType, "invalid login base URL", err)
	}

	flowToken := ""

	if e.client.Jar != nil {
		for _, c := range e.client.Jar.Cookies(loginURL) {
			if c.Name == "buid" {
				flowToken = c.Value
			}
		}
	}

	if flowToken == "" {
		return "", protocolError(StepCredentialType, "identity platform set no buid cookie", nil)
	}

	payload, err := json.Marshal(credentialTypeRequest{
		Username:              username,
		IsOtherIdpSupported:   true,
		CheckPhones:           true,
		IsRemoteNGCSupported:  true,
		OriginalRequest:       originalRequest,
		Country:               country,
		FlowToken:             flowToken,
		IsAccessPassSupported: true,
	})
	if err != nil {
		return "", protocolError(StepCredentialType, "encoding request", err)
	}

	endpoint := e.loginBase + "/common/GetCredentialType?mkt=" + lang

	body, err := e.do(ctx, StepCredentialType, http.MethodPost, endpoint, "application/json", payload)
	if err != nil {
		return "", err
	}

	var resp credentialTypeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", protocolError(StepCredentialType, "decoding response", err)
	}

	if resp.Credentials.FederationRedirectURL == "" {
		return "", loginError(StepCredentialType, "tenant not found")
	}

	return resp.Credentials.FederationRedirectURL, nil
}

// readForm extracts an absolute action URL and a non-empty field set.
func readForm(body []byte) (string, url.Values, bool) {
	page, err := ParsePage(bytes.NewReader(body))
	if err != nil {
		return "", nil, false
	}

	action, ok := absoluteAction(page)
	if !ok {
		return "", nil, false
	}

	fields, ok := page.FormFields()
	if !ok {
		return "", nil, false
	}

	return action, fields, true
}

func (e *Engine) get(ctx context.Context, step Step, target string) ([]byte, error) {
	return e.do(ctx, step, http.MethodGet, target, "", nil)
}

func (e *Engine) postForm(ctx context.Context, step Step, target string, form url.Values) ([]byte, error) {
	return e.do(ctx, step, http.MethodPost, target, "application/x-www-form-urlencoded", []byte(form.Encode()))
}

// do sends one request and reads the whole body. Any status >= 400 is a
// protocol error.
func (e *Engine) do(
	ctx context.Context, step Step, method, target, contentType string, payload []byte,
) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, protocolError(step, "building request", err)
	}

	SetBrowserHeaders(req.Header)

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &LoginError{Step: step, Reason: method + " " + redact(target), Kind: ErrProtocol, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, protocolError(step, "reading response", err)
	}

	e.logger.Debug("login response",
		slog.String("step", string(step)),
		slog.String("method", method),
		slog.Int("status", resp.StatusCode),
	)

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, protocolError(step, fmt.Sprintf("HTTP %d from %s", resp.StatusCode, redact(target)), nil)
	}

	return data, nil
}

// redact drops the query string, which may carry correlation tokens.
func redact(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return "<invalid URL>"
	}

	u.RawQuery = ""
	u.Fragment = ""

	return u.String()
}

// IsLoginError reports whether err came from a failed login step.
func IsLoginError(err error) bool {
	var le *LoginError
	return errors.As(err, &le)
}

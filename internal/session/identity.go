package session

import (
	"fmt"
	"strings"
)

// Mode selects how an account authenticates. It is chosen once per account.
type Mode int

const (
	// ModeAuto picks OAuth2 when client credentials are configured and
	// falls back to federated login when only a username is.
	ModeAuto Mode = iota
	// ModeFederatedCookie logs in through the browser SSO flow and
	// authenticates with site cookies.
	ModeFederatedCookie
	// ModeOAuth2Token authenticates with an app registration's bearer tokens.
	ModeOAuth2Token
)

func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeFederatedCookie:
		return "cookie"
	case ModeOAuth2Token:
		return "oauth2"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses the --auth-mode flag value.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ModeAuto, nil
	case "cookie", "federated", "sso":
		return ModeFederatedCookie, nil
	case "oauth2", "oauth", "token":
		return ModeOAuth2Token, nil
	default:
		return ModeAuto, fmt.Errorf("session: unknown auth mode %q (want auto, cookie or oauth2)", s)
	}
}

// Identity is the resolved account for one invocation: either a
// FederatedCookie or an OAuth2Token.
type Identity interface {
	Mode() Mode
	// AccountKey is the credentials file section the identity came from.
	AccountKey() string
	isIdentity()
}

// FederatedCookie is a username/password account on a SharePoint Online site.
type FederatedCookie struct {
	Site     string // site URL without trailing slash
	Username string
	Password string
}

func (FederatedCookie) Mode() Mode { return ModeFederatedCookie }

func (f FederatedCookie) AccountKey() string { return hostOf(f.Site) }

func (FederatedCookie) isIdentity() {}

// String never includes the password.
func (f FederatedCookie) String() string {
	return fmt.Sprintf("cookie(%s@%s)", f.Username, f.Site)
}

// OAuth2Token is an app registration on a tenant.
type OAuth2Token struct {
	Tenant       string // tenant domain, e.g. contoso.sharepoint.com
	TenantID     string
	ClientID     string
	ClientSecret string
}

func (OAuth2Token) Mode() Mode { return ModeOAuth2Token }

func (o OAuth2Token) AccountKey() string { return o.Tenant }

func (OAuth2Token) isIdentity() {}

// String never includes the client secret.
func (o OAuth2Token) String() string {
	return fmt.Sprintf("oauth2(%s tenant=%s)", o.ClientID, o.TenantID)
}

func hostOf(site string) string {
	rest := strings.TrimPrefix(strings.TrimPrefix(site, "https://"), "http://")
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[:i]
	}

	return rest
}

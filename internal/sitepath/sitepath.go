// Package sitepath splits SharePoint URLs into site and folder parts and
// resolves folder paths inside a site.
package sitepath

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrNotSiteURL is returned when a URL has no /sites/<name> component.
var ErrNotSiteURL = errors.New("sitepath: not a SharePoint site URL")

var office365Pattern = regexp.MustCompile(`^https://[^./]+\.sharepoint\.com/`)

// IsRemote reports whether s names a remote location rather than a local path.
func IsRemote(s string) bool {
	return strings.HasPrefix(s, "https://")
}

// IsOffice365 reports whether u is a SharePoint Online URL. Other https
// URLs are on-premises deployments.
func IsOffice365(u string) bool {
	return office365Pattern.MatchString(u)
}

// SplitSiteURL splits a site-scoped URL such as
// https://contoso.sharepoint.com/sites/team/Shared Documents/a into the site
// URL (with a trailing slash) and the path inside the site. The site is the
// first five slash-separated components.
func SplitSiteURL(u string) (site, path string) {
	parts := strings.SplitN(u, "/", 6)
	if len(parts) < 5 {
		return strings.TrimRight(u, "/") + "/", ""
	}

	site = strings.Join(parts[:5], "/") + "/"
	if len(parts) == 6 {
		path = parts[5]
	}

	return site, path
}

// Target is a URL split into tenant host, site name and folder path.
type Target struct {
	Tenant   string // host, e.g. contoso.sharepoint.com
	SiteName string // name after /sites/
	Path     string // folder path inside the site, no leading slash
}

// SiteURL returns the site's absolute URL without a trailing slash.
func (t Target) SiteURL() string {
	return "https://" + t.Tenant + "/sites/" + t.SiteName
}

// SitePath returns the server-relative site path.
func (t Target) SitePath() string {
	return "/sites/" + t.SiteName
}

// SplitTenantURL parses https://<tenant>/sites/<site>/<path...>.
func SplitTenantURL(raw string) (Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("sitepath: parsing %q: %w", raw, err)
	}

	segs := strings.Split(u.Path, "/")
	if u.Host == "" || len(segs) < 3 || segs[2] == "" {
		return Target{}, fmt.Errorf("%w: %s", ErrNotSiteURL, raw)
	}

	return Target{
		Tenant:   u.Host,
		SiteName: segs[2],
		Path:     strings.Join(segs[3:], "/"),
	}, nil
}

// Tenant returns the host of a URL, or the input if it has none. It is the
// account key for credential lookups.
func Tenant(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	return u.Host
}

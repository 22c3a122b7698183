package sessioncache

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// State is the serializable content of a Jar.
type State struct {
	Cookies []SavedCookie `json:"cookies"`
}

// SavedCookie is one Set-Cookie as received, together with the request URL
// it arrived on. Replaying it against the same URL restores host-only and
// default-path semantics exactly.
type SavedCookie struct {
	URL    string       `json:"url"`
	Cookie *http.Cookie `json:"cookie"`
}

type cookieKey struct {
	host, name, domain, path string
}

// Jar is an http.CookieJar that remembers every cookie it was given so the
// jar can be written to the cache. Lookups are served by net/http/cookiejar.
type Jar struct {
	inner *cookiejar.Jar
	now   func() time.Time

	mu    sync.Mutex
	order []cookieKey
	saved map[cookieKey]SavedCookie
}

// NewJar returns an empty jar that uses the public suffix list.
func NewJar() (*Jar, error) {
	inner, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("sessioncache: creating cookie jar: %w", err)
	}

	return &Jar{
		inner: inner,
		now:   time.Now,
		saved: make(map[cookieKey]SavedCookie),
	}, nil
}

// SetCookies implements http.CookieJar. A relative Max-Age is saved as an
// absolute expiry so that a restored cookie expires when the original would.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.inner.SetCookies(u, cookies)

	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()

	for _, c := range cookies {
		k := cookieKey{host: u.Host, name: c.Name, domain: c.Domain, path: c.Path}
		if _, ok := j.saved[k]; !ok {
			j.order = append(j.order, k)
		}

		cp := *c
		if cp.MaxAge > 0 {
			cp.Expires = now.Add(time.Duration(cp.MaxAge) * time.Second)
			cp.MaxAge = 0
		}

		j.saved[k] = SavedCookie{URL: u.String(), Cookie: &cp}
	}
}

// Cookies implements http.CookieJar.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	return j.inner.Cookies(u)
}

// Value returns the value of the named cookie that would be sent to u.
func (j *Jar) Value(u *url.URL, name string) (string, bool) {
	for _, c := range j.inner.Cookies(u) {
		if c.Name == name {
			return c.Value, true
		}
	}

	return "", false
}

// State snapshots the live cookies in the order they were first set.
// Deleted and expired cookies are left out.
func (j *Jar) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()

	var st State

	for _, k := range j.order {
		sc := j.saved[k]
		if sc.Cookie.MaxAge < 0 {
			continue
		}

		if !sc.Cookie.Expires.IsZero() && !sc.Cookie.Expires.After(now) {
			continue
		}

		st.Cookies = append(st.Cookies, sc)
	}

	return st
}

// Restore replays st into the jar. Entries with an unparsable URL and
// cookies that expired since they were saved are skipped.
func (j *Jar) Restore(st State) {
	now := j.now()

	for _, sc := range st.Cookies {
		if sc.Cookie == nil {
			continue
		}

		if !sc.Cookie.Expires.IsZero() && !sc.Cookie.Expires.After(now) {
			continue
		}

		u, err := url.Parse(sc.URL)
		if err != nil || u.Host == "" {
			continue
		}

		j.SetCookies(u, []*http.Cookie{sc.Cookie})
	}
}

// Len reports how many live cookies State would return.
func (j *Jar) Len() int {
	return len(j.State().Cookies)
}

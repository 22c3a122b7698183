package sessioncache

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJar_LatestValueWins(t *testing.T) {
	u, _ := url.Parse("https://login.microsoftonline.com/common")

	jar, err := NewJar()
	require.NoError(t, err)

	jar.SetCookies(u, []*http.Cookie{{Name: "buid", Value: "one", Path: "/"}})
	jar.SetCookies(u, []*http.Cookie{{Name: "buid", Value: "two", Path: "/"}})

	st := jar.State()
	require.Len(t, st.Cookies, 1)
	assert.Equal(t, "two", st.Cookies[0].Cookie.Value)

	v, ok := jar.Value(u, "buid")
	require.True(t, ok)
	assert.Equal(t, "two", v)
}

func TestJar_DropsDeletedAndExpired(t *testing.T) {
	u, _ := url.Parse("https://contoso.sharepoint.com/")

	jar, err := NewJar()
	require.NoError(t, err)

	jar.SetCookies(u, []*http.Cookie{
		{Name: "keep", Value: "1", Path: "/"},
		{Name: "gone", Value: "1", Path: "/"},
		{Name: "short", Value: "1", Path: "/", Expires: time.Now().Add(time.Hour)},
	})
	jar.SetCookies(u, []*http.Cookie{{Name: "gone", Path: "/", MaxAge: -1}})

	assert.Equal(t, 2, jar.Len())

	jar.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	st := jar.State()
	require.Len(t, st.Cookies, 1)
	assert.Equal(t, "keep", st.Cookies[0].Cookie.Name)

	_, ok := jar.Value(u, "gone")
	assert.False(t, ok)
}

func TestJar_RestoreSkipsBadEntries(t *testing.T) {
	jar, err := NewJar()
	require.NoError(t, err)

	jar.Restore(State{Cookies: []SavedCookie{
		{URL: "::not a url", Cookie: &http.Cookie{Name: "a", Value: "1"}},
		{URL: "https://contoso.sharepoint.com/", Cookie: nil},
		{URL: "https://contoso.sharepoint.com/", Cookie: &http.Cookie{Name: "b", Value: "2"}},
	}})

	assert.Equal(t, 1, jar.Len())
}

func TestJar_MaxAgeSavedAsAbsoluteExpiry(t *testing.T) {
	u, _ := url.Parse("https://contoso.sharepoint.com/")
	start := time.Now()

	first, err := NewJar()
	require.NoError(t, err)

	first.now = func() time.Time { return start }
	first.SetCookies(u, []*http.Cookie{{Name: "FedAuth", Value: "x", Path: "/", MaxAge: 60}})

	st := first.State()
	require.Len(t, st.Cookies, 1)
	assert.Zero(t, st.Cookies[0].Cookie.MaxAge)
	assert.WithinDuration(t, start.Add(time.Minute), st.Cookies[0].Cookie.Expires, time.Second)

	// Two hours later the cookie is gone: not sent, not saved again.
	later, err := NewJar()
	require.NoError(t, err)

	later.now = func() time.Time { return start.Add(2 * time.Hour) }
	later.Restore(st)

	assert.Empty(t, later.Cookies(u))
	assert.Empty(t, later.State().Cookies)

	// A restore within the minute keeps it.
	soon, err := NewJar()
	require.NoError(t, err)

	soon.now = func() time.Time { return start.Add(10 * time.Second) }
	soon.Restore(st)

	v, ok := soon.Value(u, "FedAuth")
	require.True(t, ok)
	assert.Equal(t, "x", v)
	assert.Len(t, soon.State().Cookies, 1)
}

func TestJar_MaxAgeExpiresInSavedState(t *testing.T) {
	u, _ := url.Parse("https://contoso.sharepoint.com/")
	clock := time.Now()

	jar, err := NewJar()
	require.NoError(t, err)

	jar.now = func() time.Time { return clock }
	jar.SetCookies(u, []*http.Cookie{{Name: "rtFa", Value: "y", Path: "/", MaxAge: 30}})
	require.Equal(t, 1, jar.Len())

	clock = clock.Add(time.Minute)
	assert.Zero(t, jar.Len())
}

package sitepath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("https://contoso.sharepoint.com/sites/team"))
	assert.False(t, IsRemote("http://intranet/sites/team"))
	assert.False(t, IsRemote("./local/file.txt"))
}

func TestIsOffice365(t *testing.T) {
	assert.True(t, IsOffice365("https://contoso.sharepoint.com/sites/team"))
	assert.True(t, IsOffice365("https://contoso.sharepoint.com/"))
	assert.False(t, IsOffice365("https://contoso.sharepoint.com"))
	assert.False(t, IsOffice365("https://a.b.sharepoint.com/"))
	assert.False(t, IsOffice365("https://sharepoint.contoso.local/sites/team"))
	assert.False(t, IsOffice365("http://contoso.sharepoint.com/"))
}

func TestSplitSiteURL(t *testing.T) {
	site, path := SplitSiteURL("https://contoso.sharepoint.com/sites/team/Shared Documents/a/b.txt")
	assert.Equal(t, "https://contoso.sharepoint.com/sites/team/", site)
	assert.Equal(t, "Shared Documents/a/b.txt", path)

	site, path = SplitSiteURL("https://contoso.sharepoint.com/sites/team")
	assert.Equal(t, "https://contoso.sharepoint.com/sites/team/", site)
	assert.Empty(t, path)

	site, path = SplitSiteURL("https://intranet/")
	assert.Equal(t, "https://intranet/", site)
	assert.Empty(t, path)
}

func TestSplitTenantURL(t *testing.T) {
	tgt, err := SplitTenantURL("https://contoso.sharepoint.com/sites/team/Shared%20Documents/a")
	require.NoError(t, err)
	assert.Equal(t, Target{Tenant: "contoso.sharepoint.com", SiteName: "team", Path: "Shared Documents/a"}, tgt)
	assert.Equal(t, "https://contoso.sharepoint.com/sites/team", tgt.SiteURL())
	assert.Equal(t, "/sites/team", tgt.SitePath())

	tgt, err = SplitTenantURL("https://contoso.sharepoint.com/sites/team")
	require.NoError(t, err)
	assert.Empty(t, tgt.Path)

	_, err = SplitTenantURL("https://contoso.sharepoint.com/")
	assert.ErrorIs(t, err, ErrNotSiteURL)

	_, err = SplitTenantURL("not a url at all")
	assert.ErrorIs(t, err, ErrNotSiteURL)
}

func TestTenant(t *testing.T) {
	assert.Equal(t, "contoso.sharepoint.com", Tenant("https://contoso.sharepoint.com/sites/team"))
	assert.Equal(t, "contoso.sharepoint.com", Tenant("contoso.sharepoint.com"))
}

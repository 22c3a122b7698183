package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every SPO_* credential variable for the test.
func clearEnv(t *testing.T) {
	t.Helper()

	for _, k := range []string{EnvUsername, EnvPassword, EnvClientID, EnvClientSecret, EnvTenantID} {
		t.Setenv(k, "")
	}
}

func writeCredentials(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "credentials")
	require.NoError(t, os.WriteFile(path, []byte(content), FilePerms))

	return path
}

// stubResolver records lookups and returns a fixed answer.
type stubResolver struct {
	id    string
	ok    bool
	calls []string
}

func (r *stubResolver) ResolveTenantID(_ context.Context, tenant string) (string, bool) {
	r.calls = append(r.calls, tenant)

	return r.id, r.ok
}

func TestLoadClient_DefaultSectionFallback(t *testing.T) {
	clearEnv(t)

	path := writeCredentials(t, `
["default"]
client_id = "default-id"
client_secret = "default-secret"
tenant_id = "11111111-2222-3333-4444-555555555555"
`)

	store := NewStore(path, nil, nil)

	creds, err := store.LoadClient(context.Background(), "foo.sharepoint.com", Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "default-id", creds.ClientID)
	assert.Equal(t, "default-secret", creds.ClientSecret)
	assert.Equal(t, "11111111-2222-3333-4444-555555555555", creds.TenantID)
}

func TestLoadClient_BareDefaultHeader(t *testing.T) {
	clearEnv(t)

	path := writeCredentials(t, "[default]\nclient_id = \"a\"\nclient_secret = \"b\"\n")
	store := NewStore(path, nil, nil)

	creds, err := store.LoadClient(context.Background(), "foo.sharepoint.com", Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "a", creds.ClientID)
	assert.False(t, creds.HasTenantID())
}

func TestLoadClient_MissingEverywhere(t *testing.T) {
	clearEnv(t)

	path := writeCredentials(t, `
["other.sharepoint.com"]
client_id = "x"
client_secret = "y"
`)

	store := NewStore(path, nil, nil)

	_, err := store.LoadClient(context.Background(), "foo.sharepoint.com", Overrides{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigurationMissing))

	var missing *MissingError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, path, missing.Path)
	assert.Equal(t, "foo.sharepoint.com", missing.Section)
	assert.Contains(t, err.Error(), path)
	assert.Contains(t, err.Error(), `["foo.sharepoint.com"]`)
}

func TestLoadClient_NoFileAtAll(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "absent", "credentials")
	store := NewStore(path, nil, nil)

	_, err := store.LoadClient(context.Background(), "foo.sharepoint.com", Overrides{})
	assert.ErrorIs(t, err, ErrConfigurationMissing)
}

func TestLoadClient_ExactSectionWinsOverDefault(t *testing.T) {
	clearEnv(t)

	path := writeCredentials(t, `
["default"]
client_id = "default-id"
client_secret = "default-secret"

["foo.sharepoint.com"]
client_id = "foo-id"
client_secret = "foo-secret"
tenant_id = "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"
`)

	store := NewStore(path, nil, nil)

	creds, err := store.LoadClient(context.Background(), "foo.sharepoint.com", Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "foo-id", creds.ClientID)
	assert.Equal(t, "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee", creds.TenantID)
}

func TestLoadClient_Precedence(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvClientID, "env-id")
	t.Setenv(EnvClientSecret, "env-secret")

	path := writeCredentials(t, `
["foo.sharepoint.com"]
client_id = "file-id"
client_secret = "file-secret"
`)

	resolver := &stubResolver{id: "99999999-9999-9999-9999-999999999999", ok: true}
	store := NewStore(path, resolver, nil)

	// Environment beats the file.
	creds, err := store.LoadClient(context.Background(), "foo.sharepoint.com", Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "env-id", creds.ClientID)
	assert.Equal(t, "env-secret", creds.ClientSecret)
	assert.Equal(t, "99999999-9999-9999-9999-999999999999", creds.TenantID)
	assert.Equal(t, []string{"foo.sharepoint.com"}, resolver.calls)

	// CLI beats the environment.
	creds, err = store.LoadClient(context.Background(), "foo.sharepoint.com", Overrides{ClientID: "cli-id"})
	require.NoError(t, err)
	assert.Equal(t, "cli-id", creds.ClientID)
	assert.Equal(t, "env-secret", creds.ClientSecret)
}

func TestLoadClient_DiscoveryFailureIsAbsence(t *testing.T) {
	clearEnv(t)

	path := writeCredentials(t, `
["foo.sharepoint.com"]
client_id = "file-id"
client_secret = "file-secret"
`)

	store := NewStore(path, &stubResolver{ok: false}, nil)

	creds, err := store.LoadClient(context.Background(), "foo.sharepoint.com", Overrides{})
	require.NoError(t, err)
	assert.False(t, creds.HasTenantID())
}

func TestLoadClient_ConfiguredTenantSkipsDiscovery(t *testing.T) {
	clearEnv(t)

	path := writeCredentials(t, `
["foo.sharepoint.com"]
client_id = "file-id"
client_secret = "file-secret"
tenant_id = "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"
`)

	resolver := &stubResolver{}
	store := NewStore(path, resolver, nil)

	_, err := store.LoadClient(context.Background(), "foo.sharepoint.com", Overrides{})
	require.NoError(t, err)
	assert.Empty(t, resolver.calls)
}

func TestLoadClient_SectionMissingKey(t *testing.T) {
	clearEnv(t)

	path := writeCredentials(t, `
["foo.sharepoint.com"]
client_id = "file-id"
`)

	store := NewStore(path, nil, nil)

	_, err := store.LoadClient(context.Background(), "foo.sharepoint.com", Overrides{})
	require.ErrorIs(t, err, ErrConfigurationMissing)
	assert.Contains(t, err.Error(), "client_secret")
}

func TestLoadUser_OverridesSkipFile(t *testing.T) {
	clearEnv(t)

	store := NewStore(filepath.Join(t.TempDir(), "credentials"), nil, nil)

	creds, err := store.LoadUser("foo.sharepoint.com", Overrides{Username: "u@foo.com", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, UserCredentials{Username: "u@foo.com", Password: "pw"}, creds)
}

func TestLoadUser_PartialOverrideFallsBackToFile(t *testing.T) {
	clearEnv(t)

	path := writeCredentials(t, `
["foo.sharepoint.com"]
username = "file@foo.com"
password = "file-pw"
`)

	store := NewStore(path, nil, nil)

	creds, err := store.LoadUser("foo.sharepoint.com", Overrides{Username: "cli@foo.com"})
	require.NoError(t, err)
	assert.Equal(t, "file@foo.com", creds.Username)
	assert.Equal(t, "file-pw", creds.Password)
}

func TestLoadUser_EnvironmentPair(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvUsername, "env@foo.com")
	t.Setenv(EnvPassword, "env-pw")

	store := NewStore(filepath.Join(t.TempDir(), "credentials"), nil, nil)

	creds, err := store.LoadUser("foo.sharepoint.com", Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "env@foo.com", creds.Username)
}

func TestLoadUser_Missing(t *testing.T) {
	clearEnv(t)

	store := NewStore(filepath.Join(t.TempDir(), "credentials"), nil, nil)

	_, err := store.LoadUser("foo.sharepoint.com", Overrides{})
	require.ErrorIs(t, err, ErrConfigurationMissing)
	assert.Contains(t, err.Error(), "--username and --password")
}

func TestSections_UnknownKeyRejected(t *testing.T) {
	path := writeCredentials(t, `
["foo.sharepoint.com"]
usernme = "typo"
`)

	_, err := NewStore(path, nil, nil).Sections()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "usernme")
}

func TestSections_Malformed(t *testing.T) {
	path := writeCredentials(t, "[[[ not toml")

	_, err := NewStore(path, nil, nil).Sections()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing")
}

func TestLoadClient_BareDottedHeader(t *testing.T) {
	clearEnv(t)

	path := writeCredentials(t, `
[default]
client_id = "default-id"
client_secret = "default-secret"

[contoso.sharepoint.com]
client_id = "c"
client_secret = "s"
tenant_id = "11111111-2222-3333-4444-555555555555"
`)

	store := NewStore(path, nil, nil)

	creds, err := store.LoadClient(context.Background(), "contoso.sharepoint.com", Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "c", creds.ClientID)
	assert.Equal(t, "11111111-2222-3333-4444-555555555555", creds.TenantID)

	// The dotted header does not get in the way of the default fallback.
	creds, err = store.LoadClient(context.Background(), "other.sharepoint.com", Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "default-id", creds.ClientID)
}

func TestSections_BareAndQuotedHeadersAgree(t *testing.T) {
	bare := writeCredentials(t, "[contoso.sharepoint.com]\nusername = \"u\"\npassword = \"p\"\n")
	quoted := writeCredentials(t, "[\"contoso.sharepoint.com\"]\nusername = \"u\"\npassword = \"p\"\n")

	a, err := NewStore(bare, nil, nil).Sections()
	require.NoError(t, err)

	b, err := NewStore(quoted, nil, nil).Sections()
	require.NoError(t, err)

	assert.Equal(t, b, a)
	assert.Equal(t, Record{Username: "u", Password: "p"}, a["contoso.sharepoint.com"])
}

func TestSections_SameSectionTwiceRejected(t *testing.T) {
	path := writeCredentials(t, `
[contoso.sharepoint.com]
username = "a"

["contoso.sharepoint.com"]
username = "b"
`)

	_, err := NewStore(path, nil, nil).Sections()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "defined twice")
}

func TestSections_UnquotedValueExplainsQuoting(t *testing.T) {
	path := writeCredentials(t, "[default]\nclient_id = abc\n")

	_, err := NewStore(path, nil, nil).Sections()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "values must be quoted")
}

func TestSections_NonStringValueRejected(t *testing.T) {
	path := writeCredentials(t, "[default]\nclient_id = 42\n")

	_, err := NewStore(path, nil, nil).Sections()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default.client_id (not a string)")
}

package tokenfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestLoad_FileNotFound(t *testing.T) {
	tok, err := Load("/nonexistent/path/token.json")
	assert.Nil(t, tok)
	assert.NoError(t, err)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens", "tenant.json")

	expiry := time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)
	original := &oauth2.Token{
		AccessToken:  "access-123",
		RefreshToken: "refresh-456",
		TokenType:    "Bearer",
		Expiry:       expiry,
	}

	require.NoError(t, Save(path, original))

	tok, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "access-123", tok.AccessToken)
	assert.Equal(t, "refresh-456", tok.RefreshToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.True(t, tok.Expiry.Equal(expiry))
}

func TestSave_Permissions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "spo")
	path := filepath.Join(dir, "tenant.json")

	require.NoError(t, Save(path, &oauth2.Token{AccessToken: "a"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FilePerms), info.Mode().Perm())

	dirInfo, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(DirPerms), dirInfo.Mode().Perm())
}

func TestSave_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tenant.json")

	require.NoError(t, Save(path, &oauth2.Token{AccessToken: "a"}))
	require.NoError(t, Save(path, &oauth2.Token{AccessToken: "b"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "tenant.json", entries[0].Name())
}

func TestSave_NilToken(t *testing.T) {
	err := Save(filepath.Join(t.TempDir(), "x.json"), nil)
	assert.Error(t, err)
}

func TestSave_DirectoryBlocked(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocked")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), FilePerms))

	err := Save(filepath.Join(blocker, "sub", "tenant.json"), &oauth2.Token{AccessToken: "a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "creating directory")
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenant.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), FilePerms))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding")
}

func TestLoad_EmptyRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenant.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"token_type":"Bearer"}`), FilePerms))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "holds no token")
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenant.json")
	require.NoError(t, Save(path, &oauth2.Token{AccessToken: "a"}))
	require.NoError(t, os.WriteFile(LockPath(path), nil, FilePerms))

	existed, err := Remove(path)
	require.NoError(t, err)
	assert.True(t, existed)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	_, statErr = os.Stat(LockPath(path))
	assert.NoError(t, statErr, "lock file must survive")

	existed, err = Remove(path)
	require.NoError(t, err)
	assert.False(t, existed)
}

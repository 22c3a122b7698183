package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHomeDir_EnvOverride(t *testing.T) {
	t.Setenv(EnvHome, "/custom/spo")
	assert.Equal(t, "/custom/spo", HomeDir())
}

func TestHomeDir_Default(t *testing.T) {
	t.Setenv(EnvHome, "")

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".spo"), HomeDir())
}

func TestHomeDir_ExpandsTilde(t *testing.T) {
	t.Setenv(EnvHome, "~/elsewhere")

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "elsewhere"), HomeDir())
}

func TestCredentialsPath(t *testing.T) {
	t.Setenv(EnvHome, "/custom/spo")
	t.Setenv(EnvCredentialsFile, "")
	assert.Equal(t, "/custom/spo/credentials", CredentialsPath())

	t.Setenv(EnvCredentialsFile, "/etc/spo.toml")
	assert.Equal(t, "/etc/spo.toml", CredentialsPath())
}

func TestTokenPath(t *testing.T) {
	t.Setenv(EnvHome, "/custom/spo")
	assert.Equal(t, "/custom/spo/aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee.json",
		TokenPath("AAAAAAAA-BBBB-CCCC-DDDD-EEEEEEEEEEEE"))
	assert.Empty(t, TokenPath(""))
	assert.Empty(t, TokenPath("../x"))
	assert.Empty(t, TokenPath("aaaa"))
}

func TestOverridesMerge(t *testing.T) {
	cli := Overrides{ClientID: "cli"}
	env := Overrides{ClientID: "env", ClientSecret: "env-secret"}

	got := cli.Merge(env)
	assert.Equal(t, "cli", got.ClientID)
	assert.Equal(t, "env-secret", got.ClientSecret)
}

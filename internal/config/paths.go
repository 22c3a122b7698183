package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Home directory and credentials file names.
const (
	defaultHomeDir      = ".spo"
	credentialsFileName = "credentials"
	tokenFileExt        = ".json"
)

// DirPerms restricts the spo home directory to the owner.
const DirPerms = 0o700

// FilePerms restricts the credentials file to owner read/write.
const FilePerms = 0o600

// HomeDir returns the directory holding the credentials file and token
// records. SPO_HOME wins over ~/.spo. A leading "~/" in SPO_HOME is expanded.
// Returns "" if the user's home directory cannot be determined.
func HomeDir() string {
	if dir := os.Getenv(EnvHome); dir != "" {
		return expandTilde(dir)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, defaultHomeDir)
}

// CredentialsPath returns the Secret Store path: SPO_CREDENTIALS_FILE if set,
// otherwise <HomeDir>/credentials.
func CredentialsPath() string {
	if path := os.Getenv(EnvCredentialsFile); path != "" {
		return expandTilde(path)
	}

	dir := HomeDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, credentialsFileName)
}

// TokenPath returns the token record path for a tenant id, or "" when the
// home directory is unknown or the tenant id is not a GUID.
func TokenPath(tenantID string) string {
	dir := HomeDir()
	if dir == "" {
		return ""
	}

	id, err := uuid.Parse(tenantID)
	if err != nil {
		return ""
	}

	return filepath.Join(dir, id.String()+tokenFileExt)
}

func expandTilde(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

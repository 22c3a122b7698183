// Package tokenfile reads and writes OAuth2 token records: one JSON file per
// tenant id holding the oauth2.Token exactly as golang.org/x/oauth2 marshals
// it (access token, token type, refresh token, expiry).
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the token directory.
const DirPerms = 0o700

// LockSuffix names the sidecar file used to serialize writers. Save replaces
// the token file by rename, so the lock cannot live on the token file itself.
const LockSuffix = ".lock"

// LockPath returns the lease path guarding the token file at path.
func LockPath(path string) string {
	return path + LockSuffix
}

// Load reads a token record. Returns (nil, nil) if the file does not exist.
func Load(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("tokenfile: %s holds no token (re-run configure)", path)
	}

	return &tok, nil
}

// Save writes a token record atomically (temp file + fsync + rename) with
// 0600 permissions. Never logs token values.
func Save(path string, tok *oauth2.Token) error {
	if tok == nil {
		return fmt.Errorf("tokenfile: refusing to save nil token to %s", path)
	}

	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, mkErr)
	}

	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	// A crash between close and rename must not leave a partial record.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	success = true

	return nil
}

// Remove deletes the token record. A missing record is not an error.
// Returns whether a record existed. The lock file stays: a waiter may
// already hold it open, and unlinking it would let a third process lock a
// fresh inode alongside.
func Remove(path string) (bool, error) {
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("tokenfile: removing %s: %w", path, err)
	}

	return true, nil
}

// Package sessioncache persists an authenticated cookie jar between
// invocations. Entries live in the system temp directory, one file per
// (site, username, password) triple, encrypted with a key derived from the
// same triple. Every read failure is a cache miss.
package sessioncache

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// File layout: magic, one version byte, then a version-specific body.
//
//	v1: nonce(12) | AES-256-GCM ciphertext, key = SHA-256(site+password+username)
//	v2: salt(16) | nonce(24) | XChaCha20-Poly1305 ciphertext,
//	    key = HKDF-SHA256(site+password+username, salt)
//
// Save always writes v2. Load accepts both.
const (
	magic    = "SPOC"
	version1 = byte(1)
	version2 = byte(2)

	saltSize = 16
	hkdfInfo = "spo session cache v2"

	filePrefix = "cookies."
	filePerms  = 0o600
)

var (
	errBadMagic       = errors.New("sessioncache: not a session cache file")
	errUnknownVersion = errors.New("sessioncache: unknown format version")
	errTruncated      = errors.New("sessioncache: truncated file")
)

// Cache reads and writes entries under one directory.
type Cache struct {
	dir    string
	logger *slog.Logger
}

// New returns a cache rooted at dir. An empty dir means os.TempDir().
func New(dir string, logger *slog.Logger) *Cache {
	if dir == "" {
		dir = os.TempDir()
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Cache{dir: dir, logger: logger}
}

// PathFor returns the entry path for a credential triple. The name is the
// SHA-256 of "username|password|site" with the site's trailing slash
// removed, so it is stable and never exposes the inputs.
func (c *Cache) PathFor(site, username, password string) string {
	sum := sha256.Sum256([]byte(username + "|" + password + "|" + strings.TrimRight(site, "/")))

	return filepath.Join(c.dir, filePrefix+hex.EncodeToString(sum[:]))
}

// KeyMaterial is the secret the entry key is derived from.
func KeyMaterial(site, username, password string) []byte {
	return []byte(strings.TrimRight(site, "/") + password + username)
}

// Load decrypts the entry at path. ok is false on any failure: missing
// file, wrong key, unknown version or corrupt content.
func (c *Cache) Load(path string, material []byte) (State, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Debug("session cache unreadable", slog.String("path", path), slog.String("error", err.Error()))
		}

		return State{}, false
	}

	plain, err := decrypt(data, material)
	if err != nil {
		c.logger.Debug("session cache miss", slog.String("path", path), slog.String("error", err.Error()))

		return State{}, false
	}

	var st State
	if err := json.Unmarshal(plain, &st); err != nil {
		c.logger.Debug("session cache corrupt", slog.String("path", path), slog.String("error", err.Error()))

		return State{}, false
	}

	c.logger.Debug("session cache hit", slog.String("path", path), slog.Int("cookies", len(st.Cookies)))

	return st, true
}

// Save encrypts st and atomically replaces the entry at path.
func (c *Cache) Save(path string, material []byte, st State) error {
	plain, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("sessioncache: encoding state: %w", err)
	}

	data, err := encryptV2(plain, material)
	if err != nil {
		return err
	}

	if err := atomicWrite(path, data); err != nil {
		return err
	}

	c.logger.Debug("session cache saved", slog.String("path", path), slog.Int("cookies", len(st.Cookies)))

	return nil
}

// Remove deletes the entry at path. existed reports whether there was one.
func (c *Cache) Remove(path string) (existed bool, err error) {
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("sessioncache: removing %s: %w", path, err)
	}

	return true, nil
}

func decrypt(data, material []byte) ([]byte, error) {
	if len(data) < len(magic)+1 {
		return nil, errTruncated
	}

	if !bytes.Equal(data[:len(magic)], []byte(magic)) {
		return nil, errBadMagic
	}

	body := data[len(magic)+1:]

	switch data[len(magic)] {
	case version1:
		return decryptV1(body, material)
	case version2:
		return decryptV2(body, material)
	default:
		return nil, fmt.Errorf("%w: %d", errUnknownVersion, data[len(magic)])
	}
}

func gcmV1(material []byte) (cipher.AEAD, error) {
	key := sha256.Sum256(material)

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	return cipher.NewGCM(block)
}

func decryptV1(body, material []byte) ([]byte, error) {
	aead, err := gcmV1(material)
	if err != nil {
		return nil, err
	}

	if len(body) < aead.NonceSize() {
		return nil, errTruncated
	}

	nonce, ct := body[:aead.NonceSize()], body[aead.NonceSize():]

	return aead.Open(nil, nonce, ct, []byte{version1})
}

// encryptV1 is kept so entries written by older builds stay testable.
func encryptV1(plain, material []byte) ([]byte, error) {
	aead, err := gcmV1(material)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("sessioncache: generating nonce: %w", err)
	}

	out := append([]byte(magic), version1)
	out = append(out, nonce...)

	return aead.Seal(out, nonce, plain, []byte{version1}), nil
}

func aeadV2(material, salt []byte) (cipher.AEAD, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, material, salt, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("sessioncache: deriving key: %w", err)
	}

	return chacha20poly1305.NewX(key)
}

func decryptV2(body, material []byte) ([]byte, error) {
	if len(body) < saltSize+chacha20poly1305.NonceSizeX {
		return nil, errTruncated
	}

	salt := body[:saltSize]
	nonce := body[saltSize : saltSize+chacha20poly1305.NonceSizeX]
	ct := body[saltSize+chacha20poly1305.NonceSizeX:]

	aead, err := aeadV2(material, salt)
	if err != nil {
		return nil, err
	}

	return aead.Open(nil, nonce, ct, []byte{version2})
}

func encryptV2(plain, material []byte) ([]byte, error) {
	random := make([]byte, saltSize+chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(random); err != nil {
		return nil, fmt.Errorf("sessioncache: generating salt: %w", err)
	}

	salt, nonce := random[:saltSize], random[saltSize:]

	aead, err := aeadV2(material, salt)
	if err != nil {
		return nil, err
	}

	out := append([]byte(magic), version2)
	out = append(out, salt...)
	out = append(out, nonce...)

	return aead.Seal(out, nonce, plain, []byte{version2}), nil
}

// atomicWrite writes data to a temp file in the same directory, fsyncs and
// renames it over path.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".cookies-*.tmp")
	if err != nil {
		return fmt.Errorf("sessioncache: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()
	success := false

	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(filePerms); err != nil {
		return fmt.Errorf("sessioncache: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("sessioncache: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sessioncache: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("sessioncache: closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("sessioncache: renaming into place: %w", err)
	}

	success = true

	return nil
}

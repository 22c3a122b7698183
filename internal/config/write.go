package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/BurntSushi/toml"
)

// sectionHeaderPrefix starts every quoted section header written by Save.
// Unquoted headers are matched too (see isSectionHeader).
const sectionHeaderPrefix = "["

// credentialsTemplate is written once when the credentials file is created.
const credentialsTemplate = `# spo credentials
# One section per tenant or site domain; [default] is used when no section
# matches. Federated login uses username/password, OAuth2 uses
# client_id/client_secret/tenant_id.
`

// Save merges fields into the section for accountKey. Unrelated sections,
// comments and keys not present in fields are preserved. Empty fields are not
// written. The file is created (0600, parent directory 0700) if missing.
func (s *Store) Save(accountKey string, fields Record) error {
	s.logger.Info("saving credentials section",
		slog.String("path", s.path),
		slog.String("section", accountKey),
	)

	header, err := tomlQuote(accountKey)
	if err != nil {
		return fmt.Errorf("config: section name: %w", err)
	}

	kv := fields.pairs()
	newLines := make([]string, len(kv))

	for i, p := range kv {
		v, err := tomlQuote(p[1])
		if err != nil {
			return fmt.Errorf("config: %s: %w", p[0], err)
		}

		newLines[i] = p[0] + " = " + v
	}

	// Validate the existing file before editing it textually.
	if _, err := s.Sections(); err != nil {
		return err
	}

	data, err := os.ReadFile(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("config: reading %s: %w", s.path, err)
	}

	content := string(data)
	if content == "" {
		content = credentialsTemplate
	}

	lines := strings.Split(content, "\n")

	headerLine, sectionStart := findSectionHeader(lines, accountKey)
	if sectionStart < 0 {
		if !strings.HasSuffix(content, "\n") {
			content += "\n"
		}

		content += "\n[" + header + "]\n"
		lines = strings.Split(content, "\n")
		headerLine, sectionStart = findSectionHeader(lines, accountKey)
	}

	// Reverse order so inserted-after-header keys read in field order.
	for i := len(kv) - 1; i >= 0; i-- {
		lines = setKeyInSection(lines, headerLine, sectionStart, kv[i][0], newLines[i])
	}

	return atomicWriteFile(s.path, []byte(strings.Join(lines, "\n")))
}

// pairs returns the non-empty fields as key/value pairs in file order.
func (r Record) pairs() [][2]string {
	all := [][2]string{
		{"username", r.Username},
		{"password", r.Password},
		{"client_id", r.ClientID},
		{"client_secret", r.ClientSecret},
		{"tenant_id", r.TenantID},
	}

	out := all[:0]

	for _, p := range all {
		if p[1] != "" {
			out = append(out, p)
		}
	}

	return out
}

// isSectionHeader reports whether a trimmed line opens a table.
func isSectionHeader(trimmed string) bool {
	return strings.HasPrefix(trimmed, sectionHeaderPrefix) && strings.HasSuffix(trimmed, "]")
}

// findSectionHeader locates the header line of a section. Both the quoted
// form written by Save and a bare header (dotted or not) are recognized.
// Returns -1, -1 if the section is not present.
func findSectionHeader(lines []string, section string) (int, int) {
	bare := "[" + section + "]"

	quoted := bare
	if q, err := tomlQuote(section); err == nil {
		quoted = "[" + q + "]"
	}

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == quoted || trimmed == bare {
			return i, i + 1
		}
	}

	return -1, -1
}

// tomlQuote returns s as a TOML basic string, quoted the way the TOML
// encoder does. Invalid UTF-8 has no TOML representation and is rejected.
func tomlQuote(s string) (string, error) {
	if !utf8.ValidString(s) {
		return "", errors.New("value is not valid UTF-8")
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(map[string]string{"v": s}); err != nil {
		return "", err
	}

	_, quoted, _ := strings.Cut(strings.TrimSpace(buf.String()), " = ")

	return quoted, nil
}

// findSectionEnd returns the index of the first line after the section's own
// content. Blank lines and comments directly before the next header belong
// to that header.
func findSectionEnd(lines []string, sectionStart int) int {
	nextHeader := len(lines)

	for i := sectionStart; i < len(lines); i++ {
		if isSectionHeader(strings.TrimSpace(lines[i])) {
			nextHeader = i

			break
		}
	}

	end := nextHeader
	for end > sectionStart {
		trimmed := strings.TrimSpace(lines[end-1])
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			break
		}

		end--
	}

	return end
}

// setKeyInSection replaces an existing key line or inserts newLine directly
// after the section header.
func setKeyInSection(lines []string, headerLine, sectionStart int, key, newLine string) []string {
	sectionEnd := findSectionEnd(lines, sectionStart)
	keyPrefix := key + " "
	keyPrefixEq := key + "="

	for i := headerLine + 1; i < sectionEnd; i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, keyPrefix) || strings.HasPrefix(trimmed, keyPrefixEq) {
			lines[i] = newLine

			return lines
		}
	}

	inserted := make([]string, 0, len(lines)+1)
	inserted = append(inserted, lines[:headerLine+1]...)
	inserted = append(inserted, newLine)
	inserted = append(inserted, lines[headerLine+1:]...)

	return inserted
}

// atomicWriteFile writes data to a temp file next to path and renames it
// into place. The parent directory is created owner-only.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("config: creating directory %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, ".credentials-*.tmp")
	if err != nil {
		return fmt.Errorf("config: creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if err := f.Chmod(FilePerms); err != nil {
		f.Close()

		return fmt.Errorf("config: setting file permissions: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("config: writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("config: closing temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("config: renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}

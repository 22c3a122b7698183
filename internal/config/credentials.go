// Package config implements the spo Secret Store: a TOML credentials file
// with one section per tenant or site domain, environment and CLI overrides,
// a "default" fallback section, and tenant id discovery.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// DefaultSection is the fallback section used when no section matches the
// requested account key.
const DefaultSection = "default"

// ErrConfigurationMissing is returned when no usable credentials exist in
// overrides, the environment, or the credentials file.
var ErrConfigurationMissing = errors.New("config: configuration missing")

// MissingError names the file and section a user has to edit (or the flags
// to pass) to make credentials available.
type MissingError struct {
	Path    string
	Section string
	Key     string // set when the section exists but lacks this key
	Flags   string
}

func (e *MissingError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config: section [%q] in %s has no %s; edit it or specify %s",
			e.Section, e.Path, e.Key, e.Flags)
	}

	return fmt.Sprintf("config: add [%q] section to %s or specify %s", e.Section, e.Path, e.Flags)
}

func (e *MissingError) Unwrap() error {
	return ErrConfigurationMissing
}

// Record is one credentials file section. Federated cookie accounts use
// Username/Password; OAuth2 accounts use ClientID/ClientSecret/TenantID.
type Record struct {
	Username     string `toml:"username"`
	Password     string `toml:"password"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	TenantID     string `toml:"tenant_id"`
}

// UserCredentials are the resolved username/password for federated login.
type UserCredentials struct {
	Username string
	Password string
}

// ClientCredentials are the resolved OAuth2 application credentials.
// TenantID is empty when it could not be resolved; see HasTenantID.
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
	TenantID     string
}

// HasTenantID reports whether the tenant id is known.
func (c ClientCredentials) HasTenantID() bool {
	return c.TenantID != ""
}

// TenantResolver turns a human tenant name into a stable tenant id. A false
// result means "unknown", never an error.
type TenantResolver interface {
	ResolveTenantID(ctx context.Context, tenant string) (string, bool)
}

// Store reads and writes the credentials file.
type Store struct {
	path     string
	resolver TenantResolver
	logger   *slog.Logger
}

// NewStore returns a Store for the credentials file at path. resolver may be
// nil, in which case missing tenant ids stay unknown.
func NewStore(path string, resolver TenantResolver, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{path: path, resolver: resolver, logger: logger}
}

// Path returns the credentials file path.
func (s *Store) Path() string {
	return s.path
}

// Sections parses the credentials file. A missing file yields an empty map.
// A bare dotted header such as [contoso.sharepoint.com] names the same
// section as ["contoso.sharepoint.com"]. Unknown keys are rejected so a typo
// never silently drops a credential.
func (s *Store) Sections() (map[string]Record, error) {
	sections := make(map[string]Record)

	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return sections, nil
	}

	raw := make(map[string]any)
	if _, err := toml.DecodeFile(s.path, &raw); err != nil {
		return nil, fmt.Errorf("config: parsing %s (values must be quoted, e.g. client_id = \"abc\"): %w", s.path, err)
	}

	var problems []string
	collectSections(raw, "", sections, &problems)

	if len(problems) > 0 {
		sort.Strings(problems)

		return nil, fmt.Errorf("config: unknown keys in %s: %s", s.path, strings.Join(problems, ", "))
	}

	return sections, nil
}

// recordKeys are the keys a section may hold.
var recordKeys = map[string]bool{
	"username": true, "password": true, "client_id": true, "client_secret": true, "tenant_id": true,
}

// collectSections walks decoded tables. Any table holding plain values is a
// section named by its dotted path; intermediate tables produced by a bare
// dotted header only contribute their name.
func collectSections(table map[string]any, prefix string, out map[string]Record, problems *[]string) {
	for key, v := range table {
		name := key
		if prefix != "" {
			name = prefix + "." + key
		}

		sub, ok := v.(map[string]any)
		if !ok {
			// Values below a section are read by that section.
			if prefix == "" {
				*problems = append(*problems, name)
			}

			continue
		}

		rec, hasValues := sectionRecord(name, sub, problems)
		if hasValues {
			if _, dup := out[name]; dup {
				*problems = append(*problems, name+" (section defined twice)")
			}

			out[name] = rec
		}

		collectSections(sub, name, out, problems)
	}
}

func sectionRecord(name string, table map[string]any, problems *[]string) (Record, bool) {
	var rec Record

	found := false

	for key, v := range table {
		if _, isTable := v.(map[string]any); isTable {
			continue
		}

		found = true

		str, ok := v.(string)
		switch {
		case !recordKeys[key]:
			*problems = append(*problems, name+"."+key)
			continue
		case !ok:
			*problems = append(*problems, name+"."+key+" (not a string)")
			continue
		}

		switch key {
		case "username":
			rec.Username = str
		case "password":
			rec.Password = str
		case "client_id":
			rec.ClientID = str
		case "client_secret":
			rec.ClientSecret = str
		case "tenant_id":
			rec.TenantID = str
		}
	}

	return rec, found
}

// lookup returns the section for accountKey, falling back to DefaultSection.
func (s *Store) lookup(accountKey string) (Record, string, error) {
	sections, err := s.Sections()
	if err != nil {
		return Record{}, "", err
	}

	if rec, ok := sections[accountKey]; ok {
		return rec, accountKey, nil
	}

	if rec, ok := sections[DefaultSection]; ok {
		s.logger.Debug("using default credentials section",
			slog.String("account", accountKey),
		)

		return rec, DefaultSection, nil
	}

	return Record{}, "", nil
}

// LoadUser resolves username/password for accountKey (a site domain).
// Precedence: cli > environment > [accountKey] section > [default] section.
func (s *Store) LoadUser(accountKey string, cli Overrides) (UserCredentials, error) {
	o := cli.Merge(ReadEnvOverrides())
	if o.Username != "" && o.Password != "" {
		return UserCredentials{Username: o.Username, Password: o.Password}, nil
	}

	const flags = "--username and --password"

	rec, section, err := s.lookup(accountKey)
	if err != nil {
		return UserCredentials{}, err
	}

	if section == "" {
		return UserCredentials{}, &MissingError{Path: s.path, Section: accountKey, Flags: flags}
	}

	switch {
	case rec.Username == "":
		return UserCredentials{}, &MissingError{Path: s.path, Section: section, Key: "username", Flags: flags}
	case rec.Password == "":
		return UserCredentials{}, &MissingError{Path: s.path, Section: section, Key: "password", Flags: flags}
	}

	return UserCredentials{Username: rec.Username, Password: rec.Password}, nil
}

// LoadClient resolves OAuth2 client credentials for accountKey (a tenant
// domain). Precedence: cli > environment > [accountKey] > [default]. When no
// tenant id is configured anywhere it is discovered from the tenant name; a
// failed discovery leaves TenantID empty instead of failing.
func (s *Store) LoadClient(ctx context.Context, accountKey string, cli Overrides) (ClientCredentials, error) {
	o := cli.Merge(ReadEnvOverrides())
	if o.ClientID != "" && o.ClientSecret != "" {
		creds := ClientCredentials{ClientID: o.ClientID, ClientSecret: o.ClientSecret, TenantID: o.TenantID}

		return s.withTenantID(ctx, accountKey, creds), nil
	}

	const flags = "--client-id and --client-secret"

	rec, section, err := s.lookup(accountKey)
	if err != nil {
		return ClientCredentials{}, err
	}

	if section == "" {
		return ClientCredentials{}, &MissingError{Path: s.path, Section: accountKey, Flags: flags}
	}

	switch {
	case rec.ClientID == "":
		return ClientCredentials{}, &MissingError{Path: s.path, Section: section, Key: "client_id", Flags: flags}
	case rec.ClientSecret == "":
		return ClientCredentials{}, &MissingError{Path: s.path, Section: section, Key: "client_secret", Flags: flags}
	}

	creds := ClientCredentials{ClientID: rec.ClientID, ClientSecret: rec.ClientSecret, TenantID: o.TenantID}
	if creds.TenantID == "" {
		creds.TenantID = rec.TenantID
	}

	return s.withTenantID(ctx, accountKey, creds), nil
}

func (s *Store) withTenantID(ctx context.Context, tenant string, creds ClientCredentials) ClientCredentials {
	if creds.TenantID != "" || s.resolver == nil {
		return creds
	}

	if id, ok := s.resolver.ResolveTenantID(ctx, tenant); ok {
		creds.TenantID = id
	}

	return creds
}

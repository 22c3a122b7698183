// Package testutil provides shared environment helpers for the live-tenant
// E2E tests. It depends only on stdlib so that E2E tests (which cannot
// import internal/) can use it.
package testutil

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// AllowedTenantsEnv lists the SharePoint hosts E2E tests may touch.
const AllowedTenantsEnv = "SPO_ALLOWED_TEST_TENANTS"

// LoadDotEnv reads KEY=VALUE pairs from a .env file at the given path.
// Missing file is not an error (CI sets env vars directly).
// Existing env vars take precedence over .env values.
func LoadDotEnv(envPath string) {
	f, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// ValidateAllowlist crashes the process unless the host of the site URL in
// siteEnvVar is listed in SPO_ALLOWED_TEST_TENANTS.
func ValidateAllowlist(siteEnvVar string) {
	allowlist := os.Getenv(AllowedTenantsEnv)
	if allowlist == "" {
		fmt.Fprintf(os.Stderr, "FATAL: %s not set\n", AllowedTenantsEnv)
		fmt.Fprintln(os.Stderr, "Example: SPO_ALLOWED_TEST_TENANTS=contoso.sharepoint.com")
		os.Exit(1)
	}

	site := os.Getenv(siteEnvVar)

	u, err := url.Parse(site)
	if site == "" || err != nil || u.Host == "" {
		fmt.Fprintf(os.Stderr, "FATAL: %s=%q is not a site URL\n", siteEnvVar, site)
		os.Exit(1)
	}

	for _, a := range strings.Split(allowlist, ",") {
		if strings.EqualFold(strings.TrimSpace(a), u.Host) {
			return
		}
	}

	fmt.Fprintf(os.Stderr, "FATAL: %s is not in %s=%q\n", u.Host, AllowedTenantsEnv, allowlist)
	os.Exit(1)
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// FindTestCredentialDir locates .testdata/ relative to the module root.
// Crashes if the directory does not exist.
func FindTestCredentialDir(moduleRoot string) string {
	dir := filepath.Join(moduleRoot, ".testdata")

	if _, err := os.Stat(dir); err != nil {
		fmt.Fprintln(os.Stderr, "FATAL: .testdata/ directory not found at "+dir)
		fmt.Fprintln(os.Stderr, "Run 'spo configure' with SPO_HOME=.testdata to create test credentials.")
		os.Exit(1)
	}

	return dir
}

// TokenRecords returns the names of the token records (*.json) in dir.
func TokenRecords(dir string) []string {
	matches, _ := filepath.Glob(filepath.Join(dir, "*.json"))

	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, filepath.Base(m))
	}

	return names
}

// CopyFile copies a file from src to dst with the given permissions.
// Crashes on failure because tests cannot proceed without the file.
func CopyFile(src, dst string, perm os.FileMode) {
	data, err := os.ReadFile(src)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: cannot read %s: %v\n", src, err)
		os.Exit(1)
	}

	if writeErr := os.WriteFile(dst, data, perm); writeErr != nil {
		fmt.Fprintf(os.Stderr, "FATAL: writing %s: %v\n", dst, writeErr)
		os.Exit(1)
	}
}

//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/spo/testutil"
)

const siteEnv = "SPO_TEST_SITE"

var (
	binaryPath string
	site       string
	authMode   string
)

func TestMain(m *testing.M) {
	moduleRoot := testutil.FindModuleRoot("..")
	testutil.LoadDotEnv(filepath.Join(moduleRoot, ".env"))
	testutil.ValidateAllowlist(siteEnv)

	site = os.Getenv(siteEnv)

	authMode = os.Getenv("SPO_TEST_AUTH_MODE")
	if authMode == "" {
		authMode = "auto"
	}

	tmpDir, err := os.MkdirTemp("", "spo-e2e-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating temp dir: %v\n", err)
		os.Exit(1)
	}

	cleanup := setupIsolation(moduleRoot, tmpDir)

	binaryPath = filepath.Join(tmpDir, "spo")

	cmd := exec.Command("go", "build", "-o", binaryPath, ".")
	cmd.Dir = moduleRoot
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "building binary: %v\n", err)
		cleanup()
		os.Exit(1)
	}

	code := m.Run()

	cleanup()
	os.Exit(code)
}

// setupIsolation points SPO_HOME at a temp copy of .testdata/ so tests never
// touch the user's own credentials. The returned cleanup copies rotated
// token records back.
func setupIsolation(moduleRoot, tmpDir string) func() {
	credDir := testutil.FindTestCredentialDir(moduleRoot)
	home := filepath.Join(tmpDir, "home")

	if err := os.MkdirAll(home, 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: creating %s: %v\n", home, err)
		os.Exit(1)
	}

	testutil.CopyFile(filepath.Join(credDir, "credentials"), filepath.Join(home, "credentials"), 0o600)

	records := testutil.TokenRecords(credDir)
	for _, name := range records {
		testutil.CopyFile(filepath.Join(credDir, name), filepath.Join(home, name), 0o600)
	}

	os.Setenv("SPO_HOME", home)
	os.Unsetenv("SPO_CREDENTIALS_FILE")

	return func() {
		for _, name := range records {
			testutil.CopyFile(filepath.Join(home, name), filepath.Join(credDir, name), 0o600)
		}

		os.RemoveAll(tmpDir)
	}
}

func runCLI(t *testing.T, args ...string) (string, string) {
	t.Helper()

	stdout, stderr, err := runCLIErr(args...)
	if err != nil {
		t.Fatalf("spo %v failed: %v\nstdout: %s\nstderr: %s", args, err, stdout, stderr)
	}

	return stdout, stderr
}

func runCLIErr(args ...string) (string, string, error) {
	cmd := exec.Command(binaryPath, append([]string{"--auth-mode", authMode}, args...)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	return stdout.String(), stderr.String(), err
}

func TestE2E_Version(t *testing.T) {
	stdout, _ := runCLI(t, "version")
	assert.True(t, strings.HasPrefix(stdout, "spo "))
}

func TestE2E_Whoami(t *testing.T) {
	stdout, _ := runCLI(t, "whoami", "--json", site)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Contains(t, out, "user")

	switch out["mode"] {
	case "cookie":
		assert.Equal(t, true, out["session_valid"])
	case "oauth2":
		assert.Contains(t, out, "token")
		assert.NotEmpty(t, out["drives"])
	default:
		t.Fatalf("unexpected mode %v", out["mode"])
	}
}

// Several processes starting at once must all get a working session; at
// most one of them refreshes the token record or logs in.
func TestE2E_ConcurrentWhoami(t *testing.T) {
	const n = 4

	var wg sync.WaitGroup

	errs := make([]error, n)
	stderrs := make([]string, n)

	for i := range n {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, stderrs[i], errs[i] = runCLIErr("whoami", site)
		}()
	}

	wg.Wait()

	for i := range n {
		assert.NoError(t, errs[i], stderrs[i])
	}
}

func TestE2E_CookieSessionReused(t *testing.T) {
	if authMode != "cookie" {
		t.Skip("SPO_TEST_AUTH_MODE is not cookie")
	}

	runCLI(t, "whoami", site)

	_, stderr := runCLI(t, "whoami", "--verbose", site)
	assert.Contains(t, stderr, "reusing cached session")

	stdout, _ := runCLI(t, "logout", site)
	assert.Contains(t, stdout, "Removed")

	_, stderr = runCLI(t, "whoami", "--verbose", site)
	assert.NotContains(t, stderr, "reusing cached session")
}

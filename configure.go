package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tonimelisma/spo/internal/config"
	"github.com/tonimelisma/spo/internal/session"
)

var errNotTerminal = errors.New("configure needs an interactive terminal; edit the credentials file or use the SPO_* environment variables instead")

// stdinIsTerminal and newPrompter are variables so tests can script input.
var (
	stdinIsTerminal = func() bool {
		fd := os.Stdin.Fd()
		return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
	newPrompter = newTerminalPrompter
)

func newConfigureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "configure [domain]",
		Short: "Store and verify credentials for a SharePoint tenant",
		Long: `Prompt for the credentials of a SharePoint Online tenant, verify them and
save them to the credentials file.

With a user name and password a federated login is performed. With an
application client id and secret the browser is opened to authorize the
application and the resulting token record is saved.`,
		Args: maxArgs(1),
		RunE: runConfigure,
	}
}

// answers is what configure collected from the user.
type answers struct {
	domain string
	mode   session.Mode
	record config.Record
}

func runConfigure(cmd *cobra.Command, args []string) error {
	if !stdinIsTerminal() {
		return errNotTerminal
	}

	mode, err := authMode()
	if err != nil {
		return err
	}

	logger := buildLogger()
	ctx := cmd.Context()
	discovery := config.NewDiscovery(defaultHTTPClient(), logger)
	store := config.NewStore(config.CredentialsPath(), discovery, logger)

	var domain string
	if len(args) == 1 {
		domain = args[0]
	}

	a, err := collectAnswers(ctx, newPrompter(), discovery, domain, mode)
	if err != nil {
		return err
	}

	provider := newProvider(logger, store)

	if err := verifyAnswers(ctx, provider, a); err != nil {
		return err
	}

	if err := store.Save(a.domain, a.record); err != nil {
		return err
	}

	statusf(flagQuiet, "Saved [%q] to %s\n", a.domain, store.Path())

	return nil
}

// collectAnswers prompts for whatever the flags did not supply.
func collectAnswers(
	ctx context.Context, p *prompter, resolver config.TenantResolver, domain string, mode session.Mode,
) (answers, error) {
	var err error

	if domain == "" {
		if domain, err = p.ask("SharePoint domain (e.g. contoso.sharepoint.com)", ""); err != nil {
			return answers{}, err
		}
	}

	a := answers{mode: mode}

	if a.domain, err = normalizeDomain(domain); err != nil {
		return answers{}, err
	}

	if a.mode == session.ModeAuto {
		choice, err := p.ask("Sign in with (1) user name and password or (2) application client id and secret", "1")
		if err != nil {
			return answers{}, err
		}

		switch choice {
		case "1":
			a.mode = session.ModeFederatedCookie
		case "2":
			a.mode = session.ModeOAuth2Token
		default:
			return answers{}, fmt.Errorf("unknown choice %q", choice)
		}
	}

	if a.mode == session.ModeFederatedCookie {
		err = collectUser(p, &a.record)
	} else {
		err = collectClient(ctx, p, resolver, a.domain, &a.record)
	}

	return a, err
}

func collectUser(p *prompter, rec *config.Record) error {
	var err error

	if rec.Username, err = p.ask("User name", flagUsername); err != nil {
		return err
	}

	rec.Password = flagPassword
	if rec.Password == "" {
		if rec.Password, err = p.secret("Password"); err != nil {
			return err
		}
	}

	if rec.Username == "" || rec.Password == "" {
		return errors.New("user name and password are both required")
	}

	return nil
}

func collectClient(ctx context.Context, p *prompter, resolver config.TenantResolver, domain string, rec *config.Record) error {
	var err error

	if rec.ClientID, err = p.ask("Client id", flagClientID); err != nil {
		return err
	}

	rec.ClientSecret = flagClientSecret
	if rec.ClientSecret == "" {
		if rec.ClientSecret, err = p.secret("Client secret"); err != nil {
			return err
		}
	}

	if rec.ClientID == "" || rec.ClientSecret == "" {
		return errors.New("client id and client secret are both required")
	}

	rec.TenantID = flagTenantID
	if rec.TenantID == "" {
		if id, ok := resolver.ResolveTenantID(ctx, domain); ok {
			rec.TenantID = id
		} else if rec.TenantID, err = p.ask("Tenant id (not discoverable for "+domain+")", ""); err != nil {
			return err
		}
	}

	if _, err := uuid.Parse(rec.TenantID); err != nil {
		return fmt.Errorf("tenant id %q is not a GUID", rec.TenantID)
	}

	return nil
}

// verifyAnswers proves the credentials work before they are saved.
func verifyAnswers(ctx context.Context, provider *session.Provider, a answers) error {
	if a.mode == session.ModeFederatedCookie {
		s, err := provider.Login(ctx, session.FederatedCookie{
			Site:     "https://" + a.domain,
			Username: a.record.Username,
			Password: a.record.Password,
		})
		if err != nil {
			return fmt.Errorf("verifying credentials: %w", err)
		}

		s.Close()
		statusf(flagQuiet, "Signed in to %s.\n", a.domain)

		return nil
	}

	id := session.OAuth2Token{
		Tenant:       a.domain,
		TenantID:     a.record.TenantID,
		ClientID:     a.record.ClientID,
		ClientSecret: a.record.ClientSecret,
	}

	statusf(flagQuiet, "Opening the browser to authorize the application...\n")

	if err := provider.Authorize(ctx, id, openBrowser); err != nil {
		return fmt.Errorf("authorizing application: %w", err)
	}

	statusf(flagQuiet, "Authorized.\n")

	return nil
}

// normalizeDomain accepts "contoso", "contoso.sharepoint.com" or a URL and
// returns the host name.
func normalizeDomain(s string) (string, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s, _, _ = strings.Cut(s, "/")

	if s == "" {
		return "", usageError{errors.New("domain must not be empty")}
	}

	if !strings.Contains(s, ".") {
		s += ".sharepoint.com"
	}

	return s, nil
}

// prompter reads answers line by line. Secrets are read without echo.
type prompter struct {
	in         *bufio.Reader
	out        io.Writer
	readSecret func() (string, error)
}

func newTerminalPrompter() *prompter {
	fd := int(os.Stdin.Fd())

	return &prompter{
		in:  bufio.NewReader(os.Stdin),
		out: os.Stderr,
		readSecret: func() (string, error) {
			b, err := term.ReadPassword(fd)
			return string(b), err
		},
	}
}

// ask prints label and returns the trimmed answer, or def for an empty one.
func (p *prompter) ask(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}

	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("reading %s: %w", strings.ToLower(label), err)
	}

	if line = strings.TrimSpace(line); line == "" {
		return def, nil
	}

	return line, nil
}

func (p *prompter) secret(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)

	s, err := p.readSecret()
	fmt.Fprintln(p.out)

	if err != nil {
		return "", fmt.Errorf("reading %s: %w", strings.ToLower(label), err)
	}

	return s, nil
}

// openBrowser opens url in the default browser without waiting for it.
func openBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "linux", "freebsd", "openbsd":
		cmd = exec.Command("xdg-open", url)
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("opening browser: %w", err)
	}

	// Reap the child so it does not linger as a zombie.
	go func() { _ = cmd.Wait() }()

	return nil
}

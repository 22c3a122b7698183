package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/spo/internal/config"
	"github.com/tonimelisma/spo/internal/session"
	"github.com/tonimelisma/spo/internal/sessioncache"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagUsername     string
	flagPassword     string
	flagClientID     string
	flagClientSecret string
	flagTenantID     string
	flagAuthMode     string
	flagVerbose      bool
	flagQuiet        bool
)

// httpClientTimeout bounds tenant discovery requests. Session clients are
// bounded by the caller's context instead.
const httpClientTimeout = 30 * time.Second

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: httpClientTimeout}
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "spo",
		Short:   "SharePoint Online authentication helper",
		Long:    "Sign in to SharePoint Online with a federated account or an Azure AD application and keep the session fresh.",
		Version: version,
		// Silence Cobra's default error/usage printing; main reports errors.
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          unknownSubcommand,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	pf := cmd.PersistentFlags()
	pf.StringVarP(&flagUsername, "username", "u", "", "federated account user name")
	pf.StringVarP(&flagPassword, "password", "p", "", "federated account password")
	pf.StringVar(&flagClientID, "client-id", "", "Azure AD application client id")
	pf.StringVar(&flagClientSecret, "client-secret", "", "Azure AD application client secret")
	pf.StringVar(&flagTenantID, "tenant-id", "", "Azure AD tenant id (discovered when omitted)")
	pf.StringVar(&flagAuthMode, "auth-mode", "auto", "authentication mode: auto, cookie or oauth2")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newConfigureCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// buildLogger creates the slog.Logger for one command run. --quiet wins over
// --verbose.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// cliOverrides collects the credential flags. Environment variables and the
// credentials file are consulted by the store for anything left empty.
func cliOverrides() config.Overrides {
	return config.Overrides{
		Username:     flagUsername,
		Password:     flagPassword,
		ClientID:     flagClientID,
		ClientSecret: flagClientSecret,
		TenantID:     flagTenantID,
	}
}

// authMode parses --auth-mode.
func authMode() (session.Mode, error) {
	mode, err := session.ParseMode(flagAuthMode)
	if err != nil {
		return session.ModeAuto, usageError{err}
	}

	return mode, nil
}

// newStore opens the credentials file with tenant discovery enabled.
func newStore(logger *slog.Logger) *config.Store {
	discovery := config.NewDiscovery(defaultHTTPClient(), logger)

	return config.NewStore(config.CredentialsPath(), discovery, logger)
}

// newProvider wires the credentials store and session cache into a session
// provider.
func newProvider(logger *slog.Logger, store *config.Store) *session.Provider {
	return session.NewProvider(session.Options{
		Store:  store,
		Cache:  sessioncache.New("", logger),
		Logger: logger,
	})
}

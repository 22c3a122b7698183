package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/spo/internal/config"
	"github.com/tonimelisma/spo/internal/session"
)

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout <url>",
		Short: "Delete the saved token record and session cache for a tenant",
		Long: `Delete what spo keeps on disk for <url>: the OAuth2 token record of the
tenant and the cached cookie session of the site. Credentials in the
credentials file are left alone. With --auth-mode only that mode is
cleared.`,
		Args: exactArgs(1),
		RunE: runLogout,
	}
}

func runLogout(cmd *cobra.Command, args []string) error {
	logger := buildLogger()
	ctx := cmd.Context()

	mode, err := authMode()
	if err != nil {
		return err
	}

	target := args[0]
	if !strings.Contains(target, "://") {
		target = "https://" + strings.TrimRight(target, "/") + "/"
	}

	modes := []session.Mode{session.ModeOAuth2Token, session.ModeFederatedCookie}
	if mode != session.ModeAuto {
		modes = []session.Mode{mode}
	}

	provider := newProvider(logger, newStore(logger))

	var removed []string

	for _, m := range modes {
		id, err := provider.Resolve(ctx, target, m, cliOverrides())
		if err != nil {
			if mode == session.ModeAuto && nothingToForget(err) {
				logger.Debug("skipping mode", slog.String("mode", m.String()), slog.String("reason", err.Error()))
				continue
			}

			return err
		}

		paths, err := provider.Forget(ctx, id)
		if err != nil {
			return err
		}

		removed = append(removed, paths...)
	}

	if len(removed) == 0 {
		statusf(flagQuiet, "Nothing saved for %s.\n", target)
		return nil
	}

	for _, p := range removed {
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", p)
	}

	logger.Info("logout successful", slog.Int("removed", len(removed)))

	return nil
}

// nothingToForget reports whether a mode cannot have left anything on disk.
func nothingToForget(err error) bool {
	return errors.Is(err, config.ErrConfigurationMissing) ||
		errors.Is(err, session.ErrTenantIDUnknown) ||
		errors.Is(err, session.ErrUnsupportedSite)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/spo/internal/graph"
	"github.com/tonimelisma/spo/internal/session"
	"github.com/tonimelisma/spo/internal/sitepath"
	"github.com/tonimelisma/spo/internal/tokenlease"
)

var flagWhoamiJSON bool

func newWhoamiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami <url>",
		Short: "Sign in to a site and show who is authenticated",
		Long: `Acquire a session for the site or tenant at <url> and report the
authenticated identity. In oauth2 mode the site's document libraries and,
when <url> names a folder, the folder it resolves to are listed as well.`,
		Args: exactArgs(1),
		RunE: runWhoami,
	}

	cmd.Flags().BoolVar(&flagWhoamiJSON, "json", false, "output in JSON format")

	return cmd
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	Mode     string        `json:"mode"`
	Account  string        `json:"account"`
	Site     string        `json:"site,omitempty"`
	Valid    *bool         `json:"session_valid,omitempty"`
	Cookies  int           `json:"cookies,omitempty"`
	User     *whoamiUser   `json:"user,omitempty"`
	Token    *whoamiToken  `json:"token,omitempty"`
	Drives   []whoamiDrive `json:"drives,omitempty"`
	FolderID string        `json:"folder_id,omitempty"`
}

type whoamiUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

type whoamiToken struct {
	User     string    `json:"user,omitempty"`
	TenantID string    `json:"tenant_id,omitempty"`
	AppID    string    `json:"app_id,omitempty"`
	Expiry   time.Time `json:"expiry"`
	Waited   bool      `json:"waited_for_refresh,omitempty"`
}

type whoamiDrive struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	WebURL string `json:"web_url"`
}

func runWhoami(cmd *cobra.Command, args []string) error {
	logger := buildLogger()
	ctx := cmd.Context()
	target := args[0]

	mode, err := authMode()
	if err != nil {
		return err
	}

	provider := newProvider(logger, newStore(logger))

	id, err := provider.Resolve(ctx, target, mode, cliOverrides())
	if err != nil {
		return err
	}

	logger.Debug("whoami", slog.String("mode", id.Mode().String()), slog.String("account", id.AccountKey()))

	s, err := provider.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer s.Close()

	out := whoamiOutput{Mode: id.Mode().String(), Account: id.AccountKey()}

	switch v := id.(type) {
	case session.FederatedCookie:
		if err := describeCookieSession(ctx, s, v, &out); err != nil {
			return err
		}
	case session.OAuth2Token:
		if err := describeTokenSession(ctx, s, target, &out, logger); err != nil {
			return err
		}
	}

	if flagWhoamiJSON {
		return printWhoamiJSON(cmd.OutOrStdout(), out)
	}

	printWhoamiText(cmd.OutOrStdout(), out)

	return nil
}

func describeCookieSession(ctx context.Context, s *session.Session, id session.FederatedCookie, out *whoamiOutput) error {
	valid, err := s.Probe(ctx)
	if err != nil {
		return fmt.Errorf("probing session: %w", err)
	}

	out.Site = id.Site
	out.Valid = &valid
	out.Cookies = s.CookieCount()
	out.User = &whoamiUser{Email: id.Username}

	return nil
}

func describeTokenSession(ctx context.Context, s *session.Session, target string, out *whoamiOutput, logger *slog.Logger) error {
	client, err := s.Graph(graph.DefaultBaseURL)
	if err != nil {
		return err
	}

	user, err := client.Me(ctx)
	if err != nil {
		return fmt.Errorf("fetching user profile: %w", err)
	}

	out.User = &whoamiUser{ID: user.ID, DisplayName: user.DisplayName, Email: user.Email}

	if tok := s.Tokens().Current(); tok != nil {
		out.Token = &whoamiToken{Expiry: tok.Expiry, Waited: s.Tokens().Waited()}

		// App-only and v1 tokens may be opaque; claims are best effort.
		if claims, err := tokenlease.InspectAccessToken(tok.AccessToken); err == nil {
			out.Token.User = claims.User
			out.Token.TenantID = claims.TenantID
			out.Token.AppID = claims.AppID
		} else {
			logger.Debug("access token claims unavailable", slog.String("error", err.Error()))
		}
	}

	t, err := sitepath.SplitTenantURL(target)
	if err != nil {
		// A bare tenant names no site; the identity is all there is to show.
		return nil
	}

	site, err := client.Site(ctx, t.Tenant, t.SitePath())
	if err != nil {
		return fmt.Errorf("looking up site %s: %w", t.SiteURL(), err)
	}

	out.Site = site.WebURL

	drives, err := client.SiteDrives(ctx, site.ID)
	if err != nil {
		return fmt.Errorf("listing document libraries: %w", err)
	}

	for _, d := range drives {
		out.Drives = append(out.Drives, whoamiDrive{ID: d.ID, Name: d.Name, WebURL: d.WebURL})
	}

	if t.Path == "" {
		return nil
	}

	folder, err := sitepath.ResolveFolder(ctx, sitepath.NewGraphTree(client, site.ID), t.Path)
	if err != nil {
		return err
	}

	out.FolderID = folder.ID

	return nil
}

func printWhoamiJSON(w io.Writer, out whoamiOutput) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printWhoamiText(w io.Writer, out whoamiOutput) {
	fields := [][2]string{
		{"Mode", out.Mode},
		{"Account", out.Account},
		{"Site", out.Site},
	}

	if out.User != nil {
		fields = append(fields,
			[2]string{"User", out.User.Email},
			[2]string{"Name", out.User.DisplayName},
			[2]string{"ID", out.User.ID},
		)
	}

	if out.Valid != nil {
		state := "rejected"
		if *out.Valid {
			state = "valid"
		}

		fields = append(fields,
			[2]string{"Session", state},
			[2]string{"Cookies", fmt.Sprint(out.Cookies)},
		)
	}

	if out.Token != nil {
		if out.Token.Waited {
			fields = append(fields, [2]string{"Token", "refreshed by another process"})
		}

		fields = append(fields,
			[2]string{"Expires", formatExpiry(out.Token.Expiry, time.Now())},
			[2]string{"Tenant ID", out.Token.TenantID},
			[2]string{"App ID", out.Token.AppID},
		)
	}

	fields = append(fields, [2]string{"Folder ID", out.FolderID})

	printFields(w, fields)

	if len(out.Drives) == 0 {
		return
	}

	fmt.Fprintln(w)

	rows := make([][]string, 0, len(out.Drives))
	for _, d := range out.Drives {
		rows = append(rows, []string{d.Name, d.ID, d.WebURL})
	}

	printTable(w, []string{"LIBRARY", "ID", "URL"}, rows)
}

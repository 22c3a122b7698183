package config

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// DefaultDiscoveryBaseURL is the OpenID discovery host used to turn a tenant
// name into a tenant id.
const DefaultDiscoveryBaseURL = "https://login.windows.net"

// maxDiscoveryBody bounds how much of the discovery document is read.
const maxDiscoveryBody = 1 << 20

// Discovery resolves tenant ids through the OpenID configuration document
// published for <name>.onmicrosoft.com.
type Discovery struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewDiscovery returns a Discovery against the public endpoint.
func NewDiscovery(httpClient *http.Client, logger *slog.Logger) *Discovery {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Discovery{BaseURL: DefaultDiscoveryBaseURL, HTTPClient: httpClient, Logger: logger}
}

// ResolveTenantID maps "contoso.sharepoint.com" (or "contoso") to the tenant
// GUID. Any failure returns ("", false).
func (d *Discovery) ResolveTenantID(ctx context.Context, tenant string) (string, bool) {
	id, err := d.resolve(ctx, tenant)
	if err != nil {
		d.Logger.Debug("tenant id discovery failed",
			slog.String("tenant", tenant),
			slog.String("error", err.Error()),
		)

		return "", false
	}

	d.Logger.Debug("tenant id discovered",
		slog.String("tenant", tenant),
		slog.String("tenant_id", id),
	)

	return id, true
}

func (d *Discovery) resolve(ctx context.Context, tenant string) (string, error) {
	name, _, _ := strings.Cut(tenant, ".")
	if name == "" {
		return "", fmt.Errorf("empty tenant name")
	}

	endpoint := fmt.Sprintf("%s/%s.onmicrosoft.com/.well-known/openid-configuration",
		strings.TrimRight(d.BaseURL, "/"), url.PathEscape(name))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var doc struct {
		TokenEndpoint string `json:"token_endpoint"`
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDiscoveryBody)).Decode(&doc); err != nil {
		return "", fmt.Errorf("decoding discovery document: %w", err)
	}

	return TenantIDFromTokenEndpoint(doc.TokenEndpoint)
}

// TenantIDFromTokenEndpoint extracts the tenant id from a token endpoint such
// as https://login.windows.net/<tenant-id>/oauth2/token.
func TenantIDFromTokenEndpoint(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing token endpoint: %w", err)
	}

	segment, _, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")

	id, err := uuid.Parse(segment)
	if err != nil {
		return "", fmt.Errorf("token endpoint %q has no tenant id: %w", endpoint, err)
	}

	return id.String(), nil
}

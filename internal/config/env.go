package config

import "os"

// Environment variable names.
const (
	EnvHome            = "SPO_HOME"
	EnvCredentialsFile = "SPO_CREDENTIALS_FILE"
	EnvUsername        = "SPO_USERNAME"
	EnvPassword        = "SPO_PASSWORD"
	EnvClientID        = "SPO_CLIENT_ID"
	EnvClientSecret    = "SPO_CLIENT_SECRET"
	EnvTenantID        = "SPO_TENANT_ID"
)

// Overrides holds credential values supplied outside the credentials file.
// CLI flags and environment variables both produce an Overrides; empty fields
// mean "not specified".
type Overrides struct {
	Username     string
	Password     string
	ClientID     string
	ClientSecret string
	TenantID     string
}

// ReadEnvOverrides reads the SPO_* credential variables.
func ReadEnvOverrides() Overrides {
	return Overrides{
		Username:     os.Getenv(EnvUsername),
		Password:     os.Getenv(EnvPassword),
		ClientID:     os.Getenv(EnvClientID),
		ClientSecret: os.Getenv(EnvClientSecret),
		TenantID:     os.Getenv(EnvTenantID),
	}
}

// Merge returns o with every empty field filled from fallback. The receiver
// always wins, so CLI.Merge(env) gives flags precedence over the environment.
func (o Overrides) Merge(fallback Overrides) Overrides {
	pick := func(a, b string) string {
		if a != "" {
			return a
		}

		return b
	}

	return Overrides{
		Username:     pick(o.Username, fallback.Username),
		Password:     pick(o.Password, fallback.Password),
		ClientID:     pick(o.ClientID, fallback.ClientID),
		ClientSecret: pick(o.ClientSecret, fallback.ClientSecret),
		TenantID:     pick(o.TenantID, fallback.TenantID),
	}
}

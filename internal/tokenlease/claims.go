package tokenlease

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is what spo reports about an access token. The signature is not
// verified: the token is only ever sent back to the service that issued it.
type Claims struct {
	User     string
	Name     string
	TenantID string
	AppID    string
	Expiry   time.Time
}

// InspectAccessToken decodes the payload of a JWT access token.
func InspectAccessToken(accessToken string) (Claims, error) {
	mc := jwt.MapClaims{}

	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, mc); err != nil {
		return Claims{}, fmt.Errorf("tokenlease: access token is not a JWT: %w", err)
	}

	str := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := mc[k].(string); ok && v != "" {
				return v
			}
		}

		return ""
	}

	c := Claims{
		User:     str("upn", "preferred_username", "unique_name", "email"),
		Name:     str("name"),
		TenantID: str("tid"),
		AppID:    str("appid", "azp"),
	}

	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.Expiry = exp.Time
	}

	return c, nil
}

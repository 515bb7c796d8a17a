package domain

import "time"

// AuthScheme tags how a credential is presented to the platform.
type AuthScheme string

const (
	SchemeOAuth2       AuthScheme = "oauth2"
	SchemeAPIKey       AuthScheme = "api-key"
	SchemeWebhookToken AuthScheme = "webhook-token"
)

// Credential holds the per-integration auth state. At most one
// non-expired credential is active per integration; a refresh replaces
// the active credential, it never appends a second one.
type Credential struct {
	IntegrationID string     `json:"integration_id"`
	Scheme        AuthScheme `json:"scheme"`
	AccessToken   string     `json:"access_token"`
	RefreshToken  string     `json:"refresh_token,omitempty"`
	WebhookSecret string     `json:"webhook_secret,omitempty"`
	ExpiresAt     time.Time  `json:"expires_at"` // zero means the token does not expire
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ExpiresWithin reports whether the credential expires before now+margin.
// Tokens with a zero expiry never expire (Shopify offline tokens).
func (c *Credential) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !c.ExpiresAt.After(now.Add(margin))
}

// AuthHeader is the single normalized output of the credential manager:
// the HTTP header an adapter attaches to outgoing platform requests.
type AuthHeader struct {
	Name  string
	Value string
}

// Header renders the credential as a request header per its scheme.
func (c *Credential) Header() AuthHeader {
	switch c.Scheme {
	case SchemeOAuth2:
		return AuthHeader{Name: "Authorization", Value: "Bearer " + c.AccessToken}
	default:
		return AuthHeader{Name: "X-API-Key", Value: c.AccessToken}
	}
}

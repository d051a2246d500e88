// internal/models/adapter.go
package models

import (
	"encoding/json"
	"time"
)

// ProviderKind identifies one of the supported delivery providers.
type ProviderKind string

const (
	ProviderSES      ProviderKind = "ses"
	ProviderSMTP     ProviderKind = "smtp"
	ProviderSendGrid ProviderKind = "sendgrid"
	ProviderMailgun  ProviderKind = "mailgun"
	ProviderPostmark ProviderKind = "postmark"
	ProviderResend   ProviderKind = "resend"
)

// ProviderKinds lists every supported kind.
var ProviderKinds = []ProviderKind{
	ProviderSES, ProviderSMTP, ProviderSendGrid,
	ProviderMailgun, ProviderPostmark, ProviderResend,
}

// Valid reports whether k names a supported provider kind.
func (k ProviderKind) Valid() bool {
	for _, v := range ProviderKinds {
		if k == v {
			return true
		}
	}
	return false
}

// AdapterConfig is a team's configured binding to one delivery provider.
// Config is an opaque credential blob validated against the kind's field
// schema before the adapter may be activated or made default. At most one
// config per team is the default; deactivated adapters are never selected.
type AdapterConfig struct {
	ID        string          `json:"id"`
	TeamID    string          `json:"teamId"`
	Kind      ProviderKind    `json:"kind"`
	Name      string          `json:"name"`
	Config    json.RawMessage `json:"config"`
	IsDefault bool            `json:"isDefault"`
	IsActive  bool            `json:"isActive"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

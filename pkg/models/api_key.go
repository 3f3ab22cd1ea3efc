package models

import "time"

// API key status values.
const (
	KeyStatusDisabled = 0
	KeyStatusActive   = 1
)

// ApiKey is a tenant credential. Secrets are stored verbatim because key
// rotation must be able to hand the current value back to the holder; they
// are never serialized into responses.
type ApiKey struct {
	ID           int64      `db:"id"             json:"id"`
	Secret       string     `db:"secret"         json:"-"`
	Status       int        `db:"status"         json:"status"`
	IPWhitelist  string     `db:"ip_whitelist"   json:"-"`
	LastActionAt *time.Time `db:"last_action_at" json:"last_action_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at"     json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"     json:"updated_at"`
}

// Active reports whether the key may authenticate requests.
func (k *ApiKey) Active() bool {
	return k.Status == KeyStatusActive
}

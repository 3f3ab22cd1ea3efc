package models

import "time"

// TicketState is the lifecycle position of a verification ticket.
// Transitions are strictly pending -> verified -> used.
type TicketState string

const (
	TicketPending  TicketState = "pending"
	TicketVerified TicketState = "verified"
	TicketUsed     TicketState = "used"
)

// Ticket correlates one verification request with its eventual outcome.
// The token is the opaque handle given to the client; the code is the
// short single-use credential issued once the challenge is solved.
type Ticket struct {
	ID         int64       `db:"id"           json:"id"`
	Token      string      `db:"token"        json:"token"`
	OwnerKeyID int64       `db:"owner_key_id" json:"owner_key_id"`
	GroupID    string      `db:"group_id"     json:"group_id"`
	UserID     string      `db:"user_id"      json:"user_id"`
	Code       string      `db:"code"         json:"-"`
	State      TicketState `db:"state"        json:"state"`
	IP         string      `db:"ip"           json:"ip"`
	UserAgent  string      `db:"user_agent"   json:"user_agent"`
	CreatedAt  time.Time   `db:"created_at"   json:"created_at"`
	ExpireAt   time.Time   `db:"expire_at"    json:"expire_at"`
	VerifiedAt *time.Time  `db:"verified_at"  json:"verified_at,omitempty"`
	UsedAt     *time.Time  `db:"used_at"      json:"used_at,omitempty"`
}

// Expired reports whether the ticket is past its window at the given instant.
func (t *Ticket) Expired(now time.Time) bool {
	return !t.ExpireAt.After(now)
}

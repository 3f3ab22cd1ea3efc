package models

import "time"

// CallLog is an audit row for one API request. Rows are written after the
// response has been sent and never influence request handling.
type CallLog struct {
	ID         int64     `db:"id"          json:"id"`
	ApiKeyID   int64     `db:"api_key_id"  json:"api_key_id"`
	Endpoint   string    `db:"endpoint"    json:"endpoint"`
	Method     string    `db:"method"      json:"method"`
	StatusCode int       `db:"status_code" json:"status_code"`
	GroupID    string    `db:"group_id"    json:"group_id"`
	UserID     string    `db:"user_id"     json:"user_id"`
	Ticket     string    `db:"ticket"      json:"ticket"`
	Code       string    `db:"code"        json:"code"`
	IP         string    `db:"ip"          json:"ip"`
	UserAgent  string    `db:"user_agent"  json:"user_agent"`
	DurationMs int64     `db:"duration_ms" json:"duration_ms"`
	CreatedAt  time.Time `db:"created_at"  json:"created_at"`
}

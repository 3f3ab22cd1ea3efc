package models

import "time"

// Setting is a dynamic configuration row. Only whitelisted names are ever
// written; values override environment defaults at read time.
type Setting struct {
	ID        int64     `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	Value     string    `db:"value"      json:"value"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

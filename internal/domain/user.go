package domain

import "time"

// User carries the credit balance consumed by repository ingestion.
// Identity and session management live in an external layer; this core
// only reads and debits the balance.
type User struct {
	ID        string    `json:"id"         db:"id"`
	Email     string    `json:"email"      db:"email"`
	Name      string    `json:"name"       db:"name"`
	Credits   int       `json:"credits"    db:"credits"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

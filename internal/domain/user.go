// Package domain holds the ledger entities acted on by bulk commands.
package domain

import "time"

// User is a ledger participant.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// Package models defines the persisted records of the custody and recovery
// subsystem. The server stores sealed blobs only; no plaintext key material
// ever appears in these rows.
package models

import "time"

// User is the minimal account record the custody core needs: recovery resolves
// users by username, everything else keys off the ID supplied by the identity
// collaborator.
type User struct {
	ID        string
	Username  string
	CreatedAt time.Time
}

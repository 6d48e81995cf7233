package entity

import "time"

// User conta que solicita emissões de NFS-e.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	CreatedAt    time.Time
}

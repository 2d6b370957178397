package domain

import "time"

type UserRole string

const (
	RoleOwner   UserRole = "owner"
	RolePartner UserRole = "partner"
)

// User is a chat user allowed to manage the list
type User struct {
	ID         int64
	TelegramID int64
	Name       string
	Role       UserRole
	Digest     bool // Receives the morning digest
	CreatedAt  time.Time
}

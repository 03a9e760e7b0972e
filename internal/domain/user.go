package domain

import (
	"time"

	"github.com/google/uuid"
)

// User owns exactly one documents folder in object storage and one vector
// index namespace, both keyed by the user ID.
type User struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Email        string    `gorm:"uniqueIndex;not null" json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `gorm:"not null" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Namespace is the vector index isolation boundary for this user.
func (u *User) Namespace() string {
	return u.ID.String()
}

// RootFolder is the user's documents folder in object storage, always with a
// trailing separator.
func (u *User) RootFolder() string {
	return u.ID.String() + "/"
}

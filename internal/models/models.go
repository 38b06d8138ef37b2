package models

import (
	"time"
)

const (
	RoleUser  = "User"
	RoleAdmin = "Admin"
)

type User struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string    `gorm:"unique;not null"          json:"username"`
	Email        string    `gorm:"not null"                 json:"email"`
	PasswordHash string    `gorm:"not null"                 json:"-"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Role         string    `gorm:"not null"                 json:"role"`
	IsActive     bool      `gorm:"default:true"             json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// RefreshToken rows are never deleted. Revocation, explicit or via rotation,
// flips Revoked exactly once; the row stays behind for audit.
type RefreshToken struct {
	ID          uint      `gorm:"primaryKey"      json:"id"`
	Token       string    `gorm:"unique;not null" json:"token"`
	UserID      uint      `gorm:"index;not null"  json:"user_id"`
	ExpiresAt   time.Time `gorm:"not null"        json:"expires_at"`
	Revoked     bool      `gorm:"default:false"   json:"revoked"`
	CreatedAt   time.Time `json:"created_at"`
	CreatedByIP string    `json:"created_by_ip"`
}

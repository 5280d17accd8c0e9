package auth

import "time"

type Role string

const (
	RoleCarrier    Role = "carrier"
	RoleDispatcher Role = "dispatcher"
)

// Account is the domain representation of an authenticated session owner.
// It mirrors the carrier_accounts table and should not include JSON
// annotations so it can be reused by different presentation layers.
type Account struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	CarrierID    *string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains account registration data supplied by callers.
type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FullName  string `json:"full_name"`
	CarrierID string `json:"carrier_id"`
	Role      Role   `json:"role"`
}

// LoginRequest contains account login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

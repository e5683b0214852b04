package models

import (
	"fmt"
	"strings"
	"time"
)

// Role tags a marketplace account as a buyer or a farmer.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleFarmer Role = "farmer"
)

// ParseRole accepts only the two marketplace roles.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleBuyer:
		return RoleBuyer, nil
	case RoleFarmer:
		return RoleFarmer, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// User is an account from the identity directory.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

package models

import "github.com/golang-jwt/jwt/v5"

// UserRole enumerates operator roles for role-gated operations.
type UserRole string

const (
	RoleAdmin      UserRole = "ADMIN"
	RoleSupervisor UserRole = "SUPERVISOR"
	RoleStaff      UserRole = "STAFF"
)

// JWTClaims represents the JWT payload for access tokens issued by the
// external identity provider.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}

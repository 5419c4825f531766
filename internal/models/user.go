package models

import "time"

// User represents a user in the system
type User struct {
	ID             int64     `json:"id" dynamodbav:"id"`             // Primary Key
	Username       string    `json:"username" dynamodbav:"username"` // Unique username
	FirstName      string    `json:"first_name" dynamodbav:"first_name"`
	LastName       string    `json:"last_name" dynamodbav:"last_name"`
	Email          string    `json:"email" dynamodbav:"email"`       // Unique email
	HashedPassword string    `json:"-" dynamodbav:"hashed_password"` // bcrypt hash (never in JSON)
	Role           string    `json:"role" dynamodbav:"role"`         // free-form, not enforced
	CreatedAt      time.Time `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// CreateUserRequest represents account creation payload
type CreateUserRequest struct {
	Username  string `json:"username" validate:"required,min=3,max=50"`
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
	Role      string `json:"role" validate:"required,max=50"`
}

// TokenRequest represents the OAuth2 password-grant style form
type TokenRequest struct {
	Username string `json:"username" form:"username" validate:"required"`
	Password string `json:"password" form:"password" validate:"required"`
}

// TokenResponse represents a successful token issuance
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"` // seconds
}

// ChangePasswordRequest represents a password change payload
type ChangePasswordRequest struct {
	Password string `json:"password" validate:"required,min=8,max=72"`
}

package models

import "time"

// User is a registered account. Username and email are unique.
type User struct {
	ID           string         `json:"id" bson:"_id"`
	Username     string         `json:"username" bson:"username"`
	Email        string         `json:"email" bson:"email"`
	PasswordHash string         `json:"-" bson:"password_hash"`
	IsActive     bool           `json:"is_active" bson:"is_active"`
	CreatedAt    time.Time      `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" bson:"updated_at"`
	LastLogin    *time.Time     `json:"last_login,omitempty" bson:"last_login,omitempty"`
	Preferences  map[string]any `json:"preferences,omitempty" bson:"preferences,omitempty"`
}

// TokenPair is the access/refresh pair issued on login and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

package models

import (
	"net/mail"
	"strings"
)

type User struct {
	ID                string `json:"id" bson:"id"`
	Username          string `json:"username" bson:"username"`
	Email             string `json:"email" bson:"email"`
	Phone             string `json:"phone" bson:"phone"`
	DOB               string `json:"dob" bson:"dob"`
	Gender            string `json:"gender" bson:"gender"`
	ProfilePictureURL string `json:"profilePictureUrl" bson:"profilePictureUrl"`
	ProfileThumbURL   string `json:"profileThumbnailUrl,omitempty" bson:"profileThumbnailUrl,omitempty"`
	CreatedAt         string `json:"createdAt" bson:"createdAt"`
}

// Credential keeps the password hash out of the public user document.
type Credential struct {
	UserID       string `json:"userId" bson:"userId"`
	Email        string `json:"email" bson:"email"`
	PasswordHash string `json:"passwordHash" bson:"passwordHash"`
}

type PasswordReset struct {
	UserID    string `json:"userId" bson:"userId"`
	Email     string `json:"email" bson:"email"`
	ExpiresAt string `json:"expiresAt" bson:"expiresAt"`
}

// ProfileUpdate carries the editable profile fields. Empty strings are left unchanged.
type ProfileUpdate struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	DOB      string `json:"dob"`
	Gender   string `json:"gender"`
}

// NormalizeEmail is the form emails are stored and looked up in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func ValidEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email && !strings.Contains(email, "/")
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// CyberSherlockProfile is the first-party profile. Hash is the argon2 digest
// of the user's password; it is never serialized to JSON responses.
type CyberSherlockProfile struct {
	UserID        string  `json:"user_id"`
	Name          string  `json:"name"`
	Email         *string `json:"email,omitempty"`
	EmailVerified bool    `json:"email_verified"`
	Phone         *string `json:"phone,omitempty"`
	PhoneVerified bool    `json:"phone_verified"`
	Picture       *string `json:"picture,omitempty"`
	Hash          string  `json:"-"`
}

type GoogleProfile struct {
	UserID        string  `json:"user_id"`
	Name          string  `json:"name"`
	Email         string  `json:"email"`
	EmailVerified bool    `json:"email_verified"`
	Picture       *string `json:"picture,omitempty"`
}

type FacebookProfile struct {
	UserID  string  `json:"user_id"`
	Name    string  `json:"name"`
	Email   *string `json:"email,omitempty"`
	Picture *string `json:"picture,omitempty"`
}

// UserProfile is the sum over provider-shaped profiles. Each variant knows its
// provider tag and its provider-scoped user id.
type UserProfile interface {
	Provider() AuthProvider
	ProviderUserID() string
}

func (CyberSherlockProfile) Provider() AuthProvider { return ProviderCyberSherlock }
func (GoogleProfile) Provider() AuthProvider        { return ProviderGoogle }
func (FacebookProfile) Provider() AuthProvider      { return ProviderFacebook }

func (p CyberSherlockProfile) ProviderUserID() string { return p.UserID }
func (p GoogleProfile) ProviderUserID() string        { return p.UserID }
func (p FacebookProfile) ProviderUserID() string      { return p.UserID }

// User joins all provider profiles under one stable id. At least one profile
// slot is populated and ActiveProfile points at a populated slot. JSON
// marshaling of a User is the outward shape (responses, cache); the password
// hash never appears in it.
type User struct {
	ID            string                `json:"id"`
	ActiveProfile AuthProvider          `json:"active_profile"`
	CyberSherlock *CyberSherlockProfile `json:"cybersherlock,omitempty"`
	Google        *GoogleProfile        `json:"google,omitempty"`
	Facebook      *FacebookProfile      `json:"facebook,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

func NewUser(profile UserProfile) User {
	now := time.Now().UTC()
	user := User{
		ID:            GenerateUserID(),
		ActiveProfile: profile.Provider(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	user.SetProfile(profile)
	return user
}

// SetProfile fills the slot matching the profile's provider. Other providers'
// slots are left untouched.
func (u *User) SetProfile(profile UserProfile) {
	switch p := profile.(type) {
	case CyberSherlockProfile:
		u.CyberSherlock = &p
	case GoogleProfile:
		u.Google = &p
	case FacebookProfile:
		u.Facebook = &p
	}
}

func GenerateUserID() string { return uuid.NewString() }

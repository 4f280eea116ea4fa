package domain

import (
	"crypto/rand"
	"math/big"
	"time"

	"github.com/google/uuid"
)

const sessionIDLength = 64

const sessionIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// SessionMetadata is captured once when a session is created and carried
// unchanged through upgrades.
type SessionMetadata struct {
	UserAgent string `json:"user_agent,omitempty"`
	Host      string `json:"host,omitempty"`
}

// Session lives in the cache only. When Anonymous is true, UserID is a
// placeholder that never resolves to a stored user and Tokens is empty.
type Session struct {
	ID           string          `json:"id"`
	Anonymous    bool            `json:"anonymous"`
	AuthProvider AuthProvider    `json:"auth_provider"`
	UserID       string          `json:"user_id"`
	Tokens       SessionTokens   `json:"tokens"`
	Metadata     SessionMetadata `json:"metadata"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type NewSessionData struct {
	Anonymous    bool
	AuthProvider AuthProvider
	UserID       string
	Tokens       SessionTokens
	Metadata     SessionMetadata
}

func NewSession(data NewSessionData) Session {
	now := time.Now().UTC()
	return Session{
		ID:           GenerateSessionID(),
		Anonymous:    data.Anonymous,
		AuthProvider: data.AuthProvider,
		UserID:       data.UserID,
		Tokens:       data.Tokens,
		Metadata:     data.Metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// NewAnonymousSession anchors pre-authentication state (PKCE verifier, CSRF
// state) to a client before any identity is known. The placeholder user id is
// never inserted into storage.
func NewAnonymousSession(metadata SessionMetadata) Session {
	return NewSession(NewSessionData{
		Anonymous:    true,
		AuthProvider: ProviderCyberSherlock,
		UserID:       uuid.NewString(),
		Tokens:       EmptyTokens(),
		Metadata:     metadata,
	})
}

func (s Session) IsAnonymous() bool { return s.Anonymous }

// GenerateSessionID follows the OWASP session id entropy recommendation:
// 64 characters drawn from crypto/rand.
func GenerateSessionID() string {
	max := big.NewInt(int64(len(sessionIDAlphabet)))
	id := make([]byte, sessionIDLength)
	for i := range id {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err) // crypto/rand failure is unrecoverable
		}
		id[i] = sessionIDAlphabet[n.Int64()]
	}
	return string(id)
}

// Cache key conventions, reproduced bit-for-bit for compatibility.

func SessionKey(sessionID string) string { return "session::" + sessionID }

func UserSessionsKey(userID string) string { return "user::sessions::" + userID }

func UserKey(userID string) string { return "user::" + userID }

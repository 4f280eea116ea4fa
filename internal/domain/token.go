package domain

import "time"

// Token is a provider-issued token string with an optional expiry. Expire is
// nil for tokens the issuer never expires (Google keeps a refresh token alive
// until the user revokes it).
type Token struct {
	TokenString string     `json:"token_string"`
	Expire      *time.Time `json:"expire,omitempty"`
}

// SessionTokens holds up to three semantically distinct tokens. Google issues
// an ID token (a verifiable JWT, kept in the access slot) plus an opaque API
// access token, which lands in ExtraToken.
type SessionTokens struct {
	AccessToken  *Token `json:"access_token,omitempty"`
	RefreshToken *Token `json:"refresh_token,omitempty"`
	ExtraToken   *Token `json:"extra_token,omitempty"`
}

// Merge overlays the non-nil tokens of incoming onto s. A previously granted
// refresh token survives an exchange that omitted one.
func (s *SessionTokens) Merge(incoming SessionTokens) SessionTokens {
	if incoming.AccessToken != nil {
		s.AccessToken = incoming.AccessToken
	}
	if incoming.RefreshToken != nil {
		s.RefreshToken = incoming.RefreshToken
	}
	if incoming.ExtraToken != nil {
		s.ExtraToken = incoming.ExtraToken
	}
	return *s
}

// IsCompleted reports whether the token set satisfies the provider's minimum
// contract. Google omits the refresh token on repeat consent, which is exactly
// the case this check exists to detect.
func (s SessionTokens) IsCompleted(provider AuthProvider) bool {
	switch provider {
	case ProviderGoogle:
		return s.AccessToken != nil && s.RefreshToken != nil && s.ExtraToken != nil
	case ProviderFacebook:
		return s.AccessToken != nil
	default:
		return s.AccessToken != nil && s.RefreshToken != nil
	}
}

func EmptyTokens() SessionTokens { return SessionTokens{} }

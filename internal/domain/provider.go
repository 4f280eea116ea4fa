package domain

import "fmt"

// AuthProvider tags a session or profile with the identity provider that
// produced it. The tag is immutable for the lifetime of the entity.
type AuthProvider string

const (
	ProviderCyberSherlock AuthProvider = "cybersherlock"
	ProviderGoogle        AuthProvider = "google"
	ProviderFacebook      AuthProvider = "facebook"
)

func ParseAuthProvider(s string) (AuthProvider, error) {
	switch AuthProvider(s) {
	case ProviderCyberSherlock, ProviderGoogle, ProviderFacebook:
		return AuthProvider(s), nil
	}
	return "", fmt.Errorf("unknown auth provider %q", s)
}

func (p AuthProvider) String() string { return string(p) }

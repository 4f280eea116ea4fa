package usecase

import (
	"context"

	"github.com/example/cs-auth-service/internal/domain"
	"github.com/example/cs-auth-service/internal/provider/facebook"
	"github.com/example/cs-auth-service/internal/provider/google"
)

// The concrete providers return their own profile types; these wrappers lift
// them to domain.UserProfile so the orchestrator stays provider-agnostic.

type GoogleFlow struct{ *google.Provider }

func (f GoogleFlow) FetchProfile(ctx context.Context, tokens domain.SessionTokens) (domain.UserProfile, error) {
	profile, err := f.Provider.FetchProfile(ctx, tokens)
	if err != nil {
		return nil, err
	}
	return profile, nil
}

type FacebookFlow struct{ *facebook.Provider }

func (f FacebookFlow) FetchProfile(ctx context.Context, tokens domain.SessionTokens) (domain.UserProfile, error) {
	profile, err := f.Provider.FetchProfile(ctx, tokens)
	if err != nil {
		return nil, err
	}
	return profile, nil
}

package usecase

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/example/cs-auth-service/config"
	"github.com/example/cs-auth-service/internal/adapters/cache"
	"github.com/example/cs-auth-service/internal/adapters/storage"
	"github.com/example/cs-auth-service/internal/domain"
)

// UserReconciler joins provider-shaped profiles into stored users. One user
// row carries up to one profile per provider; reconciliation is last write
// wins on the slot matching the incoming profile's provider.
type UserReconciler struct {
	repo   storage.UserRepository
	store  cache.Store
	cfg    *config.Config
	logger zerolog.Logger
}

func NewUserReconciler(repo storage.UserRepository, store cache.Store, cfg *config.Config, logger zerolog.Logger) *UserReconciler {
	return &UserReconciler{repo: repo, store: store, cfg: cfg, logger: logger}
}

// FindByProfile resolves the stored user owning this provider-scoped identity,
// or nil when none does.
func (r *UserReconciler) FindByProfile(ctx context.Context, profile domain.UserProfile) (*domain.User, error) {
	user, err := r.repo.FindByProviderUserID(ctx, profile.Provider(), profile.ProviderUserID())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// FindByIdentifier is the credential-login lookup over the first-party slot.
func (r *UserReconciler) FindByIdentifier(ctx context.Context, email, phone *string) (*domain.User, error) {
	user, err := r.repo.FindByEmailOrPhone(ctx, email, phone)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Upsert writes the profile into its slot on the owning user, creating the
// user when the provider identity is new. The cached copy is refreshed after
// every write.
func (r *UserReconciler) Upsert(ctx context.Context, profile domain.UserProfile) (*domain.User, error) {
	user, err := r.FindByProfile(ctx, profile)
	if err != nil {
		return nil, err
	}
	if user == nil {
		created := domain.NewUser(profile)
		if err := r.repo.Create(ctx, &created); err != nil {
			return nil, err
		}
		user = &created
	} else {
		user.SetProfile(profile)
		user.ActiveProfile = profile.Provider()
		if err := r.repo.Update(ctx, user); err != nil {
			return nil, err
		}
	}
	r.cacheUser(ctx, user)
	return user, nil
}

// GetByID reads through the cache; storage is only touched on a miss.
func (r *UserReconciler) GetByID(ctx context.Context, id string) (*domain.User, error) {
	raw, ok, err := r.store.Get(ctx, domain.UserKey(id))
	if err == nil && ok {
		var cached domain.User
		if err := cache.Unmarshal(raw, &cached); err == nil {
			return &cached, nil
		}
	}
	user, err := r.repo.FindByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.cacheUser(ctx, user)
	return user, nil
}

// cacheUser failures are logged and swallowed; the cache is an accelerator,
// storage stays authoritative.
func (r *UserReconciler) cacheUser(ctx context.Context, user *domain.User) {
	value, err := cache.Marshal(user)
	if err != nil {
		r.logger.Warn().Err(err).Str("user_id", user.ID).Msg("could not marshal user for cache")
		return
	}
	if err := r.store.SetWithTTL(ctx, domain.UserKey(user.ID), value, r.cfg.SessionTTL); err != nil {
		r.logger.Warn().Err(err).Str("user_id", user.ID).Msg("could not cache user")
	}
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/example/cs-auth-service/internal/domain"
)

// ErrNotFound hides the storage engine's own not-found sentinel from callers.
var ErrNotFound = errors.New("user not found")

// UserRepository is the persistent side of user reconciliation. Profile slots
// are stored as jsonb documents, so provider-scoped lookups go through jsonb
// path expressions.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	FindByID(ctx context.Context, id string) (*domain.User, error)
	FindByProviderUserID(ctx context.Context, provider domain.AuthProvider, providerUserID string) (*domain.User, error)
	FindByEmailOrPhone(ctx context.Context, email, phone *string) (*domain.User, error)
	Update(ctx context.Context, user *domain.User) error
}

// userRecord is the persistence shape of a user. It differs from domain.User
// in exactly one way: the first-party slot persists the password hash, which
// the domain type's JSON form withholds from responses and the cache.
type userRecord struct {
	ID            string                  `gorm:"type:uuid;primaryKey"`
	ActiveProfile string                  `gorm:"type:text;not null"`
	CyberSherlock *cyberSherlockRecord    `gorm:"type:jsonb;serializer:json"`
	Google        *domain.GoogleProfile   `gorm:"type:jsonb;serializer:json"`
	Facebook      *domain.FacebookProfile `gorm:"type:jsonb;serializer:json"`
	CreatedAt     time.Time               `gorm:"autoCreateTime"`
	UpdatedAt     time.Time               `gorm:"autoUpdateTime"`
}

func (userRecord) TableName() string { return "auth_user" }

type cyberSherlockRecord struct {
	UserID        string  `json:"user_id"`
	Name          string  `json:"name"`
	Email         *string `json:"email,omitempty"`
	EmailVerified bool    `json:"email_verified"`
	Phone         *string `json:"phone,omitempty"`
	PhoneVerified bool    `json:"phone_verified"`
	Picture       *string `json:"picture,omitempty"`
	Hash          string  `json:"hash"`
}

func toRecord(user *domain.User) *userRecord {
	record := &userRecord{
		ID:            user.ID,
		ActiveProfile: string(user.ActiveProfile),
		Google:        user.Google,
		Facebook:      user.Facebook,
		CreatedAt:     user.CreatedAt,
		UpdatedAt:     user.UpdatedAt,
	}
	if p := user.CyberSherlock; p != nil {
		record.CyberSherlock = &cyberSherlockRecord{
			UserID:        p.UserID,
			Name:          p.Name,
			Email:         p.Email,
			EmailVerified: p.EmailVerified,
			Phone:         p.Phone,
			PhoneVerified: p.PhoneVerified,
			Picture:       p.Picture,
			Hash:          p.Hash,
		}
	}
	return record
}

func (r *userRecord) toDomain() *domain.User {
	user := &domain.User{
		ID:            r.ID,
		ActiveProfile: domain.AuthProvider(r.ActiveProfile),
		Google:        r.Google,
		Facebook:      r.Facebook,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if p := r.CyberSherlock; p != nil {
		user.CyberSherlock = &domain.CyberSherlockProfile{
			UserID:        p.UserID,
			Name:          p.Name,
			Email:         p.Email,
			EmailVerified: p.EmailVerified,
			Phone:         p.Phone,
			PhoneVerified: p.PhoneVerified,
			Picture:       p.Picture,
			Hash:          p.Hash,
		}
	}
	return user
}

// AutoMigrate creates or updates the user table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&userRecord{})
}

type userRepo struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &userRepo{db: db} }

func (r *userRepo) Create(ctx context.Context, user *domain.User) error {
	return r.db.WithContext(ctx).Create(toRecord(user)).Error
}

func (r *userRepo) FindByID(ctx context.Context, id string) (*domain.User, error) {
	var record userRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return record.toDomain(), nil
}

func (r *userRepo) FindByProviderUserID(ctx context.Context, provider domain.AuthProvider, providerUserID string) (*domain.User, error) {
	column, err := profileColumn(provider)
	if err != nil {
		return nil, err
	}
	var record userRecord
	query := fmt.Sprintf("%s->>'user_id' = ?", column)
	if err := r.db.WithContext(ctx).Where(query, providerUserID).First(&record).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return record.toDomain(), nil
}

// FindByEmailOrPhone is the credential-login lookup. It only inspects the
// first-party slot: external providers assert their own identities.
func (r *userRepo) FindByEmailOrPhone(ctx context.Context, email, phone *string) (*domain.User, error) {
	tx := r.db.WithContext(ctx)
	switch {
	case email != nil && phone != nil:
		tx = tx.Where("cyber_sherlock->>'email' = ? OR cyber_sherlock->>'phone' = ?", *email, *phone)
	case email != nil:
		tx = tx.Where("cyber_sherlock->>'email' = ?", *email)
	case phone != nil:
		tx = tx.Where("cyber_sherlock->>'phone' = ?", *phone)
	default:
		return nil, ErrNotFound
	}
	var record userRecord
	if err := tx.First(&record).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return record.toDomain(), nil
}

func (r *userRepo) Update(ctx context.Context, user *domain.User) error {
	return r.db.WithContext(ctx).Save(toRecord(user)).Error
}

func profileColumn(provider domain.AuthProvider) (string, error) {
	switch provider {
	case domain.ProviderCyberSherlock:
		return "cyber_sherlock", nil
	case domain.ProviderGoogle:
		return "google", nil
	case domain.ProviderFacebook:
		return "facebook", nil
	}
	return "", fmt.Errorf("unknown auth provider %q", provider)
}

func mapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

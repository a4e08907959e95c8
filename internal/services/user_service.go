package services

import (
	"context"
	"errors"
	"fmt"

	apperrors "questionbank_go_backend/internal/errors"
	"questionbank_go_backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserService struct {
	db *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

// CreateOrUpdateUser upserts the user identified by the token subject. A user
// seen for the first time gets a standard trial profile with an empty wallet.
func (s *UserService) CreateOrUpdateUser(ctx context.Context, authSubject, email, name, nickname string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where(models.User{AuthSubject: authSubject}).
			Assign(models.User{Email: email, Name: name, Nickname: nickname}).
			FirstOrCreate(&user)
		if result.Error != nil {
			return result.Error
		}

		profile := models.Profile{
			UserID:             user.ID,
			SubscriptionTier:   models.TierStandard,
			SubscriptionStatus: models.StatusTrial,
		}
		return tx.Where(models.Profile{UserID: user.ID}).FirstOrCreate(&profile).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return &user, nil
}

func (s *UserService) GetUserByAuthSubject(ctx context.Context, authSubject string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("auth_subject = ?", authSubject).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GetProfile returns the billing profile of userID.
func (s *UserService) GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	var profile models.Profile
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewProfileNotFound()
		}
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	return &profile, nil
}

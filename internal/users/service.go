package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/folio/backend/internal/auth"
	"gorm.io/gorm"
)

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ServiceConfig describes the dependencies required for identity records.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service maintains the identity profile records behind presence payloads
// and portfolio ownership.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock}, nil
}

// RecordLogin upserts the identity profile for a freshly verified user and
// stamps last-seen. Returns the stored identity.
func (s *Service) RecordLogin(ctx context.Context, claims auth.ProviderClaims) (Identity, error) {
	userID := normalize(claims.Subject)
	if userID == "" {
		return Identity{}, ErrInvalidIdentity
	}

	var identity Identity
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&identity).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		identity = Identity{
			UserID:      userID,
			Email:       normalize(claims.Email),
			DisplayName: normalize(claims.Name),
			AvatarURL:   normalize(claims.Picture),
			LastSeenAt:  s.now(),
		}
		if err := s.db.WithContext(ctx).Create(&identity).Error; err != nil {
			return Identity{}, err
		}
		return identity, nil
	}
	if err != nil {
		return Identity{}, err
	}

	updates := map[string]interface{}{"last_seen_at": s.now()}
	if email := normalize(claims.Email); email != "" && email != identity.Email {
		updates["user_email"] = email
		identity.Email = email
	}
	if display := normalize(claims.Name); display != "" && display != identity.DisplayName {
		updates["user_display_name"] = display
		identity.DisplayName = display
	}
	if avatar := normalize(claims.Picture); avatar != "" && avatar != identity.AvatarURL {
		updates["user_avatar_url"] = avatar
		identity.AvatarURL = avatar
	}
	if err := s.db.WithContext(ctx).Model(&Identity{}).
		Where("user_id = ?", userID).
		Updates(updates).
		Error; err != nil {
		return Identity{}, err
	}
	return identity, nil
}

// Get looks up a stored identity by user id.
func (s *Service) Get(ctx context.Context, userID string) (Identity, error) {
	normalized := normalize(userID)
	if normalized == "" {
		return Identity{}, ErrInvalidIdentity
	}
	var identity Identity
	err := s.db.WithContext(ctx).
		Where("user_id = ?", normalized).
		First(&identity).
		Error
	if err != nil {
		return Identity{}, err
	}
	return identity, nil
}

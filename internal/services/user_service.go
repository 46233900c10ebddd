// Package services – UserService
//
// This file implements the thin directory-facing service. The surrounding
// platform owns identity; this service only keeps the local directory entry
// and the registered push device token current so that call orchestration can
// resolve participants and wake devices.
package services

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/hivedesk/go-call-backend/internal/domain"
	"github.com/hivedesk/go-call-backend/internal/repo"
)

// UserService maintains the user directory consumed by call signaling.
type UserService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
}

// Sync creates or refreshes the directory entry for a user. Display names
// are trimmed; an empty display name falls back to the user id so that
// notifications always have something to show.
func (s *UserService) Sync(ctx context.Context, id, displayName, avatarURL string) (*domain.User, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = id
	}

	u := &domain.User{ID: id, DisplayName: displayName, AvatarURL: strings.TrimSpace(avatarURL)}
	if existing, err := repo.GetUser(ctx, s.DB, id); err == nil {
		// Preserve the registered device token across profile refreshes.
		u.DeviceToken = existing.DeviceToken
		u.CreatedAt = existing.CreatedAt
	}
	if err := repo.UpsertUser(ctx, s.DB, u); err != nil {
		return nil, err
	}
	return u, nil
}

// RegisterDevice stores the push device token for userID. An unknown user
// yields repo.ErrNotFound; handlers translate it to a 404.
func (s *UserService) RegisterDevice(ctx context.Context, userID, deviceToken string) error {
	return repo.UpdateDeviceToken(ctx, s.DB, userID, strings.TrimSpace(deviceToken))
}

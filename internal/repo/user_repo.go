// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model.
//
// The signaling subsystem does not own identity; these functions cover only
// what call orchestration needs from the user directory: existence checks,
// device tokens for push delivery, and batched summary lookups for history
// entries and realtime event payloads.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/hivedesk/go-call-backend/internal/domain"
)

// GetUser fetches a user by ID. If the record does not exist, it returns
// ErrNotFound. On other DB errors, the raw error is returned.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUsers fetches users by ID in one query and returns them keyed by ID.
// Missing IDs are simply absent from the result map; the caller decides
// whether that matters.
func GetUsers(ctx context.Context, db *gorm.DB, ids []string) (map[string]domain.User, error) {
	out := make(map[string]domain.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []domain.User
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, u := range rows {
		out[u.ID] = u
	}
	return out, nil
}

// UpsertUser creates or refreshes a directory entry. The surrounding
// platform owns user records; this exists for bootstrap seeding and for
// keeping device tokens current when clients re-register.
func UpsertUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Save(u).Error
}

// UpdateDeviceToken stores the push device token registered by userID.
// If no rows are affected (user missing), it returns ErrNotFound.
func UpdateDeviceToken(ctx context.Context, db *gorm.DB, userID, token string) error {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", userID).
		Update("device_token", token)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

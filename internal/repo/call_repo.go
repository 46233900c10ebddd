// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Call model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a call is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - Status transitions are conditional updates keyed on the expected
//     current status ("UPDATE ... WHERE id = ? AND status = ?"). When zero
//     rows are affected the record either disappeared or another request won
//     the transition race; ErrStaleStatus is returned so the caller can
//     surface a state-guard failure instead of silently overwriting the
//     winner's transition.
//   - On other DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hivedesk/go-call-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrStaleStatus is returned by conditional status updates when the call is
// no longer in the expected state at commit time. This is the race-loser
// outcome: the record was mutated (or removed) between the caller's read and
// its write.
var ErrStaleStatus = errors.New("call status changed concurrently")

// CreateCall inserts a new PENDING call between callerID and calleeID on the
// given media channel. The call ID is a randomly generated UUID (string) and
// CreatedAt is set to the supplied instant (UTC recommended).
//
// On success, it returns the persisted Call. On failure, it returns a DB error.
func CreateCall(ctx context.Context, db *gorm.DB, callerID, calleeID, channelName string, now time.Time) (*domain.Call, error) {
	c := &domain.Call{
		ID:          uuid.NewString(),
		CallerID:    callerID,
		CalleeID:    calleeID,
		ChannelName: channelName,
		Status:      domain.CallPending,
		CreatedAt:   now,
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// GetCall fetches a single call by its ID. If the record does not exist, it
// returns ErrNotFound. On other DB errors, the raw error is returned.
func GetCall(ctx context.Context, db *gorm.DB, id string) (*domain.Call, error) {
	var c domain.Call
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// DeleteCall removes a call row by ID. It is used only as a compensating
// action when token issuance fails mid-initiate, so a missing row is not an
// error. On DB error, the raw error is returned.
func DeleteCall(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Call{}).Error
}

// AcceptCall atomically moves a call from PENDING to ONGOING and stamps
// StartedAt. The update is conditional on the status still being PENDING at
// commit time; if another request already transitioned the call (or the row
// vanished), ErrStaleStatus is returned and nothing is mutated.
func AcceptCall(ctx context.Context, db *gorm.DB, id string, startedAt time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Call{}).
		Where("id = ? AND status = ?", id, domain.CallPending).
		Updates(map[string]any{
			"status":     domain.CallOngoing,
			"started_at": startedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleStatus
	}
	return nil
}

// RejectCall atomically moves a call from PENDING to ENDED and stamps
// EndedAt. StartedAt stays unset: a rejected call was never connected.
// Returns ErrStaleStatus when the call is no longer PENDING at commit time.
func RejectCall(ctx context.Context, db *gorm.DB, id string, endedAt time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Call{}).
		Where("id = ? AND status = ?", id, domain.CallPending).
		Updates(map[string]any{
			"status":   domain.CallEnded,
			"ended_at": endedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleStatus
	}
	return nil
}

// EndCall atomically moves a call from PENDING or ONGOING to ENDED and stamps
// EndedAt. Returns ErrStaleStatus when the call already reached a terminal
// state at commit time.
func EndCall(ctx context.Context, db *gorm.DB, id string, endedAt time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Call{}).
		Where("id = ? AND status IN ?", id, []domain.CallStatus{domain.CallPending, domain.CallOngoing}).
		Updates(map[string]any{
			"status":   domain.CallEnded,
			"ended_at": endedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleStatus
	}
	return nil
}

// CountCalls returns the total number of calls in which userID participates
// (as caller or callee). On DB error, it returns the error.
func CountCalls(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Call{}).
		Where("caller_id = ? OR callee_id = ?", userID, userID).
		Count(&total).Error
	return total, err
}

// ListCallsPage returns a paginated slice of calls in which userID
// participates, ordered by creation time descending (most recent first).
// Use CountCalls to obtain the total for pagination metadata.
//
// The caller is responsible for computing offset and limit (e.g., (page-1)*pageSize).
func ListCallsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Call, error) {
	var out []domain.Call
	err := db.WithContext(ctx).
		Where("caller_id = ? OR callee_id = ?", userID, userID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

package repo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hivedesk/go-call-backend/internal/domain"
)

func newCallRepoDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("call_repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func seedCall(t *testing.T, db *gorm.DB, caller, callee string, status domain.CallStatus, createdAt time.Time) *domain.Call {
	t.Helper()
	c, err := CreateCall(context.Background(), db, caller, callee, fmt.Sprintf("chan_%d", createdAt.UnixNano()), createdAt)
	if err != nil {
		t.Fatalf("seed call: %v", err)
	}
	if status != domain.CallPending {
		if err := db.Model(&domain.Call{}).Where("id = ?", c.ID).Update("status", status).Error; err != nil {
			t.Fatalf("seed status: %v", err)
		}
		c.Status = status
	}
	return c
}

func TestCreateCall_Error_NoTable(t *testing.T) {
	db := newCallRepoDB(t /* no migrations */)
	c, err := CreateCall(context.Background(), db, "u1", "u2", "chan", time.Now().UTC())
	if err == nil || c != nil {
		t.Fatalf("expected error creating without table, got call=%v err=%v", c, err)
	}
}

func TestCreateCall_Success_PersistsAndSetsFields(t *testing.T) {
	db := newCallRepoDB(t, &domain.Call{})

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c, err := CreateCall(context.Background(), db, "u1", "u2", "chan_a", now)
	if err != nil {
		t.Fatalf("CreateCall: %v", err)
	}
	if c.ID == "" || c.CallerID != "u1" || c.CalleeID != "u2" || c.ChannelName != "chan_a" {
		t.Fatalf("unexpected Call fields: %+v", c)
	}
	if c.Status != domain.CallPending {
		t.Fatalf("new call status = %q, want PENDING", c.Status)
	}
	if c.StartedAt != nil || c.EndedAt != nil {
		t.Fatalf("new call must not carry started/ended timestamps: %+v", c)
	}

	// round-trip
	got, err := GetCall(context.Background(), db, c.ID)
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if got.CallerID != "u1" || got.CalleeID != "u2" || got.Status != domain.CallPending {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}

func TestGetCall_NotFound(t *testing.T) {
	db := newCallRepoDB(t, &domain.Call{})
	if _, err := GetCall(context.Background(), db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteCall_RemovesRow_AndMissingRowIsNoError(t *testing.T) {
	db := newCallRepoDB(t, &domain.Call{})
	c := seedCall(t, db, "u1", "u2", domain.CallPending, time.Now().UTC())

	if err := DeleteCall(context.Background(), db, c.ID); err != nil {
		t.Fatalf("DeleteCall: %v", err)
	}
	if _, err := GetCall(context.Background(), db, c.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("call still present after delete: %v", err)
	}

	// Compensating deletes may race; a vanished row is fine.
	if err := DeleteCall(context.Background(), db, c.ID); err != nil {
		t.Fatalf("DeleteCall on missing row: %v", err)
	}
}

func TestAcceptCall_Pending_SetsOngoingAndStartedAt(t *testing.T) {
	db := newCallRepoDB(t, &domain.Call{})
	c := seedCall(t, db, "u1", "u2", domain.CallPending, time.Now().UTC())

	startedAt := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	if err := AcceptCall(context.Background(), db, c.ID, startedAt); err != nil {
		t.Fatalf("AcceptCall: %v", err)
	}

	got, err := GetCall(context.Background(), db, c.ID)
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if got.Status != domain.CallOngoing {
		t.Fatalf("status = %q, want ONGOING", got.Status)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(startedAt) {
		t.Fatalf("StartedAt = %v, want %v", got.StartedAt, startedAt)
	}
	if got.EndedAt != nil {
		t.Fatalf("EndedAt must stay unset on accept, got %v", got.EndedAt)
	}
}

func TestAcceptCall_NotPending_ReturnsStaleStatus(t *testing.T) {
	db := newCallRepoDB(t, &domain.Call{})
	c := seedCall(t, db, "u1", "u2", domain.CallOngoing, time.Now().UTC())

	err := AcceptCall(context.Background(), db, c.ID, time.Now().UTC())
	if !errors.Is(err, ErrStaleStatus) {
		t.Fatalf("expected ErrStaleStatus, got %v", err)
	}
}

func TestAcceptCall_MissingRow_ReturnsStaleStatus(t *testing.T) {
	db := newCallRepoDB(t, &domain.Call{})
	if err := AcceptCall(context.Background(), db, "missing", time.Now().UTC()); !errors.Is(err, ErrStaleStatus) {
		t.Fatalf("expected ErrStaleStatus, got %v", err)
	}
}

func TestRejectCall_Pending_SetsEndedWithoutStartedAt(t *testing.T) {
	db := newCallRepoDB(t, &domain.Call{})
	c := seedCall(t, db, "u1", "u2", domain.CallPending, time.Now().UTC())

	endedAt := time.Date(2025, 6, 1, 12, 31, 0, 0, time.UTC)
	if err := RejectCall(context.Background(), db, c.ID, endedAt); err != nil {
		t.Fatalf("RejectCall: %v", err)
	}

	got, _ := GetCall(context.Background(), db, c.ID)
	if got.Status != domain.CallEnded {
		t.Fatalf("status = %q, want ENDED", got.Status)
	}
	if got.StartedAt != nil {
		t.Fatalf("rejected call must never carry StartedAt, got %v", got.StartedAt)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(endedAt) {
		t.Fatalf("EndedAt = %v, want %v", got.EndedAt, endedAt)
	}
}

func TestRejectCall_AfterAccept_ReturnsStaleStatus(t *testing.T) {
	db := newCallRepoDB(t, &domain.Call{})
	c := seedCall(t, db, "u1", "u2", domain.CallPending, time.Now().UTC())

	if err := AcceptCall(context.Background(), db, c.ID, time.Now().UTC()); err != nil {
		t.Fatalf("AcceptCall: %v", err)
	}
	// Second transition loses: the row left PENDING when accept committed.
	if err := RejectCall(context.Background(), db, c.ID, time.Now().UTC()); !errors.Is(err, ErrStaleStatus) {
		t.Fatalf("expected ErrStaleStatus after accept won, got %v", err)
	}

	got, _ := GetCall(context.Background(), db, c.ID)
	if got.Status != domain.CallOngoing || got.EndedAt != nil {
		t.Fatalf("loser mutated the row: %+v", got)
	}
}

func TestEndCall_FromPendingAndOngoing(t *testing.T) {
	db := newCallRepoDB(t, &domain.Call{})

	for _, status := range []domain.CallStatus{domain.CallPending, domain.CallOngoing} {
		c := seedCall(t, db, "u1", "u2", status, time.Now().UTC())
		endedAt := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)
		if err := EndCall(context.Background(), db, c.ID, endedAt); err != nil {
			t.Fatalf("EndCall from %s: %v", status, err)
		}
		got, _ := GetCall(context.Background(), db, c.ID)
		if got.Status != domain.CallEnded || got.EndedAt == nil || !got.EndedAt.Equal(endedAt) {
			t.Fatalf("EndCall from %s left %+v", status, got)
		}
	}
}

func TestEndCall_AlreadyEnded_ReturnsStaleStatus(t *testing.T) {
	db := newCallRepoDB(t, &domain.Call{})
	c := seedCall(t, db, "u1", "u2", domain.CallEnded, time.Now().UTC())

	if err := EndCall(context.Background(), db, c.ID, time.Now().UTC()); !errors.Is(err, ErrStaleStatus) {
		t.Fatalf("expected ErrStaleStatus, got %v", err)
	}
}

func TestCountAndListCallsPage_FilterOrderPaginate(t *testing.T) {
	db := newCallRepoDB(t, &domain.Call{})

	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	oldest := seedCall(t, db, "alice", "bob", domain.CallEnded, base)
	middle := seedCall(t, db, "carol", "alice", domain.CallEnded, base.Add(time.Hour))
	newest := seedCall(t, db, "alice", "dave", domain.CallPending, base.Add(2*time.Hour))
	seedCall(t, db, "bob", "carol", domain.CallEnded, base.Add(3*time.Hour)) // not alice's

	total, err := CountCalls(context.Background(), db, "alice")
	if err != nil {
		t.Fatalf("CountCalls: %v", err)
	}
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}

	// Page 1: newest first, both directions included.
	page1, err := ListCallsPage(context.Background(), db, "alice", 0, 2)
	if err != nil {
		t.Fatalf("ListCallsPage: %v", err)
	}
	if len(page1) != 2 || page1[0].ID != newest.ID || page1[1].ID != middle.ID {
		t.Fatalf("page1 order mismatch: %+v", page1)
	}

	page2, err := ListCallsPage(context.Background(), db, "alice", 2, 2)
	if err != nil {
		t.Fatalf("ListCallsPage page2: %v", err)
	}
	if len(page2) != 1 || page2[0].ID != oldest.ID {
		t.Fatalf("page2 mismatch: %+v", page2)
	}
}

package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hivedesk/go-call-backend/internal/domain"
)

func TestGetUser_NotFound(t *testing.T) {
	db := newCallRepoDB(t, &domain.User{})
	if _, err := GetUser(context.Background(), db, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertUser_CreateThenRefresh(t *testing.T) {
	db := newCallRepoDB(t, &domain.User{})
	ctx := context.Background()

	u := &domain.User{ID: "u1", DisplayName: "Ada", DeviceToken: "tok-1"}
	if err := UpsertUser(ctx, db, u); err != nil {
		t.Fatalf("UpsertUser create: %v", err)
	}
	if u.CreatedAt.IsZero() {
		t.Fatalf("CreatedAt not defaulted on create")
	}

	// Refresh keeps the same row.
	u2 := &domain.User{ID: "u1", DisplayName: "Ada L.", CreatedAt: u.CreatedAt}
	if err := UpsertUser(ctx, db, u2); err != nil {
		t.Fatalf("UpsertUser refresh: %v", err)
	}

	got, err := GetUser(ctx, db, "u1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.DisplayName != "Ada L." {
		t.Fatalf("DisplayName = %q, want refreshed value", got.DisplayName)
	}
}

func TestGetUsers_BatchedKeyedByID(t *testing.T) {
	db := newCallRepoDB(t, &domain.User{})
	ctx := context.Background()

	for _, u := range []domain.User{
		{ID: "u1", DisplayName: "Ada", CreatedAt: time.Now().UTC()},
		{ID: "u2", DisplayName: "Bob", CreatedAt: time.Now().UTC()},
	} {
		u := u
		if err := UpsertUser(ctx, db, &u); err != nil {
			t.Fatalf("seed user %s: %v", u.ID, err)
		}
	}

	got, err := GetUsers(ctx, db, []string{"u1", "u2", "missing"})
	if err != nil {
		t.Fatalf("GetUsers: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 users, got %d", len(got))
	}
	if got["u1"].DisplayName != "Ada" || got["u2"].DisplayName != "Bob" {
		t.Fatalf("unexpected map contents: %+v", got)
	}
	if _, ok := got["missing"]; ok {
		t.Fatalf("missing id must be absent from result")
	}

	empty, err := GetUsers(ctx, db, nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("GetUsers(nil) = %v, %v; want empty map", empty, err)
	}
}

func TestUpdateDeviceToken_SuccessAndMissingUser(t *testing.T) {
	db := newCallRepoDB(t, &domain.User{})
	ctx := context.Background()

	u := &domain.User{ID: "u1", DisplayName: "Ada"}
	if err := UpsertUser(ctx, db, u); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := UpdateDeviceToken(ctx, db, "u1", "tok-new"); err != nil {
		t.Fatalf("UpdateDeviceToken: %v", err)
	}
	got, _ := GetUser(ctx, db, "u1")
	if got.DeviceToken != "tok-new" {
		t.Fatalf("DeviceToken = %q, want tok-new", got.DeviceToken)
	}

	if err := UpdateDeviceToken(ctx, db, "ghost", "tok"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}
}

package service

import (
	"context"
	"testing"
	"time"

	"github.com/keygate/keygate/internal/metrics"
	"github.com/keygate/keygate/internal/model"
)

func TestRetentionRunOncePurgesOldRevokedKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := &model.StoredKey{Name: "old", OwnerID: "alice", KeyPrefix: "aaaaaaaa", KeyHash: "h1"}
	live := &model.StoredKey{Name: "live", OwnerID: "alice", KeyPrefix: "bbbbbbbb", KeyHash: "h2"}
	for _, k := range []*model.StoredKey{old, live} {
		if err := store.CreateAPIKey(ctx, k); err != nil {
			t.Fatalf("CreateAPIKey: %v", err)
		}
	}
	if err := store.RevokeAPIKey(ctx, old.ID, "alice"); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}

	sched := NewRetentionScheduler(store, "", time.Hour, metrics.New(), nil)

	if n := sched.RunOnce(ctx); n != 0 {
		t.Errorf("purged %d keys revoked less than an hour ago", n)
	}

	sched.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if n := sched.RunOnce(ctx); n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
	if _, err := store.GetAPIKey(ctx, live.ID); err != nil {
		t.Errorf("active key removed: %v", err)
	}
}

func TestRetentionStartWithoutSchedule(t *testing.T) {
	sched := NewRetentionScheduler(newTestStore(t), "", time.Hour, nil, nil)
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sched.Running() {
		t.Error("scheduler without a schedule should not run")
	}
}

func TestRetentionStartRejectsBadSchedule(t *testing.T) {
	sched := NewRetentionScheduler(newTestStore(t), "every tuesday", time.Hour, nil, nil)
	if err := sched.Start(context.Background()); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestRetentionStartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sched := NewRetentionScheduler(newTestStore(t), "0 3 * * *", time.Hour, nil, nil)
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !sched.Running() {
		t.Fatal("expected scheduler to be running")
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for sched.Running() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sched.Running() {
		t.Error("scheduler still running after context cancel")
	}
}

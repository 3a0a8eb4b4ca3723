package timeline_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"rewardline/internal/db"
	"rewardline/internal/domain"
	"rewardline/internal/fault"
	"rewardline/internal/migrate"
	"rewardline/internal/timeline"
)

type testEnv struct {
	Log timeline.Log
	Ctx context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	log := timeline.Log{DB: conn, Now: func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	}}

	// Minimal group and slot rows to satisfy the foreign keys.
	_, err = conn.Exec(`INSERT INTO task_groups(id,title,registration_opens_at,registration_deadline,capacity,distribution_mode,total_reward,currency,creator_id,created_at,updated_at)
VALUES ('g1','t','2026-03-01T00:00','2026-03-02T00:00',1,'equal','10','ETH','c1','2026-03-01T00:00:00Z','2026-03-01T00:00:00Z')`)
	if err != nil {
		t.Fatalf("seed group: %v", err)
	}
	_, err = conn.Exec(`INSERT INTO task_slots(id,group_id,reward,currency,weight,participant_index,status,created_at,updated_at)
VALUES ('s1','g1','10','ETH',1.0,1,'unclaimed','2026-03-01T00:00:00Z','2026-03-01T00:00:00Z')`)
	if err != nil {
		t.Fatalf("seed slot: %v", err)
	}
	return testEnv{Log: log, Ctx: context.Background()}
}

func TestAppendAssignsMonotonicSeq(t *testing.T) {
	env := newTestEnv(t)
	actor := "worker-1"
	for _, status := range []string{domain.StatusUnclaimed, domain.StatusClaimed, domain.StatusSubmitted} {
		entry := domain.TimelineEntry{Status: status}
		if status != domain.StatusUnclaimed {
			entry.ActorID = &actor
		}
		if err := env.Log.Append(env.Ctx, "s1", entry); err != nil {
			t.Fatalf("append %s: %v", status, err)
		}
	}
	entries, err := env.Log.Read(env.Ctx, "s1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len = %d", len(entries))
	}
	for i, e := range entries {
		if e.Seq != i+1 {
			t.Fatalf("entry %d seq = %d", i, e.Seq)
		}
		if e.CreatedAt == "" {
			t.Fatalf("entry %d missing created_at", i)
		}
	}
	if entries[0].ActorID != nil {
		t.Fatal("initial entry should have no actor")
	}
	if entries[1].ActorID == nil || *entries[1].ActorID != actor {
		t.Fatalf("entry 2 actor = %+v", entries[1].ActorID)
	}
}

func TestAppendUnknownSlot(t *testing.T) {
	env := newTestEnv(t)
	err := env.Log.Append(env.Ctx, "nope", domain.TimelineEntry{Status: domain.StatusClaimed})
	var fe *fault.Error
	if !errors.As(err, &fe) || fe.Code != fault.CodeSlotNotFound {
		t.Fatalf("err = %v, want slot_not_found", err)
	}
}

func TestReadEmptySlot(t *testing.T) {
	env := newTestEnv(t)
	entries, err := env.Log.Read(env.Ctx, "s1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Fatalf("entries = %#v, want empty non-nil slice", entries)
	}
}

func TestReadUnknownSlot(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Log.Read(env.Ctx, "nope")
	var fe *fault.Error
	if !errors.As(err, &fe) || fe.Code != fault.CodeSlotNotFound {
		t.Fatalf("err = %v, want slot_not_found", err)
	}
}

func TestConcurrentAppends(t *testing.T) {
	env := newTestEnv(t)
	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reason := fmt.Sprintf("writer-%d", i)
			errs[i] = env.Log.Append(env.Ctx, "s1", domain.TimelineEntry{
				Status: domain.StatusClaimed,
				Reason: &reason,
			})
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("writer %d: %v", i, err)
		}
	}
	entries, err := env.Log.Read(env.Ctx, "s1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != writers {
		t.Fatalf("len = %d, want %d", len(entries), writers)
	}
	for i, e := range entries {
		if e.Seq != i+1 {
			t.Fatalf("entry %d seq = %d, want %d", i, e.Seq, i+1)
		}
	}
}

package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"flexguard/internal/modules/audit"
	"flexguard/internal/platform"
	"flexguard/internal/storage"

	"go.uber.org/zap"
)

type fakeClient struct {
	guilds      map[string]bool
	memberRoles map[string][]string
	memberErr   error
	removeErr   error

	archived    map[string]bool
	inspectErr  error
	archiveErr  error
	archiveCall []string
	sent        []string

	removed []string
}

func (f *fakeClient) GuildExists(guildID string) bool { return f.guilds[guildID] }

func (f *fakeClient) Member(_, userID string) (platform.Member, error) {
	if f.memberErr != nil {
		return platform.Member{}, f.memberErr
	}
	roles, ok := f.memberRoles[userID]
	if !ok {
		return platform.Member{}, platform.ErrNotFound
	}
	return platform.Member{ID: userID, Roles: roles}, nil
}

func (f *fakeClient) RemoveRole(_, userID, _ string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, userID)
	return nil
}

func (f *fakeClient) ThreadArchived(threadID string) (bool, error) {
	if f.inspectErr != nil {
		return false, f.inspectErr
	}
	archived, ok := f.archived[threadID]
	if !ok {
		return false, platform.ErrNotFound
	}
	return archived, nil
}

func (f *fakeClient) ArchiveThread(threadID string) error {
	if f.archiveErr != nil {
		return f.archiveErr
	}
	f.archiveCall = append(f.archiveCall, threadID)
	return nil
}

func (f *fakeClient) SendMessage(channelID, content string) (string, error) {
	f.sent = append(f.sent, channelID+"|"+content)
	return "m1", nil
}

type fixedClock struct{ now time.Time }

func (f fixedClock) Now() time.Time { return f.now }

func newTestScheduler(t *testing.T, client *fakeClient, now time.Time) (*Scheduler, *storage.Store) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	auditStore, err := storage.NewAuditStore(":memory:")
	if err != nil {
		t.Fatalf("new audit store: %v", err)
	}
	t.Cleanup(auditStore.Close)
	if err := auditStore.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	sched := New(client, store, audit.NewLogger(auditStore, zap.NewNop()), zap.NewNop(), time.Minute)
	sched.WithClock(fixedClock{now: now})
	return sched, store
}

func expiredAt(now time.Time, ago time.Duration) *time.Time {
	t := now.Add(-ago)
	return &t
}

func TestSweepLiftsExpiredMute(t *testing.T) {
	now := time.Now()
	client := &fakeClient{
		guilds:      map[string]bool{"g1": true},
		memberRoles: map[string][]string{"u1": {"r1"}},
	}
	sched, store := newTestScheduler(t, client, now)
	ctx := context.Background()

	if err := store.PutMute(ctx, storage.MuteRecord{
		ID: storage.MuteKey("g1", "u1"), GuildID: "g1", UserID: "u1", RoleID: "r1",
		Temporary: true, Status: storage.MuteOpen, ExpiresAt: expiredAt(now, time.Minute),
	}); err != nil {
		t.Fatalf("put mute: %v", err)
	}

	sched.Sweep(ctx)

	if len(client.removed) != 1 || client.removed[0] != "u1" {
		t.Fatalf("expected role removal for u1, got %v", client.removed)
	}
	record, _, _ := store.GetMute(ctx, "g1", "u1")
	if record.Status != storage.MuteLiftedExpired {
		t.Fatalf("expected %s, got %s", storage.MuteLiftedExpired, record.Status)
	}
}

func TestSweepSkipsUnexpiredAndPermanent(t *testing.T) {
	now := time.Now()
	client := &fakeClient{guilds: map[string]bool{"g1": true}, memberRoles: map[string][]string{"u1": {"r1"}, "u2": {"r1"}}}
	sched, store := newTestScheduler(t, client, now)
	ctx := context.Background()

	future := now.Add(time.Hour)
	store.PutMutes(ctx, []storage.MuteRecord{
		{ID: storage.MuteKey("g1", "u1"), GuildID: "g1", UserID: "u1", RoleID: "r1", Temporary: true, Status: storage.MuteOpen, ExpiresAt: &future},
		{ID: storage.MuteKey("g1", "u2"), GuildID: "g1", UserID: "u2", RoleID: "r1", Status: storage.MuteOpen},
	})

	sched.Sweep(ctx)

	if len(client.removed) != 0 {
		t.Fatalf("nothing should expire, removed %v", client.removed)
	}
}

func TestSweepMarksMuteOrphans(t *testing.T) {
	now := time.Now()
	client := &fakeClient{guilds: map[string]bool{"g1": true}, memberRoles: map[string][]string{}}
	sched, store := newTestScheduler(t, client, now)
	ctx := context.Background()

	store.PutMutes(ctx, []storage.MuteRecord{
		{ID: storage.MuteKey("g1", "gone"), GuildID: "g1", UserID: "gone", RoleID: "r1", Temporary: true, Status: storage.MuteOpen, ExpiresAt: expiredAt(now, time.Minute)},
		{ID: storage.MuteKey("g9", "u1"), GuildID: "g9", UserID: "u1", RoleID: "r1", Temporary: true, Status: storage.MuteOpen, ExpiresAt: expiredAt(now, time.Minute)},
	})

	sched.Sweep(ctx)

	for _, key := range [][2]string{{"g1", "gone"}, {"g9", "u1"}} {
		record, _, _ := store.GetMute(ctx, key[0], key[1])
		if record.Status != storage.MuteOrphaned {
			t.Fatalf("%s/%s: expected %s, got %s", key[0], key[1], storage.MuteOrphaned, record.Status)
		}
	}
}

func TestSweepRecordsPermissionFailure(t *testing.T) {
	now := time.Now()
	client := &fakeClient{
		guilds:      map[string]bool{"g1": true},
		memberRoles: map[string][]string{"u1": {"r1"}},
		removeErr:   platform.ErrPermission,
	}
	sched, store := newTestScheduler(t, client, now)
	ctx := context.Background()

	store.PutMute(ctx, storage.MuteRecord{
		ID: storage.MuteKey("g1", "u1"), GuildID: "g1", UserID: "u1", RoleID: "r1",
		Temporary: true, Status: storage.MuteOpen, ExpiresAt: expiredAt(now, time.Minute),
	})

	sched.Sweep(ctx)

	record, _, _ := store.GetMute(ctx, "g1", "u1")
	if record.Status != storage.MuteLiftFailedPerm {
		t.Fatalf("expected %s, got %s", storage.MuteLiftFailedPerm, record.Status)
	}

	// Terminal state: a second sweep must not retry.
	client.removeErr = nil
	sched.Sweep(ctx)
	if len(client.removed) != 0 {
		t.Fatalf("terminal mute was retried")
	}
}

func TestSweepArchivesExpiredThread(t *testing.T) {
	now := time.Now()
	client := &fakeClient{
		guilds:   map[string]bool{"g1": true},
		archived: map[string]bool{"t1": false},
	}
	sched, store := newTestScheduler(t, client, now)
	ctx := context.Background()

	store.PutThread(ctx, storage.ThreadRecord{
		ID: "t1", GuildID: "g1", Name: "debate", Temporary: true, Status: storage.ThreadOpen,
		ExpiresAt: expiredAt(now, time.Minute), NotifyEnabled: true, Participants: []string{"u1", "u2"},
	})

	sched.Sweep(ctx)

	if len(client.archiveCall) != 1 || client.archiveCall[0] != "t1" {
		t.Fatalf("expected archive of t1, got %v", client.archiveCall)
	}
	if len(client.sent) != 1 || !strings.Contains(client.sent[0], "<@u1>") || !strings.Contains(client.sent[0], "<@u2>") {
		t.Fatalf("expected participant notice, got %v", client.sent)
	}
	record, _, _ := store.GetThread(ctx, "t1")
	if record.Status != storage.ThreadArchivedExpired {
		t.Fatalf("expected %s, got %s", storage.ThreadArchivedExpired, record.Status)
	}
}

func TestSweepDetectsExternalArchival(t *testing.T) {
	now := time.Now()
	client := &fakeClient{
		guilds:   map[string]bool{"g1": true},
		archived: map[string]bool{"t1": true},
	}
	sched, store := newTestScheduler(t, client, now)
	ctx := context.Background()

	store.PutThread(ctx, storage.ThreadRecord{
		ID: "t1", GuildID: "g1", Temporary: true, Status: storage.ThreadOpen,
		ExpiresAt: expiredAt(now, time.Minute), NotifyEnabled: true, Participants: []string{"u1"},
	})

	sched.Sweep(ctx)

	if len(client.archiveCall) != 0 {
		t.Fatalf("already-archived thread must not be re-archived")
	}
	if len(client.sent) != 0 {
		t.Fatalf("no notice expected for externally archived thread")
	}
	record, _, _ := store.GetThread(ctx, "t1")
	if record.Status != storage.ThreadArchivedExternally {
		t.Fatalf("expected %s, got %s", storage.ThreadArchivedExternally, record.Status)
	}
}

func TestSweepMarksThreadFailures(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name       string
		inspectErr error
		want       string
	}{
		{"deleted thread", platform.ErrNotFound, storage.ThreadOrphaned},
		{"no permission", platform.ErrPermission, storage.ThreadArchivalFailedPerm},
		{"transport error", errors.New("boom"), storage.ThreadArchivalFailedUnkn},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := &fakeClient{guilds: map[string]bool{"g1": true}, inspectErr: tc.inspectErr}
			sched, store := newTestScheduler(t, client, now)
			ctx := context.Background()

			store.PutThread(ctx, storage.ThreadRecord{
				ID: "t1", GuildID: "g1", Temporary: true, Status: storage.ThreadOpen,
				ExpiresAt: expiredAt(now, time.Minute),
			})

			sched.Sweep(ctx)

			record, _, _ := store.GetThread(ctx, "t1")
			if record.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, record.Status)
			}
		})
	}
}

func TestStartStop(t *testing.T) {
	client := &fakeClient{guilds: map[string]bool{}}
	sched, _ := newTestScheduler(t, client, time.Now())

	sched.Start(context.Background())
	sched.Stop()
	// Stop after Stop is a no-op.
	sched.Stop()
}

package mute

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"flexguard/internal/modules/audit"
	"flexguard/internal/platform"
	"flexguard/internal/storage"

	"go.uber.org/zap"
)

type fakeClient struct {
	mu          sync.Mutex
	roles       []platform.Role
	channels    []platform.Channel
	memberRoles map[string][]string
	denied      []string
	added       int
	removed     int
}

func (f *fakeClient) GuildRoles(string) ([]platform.Role, error) { return f.roles, nil }

func (f *fakeClient) CreateRole(_, name string) (platform.Role, error) {
	role := platform.Role{ID: "r-new", Name: name}
	f.roles = append(f.roles, role)
	return role, nil
}

func (f *fakeClient) GuildChannels(string) ([]platform.Channel, error) { return f.channels, nil }

func (f *fakeClient) DenyChannelPermissions(channelID, _ string) error {
	f.denied = append(f.denied, channelID)
	return nil
}

func (f *fakeClient) AddRole(_, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added++
	for _, id := range f.memberRoles[userID] {
		if id == roleID {
			return nil
		}
	}
	f.memberRoles[userID] = append(f.memberRoles[userID], roleID)
	return nil
}

func (f *fakeClient) RemoveRole(_, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed++
	kept := f.memberRoles[userID][:0]
	for _, id := range f.memberRoles[userID] {
		if id != roleID {
			kept = append(kept, id)
		}
	}
	f.memberRoles[userID] = kept
	return nil
}

func (f *fakeClient) Member(_, userID string) (platform.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	roles, ok := f.memberRoles[userID]
	if !ok {
		return platform.Member{}, platform.ErrNotFound
	}
	return platform.Member{ID: userID, Roles: append([]string(nil), roles...)}, nil
}

type fakeTimer struct{}

func (fakeTimer) Stop() bool { return true }

type fakeClock struct {
	now    time.Time
	timers []func()
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) AfterFunc(_ time.Duration, fn func()) Timer {
	f.timers = append(f.timers, fn)
	return fakeTimer{}
}

func (f *fakeClock) Fire() {
	pending := f.timers
	f.timers = nil
	for _, fn := range pending {
		fn()
	}
}

func newTestManager(t *testing.T, client *fakeClient) (*Manager, *storage.Store, *fakeClock) {
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

	manager := NewManager(client, store, audit.NewLogger(auditStore, zap.NewNop()), zap.NewNop(), "Muted")
	clock := &fakeClock{now: time.Unix(0, 0)}
	manager.WithClock(clock)
	return manager, store, clock
}

func TestEnsureRoleCreatesAndDenies(t *testing.T) {
	client := &fakeClient{
		channels:    []platform.Channel{{ID: "c1"}, {ID: "cat", Category: true}, {ID: "c2"}},
		memberRoles: make(map[string][]string),
	}
	manager, _, _ := newTestManager(t, client)

	roleID, err := manager.EnsureRole(context.Background(), "g1")
	if err != nil {
		t.Fatalf("ensure role: %v", err)
	}
	if roleID != "r-new" {
		t.Fatalf("expected created role, got %q", roleID)
	}
	if len(client.denied) != 2 {
		t.Fatalf("expected overrides on 2 text channels, got %v", client.denied)
	}
}

func TestEnsureRoleFindsExisting(t *testing.T) {
	client := &fakeClient{
		roles:       []platform.Role{{ID: "r1", Name: "Muted"}},
		memberRoles: make(map[string][]string),
	}
	manager, _, _ := newTestManager(t, client)

	roleID, err := manager.EnsureRole(context.Background(), "g1")
	if err != nil {
		t.Fatalf("ensure role: %v", err)
	}
	if roleID != "r1" {
		t.Fatalf("expected existing role r1, got %q", roleID)
	}
}

func TestRevokeIsNoOpWithoutRole(t *testing.T) {
	client := &fakeClient{memberRoles: map[string][]string{"u1": {}}}
	manager, _, _ := newTestManager(t, client)

	if err := manager.Revoke(context.Background(), "g1", "u1", "r1", "manual"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if client.removed != 0 {
		t.Fatalf("expected no removal, got %d", client.removed)
	}
}

func TestRevokeIsNoOpForDepartedUser(t *testing.T) {
	client := &fakeClient{memberRoles: make(map[string][]string)}
	manager, _, _ := newTestManager(t, client)

	if err := manager.Revoke(context.Background(), "g1", "ghost", "r1", "manual"); err != nil {
		t.Fatalf("expected no error for departed user, got %v", err)
	}
}

func TestGrantTemporaryRevokesAtExpiry(t *testing.T) {
	client := &fakeClient{memberRoles: map[string][]string{"u1": {}}}
	manager, store, clock := newTestManager(t, client)
	ctx := context.Background()

	if err := manager.GrantTemporary(ctx, "g1", "u1", "r1", 5*time.Minute, "spam"); err != nil {
		t.Fatalf("grant temporary: %v", err)
	}
	if held, _ := manager.HasRole("g1", "u1", "r1"); !held {
		t.Fatalf("expected role granted")
	}

	record, found, err := store.GetMute(ctx, "g1", "u1")
	if err != nil || !found {
		t.Fatalf("mute record: found=%t err=%v", found, err)
	}
	if record.Status != storage.MuteOpen || record.ExpiresAt == nil {
		t.Fatalf("unexpected record %+v", record)
	}

	clock.now = clock.now.Add(5 * time.Minute)
	clock.Fire()
	if held, _ := manager.HasRole("g1", "u1", "r1"); held {
		t.Fatalf("expected role revoked at expiry")
	}
	record, _, _ = store.GetMute(ctx, "g1", "u1")
	if record.Status != storage.MuteLiftedExpired {
		t.Fatalf("expected %s, got %s", storage.MuteLiftedExpired, record.Status)
	}
}

func TestGrantTemporarySkipsManuallyUnmuted(t *testing.T) {
	client := &fakeClient{memberRoles: map[string][]string{"u1": {}}}
	manager, store, clock := newTestManager(t, client)
	ctx := context.Background()

	if err := manager.GrantTemporary(ctx, "g1", "u1", "r1", 5*time.Minute, "spam"); err != nil {
		t.Fatalf("grant temporary: %v", err)
	}

	// Moderator unmutes before the timer fires.
	if err := manager.Revoke(ctx, "g1", "u1", "r1", "manual"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	manager.MarkLifted(ctx, "g1", "u1", storage.MuteLiftedManual)
	removedBefore := client.removed

	clock.Fire()
	if client.removed != removedBefore {
		t.Fatalf("timer fired a second removal")
	}
	record, _, _ := store.GetMute(ctx, "g1", "u1")
	if record.Status != storage.MuteLiftedManual {
		t.Fatalf("status regressed to %s", record.Status)
	}
}

func TestGrantTemporaryReplacementKeepsLaterExpiry(t *testing.T) {
	client := &fakeClient{memberRoles: map[string][]string{"u1": {}}}
	manager, store, clock := newTestManager(t, client)
	ctx := context.Background()

	if err := manager.GrantTemporary(ctx, "g1", "u1", "r1", 5*time.Minute, "spam"); err != nil {
		t.Fatalf("grant temporary: %v", err)
	}
	// Re-grant writes a replacement record with a later deadline.
	if err := manager.GrantTemporary(ctx, "g1", "u1", "r1", 2*time.Hour, "reincidencia"); err != nil {
		t.Fatalf("re-grant: %v", err)
	}
	timers := clock.timers
	if len(timers) != 2 {
		t.Fatalf("expected 2 timers, got %d", len(timers))
	}

	// The stale first timer fires at its original deadline.
	clock.now = clock.now.Add(5 * time.Minute)
	timers[0]()
	if held, _ := manager.HasRole("g1", "u1", "r1"); !held {
		t.Fatalf("stale timer lifted the replacement mute")
	}
	record, _, _ := store.GetMute(ctx, "g1", "u1")
	if record.Status != storage.MuteOpen {
		t.Fatalf("replacement record moved to %s before its expiry", record.Status)
	}

	// The replacement's own timer lifts it at the new deadline.
	clock.now = time.Unix(0, 0).Add(2 * time.Hour)
	timers[1]()
	if held, _ := manager.HasRole("g1", "u1", "r1"); held {
		t.Fatalf("replacement mute not lifted at its expiry")
	}
	record, _, _ = store.GetMute(ctx, "g1", "u1")
	if record.Status != storage.MuteLiftedExpired {
		t.Fatalf("expected %s, got %s", storage.MuteLiftedExpired, record.Status)
	}
}

package storage

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAppendReportAssignsMonotonicIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		report, position, err := store.AppendReport(ctx, Report{
			GuildID:      "g1",
			ReportedUser: "u1",
			ReportedBy:   "u2",
			Reason:       "spam",
			Timestamp:    time.Now().UTC(),
			Status:       ReportPending,
		})
		if err != nil {
			t.Fatalf("append report: %v", err)
		}
		if report.ID != int64(i) {
			t.Fatalf("expected id %d, got %d", i, report.ID)
		}
		if position != i {
			t.Fatalf("expected position %d, got %d", i, position)
		}
	}

	reports, err := store.ListReports(ctx, "g1")
	if err != nil {
		t.Fatalf("list reports: %v", err)
	}
	if len(reports) != 3 {
		t.Fatalf("expected 3 reports, got %d", len(reports))
	}
}

func TestUpdateReport(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	report, _, err := store.AppendReport(ctx, Report{GuildID: "g1", Status: ReportPending})
	if err != nil {
		t.Fatalf("append report: %v", err)
	}

	updated, err := store.UpdateReport(ctx, "g1", report.ID, func(r *Report) error {
		r.Status = ReportResolved
		return nil
	})
	if err != nil {
		t.Fatalf("update report: %v", err)
	}
	if updated.Status != ReportResolved {
		t.Fatalf("expected %s, got %s", ReportResolved, updated.Status)
	}

	if _, err := store.UpdateReport(ctx, "g1", 999, func(*Report) error { return nil }); err != ErrReportNotFound {
		t.Fatalf("expected ErrReportNotFound, got %v", err)
	}
}

func TestThreadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	duration := int64(7200)
	expires := time.Now().UTC().Add(2 * time.Hour).Truncate(time.Second)
	record := ThreadRecord{
		ID:              "t1",
		Name:            "Debate",
		ParentChannelID: "c1",
		GuildID:         "g1",
		CreatorID:       "u1",
		Temporary:       true,
		DurationSeconds: &duration,
		CreatedAt:       time.Now().UTC().Truncate(time.Second),
		ExpiresAt:       &expires,
		Participants:    []string{"u1"},
		NotifyEnabled:   true,
		Status:          ThreadOpen,
	}

	if err := store.PutThread(ctx, record); err != nil {
		t.Fatalf("put thread: %v", err)
	}
	got, found, err := store.GetThread(ctx, "t1")
	if err != nil || !found {
		t.Fatalf("get thread: found=%t err=%v", found, err)
	}
	if !reflect.DeepEqual(record, got) {
		t.Fatalf("round trip mismatch:\nwant %+v\ngot  %+v", record, got)
	}
}

func TestThreadRoundTripNilExpiry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := ThreadRecord{
		ID:        "t2",
		Name:      "Anuncios",
		GuildID:   "g1",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Status:    ThreadOpen,
	}
	if err := store.PutThread(ctx, record); err != nil {
		t.Fatalf("put thread: %v", err)
	}
	got, found, err := store.GetThread(ctx, "t2")
	if err != nil || !found {
		t.Fatalf("get thread: found=%t err=%v", found, err)
	}
	if got.ExpiresAt != nil || got.DurationSeconds != nil {
		t.Fatalf("expected nil expiry fields, got %+v", got)
	}
	if !reflect.DeepEqual(record, got) {
		t.Fatalf("round trip mismatch:\nwant %+v\ngot  %+v", record, got)
	}
}

func TestMuteBatchPut(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	expires := time.Now().UTC().Truncate(time.Second)
	records := []MuteRecord{
		{ID: MuteKey("g1", "u1"), GuildID: "g1", UserID: "u1", Temporary: true, ExpiresAt: &expires, Status: MuteOpen},
		{ID: MuteKey("g1", "u2"), GuildID: "g1", UserID: "u2", Temporary: true, ExpiresAt: &expires, Status: MuteLiftedExpired},
	}
	if err := store.PutMutes(ctx, records); err != nil {
		t.Fatalf("put mutes: %v", err)
	}

	listed, err := store.ListMutes(ctx)
	if err != nil {
		t.Fatalf("list mutes: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 mutes, got %d", len(listed))
	}

	got, found, err := store.GetMute(ctx, "g1", "u1")
	if err != nil || !found {
		t.Fatalf("get mute: found=%t err=%v", found, err)
	}
	if !reflect.DeepEqual(records[0], got) {
		t.Fatalf("round trip mismatch:\nwant %+v\ngot  %+v", records[0], got)
	}
}

func TestWarnings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		count, err := store.AppendWarning(ctx, "g1", "u1", Warning{
			Reason:    "flood",
			Timestamp: time.Now().UTC().Truncate(time.Second),
			Moderator: "m1",
		})
		if err != nil {
			t.Fatalf("append warning: %v", err)
		}
		if count != i {
			t.Fatalf("expected count %d, got %d", i, count)
		}
	}

	warnings, err := store.ListWarnings(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("list warnings: %v", err)
	}
	if len(warnings) != 3 {
		t.Fatalf("expected 3 warnings, got %d", len(warnings))
	}
}

func TestThreadChannels(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	added, err := store.AddThreadChannel(ctx, "g1", "c1")
	if err != nil || !added {
		t.Fatalf("add channel: added=%t err=%v", added, err)
	}
	added, err = store.AddThreadChannel(ctx, "g1", "c1")
	if err != nil || added {
		t.Fatalf("expected duplicate add to be a no-op, added=%t err=%v", added, err)
	}

	channels, err := store.ListThreadChannels(ctx, "g1")
	if err != nil {
		t.Fatalf("list channels: %v", err)
	}
	if len(channels) != 1 || channels[0] != "c1" {
		t.Fatalf("unexpected channels %v", channels)
	}

	removed, err := store.RemoveThreadChannel(ctx, "g1", "c1")
	if err != nil || !removed {
		t.Fatalf("remove channel: removed=%t err=%v", removed, err)
	}
	removed, err = store.RemoveThreadChannel(ctx, "g1", "c1")
	if err != nil || removed {
		t.Fatalf("expected second remove to be a no-op, removed=%t err=%v", removed, err)
	}
}

func TestAuditStore(t *testing.T) {
	store, err := NewAuditStore(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("new audit store: %v", err)
	}
	defer store.Close()

	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	entry := AuditLog{
		GuildID:   "g1",
		UserID:    "u1",
		Level:     "WARN",
		Event:     "anti_spam",
		Details:   "message burst",
		CreatedAt: time.Now(),
	}
	if err := store.AddAuditLog(context.Background(), entry); err != nil {
		t.Fatalf("add audit log: %v", err)
	}

	logs, err := store.ListAuditLogs(context.Background(), "g1", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Event != "anti_spam" {
		t.Fatalf("unexpected logs %+v", logs)
	}
}

package warnings

import (
	"context"
	"path/filepath"
	"testing"

	"flexguard/internal/modules/audit"
	"flexguard/internal/storage"

	"go.uber.org/zap"
)

func newTestService(t *testing.T) *Service {
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

	return NewService(store, audit.NewLogger(auditStore, zap.NewNop()))
}

func TestWarnCountsAndEscalates(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		count, escalate, err := service.Warn(ctx, "g1", "u1", "mod1", "flood")
		if err != nil {
			t.Fatalf("warn %d: %v", i, err)
		}
		if count != i || escalate {
			t.Fatalf("warn %d: count=%d escalate=%t", i, count, escalate)
		}
	}

	count, escalate, err := service.Warn(ctx, "g1", "u1", "mod1", "flood")
	if err != nil {
		t.Fatalf("third warn: %v", err)
	}
	if count != 3 || !escalate {
		t.Fatalf("expected escalation at 3, got count=%d escalate=%t", count, escalate)
	}
}

func TestWarningsAreScopedPerUser(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	if _, _, err := service.Warn(ctx, "g1", "u1", "mod1", "spam"); err != nil {
		t.Fatalf("warn: %v", err)
	}
	if _, _, err := service.Warn(ctx, "g1", "u2", "mod1", "insultos"); err != nil {
		t.Fatalf("warn: %v", err)
	}

	list, err := service.List(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Reason != "spam" || list[0].Moderator != "mod1" {
		t.Fatalf("unexpected warnings %+v", list)
	}

	empty, err := service.List(ctx, "g1", "ghost")
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected no warnings, got %v err=%v", empty, err)
	}
}

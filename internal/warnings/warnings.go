// Package warnings keeps the per-user warning ledger.
package warnings

import (
	"context"
	"fmt"
	"time"

	"flexguard/internal/modules/audit"
	"flexguard/internal/storage"
)

// EscalationThreshold is the warning count at which moderators are told
// to consider a heavier sanction.
const EscalationThreshold = 3

type Service struct {
	store *storage.Store
	audit *audit.Logger
	clock func() time.Time
}

func NewService(store *storage.Store, auditLogger *audit.Logger) *Service {
	return &Service{store: store, audit: auditLogger, clock: time.Now}
}

// Warn records a warning and returns the user's new total plus whether
// the total reached the escalation threshold.
func (s *Service) Warn(ctx context.Context, guildID, userID, moderatorID, reason string) (int, bool, error) {
	count, err := s.store.AppendWarning(ctx, guildID, userID, storage.Warning{
		Reason:    reason,
		Timestamp: s.clock().UTC(),
		Moderator: moderatorID,
	})
	if err != nil {
		return 0, false, fmt.Errorf("persist warning: %w", err)
	}
	s.audit.Log(ctx, audit.LevelWarn, guildID, userID, "warning_issued",
		fmt.Sprintf("by=%s total=%d reason=%s", moderatorID, count, reason))
	return count, count >= EscalationThreshold, nil
}

// List returns a user's warnings, oldest first.
func (s *Service) List(ctx context.Context, guildID, userID string) ([]storage.Warning, error) {
	return s.store.ListWarnings(ctx, guildID, userID)
}

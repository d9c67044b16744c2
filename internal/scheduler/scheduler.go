// Package scheduler sweeps persisted temporary state and applies expiry
// side effects. It is the restart backstop for in-process timers: any
// mute or thread whose deadline passed while the process was down gets
// resolved on the next sweep.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"flexguard/internal/metrics"
	"flexguard/internal/modules/audit"
	"flexguard/internal/platform"
	"flexguard/internal/storage"

	"go.uber.org/zap"
)

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Client is the slice of the platform the sweep needs.
type Client interface {
	GuildExists(guildID string) bool
	Member(guildID, userID string) (platform.Member, error)
	RemoveRole(guildID, userID, roleID string) error
	ThreadArchived(channelID string) (bool, error)
	ArchiveThread(channelID string) error
	SendMessage(channelID, content string) (string, error)
}

type Scheduler struct {
	client   Client
	store    *storage.Store
	audit    *audit.Logger
	logger   *zap.Logger
	clock    Clock
	interval time.Duration

	mu      sync.Mutex // serializes sweeps
	stop    chan struct{}
	done    chan struct{}
	started bool
}

func New(client Client, store *storage.Store, auditLogger *audit.Logger, logger *zap.Logger, interval time.Duration) *Scheduler {
	return &Scheduler{
		client:   client,
		store:    store,
		audit:    auditLogger,
		logger:   logger,
		clock:    realClock{},
		interval: interval,
	}
}

// WithClock replaces the wall clock. Call before Start.
func (s *Scheduler) WithClock(clock Clock) { s.clock = clock }

// Start launches the periodic sweep. An immediate sweep runs first so
// deadlines missed during downtime are resolved without waiting a full
// interval.
func (s *Scheduler) Start(ctx context.Context) {
	if s.started {
		return
	}
	s.started = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.Sweep(ctx)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep(ctx)
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (s *Scheduler) Stop() {
	if !s.started {
		return
	}
	close(s.stop)
	<-s.done
	s.started = false
}

// Sweep resolves every expired mute and thread in one pass. Records are
// rewritten in a single batch per kind so a crash mid-sweep at worst
// repeats work, never loses it.
func (s *Scheduler) Sweep(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	metrics.SweepTicks.Inc()
	now := s.clock.Now()
	s.sweepMutes(ctx, now)
	s.sweepThreads(ctx, now)
}

func (s *Scheduler) sweepMutes(ctx context.Context, now time.Time) {
	records, err := s.store.ListMutes(ctx)
	if err != nil {
		s.logger.Error("sweep: list mutes", zap.Error(err))
		return
	}

	var changed []storage.MuteRecord
	for _, record := range records {
		if record.Status != storage.MuteOpen || !record.Temporary {
			continue
		}
		if record.ExpiresAt == nil || record.ExpiresAt.After(now) {
			continue
		}
		record.Status = s.liftMute(record)
		changed = append(changed, record)
		metrics.ExpiredEntities.WithLabelValues("mute", record.Status).Inc()
		s.audit.Log(ctx, audit.LevelInfo, record.GuildID, record.UserID, "mute_expired", "status="+record.Status)
	}
	if len(changed) == 0 {
		return
	}
	if err := s.store.PutMutes(ctx, changed); err != nil {
		s.logger.Error("sweep: persist mutes", zap.Error(err))
	}
}

// liftMute returns the terminal status for one expired mute.
func (s *Scheduler) liftMute(record storage.MuteRecord) string {
	if !s.client.GuildExists(record.GuildID) {
		return storage.MuteOrphaned
	}

	member, err := s.client.Member(record.GuildID, record.UserID)
	switch {
	case errors.Is(err, platform.ErrNotFound):
		return storage.MuteOrphaned
	case errors.Is(err, platform.ErrPermission):
		return storage.MuteLiftFailedPerm
	case err != nil:
		s.logger.Warn("sweep: fetch member", zap.String("user", record.UserID), zap.Error(err))
		return storage.MuteLiftFailedUnkn
	}

	holds := false
	for _, roleID := range member.Roles {
		if roleID == record.RoleID {
			holds = true
			break
		}
	}
	if !holds {
		// Role already gone; the mute is over either way.
		return storage.MuteLiftedExpired
	}

	err = s.client.RemoveRole(record.GuildID, record.UserID, record.RoleID)
	switch {
	case errors.Is(err, platform.ErrNotFound):
		return storage.MuteOrphaned
	case errors.Is(err, platform.ErrPermission):
		return storage.MuteLiftFailedPerm
	case err != nil:
		s.logger.Warn("sweep: remove mute role", zap.String("user", record.UserID), zap.Error(err))
		return storage.MuteLiftFailedUnkn
	}
	return storage.MuteLiftedExpired
}

func (s *Scheduler) sweepThreads(ctx context.Context, now time.Time) {
	records, err := s.store.ListThreads(ctx)
	if err != nil {
		s.logger.Error("sweep: list threads", zap.Error(err))
		return
	}

	var changed []storage.ThreadRecord
	for _, record := range records {
		if record.Status != storage.ThreadOpen || !record.Temporary {
			continue
		}
		if record.ExpiresAt == nil || record.ExpiresAt.After(now) {
			continue
		}
		record.Status = s.archiveThread(record)
		changed = append(changed, record)
		metrics.ExpiredEntities.WithLabelValues("thread", record.Status).Inc()
		s.audit.Log(ctx, audit.LevelInfo, record.GuildID, record.CreatorID, "thread_expired", "thread="+record.ID+" status="+record.Status)
	}
	if len(changed) == 0 {
		return
	}
	if err := s.store.PutThreads(ctx, changed); err != nil {
		s.logger.Error("sweep: persist threads", zap.Error(err))
	}
}

// archiveThread returns the terminal status for one expired thread.
func (s *Scheduler) archiveThread(record storage.ThreadRecord) string {
	if !s.client.GuildExists(record.GuildID) {
		return storage.ThreadOrphaned
	}

	archived, err := s.client.ThreadArchived(record.ID)
	switch {
	case errors.Is(err, platform.ErrNotFound):
		return storage.ThreadOrphaned
	case errors.Is(err, platform.ErrPermission):
		return storage.ThreadArchivalFailedPerm
	case err != nil:
		s.logger.Warn("sweep: inspect thread", zap.String("thread", record.ID), zap.Error(err))
		return storage.ThreadArchivalFailedUnkn
	}
	if archived {
		// Someone beat us to it; record the fact and move on.
		return storage.ThreadArchivedExternally
	}

	if record.NotifyEnabled && len(record.Participants) > 0 {
		if _, err := s.client.SendMessage(record.ID, expiryNotice(record)); err != nil {
			s.logger.Warn("sweep: notify thread participants", zap.String("thread", record.ID), zap.Error(err))
		}
	}

	err = s.client.ArchiveThread(record.ID)
	switch {
	case errors.Is(err, platform.ErrNotFound):
		return storage.ThreadOrphaned
	case errors.Is(err, platform.ErrPermission):
		return storage.ThreadArchivalFailedPerm
	case err != nil:
		s.logger.Warn("sweep: archive thread", zap.String("thread", record.ID), zap.Error(err))
		return storage.ThreadArchivalFailedUnkn
	}
	return storage.ThreadArchivedExpired
}

func expiryNotice(record storage.ThreadRecord) string {
	mentions := make([]string, 0, len(record.Participants))
	for _, userID := range record.Participants {
		mentions = append(mentions, fmt.Sprintf("<@%s>", userID))
	}
	return fmt.Sprintf("⏳ El tiempo de este hilo ha terminado y será archivado. %s", strings.Join(mentions, " "))
}

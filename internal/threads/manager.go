// Package threads manages user-created discussion threads: which
// channels may host them, their optional lifetime, and participant
// notification on expiry.
package threads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flexguard/internal/modules/audit"
	"flexguard/internal/platform"
	"flexguard/internal/storage"
	"flexguard/internal/utils"

	"go.uber.org/zap"
)

var (
	// ErrUnknownThread is returned for operations on a thread this
	// manager never created.
	ErrUnknownThread = errors.New("threads: unknown thread")

	// ErrAlreadyClosed is returned when closing a thread whose record
	// is already in a terminal state.
	ErrAlreadyClosed = errors.New("threads: thread already closed")

	// ErrChannelNotAllowed is returned when a thread is requested in a
	// channel not designated for threads.
	ErrChannelNotAllowed = errors.New("threads: channel not designated for threads")
)

// Client is the slice of the platform the thread manager needs.
type Client interface {
	CreateThread(channelID, name string) (threadID, anchorID string, err error)
	ArchiveThread(threadID string) error
	SendMessage(channelID, content string) (string, error)
}

type Manager struct {
	client Client
	store  *storage.Store
	audit  *audit.Logger
	logger *zap.Logger
	clock  func() time.Time
}

func NewManager(client Client, store *storage.Store, auditLogger *audit.Logger, logger *zap.Logger) *Manager {
	return &Manager{
		client: client,
		store:  store,
		audit:  auditLogger,
		logger: logger,
		clock:  time.Now,
	}
}

// DesignateChannel marks a channel as a thread host. It reports whether
// the channel was newly added.
func (m *Manager) DesignateChannel(ctx context.Context, guildID, channelID string) (bool, error) {
	added, err := m.store.AddThreadChannel(ctx, guildID, channelID)
	if err != nil {
		return false, err
	}
	if added {
		m.audit.Log(ctx, audit.LevelInfo, guildID, "", "thread_channel_added", "channel="+channelID)
	}
	return added, nil
}

// RemoveChannel unmarks a thread host channel. Existing threads keep
// running; only new creations are blocked.
func (m *Manager) RemoveChannel(ctx context.Context, guildID, channelID string) (bool, error) {
	removed, err := m.store.RemoveThreadChannel(ctx, guildID, channelID)
	if err != nil {
		return false, err
	}
	if removed {
		m.audit.Log(ctx, audit.LevelInfo, guildID, "", "thread_channel_removed", "channel="+channelID)
	}
	return removed, nil
}

// Channels lists the designated thread host channels of a guild.
func (m *Manager) Channels(ctx context.Context, guildID string) ([]string, error) {
	return m.store.ListThreadChannels(ctx, guildID)
}

// Create starts a thread in a designated channel. duration is optional
// ("30s", "10m", "2h", "1d"); when set, the thread archives itself at
// expiry, mentioning its participants first if notify is on.
func (m *Manager) Create(ctx context.Context, guildID, channelID, creatorID, name, duration string, notify bool) (storage.ThreadRecord, error) {
	channels, err := m.store.ListThreadChannels(ctx, guildID)
	if err != nil {
		return storage.ThreadRecord{}, err
	}
	allowed := false
	for _, id := range channels {
		if id == channelID {
			allowed = true
			break
		}
	}
	if !allowed {
		return storage.ThreadRecord{}, ErrChannelNotAllowed
	}

	record := storage.ThreadRecord{
		Name:            name,
		ParentChannelID: channelID,
		GuildID:         guildID,
		CreatorID:       creatorID,
		CreatedAt:       m.clock().UTC(),
		Participants:    []string{creatorID},
		NotifyEnabled:   notify,
		Status:          storage.ThreadOpen,
	}
	if duration != "" {
		d, err := utils.ParseDuration(duration)
		if err != nil {
			return storage.ThreadRecord{}, err
		}
		seconds := int64(d / time.Second)
		expires := record.CreatedAt.Add(d)
		record.Temporary = true
		record.DurationSeconds = &seconds
		record.ExpiresAt = &expires
	}

	threadID, _, err := m.client.CreateThread(channelID, name)
	if err != nil {
		return storage.ThreadRecord{}, fmt.Errorf("create thread: %w", err)
	}
	record.ID = threadID

	if err := m.store.PutThread(ctx, record); err != nil {
		return storage.ThreadRecord{}, fmt.Errorf("persist thread: %w", err)
	}
	m.audit.Log(ctx, audit.LevelInfo, guildID, creatorID, "thread_created", "thread="+threadID+" name="+name)

	if _, err := m.client.SendMessage(threadID, welcome(record)); err != nil {
		m.logger.Warn("thread welcome message", zap.String("thread", threadID), zap.Error(err))
	}
	return record, nil
}

// Close archives a thread on a moderator's request.
func (m *Manager) Close(ctx context.Context, guildID, threadID, moderatorID string) error {
	record, found, err := m.store.GetThread(ctx, threadID)
	if err != nil {
		return err
	}
	if !found || record.GuildID != guildID {
		return ErrUnknownThread
	}
	if record.Status != storage.ThreadOpen {
		return ErrAlreadyClosed
	}

	archiveErr := m.client.ArchiveThread(threadID)
	switch {
	case errors.Is(archiveErr, platform.ErrNotFound):
		record.Status = storage.ThreadOrphaned
	case errors.Is(archiveErr, platform.ErrPermission):
		record.Status = storage.ThreadArchivalFailedPerm
	case archiveErr != nil:
		record.Status = storage.ThreadArchivalFailedUnkn
	default:
		record.Status = storage.ThreadArchivedManual
		record.ClosedBy = moderatorID
	}

	if err := m.store.PutThread(ctx, record); err != nil {
		return fmt.Errorf("persist thread: %w", err)
	}
	m.audit.Log(ctx, audit.LevelInfo, guildID, moderatorID, "thread_closed", "thread="+threadID+" status="+record.Status)
	return archiveErr
}

// HandleMessage tracks thread participants so expiry notices reach
// everyone who spoke. Messages outside managed open threads are
// ignored.
func (m *Manager) HandleMessage(ctx context.Context, threadID, authorID string) {
	record, found, err := m.store.GetThread(ctx, threadID)
	if err != nil {
		m.logger.Warn("load thread record", zap.String("thread", threadID), zap.Error(err))
		return
	}
	if !found || record.Status != storage.ThreadOpen || !record.NotifyEnabled {
		return
	}
	for _, id := range record.Participants {
		if id == authorID {
			return
		}
	}
	record.Participants = append(record.Participants, authorID)
	if err := m.store.PutThread(ctx, record); err != nil {
		m.logger.Warn("persist thread participants", zap.String("thread", threadID), zap.Error(err))
	}
}

func welcome(record storage.ThreadRecord) string {
	if !record.Temporary {
		return fmt.Sprintf("🧵 Hilo creado por <@%s>.", record.CreatorID)
	}
	return fmt.Sprintf("🧵 Hilo creado por <@%s>. Se archivará automáticamente <t:%d:R>.",
		record.CreatorID, record.ExpiresAt.Unix())
}

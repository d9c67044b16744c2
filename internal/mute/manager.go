// Package mute owns the "Muted" capability role: finding or creating it,
// keeping channel overrides in place, and granting or revoking it with an
// optional expiry.
package mute

import (
	"context"
	"errors"
	"time"

	"flexguard/internal/modules/audit"
	"flexguard/internal/platform"
	"flexguard/internal/storage"

	"go.uber.org/zap"
)

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type realClock struct{}

type realTimer struct{ t *time.Timer }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{t: time.AfterFunc(d, f)}
}

func (t realTimer) Stop() bool { return t.t.Stop() }

// Client is the slice of the platform the mute manager needs.
type Client interface {
	GuildRoles(guildID string) ([]platform.Role, error)
	CreateRole(guildID, name string) (platform.Role, error)
	GuildChannels(guildID string) ([]platform.Channel, error)
	DenyChannelPermissions(channelID, roleID string) error
	AddRole(guildID, userID, roleID string) error
	RemoveRole(guildID, userID, roleID string) error
	Member(guildID, userID string) (platform.Member, error)
}

type Manager struct {
	client   Client
	store    *storage.Store
	audit    *audit.Logger
	logger   *zap.Logger
	clock    Clock
	roleName string
}

func NewManager(client Client, store *storage.Store, auditLogger *audit.Logger, logger *zap.Logger, roleName string) *Manager {
	return &Manager{
		client:   client,
		store:    store,
		audit:    auditLogger,
		logger:   logger,
		clock:    realClock{},
		roleName: roleName,
	}
}

func (m *Manager) WithClock(clock Clock) {
	m.clock = clock
}

// EnsureRole finds or creates the muted role and denies send/speak/react on
// every channel. Per-channel permission failures are logged and skipped; only
// a failure to obtain the role itself is fatal to the caller.
func (m *Manager) EnsureRole(ctx context.Context, guildID string) (string, error) {
	roles, err := m.client.GuildRoles(guildID)
	if err != nil {
		return "", err
	}
	roleID := ""
	for _, role := range roles {
		if role.Name == m.roleName {
			roleID = role.ID
			break
		}
	}
	if roleID == "" {
		role, err := m.client.CreateRole(guildID, m.roleName)
		if err != nil {
			return "", err
		}
		roleID = role.ID
		m.audit.Log(ctx, audit.LevelInfo, guildID, "", "mute_role_created", "role="+m.roleName)
	}

	channels, err := m.client.GuildChannels(guildID)
	if err != nil {
		m.logger.Warn("mute role channel listing failed", zap.String("guild_id", guildID), zap.Error(err))
		return roleID, nil
	}
	for _, channel := range channels {
		if channel.Category {
			continue
		}
		if err := m.client.DenyChannelPermissions(channel.ID, roleID); err != nil {
			m.logger.Warn("mute override failed",
				zap.String("guild_id", guildID),
				zap.String("channel_id", channel.ID),
				zap.Error(err))
		}
	}
	return roleID, nil
}

func (m *Manager) Grant(ctx context.Context, guildID, userID, roleID, reason string) error {
	if err := m.client.AddRole(guildID, userID, roleID); err != nil {
		return err
	}
	m.audit.Log(ctx, audit.LevelWarn, guildID, userID, "mute_granted", reason)
	return nil
}

// Revoke removes the role if the user still holds it. Revoking a role the
// user does not hold, or a user who already left, is a no-op.
func (m *Manager) Revoke(ctx context.Context, guildID, userID, roleID, reason string) error {
	held, err := m.HasRole(guildID, userID, roleID)
	if err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return nil
		}
		return err
	}
	if !held {
		return nil
	}
	if err := m.client.RemoveRole(guildID, userID, roleID); err != nil {
		return err
	}
	m.audit.Log(ctx, audit.LevelInfo, guildID, userID, "mute_revoked", reason)
	return nil
}

func (m *Manager) HasRole(guildID, userID, roleID string) (bool, error) {
	member, err := m.client.Member(guildID, userID)
	if err != nil {
		return false, err
	}
	for _, id := range member.Roles {
		if id == roleID {
			return true, nil
		}
	}
	return false, nil
}

// GrantTemporary grants the role, persists the mute record so a restart can
// still revoke it, and schedules the in-process revoke. At fire time
// membership is re-checked: a user unmuted manually in the meantime is left
// alone.
func (m *Manager) GrantTemporary(ctx context.Context, guildID, userID, roleID string, duration time.Duration, reason string) error {
	if err := m.Grant(ctx, guildID, userID, roleID, reason); err != nil {
		return err
	}

	now := m.clock.Now().UTC()
	expires := now.Add(duration)
	record := storage.MuteRecord{
		ID:        storage.MuteKey(guildID, userID),
		GuildID:   guildID,
		UserID:    userID,
		RoleID:    roleID,
		Reason:    reason,
		Temporary: true,
		CreatedAt: now,
		ExpiresAt: &expires,
		Status:    storage.MuteOpen,
	}
	if err := m.store.PutMute(ctx, record); err != nil {
		m.logger.Error("mute record save failed", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
	}

	m.clock.AfterFunc(duration, func() {
		m.liftExpired(context.Background(), guildID, userID, roleID)
	})
	return nil
}

func (m *Manager) liftExpired(ctx context.Context, guildID, userID, roleID string) {
	record, found, err := m.store.GetMute(ctx, guildID, userID)
	if err != nil {
		m.logger.Error("mute record load failed", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
		return
	}
	if found && record.Status != storage.MuteOpen {
		return
	}
	// A replacement mute moved the deadline; this timer is stale and
	// the replacement's own timer will do the lifting.
	if found && record.ExpiresAt != nil && record.ExpiresAt.After(m.clock.Now()) {
		return
	}
	if err := m.Revoke(ctx, guildID, userID, roleID, "Tiempo de silencio cumplido"); err != nil {
		m.logger.Warn("timed unmute failed", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
		return
	}
	m.MarkLifted(ctx, guildID, userID, storage.MuteLiftedExpired)
}

// MarkLifted moves an open mute record to a terminal status. Records already
// terminal are left untouched.
func (m *Manager) MarkLifted(ctx context.Context, guildID, userID, status string) {
	record, found, err := m.store.GetMute(ctx, guildID, userID)
	if err != nil || !found || record.Status != storage.MuteOpen {
		return
	}
	record.Status = status
	if err := m.store.PutMute(ctx, record); err != nil {
		m.logger.Error("mute record update failed", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
	}
}

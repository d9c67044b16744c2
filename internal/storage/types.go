package storage

import "time"

// Report statuses. Transitions are forward-only: a resolved or discarded
// report never changes again.
const (
	ReportPending   = "pendiente"
	ReportResolved  = "resuelto"
	ReportDiscarded = "descartado"
)

// Thread statuses. "open" is the only non-terminal value.
const (
	ThreadOpen               = "open"
	ThreadArchivedManual     = "archived_manual"
	ThreadArchivedExpired    = "archived_expired"
	ThreadArchivedExternally = "archived_externally"
	ThreadArchivalFailedPerm = "archival_failed_permissions"
	ThreadArchivalFailedUnkn = "archival_failed_unknown"
	ThreadOrphaned           = "orphaned"
)

// Mute statuses. "open" is the only non-terminal value.
const (
	MuteOpen           = "open"
	MuteLiftedExpired  = "lifted_expired"
	MuteLiftedManual   = "lifted_manual"
	MuteLiftFailedPerm = "lift_failed_permissions"
	MuteLiftFailedUnkn = "lift_failed_unknown"
	MuteOrphaned       = "orphaned"
)

// Report is one entry in a guild's report sequence. ID is the stable internal
// identifier issued by a per-guild monotonic counter; the user-facing report
// number is the 1-based position in the sequence.
type Report struct {
	ID              int64     `json:"id"`
	ReportedUser    string    `json:"reported_user"`
	ReportedBy      string    `json:"reported_by"`
	Reason          string    `json:"reason"`
	Timestamp       time.Time `json:"timestamp"`
	Status          string    `json:"status"`
	ChannelID       string    `json:"channel_id"`
	GuildID         string    `json:"guild_id"`
	ReviewMessageID string    `json:"review_message_id,omitempty"`
}

type Warning struct {
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
	Moderator string    `json:"moderator"`
}

type ThreadRecord struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	ParentChannelID string     `json:"parent_channel_id"`
	GuildID         string     `json:"guild_id"`
	CreatorID       string     `json:"creator_id"`
	Temporary       bool       `json:"temporary"`
	DurationSeconds *int64     `json:"duration_seconds"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       *time.Time `json:"expires_at"`
	Participants    []string   `json:"participants"`
	NotifyEnabled   bool       `json:"notify_enabled"`
	Status          string     `json:"status"`
	ClosedBy        string     `json:"closed_by,omitempty"`
}

// MuteRecord keys a (guild, user) pair. Re-muting writes a replacement record
// under the same key; ExpiresAt is never mutated in place.
type MuteRecord struct {
	ID        string     `json:"id"`
	GuildID   string     `json:"guild_id"`
	UserID    string     `json:"user_id"`
	RoleID    string     `json:"role_id"`
	Reason    string     `json:"reason"`
	Temporary bool       `json:"temporary"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at"`
	Status    string     `json:"status"`
}

// MuteKey builds the document key for a (guild, user) mute.
func MuteKey(guildID, userID string) string {
	return guildID + ":" + userID
}

// Package reports files user reports into a moderator review channel and
// drives each one through its reaction-based lifecycle.
package reports

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"flexguard/internal/config"
	"flexguard/internal/metrics"
	"flexguard/internal/modules/audit"
	"flexguard/internal/platform"
	"flexguard/internal/storage"

	"go.uber.org/zap"
)

// Review reactions.
const (
	EmojiResolve = "✅"
	EmojiDiscard = "❌"
	EmojiAction  = "🔨"
)

// Embed colors per report state.
const (
	colorPending   = 0xED4245
	colorResolved  = 0x57F287
	colorDiscarded = 0x95A5A6
)

// ValidationError rejects a report before anything is persisted.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Client is the slice of the platform the report flow needs.
type Client interface {
	GuildChannels(guildID string) ([]platform.Channel, error)
	GuildRoles(guildID string) ([]platform.Role, error)
	CreateCategory(guildID, name string) (platform.Channel, error)
	CreateRestrictedChannel(guildID, name, categoryID, topic string, viewerRoleIDs []string) (platform.Channel, error)
	SendEmbed(channelID string, embed platform.Embed) (string, error)
	EditEmbed(channelID, messageID string, embed platform.Embed) error
	AddReaction(channelID, messageID, emoji string) error
	ClearReactions(channelID, messageID string) error
}

// ActionStarter opens a moderation action menu for a report under review.
type ActionStarter interface {
	Begin(ctx context.Context, report storage.Report, channelID, moderatorID string) error
}

// Store is the document access the report flow needs.
type Store interface {
	AppendReport(ctx context.Context, report storage.Report) (storage.Report, int, error)
	ListReports(ctx context.Context, guildID string) ([]storage.Report, error)
	UpdateReport(ctx context.Context, guildID string, reportID int64, update func(*storage.Report) error) (storage.Report, error)
}

type Service struct {
	client  Client
	store   Store
	audit   *audit.Logger
	logger  *zap.Logger
	actions ActionStarter
	cfg     config.ReportsConfig
	clock   func() time.Time
}

func NewService(client Client, store Store, auditLogger *audit.Logger, logger *zap.Logger, cfg config.ReportsConfig) *Service {
	return &Service{
		client: client,
		store:  store,
		audit:  auditLogger,
		logger: logger,
		cfg:    cfg,
		clock:  time.Now,
	}
}

// SetActionStarter wires the dispatcher after construction; the two
// components reference each other.
func (s *Service) SetActionStarter(actions ActionStarter) { s.actions = actions }

// File validates and persists a new report, then posts it for review.
// The returned int is the user-facing report number.
func (s *Service) File(ctx context.Context, guildID, channelID, reporterID, targetID string, targetIsBot bool, reason string) (storage.Report, int, error) {
	if reporterID == targetID {
		return storage.Report{}, 0, &ValidationError{Reason: "No puedes reportarte a ti mismo."}
	}
	if targetIsBot {
		return storage.Report{}, 0, &ValidationError{Reason: "No puedes reportar a un bot."}
	}

	report, position, err := s.store.AppendReport(ctx, storage.Report{
		ReportedUser: targetID,
		ReportedBy:   reporterID,
		Reason:       reason,
		Timestamp:    s.clock().UTC(),
		Status:       storage.ReportPending,
		ChannelID:    channelID,
		GuildID:      guildID,
	})
	if err != nil {
		return storage.Report{}, 0, fmt.Errorf("persist report: %w", err)
	}
	metrics.ReportsFiled.Inc()
	s.audit.Log(ctx, audit.LevelWarn, guildID, targetID, "report_filed", fmt.Sprintf("by=%s reason=%s", reporterID, reason))

	// Posting for review is best effort: the report is already on record
	// and remains listable even if the review channel is unreachable.
	reviewChannelID, err := s.ensureReviewChannel(ctx, guildID)
	if err != nil {
		s.logger.Warn("report filed but review channel unavailable", zap.String("guild", guildID), zap.Error(err))
		return report, position, nil
	}

	messageID, err := s.client.SendEmbed(reviewChannelID, reviewEmbed(report, position, ""))
	if err != nil {
		s.logger.Warn("post report for review", zap.String("guild", guildID), zap.Error(err))
		return report, position, nil
	}
	for _, emoji := range []string{EmojiResolve, EmojiDiscard, EmojiAction} {
		if err := s.client.AddReaction(reviewChannelID, messageID, emoji); err != nil {
			s.logger.Warn("seed review reaction", zap.String("emoji", emoji), zap.Error(err))
		}
	}

	updated, err := s.store.UpdateReport(ctx, guildID, report.ID, func(r *storage.Report) error {
		r.ReviewMessageID = messageID
		return nil
	})
	if err != nil {
		// The report is already on record and posted; reactions on the
		// review message just will not resolve until refiled.
		s.logger.Warn("record review message", zap.Int64("report", report.ID), zap.Error(err))
		return report, position, nil
	}
	return updated, position, nil
}

// OnReaction advances the report posted as messageID. Reactions from
// users without moderation rights and reactions on settled reports are
// ignored. It reports whether the reaction belonged to a report.
func (s *Service) OnReaction(ctx context.Context, guildID, channelID, messageID, emoji, moderatorID string, canModerate bool) (bool, error) {
	report, position, found, err := s.findByReviewMessage(ctx, guildID, messageID)
	if err != nil || !found {
		return false, err
	}
	if !canModerate {
		return true, nil
	}
	if report.Status != storage.ReportPending {
		return true, nil
	}

	switch emoji {
	case EmojiResolve:
		return true, s.settle(ctx, report, position, channelID, moderatorID, storage.ReportResolved)
	case EmojiDiscard:
		return true, s.settle(ctx, report, position, channelID, moderatorID, storage.ReportDiscarded)
	case EmojiAction:
		if s.actions == nil {
			return true, nil
		}
		return true, s.actions.Begin(ctx, report, channelID, moderatorID)
	}
	return true, nil
}

func (s *Service) settle(ctx context.Context, report storage.Report, position int, channelID, moderatorID, status string) error {
	updated, err := s.store.UpdateReport(ctx, report.GuildID, report.ID, func(r *storage.Report) error {
		if r.Status != storage.ReportPending {
			return fmt.Errorf("report already %s", r.Status)
		}
		r.Status = status
		return nil
	})
	if err != nil {
		return fmt.Errorf("settle report: %w", err)
	}

	s.audit.Log(ctx, audit.LevelInfo, report.GuildID, report.ReportedUser, "report_"+status, "by="+moderatorID)

	if err := s.client.EditEmbed(channelID, report.ReviewMessageID, reviewEmbed(updated, position, moderatorID)); err != nil {
		s.logger.Warn("update review embed", zap.Int64("report", report.ID), zap.Error(err))
	}
	if err := s.client.ClearReactions(channelID, report.ReviewMessageID); err != nil {
		s.logger.Warn("clear review reactions", zap.Int64("report", report.ID), zap.Error(err))
	}
	return nil
}

// Settle closes a report from outside the reaction flow, after a
// moderation action taken through the hammer menu.
func (s *Service) Settle(ctx context.Context, report storage.Report, moderatorID string) error {
	position, err := s.position(ctx, report)
	if err != nil {
		return err
	}
	return s.settle(ctx, report, position, s.reviewChannelIDOf(ctx, report), moderatorID, storage.ReportResolved)
}

// Numbered pairs a report with its user-facing number.
type Numbered struct {
	Report   storage.Report
	Position int
}

// List returns reports matching the status filter. The filter accepts
// the three statuses plus "todos" for everything.
func (s *Service) List(ctx context.Context, guildID, status string) ([]Numbered, error) {
	switch status {
	case "todos", storage.ReportPending, storage.ReportResolved, storage.ReportDiscarded:
	default:
		return nil, &ValidationError{Reason: fmt.Sprintf("Estado inválido: %s. Usa pendiente, resuelto, descartado o todos.", status)}
	}

	reports, err := s.store.ListReports(ctx, guildID)
	if err != nil {
		return nil, err
	}
	var out []Numbered
	for i, report := range reports {
		if status != "todos" && report.Status != status {
			continue
		}
		out = append(out, Numbered{Report: report, Position: i + 1})
	}
	return out, nil
}

func (s *Service) findByReviewMessage(ctx context.Context, guildID, messageID string) (storage.Report, int, bool, error) {
	reports, err := s.store.ListReports(ctx, guildID)
	if err != nil {
		return storage.Report{}, 0, false, err
	}
	for i, report := range reports {
		if report.ReviewMessageID != "" && report.ReviewMessageID == messageID {
			return report, i + 1, true, nil
		}
	}
	return storage.Report{}, 0, false, nil
}

func (s *Service) position(ctx context.Context, report storage.Report) (int, error) {
	reports, err := s.store.ListReports(ctx, report.GuildID)
	if err != nil {
		return 0, err
	}
	for i, r := range reports {
		if r.ID == report.ID {
			return i + 1, nil
		}
	}
	return 0, storage.ErrReportNotFound
}

func (s *Service) reviewChannelIDOf(ctx context.Context, report storage.Report) string {
	channels, err := s.client.GuildChannels(report.GuildID)
	if err != nil {
		return ""
	}
	for _, channel := range channels {
		if !channel.Category && channel.Name == s.cfg.ChannelName {
			return channel.ID
		}
	}
	return ""
}

// ensureReviewChannel finds the moderator-only review channel, creating
// the category and channel on first use. Visibility is granted to every
// role that can manage messages.
func (s *Service) ensureReviewChannel(ctx context.Context, guildID string) (string, error) {
	channels, err := s.client.GuildChannels(guildID)
	if err != nil {
		return "", err
	}
	var categoryID string
	for _, channel := range channels {
		if !channel.Category && channel.Name == s.cfg.ChannelName {
			return channel.ID, nil
		}
		if channel.Category && channel.Name == s.cfg.CategoryName {
			categoryID = channel.ID
		}
	}

	if categoryID == "" {
		category, err := s.client.CreateCategory(guildID, s.cfg.CategoryName)
		if err != nil {
			return "", fmt.Errorf("create category: %w", err)
		}
		categoryID = category.ID
	}

	roles, err := s.client.GuildRoles(guildID)
	if err != nil {
		return "", err
	}
	var viewerRoleIDs []string
	for _, role := range roles {
		if role.Permissions&discordgo.PermissionManageMessages != 0 {
			viewerRoleIDs = append(viewerRoleIDs, role.ID)
		}
	}

	channel, err := s.client.CreateRestrictedChannel(guildID, s.cfg.ChannelName, categoryID, "Reportes de usuarios para revisión del equipo de moderación", viewerRoleIDs)
	if err != nil {
		return "", fmt.Errorf("create review channel: %w", err)
	}
	s.audit.Log(ctx, audit.LevelInfo, guildID, "", "review_channel_created", "channel="+channel.ID)
	return channel.ID, nil
}

func reviewEmbed(report storage.Report, position int, moderatorID string) platform.Embed {
	embed := platform.Embed{
		Title:     fmt.Sprintf("🚨 Reporte #%d", position),
		Color:     colorPending,
		Footer:    fmt.Sprintf("Reporte #%d", position),
		Timestamp: report.Timestamp,
		Fields: []platform.EmbedField{
			{Name: "Usuario reportado", Value: fmt.Sprintf("<@%s>", report.ReportedUser), Inline: true},
			{Name: "Reportado por", Value: fmt.Sprintf("<@%s>", report.ReportedBy), Inline: true},
			{Name: "Razón", Value: report.Reason},
			{Name: "Estado", Value: report.Status, Inline: true},
		},
	}
	switch report.Status {
	case storage.ReportResolved:
		embed.Color = colorResolved
	case storage.ReportDiscarded:
		embed.Color = colorDiscarded
	}
	if moderatorID != "" && report.Status != storage.ReportPending {
		embed.Fields = append(embed.Fields, platform.EmbedField{Name: "Revisado por", Value: fmt.Sprintf("<@%s>", moderatorID), Inline: true})
	}
	return embed
}

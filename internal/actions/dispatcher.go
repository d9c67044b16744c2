// Package actions runs the timed moderation-action menu opened from a
// report under review: the moderator picks a sanction by reaction, then
// has a bounded window to type the reason or cancel.
package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"flexguard/internal/config"
	"flexguard/internal/metrics"
	"flexguard/internal/modules/audit"
	"flexguard/internal/platform"
	"flexguard/internal/storage"

	"go.uber.org/zap"
)

// Menu reactions.
const (
	EmojiMute = "🔇"
	EmojiKick = "👢"
	EmojiBan  = "🔨"
)

// Action kinds.
const (
	KindMute = "mute"
	KindKick = "kick"
	KindBan  = "ban"
)

// Terminal outcomes.
const (
	OutcomeApplied   = "applied"
	OutcomeCancelled = "cancelled"
	OutcomeTimedOut  = "timed_out"
	OutcomeFailed    = "failed"
)

const (
	stageAwaitingChoice = "awaiting_choice"
	stageAwaitingReason = "awaiting_reason"
)

const colorMenu = 0xF1C40F

// Client is the slice of the platform the dispatcher needs.
type Client interface {
	Member(guildID, userID string) (platform.Member, error)
	KickMember(guildID, userID, reason string) error
	BanMember(guildID, userID, reason string) error
	SendEmbed(channelID string, embed platform.Embed) (string, error)
	EditEmbed(channelID, messageID string, embed platform.Embed) error
	AddReaction(channelID, messageID, emoji string) error
	ClearReactions(channelID, messageID string) error
	SendMessage(channelID, content string) (string, error)
	AwaitMessage(ctx context.Context, channelID, authorID string) (string, error)
}

// Muter applies the mute sanction.
type Muter interface {
	EnsureRole(ctx context.Context, guildID string) (string, error)
	Grant(ctx context.Context, guildID, userID, roleID, reason string) error
}

// ReportSettler closes the originating report once a sanction lands.
type ReportSettler interface {
	Settle(ctx context.Context, report storage.Report, moderatorID string) error
}

type pendingAction struct {
	report      storage.Report
	moderatorID string
	channelID   string
	messageID   string
	stage       string
}

type Dispatcher struct {
	client  Client
	muter   Muter
	audit   *audit.Logger
	logger  *zap.Logger
	settler ReportSettler
	cfg     config.ReportsConfig

	mu      sync.Mutex
	pending map[string]*pendingAction // keyed by menu message id
}

func NewDispatcher(client Client, muter Muter, auditLogger *audit.Logger, logger *zap.Logger, cfg config.ReportsConfig) *Dispatcher {
	return &Dispatcher{
		client:  client,
		muter:   muter,
		audit:   auditLogger,
		logger:  logger,
		cfg:     cfg,
		pending: make(map[string]*pendingAction),
	}
}

// SetSettler wires the report service after construction; the two
// components reference each other.
func (d *Dispatcher) SetSettler(settler ReportSettler) { d.settler = settler }

// Begin posts the sanction menu for a report in the given channel and
// waits for the moderator's choice by reaction.
func (d *Dispatcher) Begin(ctx context.Context, report storage.Report, channelID, moderatorID string) error {
	embed := platform.Embed{
		Title: "⚖️ Acción de moderación",
		Description: fmt.Sprintf("Elige la sanción para <@%s>:\n%s Silenciar\n%s Expulsar\n%s Banear",
			report.ReportedUser, EmojiMute, EmojiKick, EmojiBan),
		Color: colorMenu,
	}
	messageID, err := d.client.SendEmbed(channelID, embed)
	if err != nil {
		return fmt.Errorf("post action menu: %w", err)
	}
	for _, emoji := range []string{EmojiMute, EmojiKick, EmojiBan} {
		if err := d.client.AddReaction(channelID, messageID, emoji); err != nil {
			d.logger.Warn("seed menu reaction", zap.String("emoji", emoji), zap.Error(err))
		}
	}

	d.mu.Lock()
	d.pending[messageID] = &pendingAction{
		report:      report,
		moderatorID: moderatorID,
		channelID:   channelID,
		messageID:   messageID,
		stage:       stageAwaitingChoice,
	}
	d.mu.Unlock()
	return nil
}

// OnReaction consumes a reaction on an open menu. Only the moderator who
// opened the menu may choose; everything else is ignored. It reports
// whether the message carried a menu.
func (d *Dispatcher) OnReaction(ctx context.Context, messageID, emoji, userID string) bool {
	kind, ok := kindFor(emoji)

	d.mu.Lock()
	action, exists := d.pending[messageID]
	if !exists {
		d.mu.Unlock()
		return false
	}
	if !ok || userID != action.moderatorID || action.stage != stageAwaitingChoice {
		d.mu.Unlock()
		return true
	}
	action.stage = stageAwaitingReason
	d.mu.Unlock()

	// The reason wait blocks for up to the configured window; it must
	// not stall the gateway event loop.
	go d.collectReason(ctx, action, kind)
	return true
}

func kindFor(emoji string) (string, bool) {
	switch emoji {
	case EmojiMute:
		return KindMute, true
	case EmojiKick:
		return KindKick, true
	case EmojiBan:
		return KindBan, true
	}
	return "", false
}

// collectReason prompts for the reason, applies or abandons the
// sanction, and retires the menu. Every path out of here is terminal.
func (d *Dispatcher) collectReason(ctx context.Context, action *pendingAction, kind string) {
	// A target that already left the guild fails outright; no point
	// asking the moderator for a reason.
	if _, err := d.client.Member(action.report.GuildID, action.report.ReportedUser); errors.Is(err, platform.ErrNotFound) {
		d.finish(ctx, action, kind, OutcomeFailed)
		return
	}

	timeout := time.Duration(d.cfg.ReasonTimeoutSeconds) * time.Second
	prompt := fmt.Sprintf("<@%s> Escribe la razón de la sanción (tienes %d segundos) o escribe `%s` para abortar.",
		action.moderatorID, d.cfg.ReasonTimeoutSeconds, d.cfg.CancelKeyword)
	if _, err := d.client.SendMessage(action.channelID, prompt); err != nil {
		d.logger.Warn("prompt for reason", zap.Error(err))
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outcome := OutcomeApplied
	reason, err := d.client.AwaitMessage(waitCtx, action.channelID, action.moderatorID)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		outcome = OutcomeTimedOut
	case err != nil:
		d.logger.Warn("await reason", zap.Error(err))
		outcome = OutcomeFailed
	case strings.EqualFold(strings.TrimSpace(reason), d.cfg.CancelKeyword):
		outcome = OutcomeCancelled
	}

	if outcome == OutcomeApplied {
		outcome = d.apply(ctx, action, kind, strings.TrimSpace(reason))
	}
	d.finish(ctx, action, kind, outcome)
}

// apply lands the sanction exactly once and reports the outcome.
func (d *Dispatcher) apply(ctx context.Context, action *pendingAction, kind, reason string) string {
	report := action.report
	if reason == "" {
		reason = "No especificada"
	}

	var err error
	switch kind {
	case KindMute:
		var roleID string
		if roleID, err = d.muter.EnsureRole(ctx, report.GuildID); err == nil {
			err = d.muter.Grant(ctx, report.GuildID, report.ReportedUser, roleID, reason)
		}
	case KindKick:
		err = d.client.KickMember(report.GuildID, report.ReportedUser, reason)
	case KindBan:
		err = d.client.BanMember(report.GuildID, report.ReportedUser, reason)
	}
	if err != nil {
		if !errors.Is(err, platform.ErrNotFound) {
			d.logger.Error("apply sanction", zap.String("kind", kind), zap.String("user", report.ReportedUser), zap.Error(err))
		}
		return OutcomeFailed
	}

	d.audit.Log(ctx, audit.LevelCrit, report.GuildID, report.ReportedUser,
		"action_"+kind, fmt.Sprintf("by=%s reason=%s", action.moderatorID, reason))

	if d.settler != nil {
		if err := d.settler.Settle(ctx, report, action.moderatorID); err != nil {
			d.logger.Warn("settle report after sanction", zap.Int64("report", report.ID), zap.Error(err))
		}
	}
	return OutcomeApplied
}

// finish is the single cleanup path: it retires the pending entry,
// rewrites the menu with the outcome, and counts the dispatch.
func (d *Dispatcher) finish(ctx context.Context, action *pendingAction, kind, outcome string) {
	d.mu.Lock()
	delete(d.pending, action.messageID)
	d.mu.Unlock()

	metrics.ActionsDispatched.WithLabelValues(kind, outcome).Inc()

	if err := d.client.ClearReactions(action.channelID, action.messageID); err != nil {
		d.logger.Warn("clear menu reactions", zap.Error(err))
	}
	if err := d.client.EditEmbed(action.channelID, action.messageID, outcomeEmbed(action, kind, outcome)); err != nil {
		d.logger.Warn("edit menu outcome", zap.Error(err))
	}
}

func outcomeEmbed(action *pendingAction, kind, outcome string) platform.Embed {
	labels := map[string]string{
		OutcomeApplied:   "✅ Sanción aplicada",
		OutcomeCancelled: "🚫 Acción cancelada",
		OutcomeTimedOut:  "⌛ Tiempo agotado, acción abortada",
		OutcomeFailed:    "⚠️ No se pudo aplicar la sanción",
	}
	names := map[string]string{KindMute: "Silenciar", KindKick: "Expulsar", KindBan: "Banear"}

	color := colorMenu
	if outcome == OutcomeApplied {
		color = 0x57F287
	}
	return platform.Embed{
		Title: labels[outcome],
		Description: fmt.Sprintf("Sanción: %s\nUsuario: <@%s>\nModerador: <@%s>",
			names[kind], action.report.ReportedUser, action.moderatorID),
		Color: color,
	}
}

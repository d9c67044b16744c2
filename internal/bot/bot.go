package bot

import (
	"context"
	"fmt"
	"time"

	"flexguard/internal/actions"
	"flexguard/internal/config"
	"flexguard/internal/metrics"
	"flexguard/internal/modules/antispam"
	"flexguard/internal/modules/audit"
	"flexguard/internal/mute"
	"flexguard/internal/platform"
	"flexguard/internal/reports"
	"flexguard/internal/storage"
	"flexguard/internal/threads"
	"flexguard/internal/warnings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type Bot struct {
	cfg      config.Config
	logger   *zap.Logger
	store    *storage.Store
	audit    *audit.Logger
	session  *discordgo.Session
	platform *platform.Discord

	antispam *antispam.Detector
	mutes    *mute.Manager
	reports  *reports.Service
	actions  *actions.Dispatcher
	threads  *threads.Manager
	warnings *warnings.Service
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store, auditLogger *audit.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsMessageContent

	client := platform.NewDiscord(session)

	b := &Bot{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		audit:    auditLogger,
		session:  session,
		platform: client,
	}

	b.antispam = antispam.New(cfg.AntiSpam)
	b.mutes = mute.NewManager(client, store, auditLogger, logger, cfg.Mute.RoleName)
	b.reports = reports.NewService(client, store, auditLogger, logger, cfg.Reports)
	b.actions = actions.NewDispatcher(client, b.mutes, auditLogger, logger, cfg.Reports)
	b.reports.SetActionStarter(b.actions)
	b.actions.SetSettler(b.reports)
	b.threads = threads.NewManager(client, store, auditLogger, logger)
	b.warnings = warnings.NewService(store, auditLogger)

	return b, nil
}

// Platform exposes the shared platform client for collaborators built
// outside this package, such as the expiry scheduler.
func (b *Bot) Platform() *platform.Discord { return b.platform }

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onMessageReactionAdd)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	return b.registerCommands()
}

func (b *Bot) Close(ctx context.Context) {
	_ = ctx
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", session.State.User.Username))
}

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Author == nil || msg.Author.Bot {
		return
	}
	if msg.GuildID == "" {
		return
	}

	// A pending reason prompt consumes the moderator's next message in
	// that channel before anything else sees it.
	if b.platform.DispatchMessage(msg.ChannelID, msg.Author.ID, msg.Content) {
		return
	}

	ctx := context.Background()
	b.threads.HandleMessage(ctx, msg.ChannelID, msg.Author.ID)

	exempt := b.memberCanModerate(msg.GuildID, msg.Author.ID)
	if b.antispam.HandleMessage(msg.GuildID, msg.Author.ID, time.Now(), exempt) == antispam.ActionSuppress {
		b.suppressSpam(ctx, msg.GuildID, msg.ChannelID, msg.Author.ID)
	}
}

// suppressSpam applies the spam sanction: a temporary mute, removal of
// the offending burst, and a notice in the channel.
func (b *Bot) suppressSpam(ctx context.Context, guildID, channelID, userID string) {
	metrics.SpamSuppressions.Inc()

	roleID, err := b.mutes.EnsureRole(ctx, guildID)
	if err != nil {
		b.logger.Error("spam: ensure mute role", zap.String("guild", guildID), zap.Error(err))
		return
	}

	muteFor := time.Duration(b.cfg.AntiSpam.MuteMinutes) * time.Minute
	if err := b.mutes.GrantTemporary(ctx, guildID, userID, roleID, muteFor, "Spam detectado"); err != nil {
		b.logger.Error("spam: grant mute", zap.String("user", userID), zap.Error(err))
		return
	}

	if err := b.platform.DeleteRecentUserMessages(channelID, userID, b.antispam.Threshold()); err != nil {
		b.logger.Warn("spam: delete burst", zap.String("user", userID), zap.Error(err))
	}

	notice := platform.Embed{
		Title: "🔇 Usuario silenciado por spam",
		Description: fmt.Sprintf("<@%s> ha sido silenciado durante %d minutos por enviar mensajes demasiado rápido.",
			userID, b.cfg.AntiSpam.MuteMinutes),
		Color: 0xE67E22,
	}
	if _, err := b.platform.SendEmbed(channelID, notice); err != nil {
		b.logger.Warn("spam: notice", zap.Error(err))
	}

	b.audit.Log(ctx, audit.LevelWarn, guildID, userID, "spam_suppressed",
		fmt.Sprintf("channel=%s mute_minutes=%d", channelID, b.cfg.AntiSpam.MuteMinutes))
}

func (b *Bot) onMessageReactionAdd(session *discordgo.Session, reaction *discordgo.MessageReactionAdd) {
	if reaction.GuildID == "" || reaction.UserID == session.State.User.ID {
		return
	}
	ctx := context.Background()
	emoji := reaction.Emoji.Name

	// Action menus take precedence; their message ids never collide
	// with report review messages.
	if b.actions.OnReaction(ctx, reaction.MessageID, emoji, reaction.UserID) {
		return
	}

	canModerate := b.memberCanModerate(reaction.GuildID, reaction.UserID)
	if _, err := b.reports.OnReaction(ctx, reaction.GuildID, reaction.ChannelID, reaction.MessageID, emoji, reaction.UserID, canModerate); err != nil {
		b.logger.Warn("report reaction", zap.String("message", reaction.MessageID), zap.Error(err))
	}
}

// memberCanModerate reports whether the member may act on reports and
// is exempt from spam suppression.
func (b *Bot) memberCanModerate(guildID, userID string) bool {
	guild, err := b.session.State.Guild(guildID)
	if err != nil || guild == nil {
		return false
	}
	member, err := b.session.State.Member(guildID, userID)
	if err != nil || member == nil {
		member, err = b.session.GuildMember(guildID, userID)
		if err != nil || member == nil {
			return false
		}
	}

	perms := int64(0)
	roleMap := make(map[string]*discordgo.Role, len(guild.Roles))
	for _, role := range guild.Roles {
		roleMap[role.ID] = role
		if role.ID == guild.ID {
			perms |= role.Permissions
		}
	}
	for _, roleID := range member.Roles {
		if role := roleMap[roleID]; role != nil {
			perms |= role.Permissions
		}
	}
	return perms&(discordgo.PermissionAdministrator|discordgo.PermissionManageMessages) != 0
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	})
}

func (b *Bot) commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields:      fields,
	}
}

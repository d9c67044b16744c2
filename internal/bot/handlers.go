package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"flexguard/internal/modules/audit"
	"flexguard/internal/platform"
	"flexguard/internal/reports"
	"flexguard/internal/storage"
	"flexguard/internal/threads"
	"flexguard/internal/utils"
	"flexguard/internal/warnings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	colorAction = 0x3498DB
	colorOK     = 0x57F287
	colorWarn   = 0xF1C40F
	colorError  = 0xE74C3C
)

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if interaction.GuildID == "" {
		b.respondEmbed(session, interaction, b.commandEmbed("Moderación", "Este comando solo funciona dentro de un servidor.", colorError, nil), true)
		return
	}

	ctx := context.Background()
	data := interaction.ApplicationCommandData()
	switch data.Name {
	case "reportar":
		b.handleReport(ctx, session, interaction, data.Options)
	case "reportes":
		b.handleReportList(ctx, session, interaction, data.Options)
	case "warn":
		b.handleWarn(ctx, session, interaction, data.Options)
	case "warnings":
		b.handleWarningList(ctx, session, interaction, data.Options)
	case "mute":
		b.handleMute(ctx, session, interaction, data.Options)
	case "unmute":
		b.handleUnmute(ctx, session, interaction, data.Options)
	case "kick":
		b.handleKick(ctx, session, interaction, data.Options)
	case "ban":
		b.handleBan(ctx, session, interaction, data.Options)
	case "unban":
		b.handleUnban(ctx, session, interaction, data.Options)
	case "clear":
		b.handleClear(ctx, session, interaction, data.Options)
	case "slowmode":
		b.handleSlowmode(ctx, session, interaction, data.Options)
	case "hilo":
		b.handleThread(ctx, session, interaction, data.Options)
	}
}

type commandOptions map[string]*discordgo.ApplicationCommandInteractionDataOption

func optionMap(options []*discordgo.ApplicationCommandInteractionDataOption) commandOptions {
	m := make(commandOptions, len(options))
	for _, opt := range options {
		m[opt.Name] = opt
	}
	return m
}

func (o commandOptions) user(session *discordgo.Session, name string) *discordgo.User {
	if opt, ok := o[name]; ok {
		return opt.UserValue(session)
	}
	return nil
}

func (o commandOptions) str(name string) string {
	if opt, ok := o[name]; ok {
		return opt.StringValue()
	}
	return ""
}

func (o commandOptions) integer(name string) int64 {
	if opt, ok := o[name]; ok {
		return opt.IntValue()
	}
	return 0
}

func (o commandOptions) boolean(name string, fallback bool) bool {
	if opt, ok := o[name]; ok {
		return opt.BoolValue()
	}
	return fallback
}

func invokerID(interaction *discordgo.InteractionCreate) string {
	if interaction.Member != nil && interaction.Member.User != nil {
		return interaction.Member.User.ID
	}
	return ""
}

func (b *Bot) handleReport(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	opts := optionMap(options)
	target := opts.user(session, "usuario")
	reason := strings.TrimSpace(opts.str("razon"))
	reporter := invokerID(interaction)
	if target == nil || reporter == "" || reason == "" {
		b.respondEmbed(session, interaction, b.commandEmbed("Reporte", "Faltan datos del reporte.", colorError, nil), true)
		return
	}

	_, position, err := b.reports.File(ctx, interaction.GuildID, interaction.ChannelID, reporter, target.ID, target.Bot, reason)
	var vErr *reports.ValidationError
	if errors.As(err, &vErr) {
		b.respondEmbed(session, interaction, b.commandEmbed("Reporte", vErr.Reason, colorError, nil), true)
		return
	}
	if err != nil {
		b.logger.Error("file report", zap.Error(err))
		b.respondEmbed(session, interaction, b.commandEmbed("Reporte", "No se pudo registrar el reporte.", colorError, nil), true)
		return
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Reporte enviado",
		fmt.Sprintf("Reporte #%d registrado. El equipo de moderación lo revisará pronto.", position), colorOK, nil), true)
}

func (b *Bot) handleReportList(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	status := optionMap(options).str("estado")
	if status == "" {
		status = "todos"
	}

	listed, err := b.reports.List(ctx, interaction.GuildID, status)
	var vErr *reports.ValidationError
	if errors.As(err, &vErr) {
		b.respondEmbed(session, interaction, b.commandEmbed("Reportes", vErr.Reason, colorError, nil), true)
		return
	}
	if err != nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Reportes", "No se pudieron cargar los reportes.", colorError, nil), true)
		return
	}
	if len(listed) == 0 {
		b.respondEmbed(session, interaction, b.commandEmbed("Reportes", "No hay reportes con ese estado.", colorWarn, nil), true)
		return
	}

	const maxShown = 10
	lines := make([]string, 0, maxShown)
	for i, entry := range listed {
		if i >= maxShown {
			lines = append(lines, fmt.Sprintf("... y %d más", len(listed)-maxShown))
			break
		}
		lines = append(lines, fmt.Sprintf("**#%d** <@%s> — %s — %s",
			entry.Position, entry.Report.ReportedUser, entry.Report.Status, entry.Report.Reason))
	}
	b.respondEmbed(session, interaction, b.commandEmbed(
		fmt.Sprintf("Reportes (%s)", status), strings.Join(lines, "\n"), colorAction, nil), true)
}

func (b *Bot) handleWarn(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	opts := optionMap(options)
	target := opts.user(session, "usuario")
	reason := strings.TrimSpace(opts.str("razon"))
	if target == nil || reason == "" {
		b.respondEmbed(session, interaction, b.commandEmbed("Advertencia", "Faltan datos de la advertencia.", colorError, nil), true)
		return
	}

	count, escalate, err := b.warnings.Warn(ctx, interaction.GuildID, target.ID, invokerID(interaction), reason)
	if err != nil {
		b.logger.Error("warn user", zap.Error(err))
		b.respondEmbed(session, interaction, b.commandEmbed("Advertencia", "No se pudo registrar la advertencia.", colorError, nil), true)
		return
	}

	description := fmt.Sprintf("<@%s> ha sido advertido. Advertencias acumuladas: %d.", target.ID, count)
	color := colorWarn
	if escalate {
		description += fmt.Sprintf("\n⚠️ Acumula %d advertencias o más; considera aplicar una sanción mayor.", warnings.EscalationThreshold)
		color = colorError
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Advertencia registrada", description, color, nil), false)
}

func (b *Bot) handleWarningList(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	target := optionMap(options).user(session, "usuario")
	if target == nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Advertencias", "Debes indicar un usuario.", colorError, nil), true)
		return
	}

	list, err := b.warnings.List(ctx, interaction.GuildID, target.ID)
	if err != nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Advertencias", "No se pudieron cargar las advertencias.", colorError, nil), true)
		return
	}
	if len(list) == 0 {
		b.respondEmbed(session, interaction, b.commandEmbed("Advertencias",
			fmt.Sprintf("<@%s> no tiene advertencias.", target.ID), colorOK, nil), true)
		return
	}

	lines := make([]string, 0, len(list))
	for i, warning := range list {
		lines = append(lines, fmt.Sprintf("**%d.** %s — por <@%s> — <t:%d:d>",
			i+1, warning.Reason, warning.Moderator, warning.Timestamp.Unix()))
	}
	b.respondEmbed(session, interaction, b.commandEmbed(
		fmt.Sprintf("Advertencias de %s (%d)", target.Username, len(list)),
		strings.Join(lines, "\n"), colorWarn, nil), true)
}

func (b *Bot) handleMute(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	opts := optionMap(options)
	target := opts.user(session, "usuario")
	if target == nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Silencio", "Debes indicar un usuario.", colorError, nil), true)
		return
	}
	reason := strings.TrimSpace(opts.str("razon"))
	if reason == "" {
		reason = "No especificada"
	}

	roleID, err := b.mutes.EnsureRole(ctx, interaction.GuildID)
	if err != nil {
		b.logger.Error("ensure mute role", zap.Error(err))
		b.respondEmbed(session, interaction, b.commandEmbed("Silencio", "No se pudo preparar el rol de silencio.", colorError, nil), true)
		return
	}

	durationStr := opts.str("duracion")
	description := fmt.Sprintf("<@%s> ha sido silenciado. Razón: %s", target.ID, reason)
	if durationStr != "" {
		duration, err := utils.ParseDuration(durationStr)
		if err != nil {
			b.respondEmbed(session, interaction, b.commandEmbed("Silencio",
				"Duración inválida. Usa formatos como 30s, 10m, 2h o 1d.", colorError, nil), true)
			return
		}
		if err := b.mutes.GrantTemporary(ctx, interaction.GuildID, target.ID, roleID, duration, reason); err != nil {
			b.respondError(session, interaction, "Silencio", err)
			return
		}
		description = fmt.Sprintf("<@%s> ha sido silenciado hasta <t:%d:R>. Razón: %s",
			target.ID, time.Now().Add(duration).Unix(), reason)
	} else {
		if err := b.mutes.Grant(ctx, interaction.GuildID, target.ID, roleID, reason); err != nil {
			b.respondError(session, interaction, "Silencio", err)
			return
		}
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Usuario silenciado", description, colorOK, nil), false)
}

func (b *Bot) handleUnmute(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	target := optionMap(options).user(session, "usuario")
	if target == nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Silencio", "Debes indicar un usuario.", colorError, nil), true)
		return
	}

	roleID, err := b.mutes.EnsureRole(ctx, interaction.GuildID)
	if err != nil {
		b.respondError(session, interaction, "Silencio", err)
		return
	}
	held, err := b.mutes.HasRole(interaction.GuildID, target.ID, roleID)
	if err != nil && !errors.Is(err, platform.ErrNotFound) {
		b.respondError(session, interaction, "Silencio", err)
		return
	}
	if !held {
		b.respondEmbed(session, interaction, b.commandEmbed("Silencio",
			fmt.Sprintf("<@%s> no está silenciado.", target.ID), colorWarn, nil), true)
		return
	}

	if err := b.mutes.Revoke(ctx, interaction.GuildID, target.ID, roleID, "Silencio retirado por un moderador"); err != nil {
		b.respondError(session, interaction, "Silencio", err)
		return
	}
	b.mutes.MarkLifted(ctx, interaction.GuildID, target.ID, storage.MuteLiftedManual)
	b.respondEmbed(session, interaction, b.commandEmbed("Silencio retirado",
		fmt.Sprintf("<@%s> puede volver a hablar.", target.ID), colorOK, nil), false)
}

func (b *Bot) handleKick(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	opts := optionMap(options)
	target := opts.user(session, "usuario")
	if target == nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Expulsión", "Debes indicar un usuario.", colorError, nil), true)
		return
	}
	reason := strings.TrimSpace(opts.str("razon"))
	if reason == "" {
		reason = "No especificada"
	}

	if err := b.platform.KickMember(interaction.GuildID, target.ID, reason); err != nil {
		b.respondError(session, interaction, "Expulsión", err)
		return
	}
	b.audit.Log(ctx, audit.LevelCrit, interaction.GuildID, target.ID, "member_kicked",
		fmt.Sprintf("by=%s reason=%s", invokerID(interaction), reason))
	b.respondEmbed(session, interaction, b.commandEmbed("Usuario expulsado",
		fmt.Sprintf("<@%s> fue expulsado. Razón: %s", target.ID, reason), colorOK, nil), false)
}

func (b *Bot) handleBan(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	opts := optionMap(options)
	target := opts.user(session, "usuario")
	if target == nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Baneo", "Debes indicar un usuario.", colorError, nil), true)
		return
	}
	reason := strings.TrimSpace(opts.str("razon"))
	if reason == "" {
		reason = "No especificada"
	}

	if err := b.platform.BanMember(interaction.GuildID, target.ID, reason); err != nil {
		b.respondError(session, interaction, "Baneo", err)
		return
	}
	b.audit.Log(ctx, audit.LevelCrit, interaction.GuildID, target.ID, "member_banned",
		fmt.Sprintf("by=%s reason=%s", invokerID(interaction), reason))
	b.respondEmbed(session, interaction, b.commandEmbed("Usuario baneado",
		fmt.Sprintf("<@%s> fue baneado. Razón: %s", target.ID, reason), colorOK, nil), false)
}

func (b *Bot) handleUnban(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	userID := strings.TrimSpace(optionMap(options).str("usuario_id"))
	if userID == "" {
		b.respondEmbed(session, interaction, b.commandEmbed("Baneo", "Debes indicar el ID del usuario.", colorError, nil), true)
		return
	}

	if err := b.platform.UnbanMember(interaction.GuildID, userID); err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			b.respondEmbed(session, interaction, b.commandEmbed("Baneo",
				"Ese usuario no está baneado.", colorWarn, nil), true)
			return
		}
		b.respondError(session, interaction, "Baneo", err)
		return
	}
	b.audit.Log(ctx, audit.LevelInfo, interaction.GuildID, userID, "member_unbanned", "by="+invokerID(interaction))
	b.respondEmbed(session, interaction, b.commandEmbed("Baneo levantado",
		fmt.Sprintf("<@%s> ya no está baneado.", userID), colorOK, nil), false)
}

func (b *Bot) handleClear(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	amount := int(optionMap(options).integer("cantidad"))
	if amount < 1 || amount > 100 {
		b.respondEmbed(session, interaction, b.commandEmbed("Limpieza", "La cantidad debe estar entre 1 y 100.", colorError, nil), true)
		return
	}

	deleted, err := b.platform.ClearMessages(interaction.ChannelID, amount)
	if err != nil {
		b.respondError(session, interaction, "Limpieza", err)
		return
	}
	b.audit.Log(ctx, audit.LevelInfo, interaction.GuildID, "", "messages_cleared",
		fmt.Sprintf("by=%s channel=%s count=%d", invokerID(interaction), interaction.ChannelID, deleted))
	b.respondEmbed(session, interaction, b.commandEmbed("Limpieza",
		fmt.Sprintf("Se borraron %d mensajes.", deleted), colorOK, nil), true)
}

func (b *Bot) handleSlowmode(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	seconds := int(optionMap(options).integer("segundos"))
	if seconds < 0 || seconds > 21600 {
		b.respondEmbed(session, interaction, b.commandEmbed("Modo lento", "Los segundos deben estar entre 0 y 21600.", colorError, nil), true)
		return
	}

	if err := b.platform.SetSlowmode(interaction.ChannelID, seconds); err != nil {
		b.respondError(session, interaction, "Modo lento", err)
		return
	}
	b.audit.Log(ctx, audit.LevelInfo, interaction.GuildID, "", "slowmode_set",
		fmt.Sprintf("by=%s channel=%s seconds=%d", invokerID(interaction), interaction.ChannelID, seconds))

	description := fmt.Sprintf("Modo lento ajustado a %d segundos.", seconds)
	if seconds == 0 {
		description = "Modo lento desactivado."
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Modo lento", description, colorOK, nil), false)
}

func (b *Bot) handleThread(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(options) == 0 {
		return
	}
	sub := options[0]
	opts := optionMap(sub.Options)

	switch sub.Name {
	case "crear":
		name := strings.TrimSpace(opts.str("nombre"))
		if name == "" {
			b.respondEmbed(session, interaction, b.commandEmbed("Hilos", "El hilo necesita un nombre.", colorError, nil), true)
			return
		}
		record, err := b.threads.Create(ctx, interaction.GuildID, interaction.ChannelID, invokerID(interaction), name, opts.str("duracion"), opts.boolean("avisar", true))
		switch {
		case errors.Is(err, threads.ErrChannelNotAllowed):
			b.respondEmbed(session, interaction, b.commandEmbed("Hilos",
				"Este canal no permite hilos. Un moderador puede habilitarlo con `/hilo canal`.", colorWarn, nil), true)
			return
		case errors.Is(err, utils.ErrBadDuration):
			b.respondEmbed(session, interaction, b.commandEmbed("Hilos",
				"Duración inválida. Usa formatos como 30s, 10m, 2h o 1d.", colorError, nil), true)
			return
		case err != nil:
			b.respondError(session, interaction, "Hilos", err)
			return
		}
		description := fmt.Sprintf("Hilo **%s** creado.", record.Name)
		if record.ExpiresAt != nil {
			description = fmt.Sprintf("Hilo **%s** creado. Se archivará <t:%d:R>.", record.Name, record.ExpiresAt.Unix())
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Hilos", description, colorOK, nil), false)

	case "cerrar":
		threadID := interaction.ChannelID
		record, found, err := b.store.GetThread(ctx, threadID)
		if err != nil || !found {
			b.respondEmbed(session, interaction, b.commandEmbed("Hilos", "Este canal no es un hilo gestionado.", colorWarn, nil), true)
			return
		}
		moderator := invokerID(interaction)
		if moderator != record.CreatorID && !b.memberCanModerate(interaction.GuildID, moderator) {
			b.respondEmbed(session, interaction, b.commandEmbed("Hilos", "Solo el creador del hilo o un moderador puede cerrarlo.", colorError, nil), true)
			return
		}
		switch err := b.threads.Close(ctx, interaction.GuildID, threadID, moderator); {
		case errors.Is(err, threads.ErrAlreadyClosed):
			b.respondEmbed(session, interaction, b.commandEmbed("Hilos", "Este hilo ya está cerrado.", colorWarn, nil), true)
		case err != nil:
			b.respondError(session, interaction, "Hilos", err)
		default:
			b.respondEmbed(session, interaction, b.commandEmbed("Hilos", "Hilo archivado.", colorOK, nil), false)
		}

	case "canal":
		if !b.memberCanModerate(interaction.GuildID, invokerID(interaction)) {
			b.respondEmbed(session, interaction, b.commandEmbed("Hilos", "Solo un moderador puede administrar los canales de hilos.", colorError, nil), true)
			return
		}
		channelID := interaction.ChannelID
		if opt, ok := opts["canal"]; ok {
			if channel := opt.ChannelValue(session); channel != nil {
				channelID = channel.ID
			}
		}
		switch opts.str("accion") {
		case "agregar":
			added, err := b.threads.DesignateChannel(ctx, interaction.GuildID, channelID)
			if err != nil {
				b.respondError(session, interaction, "Hilos", err)
				return
			}
			if !added {
				b.respondEmbed(session, interaction, b.commandEmbed("Hilos", "Ese canal ya permite hilos.", colorWarn, nil), true)
				return
			}
			b.respondEmbed(session, interaction, b.commandEmbed("Hilos",
				fmt.Sprintf("<#%s> ahora permite hilos.", channelID), colorOK, nil), false)
		case "quitar":
			removed, err := b.threads.RemoveChannel(ctx, interaction.GuildID, channelID)
			if err != nil {
				b.respondError(session, interaction, "Hilos", err)
				return
			}
			if !removed {
				b.respondEmbed(session, interaction, b.commandEmbed("Hilos", "Ese canal no permitía hilos.", colorWarn, nil), true)
				return
			}
			b.respondEmbed(session, interaction, b.commandEmbed("Hilos",
				fmt.Sprintf("<#%s> ya no permite hilos.", channelID), colorOK, nil), false)
		case "listar":
			channels, err := b.threads.Channels(ctx, interaction.GuildID)
			if err != nil {
				b.respondError(session, interaction, "Hilos", err)
				return
			}
			if len(channels) == 0 {
				b.respondEmbed(session, interaction, b.commandEmbed("Hilos", "Ningún canal permite hilos todavía.", colorWarn, nil), true)
				return
			}
			mentions := make([]string, 0, len(channels))
			for _, id := range channels {
				mentions = append(mentions, "<#"+id+">")
			}
			b.respondEmbed(session, interaction, b.commandEmbed("Canales con hilos", strings.Join(mentions, "\n"), colorAction, nil), true)
		}
	}
}

// respondError converts a platform error into a user-facing message.
func (b *Bot) respondError(session *discordgo.Session, interaction *discordgo.InteractionCreate, title string, err error) {
	description := "No se pudo completar la acción."
	switch {
	case errors.Is(err, platform.ErrPermission):
		description = "El bot no tiene permisos suficientes para esa acción."
	case errors.Is(err, platform.ErrNotFound):
		description = "No se encontró el usuario o canal indicado."
	default:
		b.logger.Error("command failed", zap.String("command", title), zap.Error(err))
	}
	b.respondEmbed(session, interaction, b.commandEmbed(title, description, colorError, nil), true)
}

package platform

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Discord adapts a discordgo session to the effect calls the moderation
// components issue.
type Discord struct {
	session *discordgo.Session

	waiterMu sync.Mutex
	waiters  map[waiterKey]chan string
}

type waiterKey struct {
	channelID string
	authorID  string
}

func NewDiscord(session *discordgo.Session) *Discord {
	return &Discord{
		session: session,
		waiters: make(map[waiterKey]chan string),
	}
}

func (d *Discord) GuildExists(guildID string) bool {
	if guild, err := d.session.State.Guild(guildID); err == nil && guild != nil {
		return true
	}
	guild, err := d.session.Guild(guildID)
	return err == nil && guild != nil
}

func (d *Discord) GuildRoles(guildID string) ([]Role, error) {
	roles, err := d.session.GuildRoles(guildID)
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]Role, 0, len(roles))
	for _, role := range roles {
		if role == nil {
			continue
		}
		out = append(out, Role{ID: role.ID, Name: role.Name, Permissions: role.Permissions})
	}
	return out, nil
}

func (d *Discord) CreateRole(guildID, name string) (Role, error) {
	role, err := d.session.GuildRoleCreate(guildID, &discordgo.RoleParams{Name: name})
	if err != nil {
		return Role{}, mapError(err)
	}
	return Role{ID: role.ID, Name: role.Name, Permissions: role.Permissions}, nil
}

func (d *Discord) GuildChannels(guildID string) ([]Channel, error) {
	channels, err := d.session.GuildChannels(guildID)
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]Channel, 0, len(channels))
	for _, channel := range channels {
		if channel == nil {
			continue
		}
		out = append(out, Channel{
			ID:       channel.ID,
			Name:     channel.Name,
			ParentID: channel.ParentID,
			Category: channel.Type == discordgo.ChannelTypeGuildCategory,
		})
	}
	return out, nil
}

// DenyChannelPermissions denies send, speak and react for the role on one
// channel.
func (d *Discord) DenyChannelPermissions(channelID, roleID string) error {
	deny := int64(discordgo.PermissionSendMessages | discordgo.PermissionVoiceSpeak | discordgo.PermissionAddReactions)
	err := d.session.ChannelPermissionSet(channelID, roleID, discordgo.PermissionOverwriteTypeRole, 0, deny)
	return mapError(err)
}

func (d *Discord) AddRole(guildID, userID, roleID string) error {
	return mapError(d.session.GuildMemberRoleAdd(guildID, userID, roleID))
}

func (d *Discord) RemoveRole(guildID, userID, roleID string) error {
	return mapError(d.session.GuildMemberRoleRemove(guildID, userID, roleID))
}

func (d *Discord) Member(guildID, userID string) (Member, error) {
	member, err := d.session.State.Member(guildID, userID)
	if err != nil || member == nil {
		member, err = d.session.GuildMember(guildID, userID)
	}
	if err != nil {
		return Member{}, mapError(err)
	}
	name := ""
	if member.User != nil {
		name = member.User.Username
	}
	return Member{ID: userID, Username: name, Roles: member.Roles}, nil
}

// DeleteRecentUserMessages removes the author's most recent messages in the
// channel, up to limit.
func (d *Discord) DeleteRecentUserMessages(channelID, userID string, limit int) error {
	messages, err := d.session.ChannelMessages(channelID, 100, "", "", "")
	if err != nil {
		return mapError(err)
	}
	var ids []string
	for _, msg := range messages {
		if msg == nil || msg.Author == nil || msg.Author.ID != userID {
			continue
		}
		ids = append(ids, msg.ID)
		if len(ids) >= limit {
			break
		}
	}
	if len(ids) == 0 {
		return nil
	}
	if len(ids) == 1 {
		return mapError(d.session.ChannelMessageDelete(channelID, ids[0]))
	}
	return mapError(d.session.ChannelMessagesBulkDelete(channelID, ids))
}

// ClearMessages removes the channel's most recent messages regardless of
// author, up to limit.
func (d *Discord) ClearMessages(channelID string, limit int) (int, error) {
	if limit > 100 {
		limit = 100
	}
	messages, err := d.session.ChannelMessages(channelID, limit, "", "", "")
	if err != nil {
		return 0, mapError(err)
	}
	ids := make([]string, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		ids = append(ids, msg.ID)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if len(ids) == 1 {
		return 1, mapError(d.session.ChannelMessageDelete(channelID, ids[0]))
	}
	return len(ids), mapError(d.session.ChannelMessagesBulkDelete(channelID, ids))
}

// SetSlowmode sets the per-user message rate limit in seconds; zero
// disables it.
func (d *Discord) SetSlowmode(channelID string, seconds int) error {
	_, err := d.session.ChannelEditComplex(channelID, &discordgo.ChannelEdit{RateLimitPerUser: &seconds})
	return mapError(err)
}

func (d *Discord) DeleteMessage(channelID, messageID string) error {
	return mapError(d.session.ChannelMessageDelete(channelID, messageID))
}

func (d *Discord) KickMember(guildID, userID, reason string) error {
	return mapError(d.session.GuildMemberDeleteWithReason(guildID, userID, reason))
}

func (d *Discord) BanMember(guildID, userID, reason string) error {
	return mapError(d.session.GuildBanCreateWithReason(guildID, userID, reason, 1))
}

func (d *Discord) UnbanMember(guildID, userID string) error {
	return mapError(d.session.GuildBanDelete(guildID, userID))
}

func (d *Discord) ThreadArchived(threadID string) (bool, error) {
	channel, err := d.session.Channel(threadID)
	if err != nil {
		return false, mapError(err)
	}
	if channel.ThreadMetadata == nil {
		return false, nil
	}
	return channel.ThreadMetadata.Archived, nil
}

// ArchiveThread archives and locks the thread in one edit.
func (d *Discord) ArchiveThread(threadID string) error {
	archived := true
	locked := true
	_, err := d.session.ChannelEditComplex(threadID, &discordgo.ChannelEdit{Archived: &archived, Locked: &locked})
	return mapError(err)
}

// CreateThread posts an anchor message in the parent channel and starts a
// public thread from it.
func (d *Discord) CreateThread(channelID, name string) (threadID, anchorID string, err error) {
	anchor, err := d.session.ChannelMessageSend(channelID, fmt.Sprintf("Iniciando hilo: %s", name))
	if err != nil {
		return "", "", mapError(err)
	}
	thread, err := d.session.MessageThreadStart(channelID, anchor.ID, name, 1440)
	if err != nil {
		return "", "", mapError(err)
	}
	return thread.ID, anchor.ID, nil
}

func (d *Discord) CreateCategory(guildID, name string) (Channel, error) {
	channel, err := d.session.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name: name,
		Type: discordgo.ChannelTypeGuildCategory,
	})
	if err != nil {
		return Channel{}, mapError(err)
	}
	return Channel{ID: channel.ID, Name: channel.Name, Category: true}, nil
}

// CreateRestrictedChannel creates a text channel hidden from everyone except
// the bot itself and the given roles.
func (d *Discord) CreateRestrictedChannel(guildID, name, categoryID, topic string, viewerRoleIDs []string) (Channel, error) {
	overwrites := []*discordgo.PermissionOverwrite{
		{ID: guildID, Type: discordgo.PermissionOverwriteTypeRole, Deny: discordgo.PermissionViewChannel},
	}
	if d.session.State != nil && d.session.State.User != nil {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{
			ID:    d.session.State.User.ID,
			Type:  discordgo.PermissionOverwriteTypeMember,
			Allow: discordgo.PermissionViewChannel,
		})
	}
	for _, roleID := range viewerRoleIDs {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{
			ID:    roleID,
			Type:  discordgo.PermissionOverwriteTypeRole,
			Allow: discordgo.PermissionViewChannel,
		})
	}

	channel, err := d.session.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:                 name,
		Type:                 discordgo.ChannelTypeGuildText,
		Topic:                topic,
		ParentID:             categoryID,
		PermissionOverwrites: overwrites,
	})
	if err != nil {
		return Channel{}, mapError(err)
	}
	return Channel{ID: channel.ID, Name: channel.Name, ParentID: channel.ParentID}, nil
}

func (d *Discord) SendMessage(channelID, content string) (string, error) {
	msg, err := d.session.ChannelMessageSend(channelID, content)
	if err != nil {
		return "", mapError(err)
	}
	return msg.ID, nil
}

func (d *Discord) EditMessage(channelID, messageID, content string) error {
	_, err := d.session.ChannelMessageEdit(channelID, messageID, content)
	return mapError(err)
}

func (d *Discord) SendEmbed(channelID string, embed Embed) (string, error) {
	msg, err := d.session.ChannelMessageSendEmbed(channelID, toMessageEmbed(embed))
	if err != nil {
		return "", mapError(err)
	}
	return msg.ID, nil
}

func (d *Discord) EditEmbed(channelID, messageID string, embed Embed) error {
	_, err := d.session.ChannelMessageEditEmbed(channelID, messageID, toMessageEmbed(embed))
	return mapError(err)
}

func (d *Discord) AddReaction(channelID, messageID, emoji string) error {
	return mapError(d.session.MessageReactionAdd(channelID, messageID, emoji))
}

func (d *Discord) ClearReactions(channelID, messageID string) error {
	return mapError(d.session.MessageReactionsRemoveAll(channelID, messageID))
}

// AwaitMessage blocks until the author posts a message in the channel or the
// context expires. The waiter is torn down on either outcome. Only one wait
// per (channel, author) may be pending at a time.
func (d *Discord) AwaitMessage(ctx context.Context, channelID, authorID string) (string, error) {
	key := waiterKey{channelID: channelID, authorID: authorID}
	ch := make(chan string, 1)

	d.waiterMu.Lock()
	if _, exists := d.waiters[key]; exists {
		d.waiterMu.Unlock()
		return "", ErrAwaitConflict
	}
	d.waiters[key] = ch
	d.waiterMu.Unlock()

	defer func() {
		d.waiterMu.Lock()
		if d.waiters[key] == ch {
			delete(d.waiters, key)
		}
		d.waiterMu.Unlock()
	}()

	select {
	case content := <-ch:
		return content, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// DispatchMessage feeds an inbound message to a pending waiter. It reports
// whether the message was consumed.
func (d *Discord) DispatchMessage(channelID, authorID, content string) bool {
	key := waiterKey{channelID: channelID, authorID: authorID}

	d.waiterMu.Lock()
	ch, ok := d.waiters[key]
	if ok {
		delete(d.waiters, key)
	}
	d.waiterMu.Unlock()

	if !ok {
		return false
	}
	ch <- content
	return true
}

func toMessageEmbed(embed Embed) *discordgo.MessageEmbed {
	out := &discordgo.MessageEmbed{
		Title:       embed.Title,
		Description: embed.Description,
		Color:       embed.Color,
	}
	if embed.Footer != "" {
		out.Footer = &discordgo.MessageEmbedFooter{Text: embed.Footer}
	}
	if !embed.Timestamp.IsZero() {
		out.Timestamp = embed.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	for _, field := range embed.Fields {
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{
			Name:   field.Name,
			Value:  field.Value,
			Inline: field.Inline,
		})
	}
	return out
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Message != nil {
		switch rest.Message.Code {
		case discordgo.ErrCodeMissingPermissions, discordgo.ErrCodeMissingAccess:
			return fmt.Errorf("%w: %s", ErrPermission, rest.Message.Message)
		case discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownUser,
			discordgo.ErrCodeUnknownChannel, discordgo.ErrCodeUnknownMessage,
			discordgo.ErrCodeUnknownBan:
			return fmt.Errorf("%w: %s", ErrNotFound, rest.Message.Message)
		}
	}
	return err
}

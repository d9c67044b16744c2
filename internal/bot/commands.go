package bot

import "github.com/bwmarrin/discordgo"

var (
	permModerate = int64(discordgo.PermissionManageMessages)
	permKick     = int64(discordgo.PermissionKickMembers)
	permBan      = int64(discordgo.PermissionBanMembers)
	permChannels = int64(discordgo.PermissionManageChannels)
)

func (b *Bot) registerCommands() error {
	commands := []*discordgo.ApplicationCommand{
		{
			Name:        "reportar",
			Description: "Reporta a un usuario al equipo de moderación",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "usuario",
					Description: "Usuario a reportar",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "razon",
					Description: "Razón del reporte",
					Required:    true,
				},
			},
		},
		{
			Name:                     "reportes",
			Description:              "Lista los reportes registrados",
			DefaultMemberPermissions: &permModerate,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "estado",
					Description: "pendiente, resuelto, descartado o todos",
					Required:    false,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "pendiente", Value: "pendiente"},
						{Name: "resuelto", Value: "resuelto"},
						{Name: "descartado", Value: "descartado"},
						{Name: "todos", Value: "todos"},
					},
				},
			},
		},
		{
			Name:                     "warn",
			Description:              "Advierte a un usuario",
			DefaultMemberPermissions: &permModerate,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "usuario",
					Description: "Usuario a advertir",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "razon",
					Description: "Razón de la advertencia",
					Required:    true,
				},
			},
		},
		{
			Name:                     "warnings",
			Description:              "Muestra las advertencias de un usuario",
			DefaultMemberPermissions: &permModerate,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "usuario",
					Description: "Usuario a consultar",
					Required:    true,
				},
			},
		},
		{
			Name:                     "mute",
			Description:              "Silencia a un usuario",
			DefaultMemberPermissions: &permModerate,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "usuario",
					Description: "Usuario a silenciar",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "duracion",
					Description: "Duración opcional (30s, 10m, 2h, 1d)",
					Required:    false,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "razon",
					Description: "Razón del silencio",
					Required:    false,
				},
			},
		},
		{
			Name:                     "unmute",
			Description:              "Quita el silencio a un usuario",
			DefaultMemberPermissions: &permModerate,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "usuario",
					Description: "Usuario a des-silenciar",
					Required:    true,
				},
			},
		},
		{
			Name:                     "kick",
			Description:              "Expulsa a un usuario del servidor",
			DefaultMemberPermissions: &permKick,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "usuario",
					Description: "Usuario a expulsar",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "razon",
					Description: "Razón de la expulsión",
					Required:    false,
				},
			},
		},
		{
			Name:                     "ban",
			Description:              "Banea a un usuario del servidor",
			DefaultMemberPermissions: &permBan,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "usuario",
					Description: "Usuario a banear",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "razon",
					Description: "Razón del baneo",
					Required:    false,
				},
			},
		},
		{
			Name:                     "unban",
			Description:              "Levanta el baneo de un usuario",
			DefaultMemberPermissions: &permBan,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "usuario_id",
					Description: "ID del usuario baneado",
					Required:    true,
				},
			},
		},
		{
			Name:                     "clear",
			Description:              "Borra los últimos mensajes del canal",
			DefaultMemberPermissions: &permModerate,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "cantidad",
					Description: "Cuántos mensajes borrar (1-100)",
					Required:    true,
				},
			},
		},
		{
			Name:                     "slowmode",
			Description:              "Ajusta el modo lento del canal",
			DefaultMemberPermissions: &permChannels,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "segundos",
					Description: "Segundos entre mensajes (0 para desactivar)",
					Required:    true,
				},
			},
		},
		{
			Name:        "hilo",
			Description: "Gestiona hilos de discusión",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "crear",
					Description: "Crea un hilo en este canal",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "nombre",
							Description: "Nombre del hilo",
							Required:    true,
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "duracion",
							Description: "Duración opcional (30s, 10m, 2h, 1d)",
							Required:    false,
						},
						{
							Type:        discordgo.ApplicationCommandOptionBoolean,
							Name:        "avisar",
							Description: "Avisar a los participantes al expirar",
							Required:    false,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "cerrar",
					Description: "Archiva el hilo actual",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "canal",
					Description: "Administra los canales que permiten hilos",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "accion",
							Description: "agregar, quitar o listar",
							Required:    true,
							Choices: []*discordgo.ApplicationCommandOptionChoice{
								{Name: "agregar", Value: "agregar"},
								{Name: "quitar", Value: "quitar"},
								{Name: "listar", Value: "listar"},
							},
						},
						{
							Type:        discordgo.ApplicationCommandOptionChannel,
							Name:        "canal",
							Description: "Canal a modificar (por defecto el actual)",
							Required:    false,
						},
					},
				},
			},
		},
	}

	appID := b.session.State.User.ID
	existing, err := b.session.ApplicationCommands(appID, "")
	if err != nil {
		for _, cmd := range commands {
			if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
				return err
			}
		}
		return nil
	}

	existingByName := make(map[string]*discordgo.ApplicationCommand)
	for _, cmd := range existing {
		existingByName[cmd.Name] = cmd
	}

	desired := make(map[string]struct{})
	for _, cmd := range commands {
		desired[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if _, err := b.session.ApplicationCommandEdit(appID, "", current.ID, cmd); err != nil {
				return err
			}
			continue
		}
		if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
			return err
		}
	}

	for _, cmd := range existing {
		if _, ok := desired[cmd.Name]; ok {
			continue
		}
		_ = b.session.ApplicationCommandDelete(appID, "", cmd.ID)
	}
	return nil
}

// Package commands implements the vcplay slash commands on top of the
// command dispatcher.
package commands

import (
	"context"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/vcplay/internal/discord"
	"github.com/MrWong99/vcplay/internal/dispatch"
)

// Handler executes a command and returns its reply text.
type Handler interface {
	Handle(ctx context.Context, req dispatch.Request) string
}

// VoiceConfig controls how commands are run and acknowledged.
type VoiceConfig struct {
	// CommandTimeout bounds each command.
	CommandTimeout time.Duration

	// AckAfter is how long a command may run before the interaction is
	// deferred and the reply sent as a follow-up. Zero defers immediately.
	AckAfter time.Duration

	// BaseContext is the parent of every command context. Defaults to
	// context.Background.
	BaseContext context.Context
}

// VoiceCommands adapts join, play, stop and volume interactions to a
// [Handler].
type VoiceCommands struct {
	handler Handler
	cfg     VoiceConfig
}

// NewVoiceCommands creates VoiceCommands and registers them with router.
func NewVoiceCommands(router *discord.CommandRouter, h Handler, cfg VoiceConfig) *VoiceCommands {
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	vc := &VoiceCommands{handler: h, cfg: cfg}
	vc.Register(router)
	return vc
}

// Register registers every voice command with the router.
func (vc *VoiceCommands) Register(router *discord.CommandRouter) {
	for _, def := range vc.Definitions() {
		router.RegisterCommand(def.Name, def, vc.handle)
	}
	// Unregistered names still go through the handler so replies stay uniform.
	router.SetFallback(vc.handle)
}

// Definitions returns the ApplicationCommand definitions for Discord.
func (vc *VoiceCommands) Definitions() []*discordgo.ApplicationCommand {
	minPercent := float64(0)
	return []*discordgo.ApplicationCommand{
		{
			Name:        dispatch.CommandJoin,
			Description: "Join your current voice channel",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:         discordgo.ApplicationCommandOptionChannel,
					Name:         dispatch.OptionChannel,
					Description:  "Voice channel (informational, the bot joins the channel you are in)",
					ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildVoice},
				},
			},
		},
		{
			Name:        dispatch.CommandPlay,
			Description: "Play an uploaded audio file",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionAttachment,
					Name:        dispatch.OptionFile,
					Description: "Audio file to play",
					Required:    true,
				},
			},
		},
		{
			Name:        dispatch.CommandStop,
			Description: "Stop playing and leave the voice channel",
		},
		{
			Name:        dispatch.CommandVolume,
			Description: "Set the playback volume",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        dispatch.OptionPercent,
					Description: "Volume in percent (0-200)",
					Required:    true,
					MinValue:    &minPercent,
					MaxValue:    200,
				},
			},
		},
	}
}

func (vc *VoiceCommands) handle(s discord.Responder, i *discordgo.InteractionCreate) {
	req := BuildRequest(i)
	if att, ok := req.Options[dispatch.OptionFile].(dispatch.Attachment); ok && !IsAudio(att.ContentType, att.Filename) {
		slog.Info("commands: attachment does not look like audio", "filename", att.Filename, "content_type", att.ContentType)
		delete(req.Options, dispatch.OptionFile)
	}

	replies := make(chan string, 1)
	go func() {
		ctx := vc.cfg.BaseContext
		if vc.cfg.CommandTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, vc.cfg.CommandTimeout)
			defer cancel()
		}
		replies <- vc.handler.Handle(ctx, req)
	}()

	if vc.cfg.AckAfter > 0 {
		timer := time.NewTimer(vc.cfg.AckAfter)
		defer timer.Stop()
		select {
		case reply := <-replies:
			discord.Respond(s, i, reply)
			return
		case <-timer.C:
		}
	}

	discord.DeferReply(s, i)
	discord.FollowUp(s, i, <-replies)
}

// BuildRequest converts an application command interaction into a
// dispatcher request. Attachment options are resolved to
// [dispatch.Attachment], integers to int64.
func BuildRequest(i *discordgo.InteractionCreate) dispatch.Request {
	data := i.ApplicationCommandData()
	req := dispatch.Request{
		Name:    data.Name,
		GroupID: i.GuildID,
		UserID:  interactionUserID(i),
		Options: make(map[string]any, len(data.Options)),
	}
	for _, opt := range data.Options {
		switch opt.Type {
		case discordgo.ApplicationCommandOptionAttachment:
			if a := ResolvedAttachment(data, opt); a != nil {
				req.Options[opt.Name] = toAttachment(a)
			}
		case discordgo.ApplicationCommandOptionInteger:
			// JSON numbers decode as float64.
			if f, ok := opt.Value.(float64); ok {
				req.Options[opt.Name] = int64(f)
			}
		default:
			req.Options[opt.Name] = opt.Value
		}
	}
	return req
}

// interactionUserID extracts the user ID from an interaction.
func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

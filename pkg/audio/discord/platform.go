// Package discord provides an [audio.Platform] backed by Discord voice
// channels via bwmarrin/discordgo. Outgoing PCM frames are encoded to Opus and
// sent on the voice connection; the bot joins self-deafened since vcplay only
// ever plays audio.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/vcplay/pkg/audio"
)

var _ audio.Platform = (*Platform)(nil)

// Platform implements [audio.Platform] on top of a gateway session owned by
// the bot layer. Safe for concurrent use.
type Platform struct {
	session *discordgo.Session
}

// New creates a Platform for the given session.
func New(session *discordgo.Session) *Platform {
	return &Platform{session: session}
}

// Connect joins channelID in guild groupID. discordgo's join blocks until the
// voice handshake completes or times out and cannot be interrupted, so ctx is
// checked before joining and again afterwards; a join that finishes after ctx
// expired is torn down and reported as ctx's error.
func (p *Platform) Connect(ctx context.Context, groupID, channelID string) (audio.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}

	vc, err := p.session.ChannelVoiceJoin(groupID, channelID, false, true)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}

	if err := ctx.Err(); err != nil {
		_ = vc.Disconnect()
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}

	return newConnection(vc, p.session, groupID, channelID), nil
}

package discord

import (
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/vcplay/pkg/audio"
)

var _ audio.Connection = (*Connection)(nil)

const (
	outputChannelBuffer = 16

	// speakingIdle is how long the send loop waits without frames before it
	// clears the speaking flag.
	speakingIdle = 200 * time.Millisecond
)

// Connection adapts a discordgo.VoiceConnection to [audio.Connection]. PCM
// frames written to the output stream are re-chunked into exact Opus frames,
// encoded and sent at the pace Discord accepts them.
//
// Connection is safe for concurrent use.
type Connection struct {
	vc      *discordgo.VoiceConnection
	guildID string
	botID   string

	mu        sync.RWMutex
	channelID string

	output chan audio.AudioFrame

	done      chan struct{}
	closeOnce sync.Once

	removeHandler func()

	// disconnectVC tears down the voice connection. Defaults to vc.Disconnect;
	// overridden in tests.
	disconnectVC func() error

	// newEncoder creates the Opus encoder. Nil means newOpusEncoder.
	newEncoder func() (*opusEncoder, error)
}

func newConnection(vc *discordgo.VoiceConnection, session *discordgo.Session, guildID, channelID string) *Connection {
	c := &Connection{
		vc:           vc,
		guildID:      guildID,
		channelID:    channelID,
		output:       make(chan audio.AudioFrame, outputChannelBuffer),
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
	}
	if session.State != nil && session.State.User != nil {
		c.botID = session.State.User.ID
	}
	c.removeHandler = session.AddHandler(c.handleVoiceStateUpdate)

	go c.sendLoop()
	return c
}

// ChannelID returns the channel the bot currently sits in.
func (c *Connection) ChannelID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channelID
}

// OutputStream returns the write-only channel for outgoing PCM frames.
func (c *Connection) OutputStream() chan<- audio.AudioFrame {
	return c.output
}

// Done is closed once the connection has terminated.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Disconnect leaves the voice channel. Safe to call more than once.
func (c *Connection) Disconnect() error {
	return c.terminate("disconnect")
}

func (c *Connection) terminate(reason string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.removeHandler != nil {
			c.removeHandler()
		}
		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}
		slog.Debug("discord: voice connection closed", "guild_id", c.guildID, "reason", reason)
	})
	return err
}

// sendLoop drains the output channel, converts frames to 48 kHz stereo,
// slices them into exact Opus frames and hands the packets to discordgo.
func (c *Connection) sendLoop() {
	newEnc := c.newEncoder
	if newEnc == nil {
		newEnc = newOpusEncoder
	}
	enc, err := newEnc()
	if err != nil {
		// Nothing can be sent; Done must close so the owner drops the session.
		slog.Error("discord: opus encoder unavailable", "guild_id", c.guildID, "err", err)
		if tErr := c.terminate("encoder unavailable"); tErr != nil {
			slog.Debug("discord: disconnect after encoder failure", "guild_id", c.guildID, "err", tErr)
		}
		return
	}

	conv := audio.FormatConverter{Target: audio.Format{SampleRate: opusSampleRate, Channels: opusChannels}}
	idle := time.NewTimer(speakingIdle)
	idle.Stop()
	speaking := false

	var buf []byte
	for {
		select {
		case <-c.done:
			idle.Stop()
			if speaking {
				c.setSpeaking(false)
			}
			return

		case <-idle.C:
			if speaking {
				c.setSpeaking(false)
				speaking = false
			}
			// A partial tail frame is not worth padding; drop it.
			buf = buf[:0]

		case frame := <-c.output:
			frame = conv.Convert(frame)
			if len(frame.Data) == 0 {
				continue
			}
			if !speaking {
				c.setSpeaking(true)
				speaking = true
			}
			idle.Reset(speakingIdle)

			buf = append(buf, frame.Data...)
			for len(buf) >= opusFrameBytes {
				packet, eErr := enc.encode(buf[:opusFrameBytes])
				buf = buf[opusFrameBytes:]
				if eErr != nil {
					slog.Warn("discord: opus encode error", "guild_id", c.guildID, "err", eErr)
					continue
				}
				select {
				case c.vc.OpusSend <- packet:
				case <-c.done:
					return
				}
			}
		}
	}
}

// handleVoiceStateUpdate watches the bot's own voice state: a move updates the
// tracked channel, leaving voice (kicked, channel deleted) terminates the
// connection so the owner sees Done close.
func (c *Connection) handleVoiceStateUpdate(_ *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if vsu.VoiceState == nil || vsu.GuildID != c.guildID || c.botID == "" || vsu.UserID != c.botID {
		return
	}
	if vsu.ChannelID == "" {
		go func() {
			if err := c.terminate("voice state lost"); err != nil {
				slog.Debug("discord: disconnect after voice state loss", "guild_id", c.guildID, "err", err)
			}
		}()
		return
	}
	c.mu.Lock()
	c.channelID = vsu.ChannelID
	c.mu.Unlock()
}

func (c *Connection) setSpeaking(b bool) {
	if err := c.vc.Speaking(b); err != nil {
		slog.Warn("discord: speaking notification error", "speaking", b, "err", err)
	}
}

package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/vcplay/internal/source"
	"github.com/MrWong99/vcplay/internal/voice"
)

var (
	// ErrMissingGroupContext is returned for commands issued outside a guild.
	ErrMissingGroupContext = errors.New("dispatch: command requires a group")

	// ErrNotInVoiceChannel is returned by join when the invoking user is not
	// in a voice channel.
	ErrNotInVoiceChannel = errors.New("dispatch: user not in a voice channel")

	// ErrNoActiveSession is returned when a command needs a session the group
	// does not have.
	ErrNoActiveSession = errors.New("dispatch: no active session")

	// ErrInvalidOption is returned when a required option is missing or
	// malformed. The concrete error is an [*OptionError].
	ErrInvalidOption = errors.New("dispatch: invalid option")

	// ErrAttach is returned when a resolved stream could not be attached.
	ErrAttach = errors.New("dispatch: attach failed")

	// ErrUnknownCommand is returned for command names the dispatcher does not
	// handle.
	ErrUnknownCommand = errors.New("dispatch: unknown command")

	// ErrConnect is returned when the voice connection could not be
	// established.
	ErrConnect = errors.New("dispatch: voice connect failed")

	// ErrSuperseded is returned by a play replaced by a newer play of the
	// same group before it started.
	ErrSuperseded = voice.ErrSuperseded
)

// OptionError describes an invalid command option.
type OptionError struct {
	Name   string
	Reason string
}

func (e *OptionError) Error() string {
	return fmt.Sprintf("dispatch: option %q: %s", e.Name, e.Reason)
}

// Is makes every OptionError match [ErrInvalidOption].
func (e *OptionError) Is(target error) bool { return target == ErrInvalidOption }

// Reply texts sent back to the invoking user.
const (
	ReplyJoined          = "joined voice channel"
	ReplyPlaying         = "playing song"
	ReplyBye             = "bye :)"
	ReplyNotInVoice      = "not in a voice channel"
	ReplyInvalidFile     = "please provide a valid attachment"
	ReplyInvalidVolume   = "volume must be a whole number between 0 and 200"
	ReplyNoSession       = "not connected to a voice channel, use /join first"
	ReplyMissingGroup    = "this command only works inside a server"
	ReplyNetwork         = "could not download the file"
	ReplyDecode          = "decode error"
	ReplyAttach          = "could not start playback"
	ReplyConnect         = "could not join voice channel"
	ReplySuperseded      = "replaced by a newer request"
	ReplySessionClosed   = "playback cancelled, the bot left the voice channel"
	ReplyTimeout         = "that took too long, please try again"
	ReplyNotImplemented  = "not implemented"
	ReplyInternal        = "something went wrong"
	replyVolumeSetFormat = "volume set to %d%%"
)

// classify maps err to its reply text and a short outcome label for metrics.
func classify(err error) (reply, outcome string) {
	var optErr *OptionError
	switch {
	case err == nil:
		return "", "ok"
	case errors.As(err, &optErr):
		if optErr.Name == OptionPercent {
			return ReplyInvalidVolume, "invalid_option"
		}
		return ReplyInvalidFile, "invalid_option"
	case errors.Is(err, ErrMissingGroupContext):
		return ReplyMissingGroup, "missing_group"
	case errors.Is(err, ErrNotInVoiceChannel):
		return ReplyNotInVoice, "not_in_voice"
	case errors.Is(err, ErrNoActiveSession):
		return ReplyNoSession, "no_session"
	case errors.Is(err, ErrUnknownCommand):
		return ReplyNotImplemented, "unknown_command"
	case errors.Is(err, ErrConnect):
		return ReplyConnect, "connect"
	case errors.Is(err, ErrSuperseded):
		return ReplySuperseded, "superseded"
	case errors.Is(err, voice.ErrSessionClosed):
		return ReplySessionClosed, "session_closed"
	case errors.Is(err, source.ErrNetwork):
		return ReplyNetwork, "network"
	case errors.Is(err, source.ErrDecode):
		return ReplyDecode, "decode"
	case errors.Is(err, ErrAttach):
		return ReplyAttach, "attach"
	case errors.Is(err, context.DeadlineExceeded):
		return ReplyTimeout, "timeout"
	default:
		return ReplyInternal, "internal"
	}
}

// ReplyFor returns the user-facing reply for a failed command.
func ReplyFor(err error) string {
	reply, _ := classify(err)
	return reply
}

package dispatch

// Command names.
const (
	CommandJoin   = "join"
	CommandPlay   = "play"
	CommandStop   = "stop"
	CommandVolume = "volume"
)

// Option names.
const (
	OptionChannel = "id"
	OptionFile    = "file"
	OptionPercent = "percent"
)

// Request is one command invocation.
type Request struct {
	// Name is the command name.
	Name string

	// GroupID is the guild the command was issued in. Empty for direct
	// messages.
	GroupID string

	// UserID is the invoking user.
	UserID string

	// Options holds the supplied option values by name: [Attachment],
	// string, int64, float64 or bool.
	Options map[string]any
}

// Attachment is an uploaded file referenced by a command option.
type Attachment struct {
	URL         string
	Filename    string
	ContentType string
	Size        int
}

// Presence reports the voice channel a user is currently in.
type Presence interface {
	ChannelOf(groupID, userID string) (channelID string, ok bool)
}

// PresenceFunc adapts a function to [Presence].
type PresenceFunc func(groupID, userID string) (string, bool)

// ChannelOf implements [Presence].
func (f PresenceFunc) ChannelOf(groupID, userID string) (string, bool) {
	return f(groupID, userID)
}

// Package audio defines the voice transport abstractions used by vcplay and
// the PCM helpers shared by its producers and consumers.
//
// The two primary abstractions are:
//
//   - [Platform]: joins a voice channel within a group and returns a [Connection].
//   - [Connection]: an established voice link that accepts PCM frames on a
//     single output stream and reports when the link is lost.
//
// Platform adapters live in sub-packages (audio/discord).
package audio

import (
	"context"
)

// Connection represents an established voice link to one channel.
//
// A Connection is obtained from [Platform.Connect] and stays valid until
// [Connection.Disconnect] is called or the platform reports the link as lost,
// whichever happens first. Both cases close the channel returned by Done.
//
// Implementations must be safe for concurrent use.
type Connection interface {
	// ChannelID returns the voice channel this connection is bound to.
	ChannelID() string

	// OutputStream returns the write-only channel for outgoing audio.
	// The channel is buffered and drained at real-time pace by the platform.
	//
	// Ownership: the platform never closes this channel. Writers must select on
	// Done to stop writing once the connection terminates; frames written after
	// that are dropped.
	OutputStream() chan<- AudioFrame

	// Done returns a channel that is closed when the connection terminates,
	// either through Disconnect or because the platform dropped the link.
	Done() <-chan struct{}

	// Disconnect tears down the connection. It is safe to call more than once;
	// subsequent calls are no-ops and return nil.
	Disconnect() error
}

// Platform is the entry point for a voice provider.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins channelID inside groupID and returns an active
	// [Connection]. ctx bounds the connection attempt only.
	Connect(ctx context.Context, groupID, channelID string) (Connection, error)
}

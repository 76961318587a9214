package voice

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotConnected means the scope has no active voice session.
	ErrNotConnected = errors.New("not connected to a voice channel")
	// ErrQueueFull means the scope's playback queue cannot take another track.
	ErrQueueFull = errors.New("playback queue is full")
	// ErrRejected wraps every reason Enqueue refuses audio.
	ErrRejected = errors.New("audio rejected")
)

// JoinError reports a failed join of channelID in scopeID.
type JoinError struct {
	ScopeID   string
	ChannelID string
	Err       error
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("failed to join voice channel %s in %s: %v", e.ChannelID, e.ScopeID, e.Err)
}

func (e *JoinError) Unwrap() error { return e.Err }

// Conn is an established voice connection owned by the transport. It
// serializes its own operations.
type Conn interface {
	Speaking(speaking bool) error
	SendFrame(ctx context.Context, packet []byte) error
	SetDeafened(deaf bool) error
	Disconnect() error
}

// Transport joins voice channels. Joining a scope that already has a
// connection moves it and may return the same Conn.
type Transport interface {
	Join(ctx context.Context, scopeID, channelID string) (Conn, error)
}

// Encoder turns a synthesized WAV file into transport packets.
type Encoder interface {
	Encode(wav []byte) ([][]byte, error)
}

// Handle describes an active session.
type Handle struct {
	ScopeID   string
	ChannelID string
}

package console

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errDisconnected = errors.New("console voice connection closed")

// voiceConn is the bot's presence in one scope's voice room.
type voiceConn struct {
	hub   *Hub
	scope string

	mu       sync.Mutex
	channel  string
	deaf     bool
	speaking bool
	closed   bool
	lastSent time.Time
}

func (v *voiceConn) moveTo(channelID string) {
	v.mu.Lock()
	v.channel = channelID
	v.closed = false
	v.mu.Unlock()
	v.announce()
}

func (v *voiceConn) Speaking(speaking bool) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return errDisconnected
	}
	v.speaking = speaking
	v.mu.Unlock()
	v.announce()
	return nil
}

// SendFrame forwards one Opus packet to every client in the voice room,
// paced to real time.
func (v *voiceConn) SendFrame(ctx context.Context, packet []byte) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return errDisconnected
	}
	channel := v.channel
	wait := time.Until(v.lastSent.Add(v.hub.frameInterval))
	v.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for _, c := range v.hub.listeners(v.scope, channel) {
		if err := c.writeBinary(packet); err != nil {
			v.hub.logger.Debug().Err(err).Str("scope_id", v.scope).Msg("Dropped voice frame for console client")
		}
	}

	v.mu.Lock()
	v.lastSent = time.Now()
	v.mu.Unlock()
	return nil
}

func (v *voiceConn) SetDeafened(deaf bool) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return errDisconnected
	}
	v.deaf = deaf
	v.mu.Unlock()
	v.announce()
	return nil
}

func (v *voiceConn) Disconnect() error {
	v.mu.Lock()
	v.closed = true
	v.speaking = false
	v.mu.Unlock()
	v.hub.forget(v)
	v.announce()
	return nil
}

// announce tells the scope's clients where the bot is and what it is doing.
func (v *voiceConn) announce() {
	v.mu.Lock()
	env := Envelope{Type: TypeState, Scope: v.scope, Speaking: v.speaking, Deaf: v.deaf}
	if !v.closed {
		env.VoiceChannel = v.channel
	}
	v.mu.Unlock()

	for _, c := range v.hub.snapshot() {
		if _, scope, _ := c.identity(); scope != v.scope {
			continue
		}
		if err := c.writeJSON(env); err != nil {
			v.hub.logger.Debug().Err(err).Msg("Failed to send voice state to console client")
		}
	}
}

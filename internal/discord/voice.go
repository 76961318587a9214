package discord

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/discordgo"
)

// frameTimeout bounds how long one Opus packet may wait for the sender.
const frameTimeout = time.Second

var errFrameTimeout = errors.New("timed out sending voice frame")

// voiceConn adapts a discordgo voice connection to voice.Conn.
type voiceConn struct {
	vc      *discordgo.VoiceConnection
	release func(*discordgo.VoiceConnection)
}

func (c *voiceConn) Speaking(speaking bool) error {
	return c.vc.Speaking(speaking)
}

func (c *voiceConn) SendFrame(ctx context.Context, packet []byte) error {
	timer := time.NewTimer(frameTimeout)
	defer timer.Stop()

	select {
	case c.vc.OpusSend <- packet:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errFrameTimeout
	}
}

// SetDeafened re-sends the voice state for the current channel.
func (c *voiceConn) SetDeafened(deaf bool) error {
	c.vc.RLock()
	channelID := c.vc.ChannelID
	c.vc.RUnlock()
	return c.vc.ChangeChannel(channelID, false, deaf)
}

func (c *voiceConn) Disconnect() error {
	if c.release != nil {
		c.release(c.vc)
	}
	return c.vc.Disconnect()
}

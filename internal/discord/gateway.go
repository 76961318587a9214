// Package discord connects the bot to Discord: inbound messages, text
// replies, voice channel lookup and the voice transport.
package discord

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-reader/internal/bot"
	"github.com/lexiqai/voice-reader/internal/observability"
	"github.com/lexiqai/voice-reader/internal/resilience"
	"github.com/lexiqai/voice-reader/internal/voice"
)

// Close codes Discord uses for configuration problems that no retry fixes.
const (
	closeAuthenticationFailed = 4004
	closeInvalidIntents       = 4013
	closeDisallowedIntents    = 4014
)

const intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildVoiceStates |
	discordgo.IntentsMessageContent

// Gateway is a bot.Messenger, bot.VoiceLocator and voice.Transport backed by
// one Discord session.
type Gateway struct {
	session *discordgo.Session
	events  chan bot.Event
	done    chan struct{}
	logger  zerolog.Logger

	mu    sync.Mutex
	conns map[*discordgo.VoiceConnection]*voiceConn

	closeOnce sync.Once
}

// New creates a gateway for token. Nothing is opened until Open.
func New(token string, buffer int) (*Gateway, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	s.Identify.Intents = intents
	s.StateEnabled = true

	g := &Gateway{
		session: s,
		events:  make(chan bot.Event, buffer),
		done:    make(chan struct{}),
		logger:  observability.GetLogger().With().Str("component", "discord").Logger(),
		conns:   make(map[*discordgo.VoiceConnection]*voiceConn),
	}
	s.AddHandler(g.onMessageCreate)
	s.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		g.logger.Info().Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("Discord session ready")
	})
	return g, nil
}

// Open connects to the gateway, retrying transient failures with backoff.
// Authentication and intent errors stop immediately.
func (g *Gateway) Open(ctx context.Context, cfg *resilience.ReconnectConfig) error {
	return resilience.Reconnect(ctx, "discord", func(ctx context.Context) error {
		err := g.session.Open()
		if err == nil || errors.Is(err, discordgo.ErrWSAlreadyOpen) {
			return nil
		}
		if isFatalOpenError(err) {
			return resilience.Permanent(err)
		}
		return err
	}, cfg)
}

func isFatalOpenError(err error) bool {
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return false
	}
	switch closeErr.Code {
	case closeAuthenticationFailed, closeInvalidIntents, closeDisallowedIntents:
		return true
	}
	return false
}

// Events delivers inbound messages.
func (g *Gateway) Events() <-chan bot.Event {
	return g.events
}

func (g *Gateway) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	selfID := ""
	if s.State != nil && s.State.User != nil {
		selfID = s.State.User.ID
	}
	ev, ok := toEvent(selfID, m.Message)
	if !ok {
		return
	}
	select {
	case g.events <- ev:
	case <-g.done:
	}
}

// toEvent converts a Discord message; ok is false for messages without an author.
func toEvent(selfID string, m *discordgo.Message) (bot.Event, bool) {
	if m == nil || m.Author == nil {
		return bot.Event{}, false
	}
	return bot.Event{
		AuthorID:    m.Author.ID,
		IsAutomated: m.Author.Bot || m.Author.ID == selfID,
		ChannelID:   m.ChannelID,
		ScopeID:     m.GuildID,
		Text:        m.Content,
	}, true
}

// SendText posts text to a channel.
func (g *Gateway) SendText(ctx context.Context, channelID, text string) error {
	if _, err := g.session.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to send message to %s: %w", channelID, err)
	}
	return nil
}

// UserVoiceChannel returns the voice channel userID is in within guild
// scopeID, or "" when the user is not in voice.
func (g *Gateway) UserVoiceChannel(ctx context.Context, scopeID, userID string) (string, error) {
	vs, err := g.session.State.VoiceState(scopeID, userID)
	if errors.Is(err, discordgo.ErrStateNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return vs.ChannelID, nil
}

// Join connects to a voice channel, self-deafened. Joining a guild that is
// already connected moves the existing connection.
func (g *Gateway) Join(ctx context.Context, scopeID, channelID string) (voice.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vc, err := g.session.ChannelVoiceJoin(scopeID, channelID, false, true)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.conns[vc]; ok {
		return c, nil
	}
	c := &voiceConn{vc: vc, release: g.release}
	g.conns[vc] = c
	return c, nil
}

func (g *Gateway) release(vc *discordgo.VoiceConnection) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.conns, vc)
}

// HealthCheck reports whether the session has received its ready event.
func (g *Gateway) HealthCheck(ctx context.Context) (bool, error) {
	if !sessionReady(g.session) {
		return false, errors.New("discord session not ready")
	}
	return true, nil
}

// sessionReady reads DataReady under the session lock discordgo writes it with.
func sessionReady(s *discordgo.Session) bool {
	s.RLock()
	defer s.RUnlock()
	return s.DataReady
}

// Close stops event delivery and closes the session.
func (g *Gateway) Close() error {
	var err error
	g.closeOnce.Do(func() {
		close(g.done)
		err = g.session.Close()
	})
	return err
}

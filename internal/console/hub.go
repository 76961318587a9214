// Package console is a local stand-in for the chat platform. Browsers or
// scripts connect over WebSocket, post chat messages as JSON and receive
// replies as JSON and the bot's voice as binary Opus frames.
package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-reader/internal/bot"
	"github.com/lexiqai/voice-reader/internal/observability"
	"github.com/lexiqai/voice-reader/internal/voice"
)

const (
	writeWait = 10 * time.Second
	// FrameInterval is the playback pace of one 20 ms Opus frame.
	FrameInterval = 20 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	// Local development tool; any origin may connect.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Message types exchanged with clients.
const (
	TypeHello   = "hello"   // client: identify as user in scope, optionally in a voice room
	TypeMessage = "message" // client: post text to a channel
	TypeVoice   = "voice"   // client: move to another voice room ("" leaves voice)
	TypeText    = "text"    // server: bot reply
	TypeState   = "state"   // server: bot voice state changed
)

// Envelope is the JSON frame in both directions.
type Envelope struct {
	Type         string `json:"type"`
	User         string `json:"user,omitempty"`
	Bot          bool   `json:"bot,omitempty"`
	Scope        string `json:"scope,omitempty"`
	Channel      string `json:"channel,omitempty"`
	VoiceChannel string `json:"voice_channel,omitempty"`
	Text         string `json:"text,omitempty"`
	Speaking     bool   `json:"speaking,omitempty"`
	Deaf         bool   `json:"deaf,omitempty"`
}

// Hub is a bot.Messenger, bot.VoiceLocator and voice.Transport for
// WebSocket clients.
type Hub struct {
	events        chan bot.Event
	done          chan struct{}
	frameInterval time.Duration
	logger        zerolog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	voices  map[string]*voiceConn // by scope

	closeOnce sync.Once
}

// NewHub creates a hub; buffer sizes the inbound event channel and
// frameInterval paces voice frames (0 sends as fast as clients accept).
func NewHub(buffer int, frameInterval time.Duration) *Hub {
	return &Hub{
		events:        make(chan bot.Event, buffer),
		done:          make(chan struct{}),
		frameInterval: frameInterval,
		logger:        observability.GetLogger().With().Str("component", "console").Logger(),
		clients:       make(map[*client]struct{}),
		voices:        make(map[string]*voiceConn),
	}
}

// Events delivers inbound chat messages.
func (h *Hub) Events() <-chan bot.Event {
	return h.events
}

// Handler upgrades requests to WebSocket console clients.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn().Err(err).Msg("Failed to upgrade console connection")
			return
		}

		c := &client{conn: conn}
		h.mu.Lock()
		h.clients[c] = struct{}{}
		h.mu.Unlock()

		logger := observability.WithCorrelationID("").With().Str("component", "console").Str("remote", r.RemoteAddr).Logger()
		logger.Info().Msg("Console client connected")

		h.readLoop(c, logger)

		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		conn.Close()
		logger.Info().Msg("Console client disconnected")
	}
}

func (h *Hub) readLoop(c *client, logger zerolog.Logger) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("Console read error")
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logger.Warn().Err(err).Msg("Failed to parse console message")
			continue
		}

		switch env.Type {
		case TypeHello:
			c.identify(env.User, env.Scope, env.Bot)
			c.setVoiceChannel(env.VoiceChannel)
			logger.Info().Str("user_id", env.User).Str("scope_id", env.Scope).Msg("Console client identified")

		case TypeVoice:
			c.setVoiceChannel(env.VoiceChannel)

		case TypeMessage:
			user, scope, automated := c.identity()
			if user == "" {
				logger.Warn().Msg("Console message before hello dropped")
				continue
			}
			ev := bot.Event{AuthorID: user, IsAutomated: automated, ChannelID: ChannelKey(scope, env.Channel), ScopeID: scope, Text: env.Text}
			select {
			case h.events <- ev:
			case <-h.done:
				return
			}

		default:
			logger.Warn().Str("type", env.Type).Msg("Unknown console message type")
		}
	}
}

// ChannelKey is the chat channel id the bot sees for channel in scope.
// Channel names are per scope, so the key carries both.
func ChannelKey(scope, channel string) string {
	return scope + "#" + channel
}

// SendText sends a reply to the clients of the scope channelID belongs to.
func (h *Hub) SendText(ctx context.Context, channelID, text string) error {
	scope, channel, ok := strings.Cut(channelID, "#")
	if !ok {
		return fmt.Errorf("unknown console channel %q", channelID)
	}
	env := Envelope{Type: TypeText, Scope: scope, Channel: channel, Text: text}
	var errs []error
	for _, c := range h.snapshot() {
		if _, clientScope, _ := c.identity(); clientScope != scope {
			continue
		}
		if err := c.writeJSON(env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// UserVoiceChannel returns the voice room of userID in scopeID, or "".
func (h *Hub) UserVoiceChannel(ctx context.Context, scopeID, userID string) (string, error) {
	for _, c := range h.snapshot() {
		user, scope, _ := c.identity()
		if user == userID && scope == scopeID {
			return c.voiceChannel(), nil
		}
	}
	return "", nil
}

// Join opens, or moves, the bot's voice connection in scopeID.
func (h *Hub) Join(ctx context.Context, scopeID, channelID string) (voice.Conn, error) {
	h.mu.Lock()
	vc, ok := h.voices[scopeID]
	if !ok {
		vc = &voiceConn{hub: h, scope: scopeID}
		h.voices[scopeID] = vc
	}
	h.mu.Unlock()

	vc.moveTo(channelID)
	return vc, nil
}

// HealthCheck always succeeds once the hub exists.
func (h *Hub) HealthCheck(ctx context.Context) (bool, error) {
	select {
	case <-h.done:
		return false, errors.New("console hub closed")
	default:
		return true, nil
	}
}

// Close stops event delivery and disconnects every client.
func (h *Hub) Close() error {
	h.closeOnce.Do(func() {
		close(h.done)
		for _, c := range h.snapshot() {
			c.close()
		}
	})
	return nil
}

func (h *Hub) snapshot() []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

// listeners returns the clients in scopeID sitting in voice room channelID.
func (h *Hub) listeners(scopeID, channelID string) []*client {
	var out []*client
	for _, c := range h.snapshot() {
		_, scope, _ := c.identity()
		if scope == scopeID && c.voiceChannel() == channelID {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) forget(vc *voiceConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.voices[vc.scope] == vc {
		delete(h.voices, vc.scope)
	}
}

type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu        sync.RWMutex
	user      string
	scope     string
	automated bool
	voice     string
}

func (c *client) identify(user, scope string, automated bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user, c.scope, c.automated = user, scope, automated
}

func (c *client) identity() (string, string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user, c.scope, c.automated
}

func (c *client) setVoiceChannel(channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.voice = channelID
}

func (c *client) voiceChannel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.voice
}

func (c *client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *client) writeBinary(p []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.BinaryMessage, p)
}

func (c *client) close() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
		time.Now().Add(writeWait))
	c.conn.Close()
}

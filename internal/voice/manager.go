// Package voice keeps at most one voice session per scope and plays queued
// audio into it.
package voice

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-reader/internal/observability"
)

// Manager owns the per-scope voice sessions.
type Manager struct {
	transport Transport
	encoder   Encoder
	queueSize int
	logger    zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewManager creates a manager; queueSize bounds the tracks waiting per scope.
func NewManager(transport Transport, encoder Encoder, queueSize int) *Manager {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Manager{
		transport: transport,
		encoder:   encoder,
		queueSize: queueSize,
		logger:    observability.GetLogger().With().Str("component", "voice").Logger(),
		sessions:  make(map[string]*session),
	}
}

// Join connects scopeID to channelID. An existing session in the scope is
// replaced; if the transport moved the same connection, its queue survives.
func (m *Manager) Join(ctx context.Context, scopeID, channelID string) (Handle, error) {
	conn, err := m.transport.Join(ctx, scopeID, channelID)
	if err != nil {
		return Handle{}, &JoinError{ScopeID: scopeID, ChannelID: channelID, Err: err}
	}

	m.mu.Lock()
	old := m.sessions[scopeID]
	if old != nil && old.conn == conn {
		old.setChannel(channelID)
		m.mu.Unlock()
		m.logger.Info().Str("scope_id", scopeID).Str("channel_id", channelID).Msg("Voice session moved")
		return old.handle(), nil
	}
	s := newSession(scopeID, channelID, conn, m.queueSize, m.logger)
	m.sessions[scopeID] = s
	count := len(m.sessions)
	m.mu.Unlock()

	observability.SetActiveSessions(count)
	if old != nil {
		old.stop()
		if err := old.conn.Disconnect(); err != nil {
			m.logger.Warn().Err(err).Str("scope_id", scopeID).Msg("Failed to disconnect replaced voice session")
		}
	}
	m.logger.Info().Str("scope_id", scopeID).Str("channel_id", channelID).Msg("Voice session joined")
	return s.handle(), nil
}

// Leave disconnects the scope's session, or returns ErrNotConnected.
func (m *Manager) Leave(ctx context.Context, scopeID string) error {
	m.mu.Lock()
	s := m.sessions[scopeID]
	delete(m.sessions, scopeID)
	count := len(m.sessions)
	m.mu.Unlock()

	if s == nil {
		return ErrNotConnected
	}
	observability.SetActiveSessions(count)
	s.stop()
	if err := s.conn.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect: %w", err)
	}
	m.logger.Info().Str("scope_id", scopeID).Msg("Voice session left")
	return nil
}

// Enqueue encodes wav and queues it for playback in the scope. Every failure
// wraps ErrRejected.
func (m *Manager) Enqueue(ctx context.Context, scopeID string, wav []byte) (err error) {
	defer func() { observability.RecordEnqueue(err == nil) }()

	s := m.get(scopeID)
	if s == nil {
		return fmt.Errorf("%w: %w", ErrRejected, ErrNotConnected)
	}
	packets, err := m.encoder.Encode(wav)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}
	if err := s.push(packets); err != nil {
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}
	return nil
}

// SetDeafened changes the bot's deafened state in the scope. Failures are
// logged only.
func (m *Manager) SetDeafened(scopeID string, deaf bool) {
	s := m.get(scopeID)
	if s == nil {
		m.logger.Warn().Str("scope_id", scopeID).Msg("Cannot change deafen state: no voice session")
		return
	}
	if err := s.conn.SetDeafened(deaf); err != nil {
		m.logger.Warn().Err(err).Str("scope_id", scopeID).Bool("deaf", deaf).Msg("Failed to change deafen state")
	}
}

// Active reports whether the scope has a session.
func (m *Manager) Active(scopeID string) bool {
	return m.get(scopeID) != nil
}

// Close leaves every scope.
func (m *Manager) Close(ctx context.Context) {
	m.mu.RLock()
	scopes := make([]string, 0, len(m.sessions))
	for scope := range m.sessions {
		scopes = append(scopes, scope)
	}
	m.mu.RUnlock()

	for _, scope := range scopes {
		if err := m.Leave(ctx, scope); err != nil {
			m.logger.Warn().Err(err).Str("scope_id", scope).Msg("Failed to leave voice session on shutdown")
		}
	}
}

func (m *Manager) get(scopeID string) *session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[scopeID]
}

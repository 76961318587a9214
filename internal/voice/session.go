package voice

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

type track [][]byte

// session plays queued tracks one after another on a single goroutine.
type session struct {
	scopeID string
	conn    Conn
	queue   chan track
	logger  zerolog.Logger

	mu        sync.RWMutex
	channelID string

	// pushMu orders push against stop so no track is accepted after cancel.
	pushMu   sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func newSession(scopeID, channelID string, conn Conn, queueSize int, logger zerolog.Logger) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		scopeID:   scopeID,
		channelID: channelID,
		conn:      conn,
		queue:     make(chan track, queueSize),
		logger:    logger.With().Str("scope_id", scopeID).Logger(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *session) handle() Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Handle{ScopeID: s.scopeID, ChannelID: s.channelID}
}

func (s *session) setChannel(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelID = channelID
}

func (s *session) push(t track) error {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()

	select {
	case <-s.ctx.Done():
		return ErrNotConnected
	default:
	}
	select {
	case s.queue <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// stop ends playback and waits for the player goroutine.
func (s *session) stop() {
	s.stopOnce.Do(func() {
		s.pushMu.Lock()
		s.cancel()
		s.pushMu.Unlock()
	})
	<-s.done
}

func (s *session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case t := <-s.queue:
			s.play(t)
		}
	}
}

func (s *session) play(t track) {
	if err := s.conn.Speaking(true); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to set speaking state")
	}
	defer func() {
		if err := s.conn.Speaking(false); err != nil {
			s.logger.Debug().Err(err).Msg("Failed to clear speaking state")
		}
	}()

	for i, packet := range t {
		if err := s.conn.SendFrame(s.ctx, packet); err != nil {
			if s.ctx.Err() == nil {
				s.logger.Error().Err(err).Int("frame", i).Int("frames", len(t)).Msg("Failed to send audio frame")
			}
			return
		}
	}
}

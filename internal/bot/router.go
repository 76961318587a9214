// Package bot turns inbound chat events into commands, applies the access
// gate and drives speech synthesis and voice playback.
package bot

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-reader/internal/access"
	"github.com/lexiqai/voice-reader/internal/observability"
	"github.com/lexiqai/voice-reader/internal/tts"
	"github.com/lexiqai/voice-reader/internal/voice"
)

// ErrNoVoiceChannel means the author is not in any voice channel.
var ErrNoVoiceChannel = errors.New("author is not in a voice channel")

// Event is one inbound chat message.
type Event struct {
	AuthorID    string
	IsAutomated bool
	ChannelID   string
	ScopeID     string // empty outside a guild-like scope
	Text        string
}

// Messenger posts text to a chat channel.
type Messenger interface {
	SendText(ctx context.Context, channelID, text string) error
}

// VoiceLocator finds the voice channel a user is connected to in a scope.
// It returns "" when the user is not in voice.
type VoiceLocator interface {
	UserVoiceChannel(ctx context.Context, scopeID, userID string) (string, error)
}

// Sessions is the voice session capability the router drives.
type Sessions interface {
	Join(ctx context.Context, scopeID, channelID string) (voice.Handle, error)
	Leave(ctx context.Context, scopeID string) error
	Enqueue(ctx context.Context, scopeID string, wav []byte) error
	SetDeafened(scopeID string, deaf bool)
	Active(scopeID string) bool
}

// State is where an event's processing ended.
type State int

const (
	StateRejected  State = iota // not for us: automated author, no prefix, unknown command, no scope
	StateDenied                 // gate refused; dropped silently
	StateCompleted              // command ran
	StateFailed                 // command failed; the user was told
)

func (s State) String() string {
	switch s {
	case StateRejected:
		return "rejected"
	case StateDenied:
		return "denied"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Outcome is the result of handling one event.
type Outcome struct {
	State   State
	Command string // canonical command name, empty when rejected before parsing
	Err     error
}

// Options configures a Router.
type Options struct {
	Prefix            string
	ReadPlainMessages bool
	Store             *access.Store
	Policy            access.Policy
	Messenger         Messenger
	Locator           VoiceLocator
	Sessions          Sessions
	Synthesizer       tts.Synthesizer
}

// Router is the command dispatcher. It is safe for concurrent use; all
// shared state lives in the access store.
type Router struct {
	opts   Options
	logger zerolog.Logger
}

// NewRouter creates a router. A nil Policy defaults to the store's allow-lists.
func NewRouter(opts Options) *Router {
	if opts.Policy == nil {
		opts.Policy = access.AllowListPolicy{Store: opts.Store}
	}
	return &Router{
		opts:   opts,
		logger: observability.GetLogger().With().Str("component", "router").Logger(),
	}
}

// Serve handles every event from events on its own goroutine until events is
// closed or ctx is done, then waits for in-flight handlers.
func (r *Router) Serve(ctx context.Context, events <-chan Event) {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				r.Handle(ctx, ev)
			}()
		}
	}
}

// Handle runs one event through the state machine.
func (r *Router) Handle(ctx context.Context, ev Event) Outcome {
	logger := observability.WithCorrelationID("").With().
		Str("scope_id", ev.ScopeID).
		Str("channel_id", ev.ChannelID).
		Str("user_id", ev.AuthorID).
		Logger()

	out := r.handle(ctx, ev, logger)

	command := out.Command
	if command == "" {
		command = "none"
	}
	observability.RecordCommand(command, out.State.String())

	if out.State != StateRejected {
		e := logger.Info()
		if out.State == StateFailed {
			e = logger.Warn().Err(out.Err)
		}
		e.Str("command", command).Str("state", out.State.String()).Str("text", observability.Preview(ev.Text)).Msg("Handled chat event")
	}
	return out
}

func (r *Router) handle(ctx context.Context, ev Event, logger zerolog.Logger) Outcome {
	if ev.IsAutomated {
		return Outcome{State: StateRejected}
	}

	cmd, err := Parse(r.opts.Prefix, ev.Text)
	switch {
	case errors.Is(err, ErrNoCommand):
		// A bare prefix is a malformed command, never plain text.
		if !r.opts.ReadPlainMessages || strings.TrimSpace(ev.Text) == "" || strings.HasPrefix(ev.Text, r.opts.Prefix) {
			return Outcome{State: StateRejected}
		}
		cmd = Speak{Text: strings.TrimSpace(ev.Text), Plain: true}
	case err != nil:
		var parseErr *ParseError
		if !errors.As(err, &parseErr) || ev.ScopeID == "" {
			return Outcome{State: StateRejected}
		}
		r.reply(ctx, logger, ev.ChannelID, parseFailedMessage(parseErr))
		return Outcome{State: StateFailed, Command: parseErr.Command, Err: err}
	}

	if ev.ScopeID == "" {
		return Outcome{State: StateRejected, Command: cmd.Name()}
	}

	if !r.allowed(cmd, ev) {
		return Outcome{State: StateDenied, Command: cmd.Name()}
	}

	err = r.dispatch(ctx, ev, cmd, logger)
	if err != nil {
		return Outcome{State: StateFailed, Command: cmd.Name(), Err: err}
	}
	return Outcome{State: StateCompleted, Command: cmd.Name()}
}

// allowed is the gate. Playback needs the policy's channel and user check;
// administrative commands only the admin check.
func (r *Router) allowed(cmd Command, ev Event) bool {
	if IsPlayback(cmd) {
		return r.opts.Policy.AllowsPlayback(ev.ChannelID, ev.AuthorID)
	}
	return r.opts.Policy.AllowsAdmin(ev.AuthorID)
}

func (r *Router) dispatch(ctx context.Context, ev Event, cmd Command, logger zerolog.Logger) error {
	store := r.opts.Store

	switch c := cmd.(type) {
	case JoinVoice:
		return r.join(ctx, ev, logger)

	case LeaveVoice:
		return r.leave(ctx, ev, logger)

	case Speak:
		return r.play(ctx, ev, store.SelectedVoice(), c.Text, logger)

	case SpeakWithID:
		if err := store.CheckVoice(c.VoiceID); err != nil {
			r.replyRange(ctx, logger, ev.ChannelID, err)
			return err
		}
		return r.play(ctx, ev, c.VoiceID, c.Text, logger)

	case ListVoices:
		voices := store.ListVoices(c.Sorted)
		if len(voices) == 0 {
			r.reply(ctx, logger, ev.ChannelID, msgCatalogEmpty)
			return nil
		}
		for _, chunk := range splitMessage(formatVoices(voices), MaxMessageLength) {
			r.reply(ctx, logger, ev.ChannelID, chunk)
		}
		return nil

	case SelectVoice:
		if err := store.SetSelectedVoice(c.VoiceID); err != nil {
			r.replyRange(ctx, logger, ev.ChannelID, err)
			return err
		}
		r.reply(ctx, logger, ev.ChannelID, selectedMessage(c.VoiceID, r.label(c.VoiceID)))
		return nil

	case AuthorizeChannel:
		store.AuthorizeChannel(ev.ChannelID)
		r.reply(ctx, logger, ev.ChannelID, msgChannelAllowed)
		return nil

	case AuthorizeUser:
		store.AuthorizeUser(ev.AuthorID)
		return nil

	case RevokeSelf:
		if !store.RevokeUser(ev.AuthorID) {
			logger.Debug().Msg("Revoke requested by a user who was not authorized")
		}
		return nil
	}

	return ErrUnknownCommand
}

func (r *Router) join(ctx context.Context, ev Event, logger zerolog.Logger) error {
	r.opts.Store.AuthorizeChannel(ev.ChannelID)
	r.opts.Store.AuthorizeUser(ev.AuthorID)

	target, err := r.opts.Locator.UserVoiceChannel(ctx, ev.ScopeID, ev.AuthorID)
	if err != nil || target == "" {
		r.reply(ctx, logger, ev.ChannelID, msgNoVoiceChannel)
		if err == nil {
			err = ErrNoVoiceChannel
		}
		return err
	}

	handle, err := r.opts.Sessions.Join(ctx, ev.ScopeID, target)
	if err != nil {
		r.reply(ctx, logger, ev.ChannelID, msgJoinFailed)
		return err
	}
	r.reply(ctx, logger, ev.ChannelID, joinedMessage(handle.ChannelID))
	r.opts.Sessions.SetDeafened(ev.ScopeID, true)
	return nil
}

func (r *Router) leave(ctx context.Context, ev Event, logger zerolog.Logger) error {
	r.opts.Store.Teardown()

	err := r.opts.Sessions.Leave(ctx, ev.ScopeID)
	switch {
	case errors.Is(err, voice.ErrNotConnected):
		r.reply(ctx, logger, ev.ChannelID, msgNotInVoice)
	case err != nil:
		r.reply(ctx, logger, ev.ChannelID, leaveFailedMessage(err))
	default:
		r.reply(ctx, logger, ev.ChannelID, msgLeft)
	}
	return err
}

// play synthesizes text and queues it. The store is not touched here, so no
// lock is held across the engine or transport calls.
func (r *Router) play(ctx context.Context, ev Event, voiceID int, text string, logger zerolog.Logger) error {
	if !r.opts.Sessions.Active(ev.ScopeID) {
		r.reply(ctx, logger, ev.ChannelID, msgNotInVoicePlay)
		return voice.ErrNotConnected
	}

	wav, err := r.opts.Synthesizer.Synthesize(ctx, text, voiceID)
	if err != nil {
		r.reply(ctx, logger, ev.ChannelID, msgSynthesisFail)
		return err
	}

	if err := r.opts.Sessions.Enqueue(ctx, ev.ScopeID, wav); err != nil {
		msg := msgPlaybackFail
		if errors.Is(err, voice.ErrNotConnected) {
			msg = msgNotInVoicePlay
		}
		r.reply(ctx, logger, ev.ChannelID, msg)
		return err
	}
	return nil
}

// label returns the catalog label at index id, the same meaning CheckVoice uses.
func (r *Router) label(id int) string {
	voices := r.opts.Store.ListVoices(false)
	if id < 0 || id >= len(voices) {
		return ""
	}
	return voices[id].Label
}

func (r *Router) replyRange(ctx context.Context, logger zerolog.Logger, channelID string, err error) {
	var rangeErr *access.RangeError
	if errors.As(err, &rangeErr) {
		r.reply(ctx, logger, channelID, rangeMessage(rangeErr))
	}
}

// reply sends text; failures are logged and never retried.
func (r *Router) reply(ctx context.Context, logger zerolog.Logger, channelID, text string) {
	err := r.opts.Messenger.SendText(ctx, channelID, text)
	observability.RecordMessageSent(err == nil)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to send message")
	}
}

package tts

import (
	"context"
	"errors"
	"fmt"
)

// Phase identifies where a synthesis round trip failed.
type Phase string

const (
	PhaseQuery     Phase = "query"     // audio_query rejected or malformed
	PhaseSynthesis Phase = "synthesis" // synthesis rejected or empty
	PhaseTransport Phase = "transport" // engine unreachable, timed out or circuit open
)

// SynthesisError reports a failed synthesis with the failing phase.
type SynthesisError struct {
	Phase Phase
	Err   error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed at %s phase: %v", e.Phase, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// CatalogError reports that the voice catalog could not be fetched.
type CatalogError struct {
	Err error
}

func (e *CatalogError) Error() string {
	return fmt.Sprintf("voice catalog unavailable: %v", e.Err)
}

func (e *CatalogError) Unwrap() error { return e.Err }

// ErrEmptyText is returned when asked to synthesize nothing.
var ErrEmptyText = errors.New("text cannot be empty")

// Voice is one speaker style offered by the engine.
type Voice struct {
	ID      int    // style id passed as the speaker parameter
	Name    string // speaker name
	Style   string // style name
	Version string // speaker model version
}

// Label is the display name used in voice listings.
func (v Voice) Label() string {
	return v.Name + " " + v.Style
}

// Synthesizer turns text into a WAV waveform using one engine voice.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voiceID int) ([]byte, error)
}

// Catalog enumerates the engine's voices.
type Catalog interface {
	ListVoices(ctx context.Context) ([]Voice, error)
}

package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lexiqai/voice-reader/internal/config"
	"github.com/lexiqai/voice-reader/internal/observability"
	"github.com/lexiqai/voice-reader/internal/resilience"
)

// maxErrorBody bounds how much of an error response is kept for messages.
const maxErrorBody = 512

// VoicevoxClient talks to a VOICEVOX compatible engine over HTTP.
type VoicevoxClient struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
}

// NewVoicevoxClient creates a client from configuration.
func NewVoicevoxClient(cfg *config.Config) *VoicevoxClient {
	breaker := resilience.NewCircuitBreaker("speech", cfg.CircuitBreakerMaxFailures, cfg.ResetTimeoutDuration())
	return NewVoicevoxClientWithHTTP(cfg.SpeechURL, cfg.SpeechTimeoutDuration(), breaker, &http.Client{})
}

// NewVoicevoxClientWithHTTP creates a client with explicit collaborators.
func NewVoicevoxClientWithHTTP(baseURL string, timeout time.Duration, breaker *resilience.CircuitBreaker, httpClient *http.Client) *VoicevoxClient {
	return &VoicevoxClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		httpClient: httpClient,
		breaker:    breaker,
	}
}

// statusError is a non-2xx engine response.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("engine returned status %d", e.Code)
	}
	return fmt.Sprintf("engine returned status %d: %s", e.Code, e.Body)
}

// Synthesize runs the two-phase protocol: audio_query builds the utterance
// description, synthesis renders it to WAV. Both use the same speaker.
func (c *VoicevoxClient) Synthesize(ctx context.Context, text string, voiceID int) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &SynthesisError{Phase: PhaseQuery, Err: ErrEmptyText}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	var wav []byte
	// Engine-side rejections (4xx) are kept out of the breaker's failure count.
	var rejected *SynthesisError
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		wav, err = c.synthesize(ctx, text, voiceID)
		var synthErr *SynthesisError
		var status *statusError
		if errors.As(err, &synthErr) && errors.As(err, &status) && status.Code < 500 {
			rejected = synthErr
			return nil
		}
		return err
	})
	if err == nil && rejected != nil {
		err = rejected
	}
	observability.RecordSynthesis(start, err == nil)

	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, &SynthesisError{Phase: PhaseTransport, Err: err}
	}
	if err != nil {
		return nil, err
	}
	return wav, nil
}

func (c *VoicevoxClient) synthesize(ctx context.Context, text string, voiceID int) ([]byte, error) {
	speaker := strconv.Itoa(voiceID)

	queryParams := url.Values{}
	queryParams.Set("speaker", speaker)
	queryParams.Set("text", text)
	query, err := c.post(ctx, "/audio_query?"+queryParams.Encode(), nil)
	if err != nil {
		return nil, phaseError(PhaseQuery, err)
	}
	if !json.Valid(query) {
		return nil, &SynthesisError{Phase: PhaseQuery, Err: errors.New("audio_query returned malformed JSON")}
	}

	synthParams := url.Values{}
	synthParams.Set("speaker", speaker)
	wav, err := c.post(ctx, "/synthesis?"+synthParams.Encode(), query)
	if err != nil {
		return nil, phaseError(PhaseSynthesis, err)
	}
	if len(wav) == 0 {
		return nil, &SynthesisError{Phase: PhaseSynthesis, Err: errors.New("synthesis returned no audio")}
	}
	return wav, nil
}

// phaseError attributes err to phase unless the engine never answered.
func phaseError(phase Phase, err error) error {
	var status *statusError
	if errors.As(err, &status) {
		return &SynthesisError{Phase: phase, Err: err}
	}
	return &SynthesisError{Phase: PhaseTransport, Err: err}
}

func (c *VoicevoxClient) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req)
}

func (c *VoicevoxClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &statusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return data, nil
}

type speakerStyle struct {
	Name string `json:"name"`
	ID   int    `json:"id"`
}

type speaker struct {
	Name    string         `json:"name"`
	UUID    string         `json:"speaker_uuid"`
	Version string         `json:"version"`
	Styles  []speakerStyle `json:"styles"`
}

// ListVoices fetches /speakers and flattens it to one Voice per style, in
// engine order. Client errors are marked permanent so startup stops waiting.
func (c *VoicevoxClient) ListVoices(ctx context.Context) ([]Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/speakers", nil)
	if err != nil {
		return nil, &CatalogError{Err: err}
	}
	body, err := c.do(req)
	if err != nil {
		var status *statusError
		if errors.As(err, &status) && status.Code < 500 {
			err = resilience.Permanent(err)
		}
		return nil, &CatalogError{Err: err}
	}

	var speakers []speaker
	if err := json.Unmarshal(body, &speakers); err != nil {
		return nil, &CatalogError{Err: resilience.Permanent(fmt.Errorf("failed to decode speakers: %w", err))}
	}

	var voices []Voice
	for _, sp := range speakers {
		for _, style := range sp.Styles {
			voices = append(voices, Voice{
				ID:      style.ID,
				Name:    sp.Name,
				Style:   style.Name,
				Version: sp.Version,
			})
		}
	}
	if len(voices) == 0 {
		return nil, &CatalogError{Err: errors.New("engine reported no voices")}
	}
	return voices, nil
}

// Version returns the engine version; used as a readiness probe.
func (c *VoicevoxClient) Version(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/version", nil)
	if err != nil {
		return "", err
	}
	body, err := c.do(req)
	if err != nil {
		return "", err
	}
	var version string
	if err := json.Unmarshal(body, &version); err != nil {
		return strings.TrimSpace(string(body)), nil
	}
	return version, nil
}

// HealthCheck adapts Version to a readiness check. A failure carries the
// breaker's counters; a successful probe closes an open breaker.
func (c *VoicevoxClient) HealthCheck(ctx context.Context) (bool, error) {
	state, requests, failures, rate := c.breaker.GetStats()
	if _, err := c.Version(ctx); err != nil {
		return false, fmt.Errorf("%w (breaker %s, %d of %d synthesis calls failed, %.0f%%)", err, state, failures, requests, rate)
	}
	if state == resilience.StateOpen {
		c.breaker.Reset()
	}
	return true, nil
}

package tts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/voice-reader/internal/resilience"
)

var fakeWAV = []byte("RIFF....WAVEfmt ")

// engine is a scripted VOICEVOX stand-in.
type engine struct {
	queryStatus int
	synthStatus int
	queryBody   string
	delay       time.Duration

	queries    atomic.Int32
	syntheses  atomic.Int32
	lastText   atomic.Value
	lastQuery  atomic.Value
	lastSynthS atomic.Value
}

func (e *engine) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/audio_query", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		e.queries.Add(1)
		e.lastText.Store(r.URL.Query().Get("text"))
		e.lastQuery.Store(r.URL.Query().Get("speaker"))
		if e.delay > 0 {
			select {
			case <-time.After(e.delay):
			case <-r.Context().Done():
				return
			}
		}
		if e.queryStatus != 0 {
			http.Error(w, "bad query", e.queryStatus)
			return
		}
		body := e.queryBody
		if body == "" {
			body = `{"accent_phrases":[],"speedScale":1.0}`
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, body)
	})
	mux.HandleFunc("/synthesis", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		e.syntheses.Add(1)
		e.lastSynthS.Store(r.URL.Query().Get("speaker"))
		body, _ := io.ReadAll(r.Body)
		assert.True(t, json.Valid(body), "synthesis body must be the query JSON")
		if e.synthStatus != 0 {
			http.Error(w, "bad synthesis", e.synthStatus)
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(fakeWAV)
	})
	mux.HandleFunc("/speakers", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[
			{"name":"Metan","speaker_uuid":"u1","version":"0.14.0","styles":[{"name":"normal","id":2},{"name":"sweet","id":0}]},
			{"name":"Zundamon","speaker_uuid":"u2","version":"0.14.0","styles":[{"name":"normal","id":3}]}
		]`)
	})
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `"0.14.0"`)
	})
	return mux
}

func newClient(t *testing.T, e *engine, timeout time.Duration, maxFailures int) (*VoicevoxClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(e.handler(t))
	t.Cleanup(srv.Close)
	breaker := resilience.NewCircuitBreaker("speech-test", maxFailures, time.Minute)
	return NewVoicevoxClientWithHTTP(srv.URL+"/", timeout, breaker, srv.Client()), srv
}

func TestSynthesize_TwoPhase(t *testing.T) {
	e := &engine{}
	c, _ := newClient(t, e, 5*time.Second, 5)

	wav, err := c.Synthesize(context.Background(), "こんにちは & bye", 3)
	require.NoError(t, err)
	assert.Equal(t, fakeWAV, wav)
	assert.Equal(t, int32(1), e.queries.Load())
	assert.Equal(t, int32(1), e.syntheses.Load())
	assert.Equal(t, "こんにちは & bye", e.lastText.Load(), "text is url-encoded on the wire")
	assert.Equal(t, "3", e.lastQuery.Load())
	assert.Equal(t, "3", e.lastSynthS.Load())
}

func TestSynthesize_PhaseFailures(t *testing.T) {
	tests := []struct {
		name       string
		engine     *engine
		wantPhase  Phase
		wantSynths int32
	}{
		{"query rejected", &engine{queryStatus: http.StatusUnprocessableEntity}, PhaseQuery, 0},
		{"query malformed", &engine{queryBody: "not json"}, PhaseQuery, 0},
		{"synthesis failed", &engine{synthStatus: http.StatusInternalServerError}, PhaseSynthesis, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newClient(t, tt.engine, 5*time.Second, 5)

			_, err := c.Synthesize(context.Background(), "hello", 1)
			var synthErr *SynthesisError
			require.True(t, errors.As(err, &synthErr), "got %v", err)
			assert.Equal(t, tt.wantPhase, synthErr.Phase)
			assert.Equal(t, tt.wantSynths, tt.engine.syntheses.Load())
		})
	}
}

func TestSynthesize_Unreachable(t *testing.T) {
	e := &engine{}
	c, srv := newClient(t, e, time.Second, 5)
	srv.Close()

	_, err := c.Synthesize(context.Background(), "hello", 1)
	var synthErr *SynthesisError
	require.True(t, errors.As(err, &synthErr))
	assert.Equal(t, PhaseTransport, synthErr.Phase)
}

func TestSynthesize_Timeout(t *testing.T) {
	e := &engine{delay: time.Second}
	c, _ := newClient(t, e, 50*time.Millisecond, 5)

	_, err := c.Synthesize(context.Background(), "hello", 1)
	var synthErr *SynthesisError
	require.True(t, errors.As(err, &synthErr))
	assert.Equal(t, PhaseTransport, synthErr.Phase)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSynthesize_CircuitOpens(t *testing.T) {
	e := &engine{synthStatus: http.StatusServiceUnavailable}
	c, _ := newClient(t, e, time.Second, 2)

	for i := 0; i < 2; i++ {
		_, err := c.Synthesize(context.Background(), "hello", 1)
		require.Error(t, err)
	}

	_, err := c.Synthesize(context.Background(), "hello", 1)
	var synthErr *SynthesisError
	require.True(t, errors.As(err, &synthErr))
	assert.Equal(t, PhaseTransport, synthErr.Phase)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), e.queries.Load(), "open circuit short-circuits before the engine")
}

func TestSynthesize_ClientErrorsDoNotTripBreaker(t *testing.T) {
	e := &engine{queryStatus: http.StatusUnprocessableEntity}
	c, _ := newClient(t, e, time.Second, 1)

	for i := 0; i < 3; i++ {
		_, err := c.Synthesize(context.Background(), "hello", 999)
		var synthErr *SynthesisError
		require.True(t, errors.As(err, &synthErr))
		assert.Equal(t, PhaseQuery, synthErr.Phase)
	}
	assert.Equal(t, int32(3), e.queries.Load())
}

func TestSynthesize_EmptyText(t *testing.T) {
	e := &engine{}
	c, _ := newClient(t, e, time.Second, 5)

	_, err := c.Synthesize(context.Background(), "   ", 1)
	assert.ErrorIs(t, err, ErrEmptyText)
	assert.Equal(t, int32(0), e.queries.Load())
}

func TestListVoices_Flattens(t *testing.T) {
	c, _ := newClient(t, &engine{}, time.Second, 5)

	voices, err := c.ListVoices(context.Background())
	require.NoError(t, err)
	require.Len(t, voices, 3)
	assert.Equal(t, Voice{ID: 2, Name: "Metan", Style: "normal", Version: "0.14.0"}, voices[0])
	assert.Equal(t, 0, voices[1].ID)
	assert.Equal(t, "Metan sweet", voices[1].Label())
	assert.Equal(t, "Zundamon normal", voices[2].Label())
}

func TestListVoices_Unreachable(t *testing.T) {
	c, srv := newClient(t, &engine{}, time.Second, 5)
	srv.Close()

	_, err := c.ListVoices(context.Background())
	var catalogErr *CatalogError
	require.True(t, errors.As(err, &catalogErr))
	assert.False(t, resilience.IsPermanent(err), "unreachable engine is worth waiting for")
}

func TestListVoices_ClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()
	c := NewVoicevoxClientWithHTTP(srv.URL, time.Second, resilience.NewCircuitBreaker("t", 5, time.Minute), srv.Client())

	_, err := c.ListVoices(context.Background())
	var catalogErr *CatalogError
	require.True(t, errors.As(err, &catalogErr))
	assert.True(t, resilience.IsPermanent(err))
}

func TestVersionAndHealthCheck(t *testing.T) {
	c, _ := newClient(t, &engine{}, time.Second, 5)

	version, err := c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.14.0", version)

	ok, err := c.HealthCheck(context.Background())
	assert.True(t, ok)
	assert.NoError(t, err)
}

func TestHealthCheck_ReportsBreakerStats(t *testing.T) {
	e := &engine{}
	c, srv := newClient(t, e, time.Second, 5)

	_, err := c.Synthesize(context.Background(), "hello", 1)
	require.NoError(t, err)
	srv.Close()

	ok, err := c.HealthCheck(context.Background())
	assert.False(t, ok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "breaker closed, 0 of 1 synthesis calls failed")
}

func TestHealthCheck_ClosesOpenBreaker(t *testing.T) {
	e := &engine{synthStatus: http.StatusServiceUnavailable}
	c, _ := newClient(t, e, time.Second, 2)

	for i := 0; i < 2; i++ {
		_, err := c.Synthesize(context.Background(), "hello", 1)
		require.Error(t, err)
	}
	require.Equal(t, resilience.StateOpen, c.breaker.GetState())

	ok, err := c.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, resilience.StateClosed, c.breaker.GetState())

	_, err = c.Synthesize(context.Background(), "hello", 1)
	assert.NotErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(3), e.queries.Load(), "closed breaker lets calls reach the engine")
}

// Package access holds the process-wide permission and voice selection state
// shared by every command handler.
package access

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// ErrOutOfRange is returned when a voice id is not a valid catalog index.
var ErrOutOfRange = errors.New("voice id out of range")

// RangeError reports a rejected voice id together with the accepted bound.
type RangeError struct {
	Candidate int
	Length    int // catalog length; valid ids are [0, Length)
}

func (e *RangeError) Error() string {
	if e.Length == 0 {
		return fmt.Sprintf("voice id %d out of range: catalog is empty", e.Candidate)
	}
	return fmt.Sprintf("voice id %d out of range: accepted 0 ~ %d", e.Candidate, e.Length-1)
}

func (e *RangeError) Unwrap() error { return ErrOutOfRange }

// Voice is one catalog entry. ID is the engine's style id as a decimal string.
type Voice struct {
	ID    string
	Label string
}

// Store is the shared access-control state. Each field has its own lock and
// no method performs I/O, so callers never hold a lock across a network call.
type Store struct {
	channelsMu sync.RWMutex
	channels   map[string]struct{}

	usersMu sync.RWMutex
	users   map[string]struct{}

	// catalog is immutable after construction.
	catalog []Voice

	selectedMu sync.RWMutex
	selected   int
}

// NewStore builds a store over catalog with defaultVoice selected.
func NewStore(catalog []Voice, defaultVoice int) (*Store, error) {
	if defaultVoice < 0 || defaultVoice >= len(catalog) {
		return nil, &RangeError{Candidate: defaultVoice, Length: len(catalog)}
	}
	return &Store{
		channels: make(map[string]struct{}),
		users:    make(map[string]struct{}),
		catalog:  append([]Voice(nil), catalog...),
		selected: defaultVoice,
	}, nil
}

// IsChannelAllowed reports whether voice commands are honoured in channelID.
func (s *Store) IsChannelAllowed(channelID string) bool {
	s.channelsMu.RLock()
	defer s.channelsMu.RUnlock()
	_, ok := s.channels[channelID]
	return ok
}

// AuthorizeChannel adds channelID; adding it again is a no-op.
func (s *Store) AuthorizeChannel(channelID string) {
	s.channelsMu.Lock()
	defer s.channelsMu.Unlock()
	s.channels[channelID] = struct{}{}
}

// ClearChannels empties the channel allow-list.
func (s *Store) ClearChannels() {
	s.channelsMu.Lock()
	defer s.channelsMu.Unlock()
	clear(s.channels)
}

// IsUserAllowed reports whether userID may trigger playback.
func (s *Store) IsUserAllowed(userID string) bool {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	_, ok := s.users[userID]
	return ok
}

// AuthorizeUser adds userID; adding it again is a no-op.
func (s *Store) AuthorizeUser(userID string) {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	s.users[userID] = struct{}{}
}

// RevokeUser removes userID and reports whether it was present.
func (s *Store) RevokeUser(userID string) bool {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	_, ok := s.users[userID]
	delete(s.users, userID)
	return ok
}

// ClearUsers empties the user allow-list.
func (s *Store) ClearUsers() {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	clear(s.users)
}

// ListVoices returns a copy of the catalog, in engine order or, when sorted
// is set, ordered by numeric id.
func (s *Store) ListVoices(sorted bool) []Voice {
	voices := append([]Voice(nil), s.catalog...)
	if sorted {
		sort.SliceStable(voices, func(i, j int) bool {
			return numericID(voices[i].ID) < numericID(voices[j].ID)
		})
	}
	return voices
}

// CatalogLength is the number of selectable voices.
func (s *Store) CatalogLength() int {
	return len(s.catalog)
}

// SelectedVoice returns the voice used when a command names none.
func (s *Store) SelectedVoice() int {
	s.selectedMu.RLock()
	defer s.selectedMu.RUnlock()
	return s.selected
}

// SetSelectedVoice commits candidate if 0 <= candidate < CatalogLength,
// otherwise it returns a *RangeError and leaves the selection unchanged.
func (s *Store) SetSelectedVoice(candidate int) error {
	if err := s.CheckVoice(candidate); err != nil {
		return err
	}
	s.selectedMu.Lock()
	defer s.selectedMu.Unlock()
	s.selected = candidate
	return nil
}

// CheckVoice validates candidate against the catalog without mutating anything.
func (s *Store) CheckVoice(candidate int) error {
	if candidate < 0 || candidate >= len(s.catalog) {
		return &RangeError{Candidate: candidate, Length: len(s.catalog)}
	}
	return nil
}

// Teardown clears both allow-lists.
func (s *Store) Teardown() {
	s.ClearChannels()
	s.ClearUsers()
}

func numericID(id string) int {
	n, err := strconv.Atoi(id)
	if err != nil {
		return int(^uint(0) >> 1)
	}
	return n
}

package access

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoVoices() []Voice {
	return []Voice{{ID: "0", Label: "A"}, {ID: "1", Label: "B"}}
}

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(twoVoices(), 0)
	require.NoError(t, err)
	return s
}

func TestNewStore_RejectsInvalidDefault(t *testing.T) {
	_, err := NewStore(twoVoices(), 2)
	require.ErrorIs(t, err, ErrOutOfRange)

	_, err = NewStore(nil, 0)
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestAuthorizeChannel_Idempotent(t *testing.T) {
	s := newStore(t)
	assert.False(t, s.IsChannelAllowed("100"))

	for i := 0; i < 3; i++ {
		s.AuthorizeChannel("100")
		assert.True(t, s.IsChannelAllowed("100"))
	}
	assert.Len(t, s.channels, 1)
	assert.False(t, s.IsChannelAllowed("200"))
}

func TestRevokeUser(t *testing.T) {
	s := newStore(t)

	assert.False(t, s.RevokeUser("u1"), "revoking an absent user reports not found")
	assert.Empty(t, s.users)

	s.AuthorizeUser("u1")
	s.AuthorizeUser("u1")
	s.AuthorizeUser("u2")
	require.True(t, s.IsUserAllowed("u1"))

	assert.True(t, s.RevokeUser("u1"))
	assert.False(t, s.IsUserAllowed("u1"))
	assert.True(t, s.IsUserAllowed("u2"))
	assert.False(t, s.RevokeUser("u1"))
}

func TestTeardown(t *testing.T) {
	s := newStore(t)
	s.AuthorizeChannel("100")
	s.AuthorizeUser("u1")

	s.Teardown()

	assert.False(t, s.IsChannelAllowed("100"))
	assert.False(t, s.IsUserAllowed("u1"))
}

func TestSetSelectedVoice(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.SetSelectedVoice(1))
	assert.Equal(t, 1, s.SelectedVoice())

	err := s.SetSelectedVoice(5)
	require.ErrorIs(t, err, ErrOutOfRange)
	var rangeErr *RangeError
	require.True(t, errors.As(err, &rangeErr))
	assert.Equal(t, 2, rangeErr.Length)
	assert.Equal(t, "voice id 5 out of range: accepted 0 ~ 1", rangeErr.Error())
	assert.Equal(t, 1, s.SelectedVoice(), "rejected update leaves selection unchanged")

	require.ErrorIs(t, s.SetSelectedVoice(-1), ErrOutOfRange)
	assert.Equal(t, 1, s.SelectedVoice())
}

func TestListVoices(t *testing.T) {
	s, err := NewStore([]Voice{
		{ID: "10", Label: "ten"},
		{ID: "2", Label: "two"},
		{ID: "0", Label: "zero"},
	}, 0)
	require.NoError(t, err)

	raw := s.ListVoices(false)
	assert.Equal(t, []string{"10", "2", "0"}, ids(raw))

	sorted := s.ListVoices(true)
	assert.Equal(t, []string{"0", "2", "10"}, ids(sorted))

	sorted[0].Label = "mutated"
	assert.Equal(t, "zero", s.ListVoices(true)[0].Label, "listing returns a snapshot")
	assert.Equal(t, 3, s.CatalogLength())
}

func ids(voices []Voice) []string {
	out := make([]string, len(voices))
	for i, v := range voices {
		out[i] = v.ID
	}
	return out
}

func TestConcurrentMutations(t *testing.T) {
	s := newStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		user := fmt.Sprintf("u%d", i)
		go func() {
			defer wg.Done()
			s.AuthorizeUser(user)
		}()
		go func() {
			defer wg.Done()
			s.AuthorizeChannel("100")
			_ = s.IsChannelAllowed("100")
		}()
		go func(v int) {
			defer wg.Done()
			_ = s.SetSelectedVoice(v % 3)
			_ = s.SelectedVoice()
		}(i)
	}
	wg.Wait()

	for i := 0; i < 50; i++ {
		assert.True(t, s.IsUserAllowed(fmt.Sprintf("u%d", i)), "no lost update for u%d", i)
	}
	assert.True(t, s.IsChannelAllowed("100"))
	assert.Less(t, s.SelectedVoice(), s.CatalogLength())
}

func TestPolicies(t *testing.T) {
	s := newStore(t)
	allow := AllowListPolicy{Store: s}

	assert.False(t, allow.AllowsPlayback("100", "u1"))
	s.AuthorizeChannel("100")
	assert.False(t, allow.AllowsPlayback("100", "u1"), "channel alone is not enough")
	s.AuthorizeUser("u1")
	assert.True(t, allow.AllowsPlayback("100", "u1"))
	assert.True(t, allow.AllowsAdmin("anyone"))

	restricted := AllowListPolicy{Store: s, SuperUserID: "root"}
	assert.True(t, restricted.AllowsAdmin("root"))
	assert.False(t, restricted.AllowsAdmin("u1"))

	fixed := FixedRoomPolicy{ChannelID: "500", SuperUserID: "root"}
	assert.True(t, fixed.AllowsPlayback("500", "root"))
	assert.False(t, fixed.AllowsPlayback("500", "u1"))
	assert.False(t, fixed.AllowsPlayback("100", "root"))

	open := FixedRoomPolicy{ChannelID: "500"}
	assert.True(t, open.AllowsPlayback("500", "u1"))
	assert.True(t, open.AllowsAdmin("u1"))
	assert.False(t, fixed.AllowsAdmin("u1"))
}

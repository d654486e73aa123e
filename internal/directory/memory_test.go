package directory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pelusa-v/pelusa-dm/internal/chat"
)

func TestMemoryExists(t *testing.T) {
	m := NewMemory("alice")
	ctx := context.Background()

	ok, err := m.Exists(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Exists(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	m.Add("bob")
	ok, err = m.Exists(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []chat.UserID{"alice", "bob"}, m.Users())
}

func TestMemoryTouchPresenceIgnoresStaleUpdates(t *testing.T) {
	m := NewMemory("alice")
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	p, err := m.Presence(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, Presence{UserID: "alice"}, p)

	require.NoError(t, m.TouchPresence(ctx, "alice", true, t0))
	require.NoError(t, m.TouchPresence(ctx, "alice", false, t0.Add(time.Minute)))
	// a late online write from an older connection
	require.NoError(t, m.TouchPresence(ctx, "alice", true, t0.Add(30*time.Second)))

	p, err = m.Presence(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, p.IsOnline)
	assert.True(t, p.LastSeen.Equal(t0.Add(time.Minute)))

	seen, err := m.LastSeen(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, seen.Equal(t0.Add(time.Minute)))
}

func TestMemoryLastSeenNeverConnected(t *testing.T) {
	m := NewMemory("bob")
	seen, err := m.LastSeen(context.Background(), "bob")
	require.NoError(t, err)
	assert.True(t, seen.IsZero())
}

func TestMemoryUnknownUser(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	err := m.TouchPresence(ctx, "ghost", true, time.Now())
	assert.ErrorIs(t, err, chat.ErrNotFound)
	_, err = m.Presence(ctx, "ghost")
	assert.ErrorIs(t, err, chat.ErrNotFound)
	_, err = m.LastSeen(ctx, "ghost")
	assert.ErrorIs(t, err, chat.ErrNotFound)
}

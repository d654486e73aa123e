package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// frameConn keeps every frame the write pump hands it.
type frameConn struct {
	closed    chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	out []Envelope
}

func newFrameConn() *frameConn { return &frameConn{closed: make(chan struct{})} }

func (f *frameConn) ReadMessage() (int, []byte, error) {
	<-f.closed
	return 0, nil, io.EOF
}

func (f *frameConn) WriteMessage(_ int, b []byte) error {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	select {
	case <-f.closed:
		return errors.New("closed")
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, env)
	return nil
}

func (f *frameConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *frameConn) frames() []Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Envelope(nil), f.out...)
}

type stampRecorder struct {
	mu    sync.Mutex
	times []time.Time
	state []bool
}

func (r *stampRecorder) TouchPresence(_ context.Context, _ UserID, online bool, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.times = append(r.times, at)
	r.state = append(r.state, online)
	return nil
}

func newOrderHub(rec PresenceRecorder) *Hub {
	return NewHub(HubConfig{QuietPeriod: time.Second, SendBuffer: 16}, HubDeps{
		Store:    NewMemoryStore(),
		Recorder: rec,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func pumpedClient(t *testing.T, user UserID) (*Client, *frameConn) {
	t.Helper()
	conn := newFrameConn()
	c := NewClient(user, conn, ClientOptions{SendBuffer: 16}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go c.WritePump()
	t.Cleanup(c.Close)
	return c, conn
}

func TestJoinSnapshotPrecedesConcurrentOffline(t *testing.T) {
	hub := newOrderHub(nil)
	ctx := context.Background()
	alice, _ := pumpedClient(t, "alice")
	require.NoError(t, hub.Lifecycle.OnJoin(ctx, "alice", alice))

	bob, bobConn := pumpedClient(t, "bob")
	left := make(chan struct{})
	// alice drops after bob's snapshot was taken but before it is queued
	hub.Lifecycle.snapshotTaken = func(user UserID) {
		if user != "bob" {
			return
		}
		go func() {
			defer close(left)
			hub.Lifecycle.OnDisconnect(ctx, alice)
		}()
		time.Sleep(30 * time.Millisecond)
	}
	require.NoError(t, hub.Lifecycle.OnJoin(ctx, "bob", bob))

	select {
	case <-left:
	case <-time.After(time.Second):
		t.Fatal("disconnect did not finish")
	}
	require.Eventually(t, func() bool { return len(bobConn.frames()) == 2 }, time.Second, 5*time.Millisecond)

	frames := bobConn.frames()
	require.Equal(t, EventInitialOnlineUsers, frames[0].Event)
	require.Equal(t, EventUserStatusChange, frames[1].Event)

	var snapshot []UserID
	require.NoError(t, json.Unmarshal(frames[0].Data, &snapshot))
	assert.Equal(t, []UserID{"alice", "bob"}, snapshot)
	var change StatusChange
	require.NoError(t, json.Unmarshal(frames[1].Data, &change))
	assert.Equal(t, StatusChange{UserID: "alice", IsOnline: false}, change)

	// replaying the frames in order leaves bob with the registry's view
	view := map[UserID]bool{}
	for _, u := range snapshot {
		view[u] = true
	}
	view[change.UserID] = change.IsOnline
	assert.False(t, view["alice"])
	assert.Equal(t, []UserID{"bob"}, hub.Registry.OnlineUserIDs())
}

func TestTransitionsStampedUnderUserLock(t *testing.T) {
	rec := &stampRecorder{}
	hub := newOrderHub(rec)
	l := hub.Lifecycle
	ctx := context.Background()

	var stamps, unguarded atomic.Int32
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time {
		n := stamps.Add(1)
		m := &l.locks.stripes[shardIndex("bob", registryShards)]
		if m.TryLock() {
			m.Unlock()
			unguarded.Add(1)
		}
		return base.Add(time.Duration(n) * time.Second)
	}

	bob, _ := pumpedClient(t, "bob")
	require.NoError(t, l.OnJoin(ctx, "bob", bob))
	l.OnDisconnect(ctx, bob)

	assert.Equal(t, int32(2), stamps.Load())
	assert.Zero(t, unguarded.Load(), "every timestamp is taken while the user is locked")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []bool{true, false}, rec.state)
	require.Len(t, rec.times, 2)
	assert.True(t, rec.times[0].Before(rec.times[1]))
}

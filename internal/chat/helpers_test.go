package chat_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pelusa-v/pelusa-dm/internal/chat"
	"github.com/pelusa-v/pelusa-dm/internal/directory"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn is an in-process ConnLike. Frames written by the server are kept
// in order; frames queued on in are handed to the read pump.
type fakeConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	out [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case b := <-f.in:
		return 1, b, nil
	case <-f.closed:
		return 0, nil, io.EOF
	}
}

func (f *fakeConn) WriteMessage(_ int, b []byte) error {
	select {
	case <-f.closed:
		return errors.New("write on closed conn")
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, append([]byte(nil), b...))
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) send(t *testing.T, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	b, err := json.Marshal(chat.Envelope{Event: event, Data: raw})
	require.NoError(t, err)
	f.in <- b
}

func (f *fakeConn) envelopes() []chat.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]chat.Envelope, 0, len(f.out))
	for _, b := range f.out {
		var env chat.Envelope
		if err := json.Unmarshal(b, &env); err == nil {
			out = append(out, env)
		}
	}
	return out
}

func (f *fakeConn) named(event string) []chat.Envelope {
	var out []chat.Envelope
	for _, env := range f.envelopes() {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

func decode[T any](t *testing.T, env chat.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

type testEnv struct {
	hub   *chat.Hub
	store *chat.MemoryStore
	dir   *directory.Memory
}

func newTestEnv(t *testing.T, quiet time.Duration, users ...chat.UserID) *testEnv {
	t.Helper()
	return newTestEnvMetrics(t, quiet, nil, users...)
}

func newTestEnvMetrics(t *testing.T, quiet time.Duration, metrics chat.Metrics, users ...chat.UserID) *testEnv {
	t.Helper()
	store := chat.NewMemoryStore()
	dir := directory.NewMemory(users...)
	hub := chat.NewHub(chat.HubConfig{QuietPeriod: quiet, SendBuffer: 64}, chat.HubDeps{
		Store:     store,
		Directory: dir,
		Recorder:  dir,
		Metrics:   metrics,
		Logger:    newTestLogger(),
	})
	return &testEnv{hub: hub, store: store, dir: dir}
}

// connect opens a client with a running write pump and joins it as user.
func (e *testEnv) connect(t *testing.T, user chat.UserID) (*chat.Client, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	c := chat.NewClient(user, conn, chat.ClientOptions{SendBuffer: 64}, newTestLogger())
	go c.WritePump()
	t.Cleanup(c.Close)
	require.NoError(t, e.hub.Lifecycle.OnJoin(context.Background(), user, c))
	return c, conn
}

// connectStalled joins user on a client whose write pump never runs and
// whose buffer holds one frame, so the join snapshot already fills it.
func (e *testEnv) connectStalled(t *testing.T, user chat.UserID) *chat.Client {
	t.Helper()
	c := chat.NewClient(user, newFakeConn(), chat.ClientOptions{SendBuffer: 1}, newTestLogger())
	t.Cleanup(c.Close)
	require.NoError(t, e.hub.Lifecycle.OnJoin(context.Background(), user, c))
	return c
}

// recordingMetrics counts what the hub reports.
type recordingMetrics struct {
	mu        sync.Mutex
	sent      int
	delivered int
	failed    map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{failed: map[string]int{}}
}

func (m *recordingMetrics) OnlineUsers(int) {}
func (m *recordingMetrics) TypingStarted()  {}

func (m *recordingMetrics) MessageSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent++
}

func (m *recordingMetrics) MessageDelivered() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivered++
}

func (m *recordingMetrics) DeliveryFailed(event string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[event]++
}

func (m *recordingMetrics) failures(event string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failed[event]
}

func (m *recordingMetrics) counts() (sent, delivered int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent, m.delivered
}

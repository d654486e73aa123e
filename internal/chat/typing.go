package chat

import (
	"log/slog"
	"sync"
	"time"
)

const (
	typingShards       = 16
	DefaultQuietPeriod = time.Second
)

type typingKey struct {
	typer UserID
	peer  UserID
}

// typingEntry exists only while the pair is in the Typing state. gen
// identifies the timer that is currently allowed to expire the entry.
type typingEntry struct {
	timer *time.Timer
	gen   uint64
}

type typingShard struct {
	mu      sync.Mutex
	entries map[typingKey]*typingEntry
}

// Typing tracks Idle -> Typing -> Idle per (typer, peer) and tells only the
// addressed peer about transitions.
type Typing struct {
	shards   [typingShards]typingShard
	quiet    time.Duration
	registry *Registry
	metrics  Metrics
	logger   *slog.Logger
}

func NewTyping(registry *Registry, quiet time.Duration, metrics Metrics, logger *slog.Logger) *Typing {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	t := &Typing{
		quiet:    quiet,
		registry: registry,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "typing")),
	}
	for i := range t.shards {
		t.shards[i].entries = map[typingKey]*typingEntry{}
	}
	return t
}

// shards are keyed by typer so StopAll touches one shard
func (t *Typing) shard(typer UserID) *typingShard {
	return &t.shards[shardIndex(typer, typingShards)]
}

// SignalTyping starts or refreshes typer's typing state toward peer.
func (t *Typing) SignalTyping(typer, peer UserID) {
	if typer == peer {
		return
	}
	k := typingKey{typer: typer, peer: peer}
	s := t.shard(typer)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, typing := s.entries[k]
	if typing {
		e.timer.Stop()
	} else {
		e = &typingEntry{}
		s.entries[k] = e
		t.metrics.TypingStarted()
		t.emit(k, true)
	}
	e.gen++
	gen := e.gen
	e.timer = time.AfterFunc(t.quiet, func() { t.expire(k, gen) })
}

// SignalStopped ends the typing state early. It reports whether the pair
// was typing.
func (t *Typing) SignalStopped(typer, peer UserID) bool {
	k := typingKey{typer: typer, peer: peer}
	s := t.shard(typer)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[k]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.entries, k)
	t.emit(k, false)
	return true
}

// StopAll ends every typing state owned by typer, e.g. on disconnect.
func (t *Typing) StopAll(typer UserID) int {
	s := t.shard(typer)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.entries {
		if k.typer != typer {
			continue
		}
		e.timer.Stop()
		delete(s.entries, k)
		t.emit(k, false)
		n++
	}
	return n
}

func (t *Typing) IsTyping(typer, peer UserID) bool {
	s := t.shard(typer)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[typingKey{typer: typer, peer: peer}]
	return ok
}

func (t *Typing) expire(k typingKey, gen uint64) {
	s := t.shard(k.typer)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[k]
	if !ok || e.gen != gen {
		// superseded by a refresh or an explicit stop
		return
	}
	delete(s.entries, k)
	t.emit(k, false)
}

// emit runs under the shard lock so a pair's start always precedes its stop.
func (t *Typing) emit(k typingKey, isTyping bool) {
	c, ok := t.registry.Lookup(k.peer)
	if !ok {
		return
	}
	if err := c.Push(EventUserTyping, UserTyping{UserID: k.typer, IsTyping: isTyping}); err != nil {
		t.metrics.DeliveryFailed(EventUserTyping)
		t.logger.Warn("typing event not delivered",
			slog.String("from", k.typer.String()),
			slog.String("to", k.peer.String()),
			slog.Any("error", err))
	}
}

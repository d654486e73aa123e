// Package directory holds the user lookups the chat core depends on.
package directory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pelusa-v/pelusa-dm/internal/chat"
)

// Presence is the last recorded presence of a user.
type Presence struct {
	UserID   chat.UserID `json:"userId"`
	IsOnline bool        `json:"isOnline"`
	LastSeen time.Time   `json:"lastSeen"`
}

type Directory interface {
	chat.UserDirectory
	chat.PresenceRecorder
	chat.LastSeenReader
	Presence(ctx context.Context, user chat.UserID) (Presence, error)
}

// Memory is a process-local directory seeded with a fixed user set.
type Memory struct {
	mu       sync.RWMutex
	users    map[chat.UserID]struct{}
	presence map[chat.UserID]Presence
}

func NewMemory(users ...chat.UserID) *Memory {
	m := &Memory{
		users:    make(map[chat.UserID]struct{}, len(users)),
		presence: map[chat.UserID]Presence{},
	}
	for _, u := range users {
		m.users[u] = struct{}{}
	}
	return m
}

var _ Directory = (*Memory)(nil)

func (m *Memory) Add(user chat.UserID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user] = struct{}{}
}

func (m *Memory) Exists(ctx context.Context, user chat.UserID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.users[user]
	return ok, nil
}

// TouchPresence ignores updates older than the one already recorded.
func (m *Memory) TouchPresence(ctx context.Context, user chat.UserID, online bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user]; !ok {
		return chat.NotFound("touch presence", "user not found")
	}
	if cur, ok := m.presence[user]; ok && at.Before(cur.LastSeen) {
		return nil
	}
	m.presence[user] = Presence{UserID: user, IsOnline: online, LastSeen: at}
	return nil
}

func (m *Memory) Presence(ctx context.Context, user chat.UserID) (Presence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.users[user]; !ok {
		return Presence{}, chat.NotFound("presence", "user not found")
	}
	p, ok := m.presence[user]
	if !ok {
		return Presence{UserID: user}, nil
	}
	return p, nil
}

func (m *Memory) LastSeen(ctx context.Context, user chat.UserID) (time.Time, error) {
	p, err := m.Presence(ctx, user)
	if err != nil {
		return time.Time{}, err
	}
	return p.LastSeen, nil
}

// Users returns the known users, sorted.
func (m *Memory) Users() []chat.UserID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]chat.UserID, 0, len(m.users))
	for u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

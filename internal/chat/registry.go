package chat

import (
	"hash/fnv"
	"sort"
	"sync"
)

const registryShards = 32

type registryShard struct {
	mu      sync.RWMutex
	clients map[UserID]*Client
}

// Registry maps each online user to its single live connection.
// An entry exists iff the user is online.
type Registry struct {
	shards [registryShards]registryShard
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].clients = map[UserID]*Client{}
	}
	return r
}

func shardIndex(u UserID, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(u))
	return int(h.Sum32() % uint32(n))
}

func (r *Registry) shard(u UserID) *registryShard {
	return &r.shards[shardIndex(u, registryShards)]
}

// Register installs c for user and returns the handle it replaced, if any.
// The previous connection is not closed; it just stops receiving routed events.
func (r *Registry) Register(user UserID, c *Client) *Client {
	s := r.shard(user)
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.clients[user]
	s.clients[user] = c
	return prev
}

// Unregister removes user only while c is still the registered handle, so a
// late disconnect never undoes a newer registration.
func (r *Registry) Unregister(user UserID, c *Client) bool {
	s := r.shard(user)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.clients[user]; !ok || cur != c {
		return false
	}
	delete(s.clients, user)
	return true
}

func (r *Registry) Lookup(user UserID) (*Client, bool) {
	s := r.shard(user)
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[user]
	return c, ok
}

// OnlineUserIDs returns a sorted snapshot.
func (r *Registry) OnlineUserIDs() []UserID {
	out := make([]UserID, 0)
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for u := range s.clients {
			out = append(out, u)
		}
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type registration struct {
	user   UserID
	client *Client
}

// snapshot returns every live registration.
func (r *Registry) snapshot() []registration {
	out := make([]registration, 0)
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for u, c := range s.clients {
			out = append(out, registration{user: u, client: c})
		}
		s.mu.RUnlock()
	}
	return out
}

func (r *Registry) Len() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		n += len(s.clients)
		s.mu.RUnlock()
	}
	return n
}

// keyedMutex serializes work per user without a global lock.
type keyedMutex struct {
	stripes [registryShards]sync.Mutex
}

func (k *keyedMutex) lock(u UserID) func() {
	m := &k.stripes[shardIndex(u, registryShards)]
	m.Lock()
	return m.Unlock
}

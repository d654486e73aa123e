package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memConversation struct {
	mu       sync.Mutex
	conv     Conversation
	messages []*Message
}

// MemoryStore keeps conversations in process memory. The store lock guards
// the indexes; each conversation has its own lock for its message log.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*memConversation
	byPair map[string]*memConversation
	byUser map[UserID]map[string]*memConversation

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   map[string]*memConversation{},
		byPair: map[string]*memConversation{},
		byUser: map[UserID]map[string]*memConversation{},
		now:    time.Now,
	}
}

var _ ConversationStore = (*MemoryStore)(nil)

func (s *MemoryStore) FindOrCreateConversation(ctx context.Context, a, b UserID) (Conversation, error) {
	if a == b {
		return Conversation{}, Validation("find or create conversation", "a conversation needs two distinct users")
	}
	key := PairKey(a, b)

	s.mu.RLock()
	mc, ok := s.byPair[key]
	s.mu.RUnlock()
	if ok {
		return mc.snapshot(), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// 二次检查：另一方向的首次联系可能已经创建
	if mc, ok := s.byPair[key]; ok {
		return mc.snapshot(), nil
	}
	lo, hi := SortedPair(a, b)
	mc = &memConversation{conv: Conversation{
		ID:           uuid.NewString(),
		Participants: [2]UserID{lo, hi},
		PairKey:      key,
		CreatedAt:    s.now().UTC(),
	}}
	s.byID[mc.conv.ID] = mc
	s.byPair[key] = mc
	for _, u := range mc.conv.Participants {
		if _, ok := s.byUser[u]; !ok {
			s.byUser[u] = map[string]*memConversation{}
		}
		s.byUser[u][mc.conv.ID] = mc
	}
	return mc.conv, nil
}

func (s *MemoryStore) FindConversation(ctx context.Context, a, b UserID) (Conversation, error) {
	s.mu.RLock()
	mc, ok := s.byPair[PairKey(a, b)]
	s.mu.RUnlock()
	if !ok {
		return Conversation{}, NotFound("find conversation", "conversation not found")
	}
	return mc.snapshot(), nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, conversationID string, sender, receiver UserID, content string) (Message, error) {
	mc, err := s.lookup(conversationID, "append message")
	if err != nil {
		return Message{}, err
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()
	body, err := ValidateAppend(&mc.conv, sender, receiver, content)
	if err != nil {
		return Message{}, err
	}

	at := s.now().UTC()
	if n := len(mc.messages); n > 0 && at.Before(mc.messages[n-1].CreatedAt) {
		// keep creation time monotonic within the log
		at = mc.messages[n-1].CreatedAt
	}
	msg := &Message{
		ID:             uuid.NewString(),
		ConversationID: mc.conv.ID,
		Sender:         sender,
		Receiver:       receiver,
		Content:        body,
		Seq:            int64(len(mc.messages)) + 1,
		CreatedAt:      at,
	}
	mc.messages = append(mc.messages, msg)
	mc.conv.LastMessageID = msg.ID
	last := at
	mc.conv.LastMessageAt = &last
	mc.conv.LastSender, mc.conv.LastContent = sender, body
	return *msg, nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	mc, err := s.lookup(conversationID, "list messages")
	if err != nil {
		return nil, err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	out := make([]Message, 0, len(mc.messages))
	for _, m := range mc.messages {
		out = append(out, copyMessage(m))
	}
	return out, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, conversationID string, receiver UserID) (int, error) {
	mc, err := s.lookup(conversationID, "mark read")
	if err != nil {
		return 0, err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	now := s.now().UTC()
	n := 0
	for _, m := range mc.messages {
		if m.Receiver != receiver || m.Read {
			continue
		}
		readAt := now
		m.Read, m.ReadAt = true, &readAt
		n++
	}
	return n, nil
}

func (s *MemoryStore) ListConversationsFor(ctx context.Context, user UserID) ([]Conversation, error) {
	convs := s.conversationsOf(user)
	out := make([]Conversation, 0, len(convs))
	for _, mc := range convs {
		c := mc.snapshot()
		if c.LastMessageAt == nil {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastMessageAt.Equal(*out[j].LastMessageAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastMessageAt.After(*out[j].LastMessageAt)
	})
	return out, nil
}

func (s *MemoryStore) UnreadCountFor(ctx context.Context, user UserID) (int, error) {
	byConv, err := s.UnreadByConversation(ctx, user)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, n := range byConv {
		total += n
	}
	return total, nil
}

func (s *MemoryStore) UnreadByConversation(ctx context.Context, user UserID) (map[string]int, error) {
	out := map[string]int{}
	for _, mc := range s.conversationsOf(user) {
		mc.mu.Lock()
		for _, m := range mc.messages {
			if m.Receiver == user && !m.Read {
				out[mc.conv.ID]++
			}
		}
		mc.mu.Unlock()
	}
	return out, nil
}

func (s *MemoryStore) conversationsOf(user UserID) []*memConversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*memConversation, 0, len(s.byUser[user]))
	for _, mc := range s.byUser[user] {
		out = append(out, mc)
	}
	return out
}

func (s *MemoryStore) lookup(id, op string) (*memConversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mc, ok := s.byID[id]
	if !ok {
		return nil, NotFound(op, "conversation not found")
	}
	return mc, nil
}

func (mc *memConversation) snapshot() Conversation {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	c := mc.conv
	if c.LastMessageAt != nil {
		t := *c.LastMessageAt
		c.LastMessageAt = &t
	}
	return c
}

func copyMessage(m *Message) Message {
	cp := *m
	if m.ReadAt != nil {
		t := *m.ReadAt
		cp.ReadAt = &t
	}
	return cp
}

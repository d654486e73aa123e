package mongo

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/pelusa-v/pelusa-dm/internal/chat"
)

func TestMapErr(t *testing.T) {
	assert.ErrorIs(t, mapErr("find", mongo.ErrNoDocuments, "missing"), chat.ErrNotFound)
	err := mapErr("find", errors.New("socket closed"), "missing")
	assert.ErrorIs(t, err, chat.ErrPersistence)
	assert.Equal(t, "internal error", chat.Public(err))
}

// newTestDB connects to MONGO_TEST_URI (a replica set) and hands out a fresh
// database that is dropped when the test ends.
func newTestDB(t *testing.T) *mongo.Database {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	c, err := New(uri, "pelusa_dm_test_"+uuid.NewString()[:8], 10*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx := context.Background()
		_ = c.DB.Drop(ctx)
		_ = c.Close(ctx)
	})
	return c.DB
}

func TestConversationStoreRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s, err := NewConversationStore(ctx, db)
	require.NoError(t, err)

	conv, err := s.FindOrCreateConversation(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, [2]chat.UserID{"alice", "bob"}, conv.Participants)

	again, err := s.FindOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)

	_, err = s.AppendMessage(ctx, conv.ID, "alice", "bob", "  ")
	assert.ErrorIs(t, err, chat.ErrValidation)
	_, err = s.AppendMessage(ctx, conv.ID, "alice", "carol", "hi")
	assert.ErrorIs(t, err, chat.ErrValidation)

	first, err := s.AppendMessage(ctx, conv.ID, "alice", "bob", "hi")
	require.NoError(t, err)
	second, err := s.AppendMessage(ctx, conv.ID, "bob", "alice", "hey")
	require.NoError(t, err)

	msgs, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, first.ID, msgs[0].ID)
	assert.Equal(t, second.ID, msgs[1].ID)
	assert.Equal(t, int64(1), msgs[0].Seq)
	assert.Equal(t, int64(2), msgs[1].Seq)

	n, err := s.UnreadCountFor(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	byConv, err := s.UnreadByConversation(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{conv.ID: 1}, byConv)

	marked, err := s.MarkRead(ctx, conv.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, marked)
	marked, err = s.MarkRead(ctx, conv.ID, "bob")
	require.NoError(t, err)
	assert.Zero(t, marked)

	convs, err := s.ListConversationsFor(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, second.ID, convs[0].LastMessageID)
	assert.Equal(t, chat.UserID("bob"), convs[0].LastSender)
	assert.Equal(t, "hey", convs[0].LastContent)

	_, err = s.ListMessages(ctx, "missing")
	assert.ErrorIs(t, err, chat.ErrNotFound)
}

func TestConversationStoreConcurrentFirstContact(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s, err := NewConversationStore(ctx, db)
	require.NoError(t, err)

	const n = 16
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := chat.UserID("alice"), chat.UserID("bob")
			if i%2 == 0 {
				a, b = b, a
			}
			conv, err := s.FindOrCreateConversation(ctx, a, b)
			assert.NoError(t, err)
			ids[i] = conv.ID
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	count, err := db.Collection("conversations").CountDocuments(ctx, bson.M{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestUserKey(t *testing.T) {
	oid := primitive.NewObjectID()
	assert.Equal(t, oid, userKey(chat.UserID(oid.Hex())))
	assert.Equal(t, "alice", userKey("alice"))
}

func TestUsersPresence(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	oid := primitive.NewObjectID()
	alice := chat.UserID(oid.Hex())
	_, err := db.Collection("users").InsertOne(ctx, bson.M{"_id": oid, "username": "alice", "isOnline": false})
	require.NoError(t, err)
	u := NewUsers(db)

	ok, err := u.Exists(ctx, alice)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = u.Exists(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, ok)

	t0 := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, u.TouchPresence(ctx, alice, false, t0))
	require.NoError(t, u.TouchPresence(ctx, alice, true, t0.Add(-time.Minute)))

	p, err := u.Presence(ctx, alice)
	require.NoError(t, err)
	assert.False(t, p.IsOnline)
	assert.True(t, p.LastSeen.Equal(t0))

	seen, err := u.LastSeen(ctx, alice)
	require.NoError(t, err)
	assert.True(t, seen.Equal(t0))

	var raw bson.M
	require.NoError(t, db.Collection("users").FindOne(ctx, bson.M{"_id": oid}).Decode(&raw))
	assert.Equal(t, false, raw["isOnline"])
	assert.Contains(t, raw, "lastSeen")
	assert.Equal(t, "alice", raw["username"], "account fields are left alone")

	_, err = u.Presence(ctx, "ghost")
	assert.ErrorIs(t, err, chat.ErrNotFound)
}

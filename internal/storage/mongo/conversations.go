package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pelusa-v/pelusa-dm/internal/chat"
)

// ConversationStore keeps conversations and messages in MongoDB. Appends run
// in a transaction, so the deployment must be a replica set.
type ConversationStore struct {
	db            *mongo.Database
	conversations *mongo.Collection
	messages      *mongo.Collection
	now           func() time.Time
}

func NewConversationStore(ctx context.Context, db *mongo.Database) (*ConversationStore, error) {
	s := &ConversationStore{
		db:            db,
		conversations: db.Collection("conversations"),
		messages:      db.Collection("messages"),
		now:           time.Now,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

var _ chat.ConversationStore = (*ConversationStore)(nil)

func (s *ConversationStore) ensureIndexes(ctx context.Context) error {
	_, err := s.conversations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "pair_key", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "last_message_at", Value: -1}}},
	})
	if err != nil {
		return err
	}
	_, err = s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "seq", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "receiver_id", Value: 1}, {Key: "is_read", Value: 1}}},
	})
	return err
}

type conversationDocument struct {
	ID            string     `bson:"_id"`
	PairKey       string     `bson:"pair_key"`
	Participants  []string   `bson:"participants"`
	LastMessageID string     `bson:"last_message_id,omitempty"`
	LastMessageAt *time.Time `bson:"last_message_at,omitempty"`
	LastSender    string     `bson:"last_sender_id,omitempty"`
	LastContent   string     `bson:"last_content,omitempty"`
	CreatedAt     time.Time  `bson:"created_at"`
	Seq           int64      `bson:"seq"`
}

func (d conversationDocument) toDomain() chat.Conversation {
	c := chat.Conversation{
		ID:            d.ID,
		PairKey:       d.PairKey,
		LastMessageID: d.LastMessageID,
		LastSender:    chat.UserID(d.LastSender),
		LastContent:   d.LastContent,
		CreatedAt:     d.CreatedAt.UTC(),
	}
	if len(d.Participants) == 2 {
		c.Participants = [2]chat.UserID{chat.UserID(d.Participants[0]), chat.UserID(d.Participants[1])}
	}
	if d.LastMessageAt != nil {
		t := d.LastMessageAt.UTC()
		c.LastMessageAt = &t
	}
	return c
}

type messageDocument struct {
	ID             string     `bson:"_id"`
	ConversationID string     `bson:"conversation_id"`
	Sender         string     `bson:"sender_id"`
	Receiver       string     `bson:"receiver_id"`
	Content        string     `bson:"content"`
	Seq            int64      `bson:"seq"`
	CreatedAt      time.Time  `bson:"created_at"`
	Read           bool       `bson:"is_read"`
	ReadAt         *time.Time `bson:"read_at,omitempty"`
}

func (d messageDocument) toDomain() chat.Message {
	m := chat.Message{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		Sender:         chat.UserID(d.Sender),
		Receiver:       chat.UserID(d.Receiver),
		Content:        d.Content,
		Seq:            d.Seq,
		CreatedAt:      d.CreatedAt.UTC(),
		Read:           d.Read,
	}
	if d.ReadAt != nil {
		t := d.ReadAt.UTC()
		m.ReadAt = &t
	}
	return m
}

// FindOrCreateConversation upserts on the unique pair key, so concurrent
// first contact from both sides converges on one document.
func (s *ConversationStore) FindOrCreateConversation(ctx context.Context, a, b chat.UserID) (chat.Conversation, error) {
	const op = "find or create conversation"
	if a == b {
		return chat.Conversation{}, chat.Validation(op, "a conversation needs two distinct users")
	}
	lo, hi := chat.SortedPair(a, b)
	key := chat.PairKey(a, b)
	update := bson.M{"$setOnInsert": bson.M{
		"_id":          uuid.NewString(),
		"pair_key":     key,
		"participants": []string{string(lo), string(hi)},
		"created_at":   s.now().UTC(),
		"seq":          int64(0),
	}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc conversationDocument
	err := s.conversations.FindOneAndUpdate(ctx, bson.M{"pair_key": key}, update, opts).Decode(&doc)
	if mongo.IsDuplicateKeyError(err) {
		// lost the upsert race; the winner's document is there now
		err = s.conversations.FindOne(ctx, bson.M{"pair_key": key}).Decode(&doc)
	}
	if err != nil {
		return chat.Conversation{}, chat.Persistence(op, err)
	}
	return doc.toDomain(), nil
}

func (s *ConversationStore) FindConversation(ctx context.Context, a, b chat.UserID) (chat.Conversation, error) {
	const op = "find conversation"
	var doc conversationDocument
	if err := s.conversations.FindOne(ctx, bson.M{"pair_key": chat.PairKey(a, b)}).Decode(&doc); err != nil {
		return chat.Conversation{}, mapErr(op, err, "conversation not found")
	}
	return doc.toDomain(), nil
}

func (s *ConversationStore) AppendMessage(ctx context.Context, conversationID string, sender, receiver chat.UserID, content string) (chat.Message, error) {
	const op = "append message"
	sess, err := s.db.Client().StartSession()
	if err != nil {
		return chat.Message{}, chat.Persistence(op, err)
	}
	defer sess.EndSession(ctx)

	res, err := sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		var conv conversationDocument
		err := s.conversations.FindOneAndUpdate(sc,
			bson.M{"_id": conversationID},
			bson.M{"$inc": bson.M{"seq": int64(1)}},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&conv)
		if err != nil {
			return nil, mapErr(op, err, "conversation not found")
		}
		domain := conv.toDomain()
		body, err := chat.ValidateAppend(&domain, sender, receiver, content)
		if err != nil {
			return nil, err
		}
		at := s.now().UTC()
		if conv.LastMessageAt != nil && at.Before(*conv.LastMessageAt) {
			at = conv.LastMessageAt.UTC()
		}
		doc := messageDocument{
			ID:             uuid.NewString(),
			ConversationID: conv.ID,
			Sender:         string(sender),
			Receiver:       string(receiver),
			Content:        body,
			Seq:            conv.Seq,
			CreatedAt:      at,
		}
		if _, err := s.messages.InsertOne(sc, doc); err != nil {
			return nil, err
		}
		_, err = s.conversations.UpdateOne(sc,
			bson.M{"_id": conv.ID},
			bson.M{"$set": bson.M{
				"last_message_id": doc.ID,
				"last_message_at": at,
				"last_sender_id":  doc.Sender,
				"last_content":    doc.Content,
			}},
		)
		if err != nil {
			return nil, err
		}
		return doc, nil
	})
	if err != nil {
		return chat.Message{}, chat.Persistence(op, err)
	}
	return res.(messageDocument).toDomain(), nil
}

func (s *ConversationStore) ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	const op = "list messages"
	if err := s.requireConversation(ctx, op, conversationID); err != nil {
		return nil, err
	}
	cur, err := s.messages.Find(ctx,
		bson.M{"conversation_id": conversationID},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}),
	)
	if err != nil {
		return nil, chat.Persistence(op, err)
	}
	var docs []messageDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, chat.Persistence(op, err)
	}
	out := make([]chat.Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDomain())
	}
	return out, nil
}

func (s *ConversationStore) MarkRead(ctx context.Context, conversationID string, receiver chat.UserID) (int, error) {
	const op = "mark read"
	if err := s.requireConversation(ctx, op, conversationID); err != nil {
		return 0, err
	}
	res, err := s.messages.UpdateMany(ctx,
		bson.M{"conversation_id": conversationID, "receiver_id": string(receiver), "is_read": false},
		bson.M{"$set": bson.M{"is_read": true, "read_at": s.now().UTC()}},
	)
	if err != nil {
		return 0, chat.Persistence(op, err)
	}
	return int(res.ModifiedCount), nil
}

func (s *ConversationStore) ListConversationsFor(ctx context.Context, user chat.UserID) ([]chat.Conversation, error) {
	const op = "list conversations"
	cur, err := s.conversations.Find(ctx,
		bson.M{"participants": string(user), "last_message_at": bson.M{"$exists": true}},
		options.Find().SetSort(bson.D{{Key: "last_message_at", Value: -1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, chat.Persistence(op, err)
	}
	var docs []conversationDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, chat.Persistence(op, err)
	}
	out := make([]chat.Conversation, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDomain())
	}
	return out, nil
}

func (s *ConversationStore) UnreadCountFor(ctx context.Context, user chat.UserID) (int, error) {
	n, err := s.messages.CountDocuments(ctx, bson.M{"receiver_id": string(user), "is_read": false})
	if err != nil {
		return 0, chat.Persistence("unread count", err)
	}
	return int(n), nil
}

func (s *ConversationStore) UnreadByConversation(ctx context.Context, user chat.UserID) (map[string]int, error) {
	const op = "unread by conversation"
	cur, err := s.messages.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"receiver_id": string(user), "is_read": false}}},
		{{Key: "$group", Value: bson.M{"_id": "$conversation_id", "count": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return nil, chat.Persistence(op, err)
	}
	var rows []struct {
		ConversationID string `bson:"_id"`
		Count          int    `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, chat.Persistence(op, err)
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.ConversationID] = r.Count
	}
	return out, nil
}

func (s *ConversationStore) requireConversation(ctx context.Context, op, id string) error {
	n, err := s.conversations.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return chat.Persistence(op, err)
	}
	if n == 0 {
		return chat.NotFound(op, "conversation not found")
	}
	return nil
}

func mapErr(op string, err error, notFound string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return chat.NotFound(op, notFound)
	}
	return chat.Persistence(op, err)
}

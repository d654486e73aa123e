package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pelusa-v/pelusa-dm/internal/chat"
	"github.com/pelusa-v/pelusa-dm/internal/directory"
)

// Users reads the `users` collection owned by the account service: ObjectId
// `_id`, presence in `isOnline` / `lastSeen`. Only the presence fields are
// ever written here.
type Users struct {
	col *mongo.Collection
}

func NewUsers(db *mongo.Database) *Users {
	return &Users{col: db.Collection("users")}
}

var _ directory.Directory = (*Users)(nil)

type userDocument struct {
	IsOnline bool       `bson:"isOnline"`
	LastSeen *time.Time `bson:"lastSeen,omitempty"`
}

// userKey is the `_id` filter value for user. Account ids are ObjectId hex;
// anything else is matched as a plain string id.
func userKey(user chat.UserID) any {
	if oid, err := primitive.ObjectIDFromHex(string(user)); err == nil {
		return oid
	}
	return string(user)
}

func (u *Users) Exists(ctx context.Context, user chat.UserID) (bool, error) {
	n, err := u.col.CountDocuments(ctx, bson.M{"_id": userKey(user)}, options.Count().SetLimit(1))
	if err != nil {
		return false, chat.Persistence("user exists", err)
	}
	return n > 0, nil
}

// TouchPresence only applies updates newer than the stored lastSeen, so a
// late offline write cannot overwrite a fresher online one.
func (u *Users) TouchPresence(ctx context.Context, user chat.UserID, online bool, at time.Time) error {
	filter := bson.M{
		"_id": userKey(user),
		"$or": bson.A{
			bson.M{"lastSeen": bson.M{"$exists": false}},
			bson.M{"lastSeen": bson.M{"$lte": at}},
		},
	}
	_, err := u.col.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"isOnline": online, "lastSeen": at}})
	if err != nil {
		return chat.Persistence("touch presence", err)
	}
	return nil
}

func (u *Users) Presence(ctx context.Context, user chat.UserID) (directory.Presence, error) {
	var doc userDocument
	err := u.col.FindOne(ctx, bson.M{"_id": userKey(user)},
		options.FindOne().SetProjection(bson.M{"isOnline": 1, "lastSeen": 1}),
	).Decode(&doc)
	if err != nil {
		return directory.Presence{}, mapErr("presence", err, "user not found")
	}
	p := directory.Presence{UserID: user, IsOnline: doc.IsOnline}
	if doc.LastSeen != nil {
		p.LastSeen = doc.LastSeen.UTC()
	}
	return p, nil
}

func (u *Users) LastSeen(ctx context.Context, user chat.UserID) (time.Time, error) {
	p, err := u.Presence(ctx, user)
	if err != nil {
		return time.Time{}, err
	}
	return p.LastSeen, nil
}

package webhooks

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore persists webhook subscriptions so registrations survive
// restarts. The registry is the hot path; this store hydrates it at startup
// and records changes behind it.
type MongoStore struct {
	col *mongo.Collection
}

// NewMongoStore binds the store to its collection.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{col: db.Collection("webhook_subscriptions")}
}

// Save upserts a subscription.
func (s *MongoStore) Save(ctx context.Context, sub *Subscription) error {
	_, err := s.col.ReplaceOne(ctx, bson.M{"_id": sub.ID}, sub, options.Replace().SetUpsert(true))
	return err
}

// Delete removes a subscription.
func (s *MongoStore) Delete(ctx context.Context, id string) error {
	_, err := s.col.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

// Hydrate loads every stored subscription into the registry.
func (s *MongoStore) Hydrate(ctx context.Context, registry *Registry) (int, error) {
	cur, err := s.col.Find(ctx, bson.M{"active": true})
	if err != nil {
		return 0, err
	}
	defer cur.Close(ctx)

	n := 0
	for cur.Next(ctx) {
		var sub Subscription
		if err := cur.Decode(&sub); err != nil {
			return n, err
		}
		if err := registry.Register(&sub); err != nil {
			continue
		}
		n++
	}
	return n, cur.Err()
}

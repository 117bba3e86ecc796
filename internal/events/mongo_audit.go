package events

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/albion/platform/internal/platform/apperr"
)

// MongoAuditStore writes the per-event audit row. The (type, _id) pair is
// unique; duplicate inserts from redelivery are conflicts the caller ignores.
type MongoAuditStore struct {
	col *mongo.Collection
}

// NewMongoAuditStore binds the audit store to its collection.
func NewMongoAuditStore(db *mongo.Database) *MongoAuditStore {
	return &MongoAuditStore{col: db.Collection("event_audit")}
}

func (s *MongoAuditStore) InsertEvent(ctx context.Context, e *Event) error {
	_, err := s.col.InsertOne(ctx, e)
	if mongo.IsDuplicateKeyError(err) {
		return apperr.Conflict("DuplicateEvent", "event already recorded")
	}
	return err
}

// EnsureIndexes creates the lookup index over (tenant, type, occurred_at).
func (s *MongoAuditStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "tenant_id", Value: 1},
			{Key: "type", Value: 1},
			{Key: "occurred_at", Value: -1},
		},
		Options: options.Index(),
	})
	return err
}

package rates

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoOverrides persists manual rate overrides in the core database.
type MongoOverrides struct {
	col *mongo.Collection
}

// NewMongoOverrides binds the store to its collection.
func NewMongoOverrides(db *mongo.Database) *MongoOverrides {
	return &MongoOverrides{col: db.Collection("rate_overrides")}
}

type overrideDoc struct {
	ID        string    `bson:"_id"` // "EUR/USD"
	Rate      string    `bson:"rate"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (m *MongoOverrides) GetOverride(ctx context.Context, from, to string) (*decimal.Decimal, error) {
	var doc overrideDoc
	err := m.col.FindOne(ctx, bson.M{"_id": from + "/" + to}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rate, err := decimal.NewFromString(doc.Rate)
	if err != nil {
		return nil, err
	}
	return &rate, nil
}

func (m *MongoOverrides) SetOverride(ctx context.Context, from, to string, rate decimal.Decimal) error {
	doc := overrideDoc{ID: from + "/" + to, Rate: rate.String(), UpdatedAt: time.Now().UTC()}
	_, err := m.col.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (m *MongoOverrides) DeleteOverride(ctx context.Context, from, to string) error {
	_, err := m.col.DeleteOne(ctx, bson.M{"_id": from + "/" + to})
	return err
}

package bonus

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/albion/platform/internal/platform/apperr"
)

// MongoStore implements the bonus store interfaces on MongoDB.
type MongoStore struct {
	templates *mongo.Collection
	bonuses   *mongo.Collection
	txs       *mongo.Collection
}

// NewMongoStore binds the store to its collections.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		templates: db.Collection("bonus_templates"),
		bonuses:   db.Collection("user_bonuses"),
		txs:       db.Collection("bonus_transactions"),
	}
}

func (s *MongoStore) GetTemplate(ctx context.Context, tenantID, id string) (*Template, error) {
	var t Template
	err := s.templates.FindOne(ctx, bson.M{"_id": id, "tenant_id": tenantID}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *MongoStore) GetTemplateByCode(ctx context.Context, tenantID, code string) (*Template, error) {
	var t Template
	err := s.templates.FindOne(ctx, bson.M{"tenant_id": tenantID, "code": code}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *MongoStore) FindActiveByType(ctx context.Context, tenantID string, typ Type, now time.Time) ([]*Template, error) {
	filter := bson.M{
		"tenant_id": tenantID,
		"type":      typ,
		"is_active": true,
		"$and": bson.A{
			bson.M{"$or": bson.A{
				bson.M{"valid_from": bson.M{"$lte": now}},
				bson.M{"valid_from": bson.M{"$exists": false}},
			}},
			bson.M{"$or": bson.A{
				bson.M{"valid_until": bson.M{"$gte": now}},
				bson.M{"valid_until": bson.M{"$exists": false}},
			}},
		},
	}
	cur, err := s.templates.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "priority", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*Template
	for cur.Next(ctx) {
		var t Template
		if err := cur.Decode(&t); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, cur.Err()
}

func (s *MongoStore) UpsertTemplate(ctx context.Context, t *Template) error {
	_, err := s.templates.ReplaceOne(ctx, bson.M{"_id": t.ID}, t, options.Replace().SetUpsert(true))
	return err
}

// IncrementUses bumps the counter atomically; the filter enforces the cap so
// concurrent awards cannot overrun it.
func (s *MongoStore) IncrementUses(ctx context.Context, templateID string) error {
	filter := bson.M{
		"_id": templateID,
		"$or": bson.A{
			bson.M{"max_uses_total": bson.M{"$lte": 0}},
			bson.M{"max_uses_total": bson.M{"$exists": false}},
			bson.M{"$expr": bson.M{"$lt": bson.A{"$current_uses_total", "$max_uses_total"}}},
		},
	}
	res, err := s.templates.UpdateOne(ctx, filter, bson.M{"$inc": bson.M{"current_uses_total": 1}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.Precondition("TemplateExhausted", "template total uses reached")
	}
	return nil
}

func (s *MongoStore) GetUserBonus(ctx context.Context, tenantID, id string) (*UserBonus, error) {
	var ub UserBonus
	err := s.bonuses.FindOne(ctx, bson.M{"_id": id, "tenant_id": tenantID}).Decode(&ub)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ub, nil
}

func (s *MongoStore) InsertUserBonus(ctx context.Context, ub *UserBonus) error {
	_, err := s.bonuses.InsertOne(ctx, ub)
	if mongo.IsDuplicateKeyError(err) {
		return apperr.Conflict("UserBonusExists", "user bonus already persisted")
	}
	return err
}

func (s *MongoStore) UpdateUserBonus(ctx context.Context, ub *UserBonus) error {
	res, err := s.bonuses.ReplaceOne(ctx, bson.M{"_id": ub.ID}, ub)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("UserBonusNotFound", "user bonus "+ub.ID+" not found")
	}
	return nil
}

func (s *MongoStore) ListUserBonuses(ctx context.Context, tenantID, userID string) ([]*UserBonus, error) {
	cur, err := s.bonuses.Find(ctx, bson.M{"tenant_id": tenantID, "user_id": userID},
		options.Find().SetSort(bson.D{{Key: "qualified_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*UserBonus
	for cur.Next(ctx) {
		var ub UserBonus
		if err := cur.Decode(&ub); err != nil {
			return nil, err
		}
		out = append(out, &ub)
	}
	return out, cur.Err()
}

func (s *MongoStore) CountUserBonusesByTemplate(ctx context.Context, tenantID, userID, templateID string) (int64, error) {
	return s.bonuses.CountDocuments(ctx, bson.M{
		"tenant_id":   tenantID,
		"user_id":     userID,
		"template_id": templateID,
		"status":      bson.M{"$ne": StatusCancelled},
	})
}

func (s *MongoStore) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]*UserBonus, error) {
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.bonuses.Find(ctx, bson.M{
		"status":     bson.M{"$in": bson.A{StatusActive, StatusInProgress, StatusRequirementsMet}},
		"expires_at": bson.M{"$lt": now},
	}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*UserBonus
	for cur.Next(ctx) {
		var ub UserBonus
		if err := cur.Decode(&ub); err != nil {
			return nil, err
		}
		out = append(out, &ub)
	}
	return out, cur.Err()
}

func (s *MongoStore) InsertBonusTransaction(ctx context.Context, tx *Transaction) error {
	_, err := s.txs.InsertOne(ctx, tx)
	return err
}

func (s *MongoStore) ListBonusTransactions(ctx context.Context, userBonusID string) ([]*Transaction, error) {
	cur, err := s.txs.Find(ctx, bson.M{"user_bonus_id": userBonusID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*Transaction
	for cur.Next(ctx) {
		var tx Transaction
		if err := cur.Decode(&tx); err != nil {
			return nil, err
		}
		out = append(out, &tx)
	}
	return out, cur.Err()
}

// EnsureIndexes creates the uniqueness and lookup indexes.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.templates.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "code", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}
	_, err = s.bonuses.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "user_id", Value: 1}, {Key: "type", Value: 1}},
	})
	if err != nil {
		return err
	}
	_, err = s.txs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_bonus_id", Value: 1}, {Key: "created_at", Value: 1}},
	})
	return err
}

package ledger

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/albion/platform/internal/platform/apperr"
)

// MongoStore persists the ledger in the database resolved by the strategy
// resolver for the ledger service. Balance updates use atomic $inc so the
// materialized balance never sees torn writes.
type MongoStore struct {
	accounts     *mongo.Collection
	transactions *mongo.Collection
	holds        *mongo.Collection
}

// NewMongoStore binds the store to its collections.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		accounts:     db.Collection("ledger_accounts"),
		transactions: db.Collection("ledger_transactions"),
		holds:        db.Collection("ledger_holds"),
	}
}

func (s *MongoStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	var a Account
	err := s.accounts.FindOne(ctx, bson.M{"_id": id}).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *MongoStore) UpsertAccount(ctx context.Context, a *Account) error {
	_, err := s.accounts.ReplaceOne(ctx, bson.M{"_id": a.ID}, a, options.Replace().SetUpsert(true))
	return err
}

func (s *MongoStore) ApplyBalanceDelta(ctx context.Context, accountID string, delta int64, at time.Time) error {
	res, err := s.accounts.UpdateOne(ctx, bson.M{"_id": accountID}, bson.M{
		"$inc": bson.M{"balance": delta},
		"$set": bson.M{"updated_at": at},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("AccountNotFound", "account "+accountID+" not found")
	}
	return nil
}

func (s *MongoStore) ListAccounts(ctx context.Context) ([]*Account, error) {
	cur, err := s.accounts.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*Account
	for cur.Next(ctx) {
		var a Account
		if err := cur.Decode(&a); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, cur.Err()
}

func (s *MongoStore) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	var tx Transaction
	err := s.transactions.FindOne(ctx, bson.M{"_id": id}).Decode(&tx)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *MongoStore) GetTransactionByExternalRef(ctx context.Context, ref string) (*Transaction, error) {
	var tx Transaction
	err := s.transactions.FindOne(ctx, bson.M{"external_ref": ref}).Decode(&tx)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *MongoStore) InsertTransaction(ctx context.Context, tx *Transaction) error {
	_, err := s.transactions.InsertOne(ctx, tx)
	if mongo.IsDuplicateKeyError(err) {
		return apperr.Conflict("DuplicateExternalRef", "externalRef already posted")
	}
	return err
}

func (s *MongoStore) UpdateTransaction(ctx context.Context, tx *Transaction) error {
	res, err := s.transactions.ReplaceOne(ctx, bson.M{"_id": tx.ID}, tx)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("TransactionNotFound", "transaction "+tx.ID+" not found")
	}
	return nil
}

func (s *MongoStore) ListCommittedTransactions(ctx context.Context) ([]*Transaction, error) {
	filter := bson.M{"status": bson.M{"$in": bson.A{StatusCommitted, StatusReversed}}}
	cur, err := s.transactions.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
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

func (s *MongoStore) InsertHold(ctx context.Context, h *Hold) error {
	_, err := s.holds.InsertOne(ctx, h)
	return err
}

func (s *MongoStore) GetHold(ctx context.Context, id string) (*Hold, error) {
	var h Hold
	err := s.holds.FindOne(ctx, bson.M{"_id": id}).Decode(&h)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *MongoStore) UpdateHold(ctx context.Context, h *Hold) error {
	res, err := s.holds.ReplaceOne(ctx, bson.M{"_id": h.ID}, h)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("HoldNotFound", "hold "+h.ID+" not found")
	}
	return nil
}

func (s *MongoStore) SumActiveHolds(ctx context.Context, accountID string) (int64, error) {
	cur, err := s.holds.Aggregate(ctx, mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{"account_id": accountID, "status": HoldActive}}},
		bson.D{{Key: "$group", Value: bson.M{"_id": nil, "total": bson.M{"$sum": "$amount"}}}},
	})
	if err != nil {
		return 0, err
	}
	defer cur.Close(ctx)

	var row struct {
		Total int64 `bson:"total"`
	}
	if cur.Next(ctx) {
		if err := cur.Decode(&row); err != nil {
			return 0, err
		}
	}
	return row.Total, cur.Err()
}

func (s *MongoStore) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]*Hold, error) {
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.holds.Find(ctx, bson.M{
		"status":     HoldActive,
		"expires_at": bson.M{"$ne": nil, "$lt": now},
	}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*Hold
	for cur.Next(ctx) {
		var h Hold
		if err := cur.Decode(&h); err != nil {
			return nil, err
		}
		out = append(out, &h)
	}
	return out, cur.Err()
}

// EnsureIndexes creates the idempotency and lookup indexes. The partial
// unique index on external_ref is what makes I4 hold under concurrency.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.transactions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "external_ref", Value: 1}},
		Options: options.Index().SetUnique(true).SetPartialFilterExpression(
			bson.M{"external_ref": bson.M{"$type": "string", "$gt": ""}},
		),
	})
	if err != nil {
		return err
	}
	_, err = s.transactions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "from_account_id", Value: 1}, {Key: "created_at", Value: 1}},
	})
	if err != nil {
		return err
	}
	_, err = s.holds.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "status", Value: 1}},
	})
	return err
}

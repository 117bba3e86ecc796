package identity

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore persists identity entities in the core database. It implements
// RegistryStore, ConfigEntryStore, and UserStore.
type MongoStore struct {
	brands  *mongo.Collection
	tenants *mongo.Collection
	users   *mongo.Collection
	configs *mongo.Collection
}

// NewMongoStore binds the store to the core database collections.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		brands:  db.Collection("brands"),
		tenants: db.Collection("tenants"),
		users:   db.Collection("users"),
		configs: db.Collection("config_entries"),
	}
}

// idFilter matches the canonical string id and, when the id parses as an
// ObjectID, the native storage id as well.
func idFilter(id string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"$or": bson.A{bson.M{"_id": id}, bson.M{"_id": oid}}}
	}
	return bson.M{"_id": id}
}

// --- RegistryStore ---

func (s *MongoStore) GetBrandByID(ctx context.Context, id string) (*Brand, error) {
	var b Brand
	err := s.brands.FindOne(ctx, idFilter(id)).Decode(&b)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *MongoStore) GetBrandByCode(ctx context.Context, code string) (*Brand, error) {
	var b Brand
	err := s.brands.FindOne(ctx, bson.M{"code": code}).Decode(&b)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *MongoStore) UpsertBrand(ctx context.Context, b *Brand) error {
	_, err := s.brands.ReplaceOne(ctx, bson.M{"_id": b.ID}, b, options.Replace().SetUpsert(true))
	return err
}

func (s *MongoStore) GetTenantByID(ctx context.Context, id string) (*Tenant, error) {
	var t Tenant
	err := s.tenants.FindOne(ctx, idFilter(id)).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *MongoStore) GetTenantByCode(ctx context.Context, code string) (*Tenant, error) {
	var t Tenant
	err := s.tenants.FindOne(ctx, bson.M{"code": code}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *MongoStore) UpsertTenant(ctx context.Context, t *Tenant) error {
	_, err := s.tenants.ReplaceOne(ctx, bson.M{"_id": t.ID}, t, options.Replace().SetUpsert(true))
	return err
}

// --- UserStore ---

func (s *MongoStore) GetUser(ctx context.Context, tenantID, id string) (*User, error) {
	filter := idFilter(id)
	filter["tenant_id"] = tenantID
	var u User
	err := s.users.FindOne(ctx, filter).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *MongoStore) GetUserByEmail(ctx context.Context, tenantID, email string) (*User, error) {
	var u User
	err := s.users.FindOne(ctx, bson.M{"tenant_id": tenantID, "email": NormalizeEmail(email)}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *MongoStore) UpsertUser(ctx context.Context, u *User) error {
	_, err := s.users.ReplaceOne(ctx, bson.M{"_id": u.ID}, u, options.Replace().SetUpsert(true))
	return err
}

// --- ConfigEntryStore ---

func (s *MongoStore) GetConfigEntry(ctx context.Context, service, brand, tenant, key string) (*ConfigEntry, error) {
	var e ConfigEntry
	err := s.configs.FindOne(ctx, bson.M{
		"service": service,
		"brand":   brand,
		"tenant":  tenant,
		"key":     key,
	}).Decode(&e)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *MongoStore) UpsertConfigEntry(ctx context.Context, e *ConfigEntry) error {
	filter := bson.M{"service": e.Service, "brand": e.Brand, "tenant": e.Tenant, "key": e.Key}
	update := bson.M{"$set": bson.M{
		"value":           e.Value,
		"sensitive_paths": e.SensitivePaths,
		"updated_at":      e.UpdatedAt,
	}, "$setOnInsert": bson.M{
		"service":    e.Service,
		"brand":      e.Brand,
		"tenant":     e.Tenant,
		"key":        e.Key,
		"created_at": e.CreatedAt,
	}}
	_, err := s.configs.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (s *MongoStore) ListConfigEntries(ctx context.Context, service string) ([]*ConfigEntry, error) {
	cur, err := s.configs.Find(ctx, bson.M{"service": service})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var entries []*ConfigEntry
	for cur.Next(ctx) {
		var e ConfigEntry
		if err := cur.Decode(&e); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, cur.Err()
}

// EnsureIndexes creates the uniqueness indexes the identity contracts rely on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	_, err := s.brands.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "code", Value: 1}}, Options: unique,
	})
	if err != nil {
		return err
	}
	_, err = s.tenants.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "code", Value: 1}}, Options: unique,
	})
	if err != nil {
		return err
	}
	_, err = s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "email", Value: 1}}, Options: unique,
	})
	if err != nil {
		return err
	}
	_, err = s.configs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "service", Value: 1}, {Key: "brand", Value: 1},
			{Key: "tenant", Value: 1}, {Key: "key", Value: 1},
		},
		Options: unique,
	})
	return err
}

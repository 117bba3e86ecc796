package auth

import (
	"context"
	"errors"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/albion/platform/internal/identity"
)

// MongoRoleStore persists role definitions in the core database.
type MongoRoleStore struct {
	col *mongo.Collection
}

// NewMongoRoleStore binds the store to its collection.
func NewMongoRoleStore(db *mongo.Database) *MongoRoleStore {
	return &MongoRoleStore{col: db.Collection("roles")}
}

func (s *MongoRoleStore) GetRole(ctx context.Context, name string) (*identity.Role, error) {
	var r identity.Role
	err := s.col.FindOne(ctx, bson.M{"_id": name}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// UpsertRole stores a role definition.
func (s *MongoRoleStore) UpsertRole(ctx context.Context, r *identity.Role) error {
	_, err := s.col.ReplaceOne(ctx, bson.M{"_id": r.Name}, r, options.Replace().SetUpsert(true))
	return err
}

// MemoryRoleStore holds role definitions in memory for tests and seeding.
type MemoryRoleStore struct {
	mu    sync.RWMutex
	roles map[string]*identity.Role
}

// NewMemoryRoleStore creates an empty role store.
func NewMemoryRoleStore() *MemoryRoleStore {
	return &MemoryRoleStore{roles: make(map[string]*identity.Role)}
}

func (s *MemoryRoleStore) GetRole(_ context.Context, name string) (*identity.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.roles[name]; ok {
		copied := *r
		return &copied, nil
	}
	return nil, nil
}

// UpsertRole stores a role definition.
func (s *MemoryRoleStore) UpsertRole(_ context.Context, r *identity.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *r
	s.roles[r.Name] = &copied
	return nil
}

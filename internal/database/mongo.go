// Package database selects the physical MongoDB database for each operation
// based on the configured multi-tenant strategy, and manages one lazily
// established client pool per physical URI.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// ClientManager maintains one mongo.Client per physical URI. Pools are
// bounded and established on first use.
type ClientManager struct {
	mu          sync.Mutex
	clients     map[string]*mongo.Client
	maxPoolSize uint64
	connectTO   time.Duration
}

// NewClientManager creates a client manager. maxPoolSize of zero defaults
// to 100 connections per URI.
func NewClientManager(maxPoolSize uint64, connectTimeout time.Duration) *ClientManager {
	if maxPoolSize == 0 {
		maxPoolSize = 100
	}
	if connectTimeout == 0 {
		connectTimeout = 10 * time.Second
	}
	return &ClientManager{
		clients:     make(map[string]*mongo.Client),
		maxPoolSize: maxPoolSize,
		connectTO:   connectTimeout,
	}
}

// Client returns the pooled client for a URI, connecting on first use.
func (m *ClientManager) Client(ctx context.Context, uri string) (*mongo.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.clients[uri]; ok {
		return c, nil
	}

	opts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(m.maxPoolSize).
		SetConnectTimeout(m.connectTO)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect %s: %w", uri, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, m.connectTO)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping %s: %w", uri, err)
	}

	slog.Info("Mongo pool established", "uri", redactURI(uri), "max_pool", m.maxPoolSize)
	m.clients[uri] = client
	return client, nil
}

// Close disconnects every pooled client.
func (m *ClientManager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for uri, c := range m.clients {
		if err := c.Disconnect(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.clients, uri)
	}
	return firstErr
}

// redactURI strips credentials from a connection string for logging.
func redactURI(uri string) string {
	at := -1
	scheme := -1
	for i := 0; i < len(uri); i++ {
		if uri[i] == '@' {
			at = i
		}
		if i+2 < len(uri) && uri[i] == ':' && uri[i+1] == '/' && uri[i+2] == '/' {
			scheme = i + 3
		}
	}
	if at > scheme && scheme >= 0 {
		return uri[:scheme] + "***" + uri[at:]
	}
	return uri
}

package mongo

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// configKeyPrefix mirrors registry.ConfigKey.
const configKeyPrefix = "provider_config_"

// configDoc is one stored provider config value.
type configDoc struct {
	Key       string    `bson:"_id"`
	Platform  string    `bson:"platform,omitempty"`
	Value     string    `bson:"value"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

func newConfigDoc(key string, value []byte, now time.Time) configDoc {
	return configDoc{
		Key:       key,
		Platform:  strings.TrimPrefix(key, configKeyPrefix),
		Value:     string(value),
		UpdatedAt: now.UTC(),
	}
}

// ConfigStore keeps provider config values as one document per key.
// ReplaceOne with upsert is atomic per document.
type ConfigStore struct {
	client     *Client
	collection *mongo.Collection
	now        func() time.Time
}

// NewConfigStore creates a store over the named collection.
func NewConfigStore(client *Client, collection string) *ConfigStore {
	if collection == "" {
		collection = DefaultConfigCollection
	}
	return &ConfigStore{
		client:     client,
		collection: client.Collection(collection),
		now:        time.Now,
	}
}

// Get returns the stored value and whether the key exists.
func (s *ConfigStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var doc configDoc
	err := s.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, false, nil
		}
		s.client.Logger().Error("Failed to read provider config", err, "key", key)
		return nil, false, err
	}
	return []byte(doc.Value), true, nil
}

// Set upserts the document for key.
func (s *ConfigStore) Set(ctx context.Context, key string, value []byte) error {
	doc := newConfigDoc(key, value, s.now())
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		s.client.Logger().Error("Failed to write provider config", err, "key", key)
		return err
	}
	return nil
}

// Delete removes the document for key.
func (s *ConfigStore) Delete(ctx context.Context, key string) error {
	_, err := s.collection.DeleteOne(ctx, bson.M{"_id": key})
	return err
}

// Ping checks the connection.
func (s *ConfigStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

// Close disconnects the client.
func (s *ConfigStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

package redis

import (
	"context"
)

// ConfigStore keeps provider config values as plain Redis strings.
// A single SET is atomic per key.
type ConfigStore struct {
	client    *Client
	namespace string
}

// NewConfigStore creates a store whose keys are prefixed with namespace.
func NewConfigStore(client *Client, namespace string) *ConfigStore {
	return &ConfigStore{client: client, namespace: namespace}
}

// Get returns the stored value and whether the key exists.
func (s *ConfigStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return s.client.GetBytes(ctx, FormatKey(s.namespace, key))
}

// Set stores value without expiry.
func (s *ConfigStore) Set(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, FormatKey(s.namespace, key), value, 0)
}

// Delete removes key.
func (s *ConfigStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, FormatKey(s.namespace, key))
}

// Ping checks the connection.
func (s *ConfigStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

// Close closes the underlying client.
func (s *ConfigStore) Close() error {
	return s.client.Close()
}

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"sync"
)

// configKeyPrefix namespaces provider config keys in the durable store.
const configKeyPrefix = "provider_config_"

// ConfigKey returns the store key of a platform's operational state.
func ConfigKey(platform string) string {
	return configKeyPrefix + platform
}

// ConfigStore is the durable key/value store holding per-provider state.
// Set must be atomic per key.
type ConfigStore interface {
	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// entryConfig is the persisted operational state of one entry.
type entryConfig struct {
	Enabled       bool              `json:"enabled"`
	UserVariables map[string]string `json:"userVariables"`
	Order         int               `json:"order"`
}

func defaultConfig(order int) entryConfig {
	return entryConfig{Enabled: true, UserVariables: map[string]string{}, Order: order}
}

func (c entryConfig) marshal() ([]byte, error) {
	if c.UserVariables == nil {
		c.UserVariables = map[string]string{}
	}
	return json.Marshal(c)
}

// storedConfig tells absent fields apart from zero values.
type storedConfig struct {
	Enabled       *bool             `json:"enabled"`
	UserVariables map[string]string `json:"userVariables"`
	Order         *int              `json:"order"`
}

var errNullConfig = errors.New("provider config is null")

// unmarshalConfig decodes a stored config. A missing enabled flag means
// enabled; hasOrder reports whether an order was stored. A null value is
// corrupted.
func unmarshalConfig(raw []byte) (c entryConfig, hasOrder bool, err error) {
	var stored *storedConfig
	if err := json.Unmarshal(raw, &stored); err != nil {
		return entryConfig{}, false, err
	}
	if stored == nil {
		return entryConfig{}, false, errNullConfig
	}
	c = entryConfig{Enabled: true, UserVariables: stored.UserVariables}
	if stored.Enabled != nil {
		c.Enabled = *stored.Enabled
	}
	if stored.Order != nil {
		c.Order, hasOrder = *stored.Order, true
	}
	if c.UserVariables == nil {
		c.UserVariables = map[string]string{}
	}
	return c, hasOrder, nil
}

// MemoryStore is a process-local ConfigStore.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Get returns a copy of the stored value.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Set stores a copy of value.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
	return nil
}

// Delete removes key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

// Keys returns a snapshot of the stored keys.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range maps.Keys(s.data) {
		keys = append(keys, k)
	}
	return keys
}

// Package pushconfig provides CRUD storage for per-task push notification
// configurations. It never delivers a notification itself: outbound
// delivery, signature generation, and SSRF validation of the target URL
// are an external collaborator's responsibility.
package pushconfig

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a task or config id is unknown.
var ErrNotFound = errors.New("pushconfig: not found")

// ErrInvalidConfig is returned for a config missing required fields.
var ErrInvalidConfig = errors.New("pushconfig: url is required")

// Config is a single push notification target registered against a task.
type Config struct {
	TaskID         string         `json:"taskId"`
	ConfigID       string         `json:"configId"`
	URL            string         `json:"url"`
	Token          string         `json:"token,omitempty"`
	Authentication map[string]any `json:"authentication,omitempty"`
}

// Store is the CRUD contract the dispatcher's push-config methods drive.
type Store interface {
	Create(ctx context.Context, cfg Config) (*Config, error)
	Get(ctx context.Context, taskID, configID string) (*Config, error)
	List(ctx context.Context, taskID string) ([]*Config, error)
	Delete(ctx context.Context, taskID, configID string) error
}

// MemoryStore is the default in-memory Store.
type MemoryStore struct {
	mu      sync.Mutex
	configs map[string]map[string]*Config // taskID -> configID -> Config
}

// NewMemoryStore constructs an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{configs: make(map[string]map[string]*Config)}
}

// Create registers cfg, assigning a ConfigID when the caller left it empty.
func (s *MemoryStore) Create(_ context.Context, cfg Config) (*Config, error) {
	if cfg.URL == "" {
		return nil, ErrInvalidConfig
	}
	if cfg.ConfigID == "" {
		cfg.ConfigID = uuid.New().String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.configs[cfg.TaskID]
	if !ok {
		byID = make(map[string]*Config)
		s.configs[cfg.TaskID] = byID
	}
	stored := cfg
	byID[cfg.ConfigID] = &stored
	result := stored
	return &result, nil
}

// Get returns the registered config for taskID/configID.
func (s *MemoryStore) Get(_ context.Context, taskID, configID string) (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.configs[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	cfg, ok := byID[configID]
	if !ok {
		return nil, ErrNotFound
	}
	result := *cfg
	return &result, nil
}

// List returns every config registered against taskID.
func (s *MemoryStore) List(_ context.Context, taskID string) ([]*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := s.configs[taskID]
	result := make([]*Config, 0, len(byID))
	for _, cfg := range byID {
		copied := *cfg
		result = append(result, &copied)
	}
	return result, nil
}

// Delete removes taskID/configID. It is idempotent: deleting an unknown
// config is not an error.
func (s *MemoryStore) Delete(_ context.Context, taskID, configID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if byID, ok := s.configs[taskID]; ok {
		delete(byID, configID)
	}
	return nil
}

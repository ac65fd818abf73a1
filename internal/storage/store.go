package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Store provides persistent file-based storage for the collector identity.
type Store struct {
	dataDir string
	mu      sync.RWMutex
}

// NewStore creates a Store rooted at dataDir, ensuring the directory exists.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dataDir, err)
	}
	return &Store{dataDir: dataDir}, nil
}

const (
	collectorIDFile  = "collector_id"
	statusSecretFile = "status_secret"
)

// CollectorID returns the persisted collector ID, generating one on first use.
// The ID is sent with every request to the collector service.
func (s *Store) CollectorID() (string, error) {
	return s.loadOrCreate(collectorIDFile, uuid.NewString)
}

// loadOrCreate returns the trimmed content of name, writing a value from
// generate when the file is missing or blank.
func (s *Store) loadOrCreate(name string, generate func() string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dataDir, name)
	if data, err := os.ReadFile(path); err == nil {
		if v := strings.TrimSpace(string(data)); v != "" {
			return v, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read %s: %w", name, err)
	}

	v := generate()
	if err := os.WriteFile(path, []byte(v), 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return v, nil
}

// SaveStatusSecret persists the secret guarding the status API.
func (s *Store) SaveStatusSecret(secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.WriteFile(filepath.Join(s.dataDir, statusSecretFile), []byte(secret), 0o600)
}

// StatusSecret reads the persisted status secret, or "" if none was saved.
// The collector generates one with EnsureStatusSecret when none is configured.
func (s *Store) StatusSecret() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := os.ReadFile(filepath.Join(s.dataDir, statusSecretFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// EnsureStatusSecret returns the persisted status secret, generating and
// saving a new one on first start.
func (s *Store) EnsureStatusSecret() (string, error) {
	return s.loadOrCreate(statusSecretFile, uuid.NewString)
}

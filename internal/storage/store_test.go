package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_CollectorIDIsStable(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "nested"))
	require.NoError(t, err)

	id, err := s.CollectorID()
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	again, err := s.CollectorID()
	require.NoError(t, err)
	assert.Equal(t, id, again)

	reopened, err := NewStore(filepath.Join(dir, "nested"))
	require.NoError(t, err)
	third, err := reopened.CollectorID()
	require.NoError(t, err)
	assert.Equal(t, id, third)
}

func TestStore_CollectorIDRegeneratedWhenBlank(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "collector_id"), []byte("  \n"), 0o600))

	s, err := NewStore(dir)
	require.NoError(t, err)
	id, err := s.CollectorID()
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestStore_StatusSecret(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	secret, err := s.StatusSecret()
	require.NoError(t, err)
	assert.Empty(t, secret)

	require.NoError(t, s.SaveStatusSecret("sk-123"))
	secret, err = s.StatusSecret()
	require.NoError(t, err)
	assert.Equal(t, "sk-123", secret)
}

func TestStore_EnsureStatusSecret(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)

	first, err := s.EnsureStatusSecret()
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	again, err := s.EnsureStatusSecret()
	require.NoError(t, err)
	assert.Equal(t, first, again)

	saved, err := s.StatusSecret()
	require.NoError(t, err)
	assert.Equal(t, first, saved)

	id, err := s.CollectorID()
	require.NoError(t, err)
	assert.NotEqual(t, first, id, "identity and secret live in separate files")
}

func TestStore_LoadOrCreateReadError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, collectorIDFile), 0o700))

	s, err := NewStore(dir)
	require.NoError(t, err)
	_, err = s.CollectorID()
	assert.Error(t, err)
}

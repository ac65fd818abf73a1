package collector

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magicaleks/evidence-collector/internal/config"
	"github.com/magicaleks/evidence-collector/internal/domain"
	"github.com/magicaleks/evidence-collector/internal/evidence"
	"github.com/magicaleks/evidence-collector/internal/storage"
)

type fakeService struct {
	mu       sync.Mutex
	calls    []string
	uploaded [][]byte
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.calls = append(f.calls, r.URL.Path)
	if strings.HasPrefix(r.URL.Path, "/evidence/") {
		f.uploaded = append(f.uploaded, body)
	}
	f.mu.Unlock()

	switch {
	case r.URL.Path == "/agents/status":
		_, _ = w.Write([]byte(`{"ok":true,"data":{"status":"active","agent_id":7}}`))
	case strings.HasPrefix(r.URL.Path, "/evidence/"):
		_, _ = w.Write([]byte(`{"ok":true,"action":"delete"}`))
	default:
		_, _ = w.Write([]byte(`{"ok":true}`))
	}
}

func (f *fakeService) uploads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.uploaded...)
}

func testConfig(t *testing.T, serviceURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.APIKey = "ak-test"
	cfg.ServiceURL = serviceURL
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.LogDir = filepath.Join(dir, "log")
	cfg.RepositoryDir = filepath.Join(dir, "evidence")
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.DispatchInterval = 10 * time.Millisecond
	cfg.PingInterval = 20 * time.Millisecond
	cfg.StatsInterval = 20 * time.Millisecond
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCollector_DrainsQueuedEvidence(t *testing.T) {
	svc := &fakeService{}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	ctx := context.Background()

	producer, err := evidence.NewStore(cfg.RepositoryDir, discardLogger())
	require.NoError(t, err)
	require.NoError(t, producer.SaveMetadata(ctx, "A1", domain.InstanceMetadata{
		Ident:    "RCS_0000000001",
		Instance: "A1",
		Platform: "linux",
		Demo:     0,
		Scout:    0,
		Version:  1,
	}))
	for _, p := range []string{"first", "second"} {
		_, err := producer.Enqueue(ctx, "A1", []byte(p))
		require.NoError(t, err)
	}
	require.NoError(t, producer.Close())

	c, err := New(cfg, discardLogger())
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(runCtx) }()

	require.Eventually(t, func() bool {
		return len(svc.uploads()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return c.recorder.Snapshot().OutputCount == 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("collector did not stop")
	}

	got := svc.uploads()
	assert.Equal(t, []byte("first"), got[0])
	assert.Equal(t, []byte("second"), got[1])

	check, err := evidence.NewStore(cfg.RepositoryDir, discardLogger())
	require.NoError(t, err)
	defer check.Close()
	ids, err := check.EvidenceIDs(ctx, "A1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestStatusSecret(t *testing.T) {
	cfg := config.DefaultConfig()
	store, err := storage.NewStore(t.TempDir())
	require.NoError(t, err)

	first, err := statusSecret(cfg, store)
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	again, err := statusSecret(cfg, store)
	require.NoError(t, err)
	assert.Equal(t, first, again, "generated secret is persisted")

	cfg.StatusSecret = "configured"
	got, err := statusSecret(cfg, store)
	require.NoError(t, err)
	assert.Equal(t, "configured", got)
}

func TestCollector_ServerFailureStopsDispatch(t *testing.T) {
	svc := &fakeService{}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := testConfig(t, srv.URL)
	cfg.ListenAddr = busy.Addr().String()

	c, err := New(cfg, discardLogger())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(context.Background()) }()

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "http server")
	case <-time.After(15 * time.Second):
		t.Fatal("collector did not stop after the server failed")
	}

	// Evidence queued after the failure is left alone.
	ctx := context.Background()
	producer, err := evidence.NewStore(cfg.RepositoryDir, discardLogger())
	require.NoError(t, err)
	defer producer.Close()
	require.NoError(t, producer.SaveMetadata(ctx, "A1", domain.InstanceMetadata{
		Ident:    "RCS_0000000001",
		Instance: "A1",
		Platform: "linux",
	}))
	_, err = producer.Enqueue(ctx, "A1", []byte("late"))
	require.NoError(t, err)

	time.Sleep(10 * cfg.DispatchInterval)
	assert.Empty(t, svc.uploads())
	assert.Equal(t, 0, c.supervisor.Active().Len())
}

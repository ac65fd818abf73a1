// Package evidence is the local evidence repository: one SQLite database per
// instance holding the instance info and its queue of pending records.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/magicaleks/evidence-collector/internal/domain"
	"github.com/magicaleks/evidence-collector/internal/sqlitepool"
)

const dbExt = ".db"

const schema = `
CREATE TABLE IF NOT EXISTS info (
	id        INTEGER PRIMARY KEY CHECK (id = 1),
	ident     TEXT    NOT NULL,
	instance  TEXT    NOT NULL,
	platform  TEXT    NOT NULL,
	demo      INTEGER NOT NULL DEFAULT 0,
	scout     INTEGER NOT NULL DEFAULT 0,
	version   INTEGER NOT NULL DEFAULT 0,
	username  TEXT    NOT NULL DEFAULT '',
	device    TEXT    NOT NULL DEFAULT '',
	source    TEXT    NOT NULL DEFAULT '',
	sync_time INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS evidence (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	size    INTEGER NOT NULL,
	content BLOB    NOT NULL
);
`

var instancePattern = regexp.MustCompile(`^[A-Za-z0-9_:-][A-Za-z0-9._:-]*$`)

// Store implements domain.Repository on a directory of SQLite files.
type Store struct {
	dir    string
	logger *slog.Logger

	mu     sync.Mutex
	pools  map[domain.Instance]*sqlitepool.Pool
	locks  map[domain.Instance]*sync.RWMutex
	closed bool
}

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("evidence store closed")

// NewStore creates a Store rooted at dir, ensuring the directory exists.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create repository dir %s: %w", dir, err)
	}
	return &Store{
		dir:    dir,
		logger: logger,
		pools:  make(map[domain.Instance]*sqlitepool.Pool),
		locks:  make(map[domain.Instance]*sync.RWMutex),
	}, nil
}

// Instances lists every repository in the directory.
func (s *Store) Instances(ctx context.Context) ([]domain.Instance, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read repository dir: %w", err)
	}
	var out []domain.Instance
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, dbExt) {
			continue
		}
		inst := domain.Instance(strings.TrimSuffix(name, dbExt))
		if validInstance(inst) {
			out = append(out, inst)
		}
	}
	return out, nil
}

// Metadata returns nil when the repository has no info row.
func (s *Store) Metadata(ctx context.Context, instance domain.Instance) (*domain.InstanceMetadata, error) {
	var meta *domain.InstanceMetadata
	err := s.withConn(ctx, "metadata", instance, false, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT ident, instance, platform, demo, scout, version, username, device, source, sync_time
			FROM info WHERE id = 1`, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				meta = &domain.InstanceMetadata{
					Ident:    stmt.ColumnText(0),
					Instance: stmt.ColumnText(1),
					Platform: stmt.ColumnText(2),
					Demo:     stmt.ColumnInt(3),
					Scout:    stmt.ColumnInt(4),
					Version:  stmt.ColumnInt(5),
					User:     stmt.ColumnText(6),
					Device:   stmt.ColumnText(7),
					Source:   stmt.ColumnText(8),
					SyncTime: fromUnix(stmt.ColumnInt64(9)),
				}
				return nil
			},
		})
	})
	return meta, err
}

// SaveMetadata writes the info row, replacing any previous one.
func (s *Store) SaveMetadata(ctx context.Context, instance domain.Instance, meta domain.InstanceMetadata) error {
	return s.withConn(ctx, "save metadata", instance, true, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			INSERT OR REPLACE INTO info
				(id, ident, instance, platform, demo, scout, version, username, device, source, sync_time)
			VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
			Args: []any{
				meta.Ident, meta.Instance, meta.Platform,
				meta.Demo, meta.Scout, meta.Version,
				meta.User, meta.Device, meta.Source,
				toUnix(meta.SyncTime),
			},
		})
	})
}

// EvidenceIDs returns the queued ids in ascending order.
func (s *Store) EvidenceIDs(ctx context.Context, instance domain.Instance) ([]domain.EvidenceID, error) {
	var ids []domain.EvidenceID
	err := s.withConn(ctx, "list evidence", instance, false, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT id FROM evidence ORDER BY id", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				ids = append(ids, domain.EvidenceID(stmt.ColumnInt64(0)))
				return nil
			},
		})
	})
	return ids, err
}

// Pending counts the queued records of an instance.
func (s *Store) Pending(ctx context.Context, instance domain.Instance) (int, error) {
	var n int
	err := s.withConn(ctx, "count evidence", instance, false, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT COUNT(*) FROM evidence", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				n = stmt.ColumnInt(0)
				return nil
			},
		})
	})
	return n, err
}

// Evidence returns nil when no record with id is queued.
func (s *Store) Evidence(ctx context.Context, id domain.EvidenceID, instance domain.Instance) (*domain.EvidenceRecord, error) {
	var rec *domain.EvidenceRecord
	err := s.withConn(ctx, "get evidence", instance, false, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT size, content FROM evidence WHERE id = ?", &sqlitex.ExecOptions{
			Args: []any{int64(id)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				size := stmt.ColumnInt64(0)
				blob := make([]byte, stmt.ColumnLen(1))
				stmt.ColumnBytes(1, blob)
				payload, err := decompress(blob, size)
				if err != nil {
					return err
				}
				rec = &domain.EvidenceRecord{ID: id, Payload: payload, Size: size}
				return nil
			},
		})
	})
	return rec, err
}

// Enqueue appends a payload to the instance queue.
func (s *Store) Enqueue(ctx context.Context, instance domain.Instance, payload []byte) (domain.EvidenceID, error) {
	var id domain.EvidenceID
	err := s.withConn(ctx, "enqueue", instance, true, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, "INSERT INTO evidence (size, content) VALUES (?, ?)", &sqlitex.ExecOptions{
			Args: []any{int64(len(payload)), compress(payload)},
		})
		if err != nil {
			return err
		}
		id = domain.EvidenceID(conn.LastInsertRowID())
		return nil
	})
	return id, err
}

func (s *Store) DeleteEvidence(ctx context.Context, id domain.EvidenceID, instance domain.Instance) error {
	return s.withConn(ctx, "delete evidence", instance, false, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "DELETE FROM evidence WHERE id = ?", &sqlitex.ExecOptions{
			Args: []any{int64(id)},
		})
	})
}

// Purge removes the repository of instance. Without Force a repository that
// still has queued evidence is kept. Other operations on the instance wait
// until the purge is done, so nothing is written to a file being removed.
func (s *Store) Purge(ctx context.Context, instance domain.Instance, opts domain.PurgeOptions) error {
	if !validInstance(instance) {
		return domain.ErrInvalidInstance{Instance: instance}
	}

	lock := s.instanceLock(instance)
	lock.Lock()
	defer lock.Unlock()

	if !opts.Force {
		var n int
		err := s.exec(ctx, "count evidence", instance, false, func(conn *sqlite.Conn) error {
			return sqlitex.Execute(conn, "SELECT COUNT(*) FROM evidence", &sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					n = stmt.ColumnInt(0)
					return nil
				},
			})
		})
		if err != nil {
			return err
		}
		if n > 0 {
			s.logger.Debug("repository not empty, keeping", "instance", instance, "pending", n)
			return nil
		}
	}

	s.mu.Lock()
	pool := s.pools[instance]
	delete(s.pools, instance)
	s.mu.Unlock()

	if pool != nil {
		if err := pool.Close(); err != nil {
			s.logger.Warn("failed to close repository before purge", "instance", instance, "err", err)
		}
	}

	path := s.path(instance)
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return domain.ErrRepository{Op: "purge", Instance: instance, Err: err}
		}
	}
	s.logger.Info("repository purged", "instance", instance, "force", opts.Force)
	return nil
}

// Close closes every open repository.
func (s *Store) Close() error {
	s.mu.Lock()
	pools := s.pools
	s.pools = make(map[domain.Instance]*sqlitepool.Pool)
	s.closed = true
	s.mu.Unlock()

	var errs []error
	for _, p := range pools {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// withConn runs fn on a connection of the instance repository. When create is
// false and the repository file does not exist, fn is not called and nil is
// returned, so reads of a purged repository see it as empty.
func (s *Store) withConn(ctx context.Context, op string, instance domain.Instance, create bool, fn func(*sqlite.Conn) error) error {
	if !validInstance(instance) {
		return domain.ErrRepository{Op: op, Instance: instance, Err: domain.ErrInvalidInstance{Instance: instance}}
	}
	lock := s.instanceLock(instance)
	lock.RLock()
	defer lock.RUnlock()
	return s.exec(ctx, op, instance, create, fn)
}

// instanceLock serializes Purge against every other operation on instance.
func (s *Store) instanceLock(instance domain.Instance) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[instance]
	if !ok {
		l = &sync.RWMutex{}
		s.locks[instance] = l
	}
	return l
}

// exec is withConn without the instance lock.
func (s *Store) exec(ctx context.Context, op string, instance domain.Instance, create bool, fn func(*sqlite.Conn) error) error {
	pool, err := s.open(instance, create)
	if err != nil {
		return domain.ErrRepository{Op: op, Instance: instance, Err: err}
	}
	if pool == nil {
		return nil
	}

	conn, err := pool.Take(ctx)
	if err != nil {
		return domain.ErrRepository{Op: op, Instance: instance, Err: err}
	}
	defer pool.Put(conn)

	if err := fn(conn); err != nil {
		return domain.ErrRepository{Op: op, Instance: instance, Err: err}
	}
	return nil
}

func (s *Store) open(instance domain.Instance, create bool) (*sqlitepool.Pool, error) {
	if !validInstance(instance) {
		return nil, domain.ErrInvalidInstance{Instance: instance}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if p, ok := s.pools[instance]; ok {
		return p, nil
	}

	path := s.path(instance)
	if !create {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
	}

	p, err := sqlitepool.Open(sqlitepool.Config{
		Path:   path,
		Logger: s.logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, err
	}
	s.pools[instance] = p
	return p, nil
}

func (s *Store) path(instance domain.Instance) string {
	return filepath.Join(s.dir, string(instance)+dbExt)
}

func validInstance(instance domain.Instance) bool {
	return instancePattern.MatchString(string(instance)) && !strings.Contains(string(instance), "..")
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}

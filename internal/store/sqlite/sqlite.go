package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/maloquacious/libcashier/internal/logger"
	"github.com/maloquacious/libcashier/internal/store"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using modernc.org/sqlite.
// It drives a store.Lifecycle: Create for an empty file, Upgrade when the
// stored version is older than the declared one.
type SQLiteStore struct {
	dbPath    string
	db        *sql.DB
	readOnly  bool
	version   int
	lifecycle store.Lifecycle
	log       logger.Logger
	last      store.Transition
}

var _ store.Store = (*SQLiteStore)(nil)

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithLogger sets the logger used by the store.
func WithLogger(l logger.Logger) Option {
	return func(s *SQLiteStore) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates a new SQLiteStore for the file at dbPath.
// version is the declared schema version and must be at least 1.
func New(dbPath string, version int, lc store.Lifecycle, opts ...Option) *SQLiteStore {
	s := &SQLiteStore{
		dbPath:    dbPath,
		version:   version,
		lifecycle: lc,
		log:       logger.Default,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens the database, creating the file if needed, and brings the
// schema to the declared version. Calling Open on a store opened read-write
// only re-checks the schema; a read-only handle is reopened read-write.
func (s *SQLiteStore) Open(ctx context.Context) error {
	if s.version < 1 {
		return fmt.Errorf("invalid schema version %d", s.version)
	}
	if s.lifecycle == nil {
		return fmt.Errorf("no schema lifecycle configured")
	}
	if err := s.connect(ctx, false); err != nil {
		return err
	}
	if err := s.migrate(ctx); err != nil {
		s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// OpenReadOnly opens an existing database for queries only, without running
// the lifecycle. It fails if the file does not exist. A read-write handle
// is reopened read-only.
func (s *SQLiteStore) OpenReadOnly(ctx context.Context) error {
	return s.connect(ctx, true)
}

// connect reuses an open handle of the requested mode and replaces one of
// the other mode.
func (s *SQLiteStore) connect(ctx context.Context, readOnly bool) error {
	if s.db != nil {
		if s.readOnly == readOnly {
			return nil
		}
		s.log.Debug("reopening %s (read-only=%v)", s.dbPath, readOnly)
		if err := s.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
	}
	if err := store.CheckDir(s.dbPath); err != nil {
		return err
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	pragmas := []string{
		"foreign_keys(1)",
		"busy_timeout(5000)",
	}
	if readOnly {
		// mode=rw below refuses to create a missing file.
		pragmas = append(pragmas, "query_only(1)")
	} else {
		pragmas = append(pragmas, "journal_mode(WAL)", "synchronous(NORMAL)")
	}
	params := make([]string, 0, len(pragmas)+1)
	for _, p := range pragmas {
		params = append(params, "_pragma="+p)
	}
	if readOnly {
		params = append(params, "mode=rw")
	}
	dsn := "file:" + filepath.ToSlash(s.dbPath) + "?" + strings.Join(params, "&")

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("%w: %s: %v", store.ErrUnavailable, s.dbPath, err)
	}

	s.db = db
	s.readOnly = readOnly
	s.log.Debug("opened %s (read-only=%v)", s.dbPath, readOnly)
	return nil
}

// migrate runs at most one lifecycle callback and records the new version
// in the same transaction.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	cur, err := readUserVersion(ctx, s.db)
	if err != nil {
		return err
	}
	if cur == s.version {
		s.last = store.Transition{Kind: store.TransitionNone, From: cur, To: cur}
		return nil
	}
	if cur > s.version {
		return fmt.Errorf("%w: stored %d, declared %d", store.ErrDowngrade, cur, s.version)
	}

	kind := store.TransitionUpgraded
	if cur == 0 {
		kind = store.TransitionCreated
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if kind == store.TransitionCreated {
			return s.lifecycle.Create(ctx, tx)
		}
		return s.lifecycle.Upgrade(ctx, tx, cur, s.version)
	})
	if err != nil {
		return err
	}

	s.last = store.Transition{Kind: kind, From: cur, To: s.version}
	s.log.Info("schema %s: %d -> %d", kind, cur, s.version)
	return nil
}

// Rebuild drops and recreates the schema at the declared version.
func (s *SQLiteStore) Rebuild(ctx context.Context) error {
	if s.db == nil {
		return store.ErrNotOpen
	}
	cur, err := readUserVersion(ctx, s.db)
	if err != nil {
		return err
	}
	if cur > s.version {
		return fmt.Errorf("%w: stored %d, declared %d", store.ErrDowngrade, cur, s.version)
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		return s.lifecycle.Upgrade(ctx, tx, cur, s.version)
	})
	if err != nil {
		return err
	}
	s.last = store.Transition{Kind: store.TransitionRebuilt, From: cur, To: s.version}
	s.log.Info("schema rebuilt at version %d", s.version)
	return nil
}

// inTx runs fn and then stores the declared version, committing both or neither.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := writeUserVersion(ctx, tx, s.version); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.readOnly = false
	return err
}

// CheckState returns the current state of the datastore.
func (s *SQLiteStore) CheckState(ctx context.Context) (store.StoreState, error) {
	if s.db == nil {
		return store.StateMissing, store.ErrNotOpen
	}

	version, err := s.SchemaVersion(ctx)
	if err != nil {
		return store.StateUninitialized, err
	}
	if version == 0 {
		return store.StateUninitialized, nil
	}
	if version != s.version {
		return store.StateVersionMismatch, nil
	}
	return store.StateReady, nil
}

// SchemaVersion returns the schema version stored in the database.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, store.ErrNotOpen
	}
	return readUserVersion(ctx, s.db)
}

// Transition reports what the last Open or Rebuild did to the schema.
func (s *SQLiteStore) Transition() store.Transition {
	return s.last
}

// DB returns the underlying handle, or nil when the store is closed.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

package store

import (
	"context"
	"database/sql"
	"errors"
)

// StoreState represents the initialization state of the datastore.
type StoreState int

const (
	StateMissing         StoreState = iota // File doesn't exist
	StateUninitialized                     // File exists but no schema
	StateVersionMismatch                   // Schema exists but wrong version
	StateReady                             // Initialized and correct version
)

func (s StoreState) String() string {
	switch s {
	case StateMissing:
		return "missing"
	case StateUninitialized:
		return "uninitialized"
	case StateVersionMismatch:
		return "version-mismatch"
	case StateReady:
		return "ready"
	}
	return "unknown"
}

var (
	ErrUnavailable = errors.New("storage location unavailable")
	ErrNotOpen     = errors.New("database not opened")
	ErrDowngrade   = errors.New("stored schema is newer than this build")
)

// Execer is the subset of *sql.DB and *sql.Tx the lifecycle callbacks need.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Lifecycle receives the schema callbacks from a storage driver.
// Both methods run inside the driver's transaction.
type Lifecycle interface {
	// Create builds the schema in an empty database.
	Create(ctx context.Context, db Execer) error

	// Upgrade moves a database from oldVersion to newVersion.
	Upgrade(ctx context.Context, db Execer, oldVersion, newVersion int) error
}

// TransitionKind names what Open did to the schema.
type TransitionKind int

const (
	TransitionNone TransitionKind = iota
	TransitionCreated
	TransitionUpgraded
	TransitionRebuilt
)

func (k TransitionKind) String() string {
	switch k {
	case TransitionNone:
		return "none"
	case TransitionCreated:
		return "created"
	case TransitionUpgraded:
		return "upgraded"
	case TransitionRebuilt:
		return "rebuilt"
	}
	return "unknown"
}

// Transition records the schema change applied by the most recent open or rebuild.
type Transition struct {
	Kind TransitionKind
	From int
	To   int
}

// Store defines the cashier datastore contract.
// Implementations are used from a single goroutine.
type Store interface {
	// Open opens the datastore and brings the schema to the declared version
	Open(ctx context.Context) error

	// OpenReadOnly opens the datastore without touching the schema
	OpenReadOnly(ctx context.Context) error

	// Close closes the datastore connection
	Close() error

	// Rebuild drops and recreates the schema at the declared version
	Rebuild(ctx context.Context) error

	// CheckState returns the current state of the datastore
	CheckState(ctx context.Context) (StoreState, error)

	// SchemaVersion returns the schema version stored in the database
	SchemaVersion(ctx context.Context) (int, error)

	// Transition reports what the last Open or Rebuild did
	Transition() Transition

	// DB returns the underlying handle
	DB() *sql.DB
}

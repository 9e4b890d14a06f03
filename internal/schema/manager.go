package schema

import (
	"context"
	"fmt"

	"github.com/maloquacious/libcashier/internal/logger"
	"github.com/maloquacious/libcashier/internal/store"
)

// dropOrder removes children before the parents they reference.
var dropOrder = []string{TableSaleItems, TableBookLoans, TableProducts, TableSales}

// Manager implements store.Lifecycle for the cashier schema.
type Manager struct {
	log logger.Logger
}

var _ store.Lifecycle = (*Manager)(nil)

// NewManager returns a Manager that logs through l, or logger.Default when l is nil.
func NewManager(l logger.Logger) *Manager {
	if l == nil {
		l = logger.Default
	}
	return &Manager{log: l}
}

// Create issues the four CREATE TABLE statements, parents first.
func (m *Manager) Create(ctx context.Context, db store.Execer) error {
	for _, t := range tables {
		if _, err := db.ExecContext(ctx, t.CreateSQL()); err != nil {
			return fmt.Errorf("failed to create table %s: %w", t.Name, err)
		}
		m.log.Debug("created table %s", t.Name)
	}
	m.log.Info("schema created with %d tables", len(tables))
	return nil
}

// Upgrade drops every table and recreates the schema.
// No rows survive; the stored data is discarded whatever the two versions are.
func (m *Manager) Upgrade(ctx context.Context, db store.Execer, oldVersion, newVersion int) error {
	m.log.Warn("upgrading schema %d -> %d: all tables are dropped", oldVersion, newVersion)
	for _, name := range dropOrder {
		t, _ := Lookup(name)
		if _, err := db.ExecContext(ctx, t.DropSQL()); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", name, err)
		}
	}
	return m.Create(ctx, db)
}

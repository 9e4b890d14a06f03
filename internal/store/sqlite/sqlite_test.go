package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/maloquacious/libcashier/internal/logger"
	"github.com/maloquacious/libcashier/internal/schema"
	"github.com/maloquacious/libcashier/internal/store"
	"github.com/maloquacious/libcashier/internal/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder wraps a lifecycle and counts the callbacks it receives.
type recorder struct {
	next     store.Lifecycle
	creates  int
	upgrades [][2]int
}

func (r *recorder) Create(ctx context.Context, db store.Execer) error {
	r.creates++
	return r.next.Create(ctx, db)
}

func (r *recorder) Upgrade(ctx context.Context, db store.Execer, oldVersion, newVersion int) error {
	r.upgrades = append(r.upgrades, [2]int{oldVersion, newVersion})
	return r.next.Upgrade(ctx, db, oldVersion, newVersion)
}

// failingLifecycle creates one table and then fails.
type failingLifecycle struct{}

func (failingLifecycle) Create(ctx context.Context, db store.Execer) error {
	t, _ := schema.Lookup(schema.TableProducts)
	if _, err := db.ExecContext(ctx, t.CreateSQL()); err != nil {
		return err
	}
	return errors.New("disk full")
}

func (failingLifecycle) Upgrade(ctx context.Context, db store.Execer, oldVersion, newVersion int) error {
	return errors.New("not reached")
}

func newStore(t *testing.T, path string, version int, lc store.Lifecycle) *sqlite.SQLiteStore {
	t.Helper()
	s := sqlite.New(path, version, lc, sqlite.WithLogger(logger.Discard))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func tempDBPath(t *testing.T) string {
	t.Helper()
	return store.GetDBPath(t.TempDir())
}

func userTables(t *testing.T, s *sqlite.SQLiteStore) []string {
	t.Helper()
	rows, err := s.DB().Query(`SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	require.NoError(t, err)
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		require.NoError(t, rows.Scan(&n))
		names = append(names, n)
	}
	require.NoError(t, rows.Err())
	return names
}

func rowCount(t *testing.T, s *sqlite.SQLiteStore, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func seed(t *testing.T, s *sqlite.SQLiteStore) {
	t.Helper()
	db := s.DB()
	_, err := db.Exec(fmt.Sprintf(`INSERT INTO %s (%s, %s, %s, %s) VALUES ('Dune', 'Books', 12.5, 3)`,
		schema.TableProducts, schema.ColProductName, schema.ColProductCategory, schema.ColProductPrice, schema.ColProductQuantity))
	require.NoError(t, err)
	_, err = db.Exec(fmt.Sprintf(`INSERT INTO %s (%s, %s) VALUES ('2025-01-02 10:00:00', 12.5)`,
		schema.TableSales, schema.ColSaleDate, schema.ColSaleTotal))
	require.NoError(t, err)
	_, err = db.Exec(fmt.Sprintf(`INSERT INTO %s (%s, %s, %s, %s) VALUES (1, 1, 1, 12.5)`,
		schema.TableSaleItems, schema.ColItemSaleID, schema.ColItemProductID, schema.ColItemQuantity, schema.ColItemPrice))
	require.NoError(t, err)
	_, err = db.Exec(fmt.Sprintf(`INSERT INTO %s (%s, %s, %s, %s, %s) VALUES (1, 'Ann', '2025-01-02', '2025-01-16', 'borrowed')`,
		schema.TableBookLoans, schema.ColLoanBookID, schema.ColLoanBorrowerName, schema.ColLoanBorrowDate, schema.ColLoanReturnExpected, schema.ColLoanStatus))
	require.NoError(t, err)
}

func TestOpen_FreshDatabase(t *testing.T) {
	ctx := context.Background()
	path := tempDBPath(t)
	rec := &recorder{next: schema.NewManager(logger.Discard)}
	s := newStore(t, path, schema.Version, rec)

	require.NoError(t, s.Open(ctx))

	_, err := os.Stat(path)
	require.NoError(t, err, "database file should exist after Open")
	assert.Equal(t, 1, rec.creates)
	assert.Empty(t, rec.upgrades)
	assert.Equal(t, store.Transition{Kind: store.TransitionCreated, From: 0, To: schema.Version}, s.Transition())
	assert.ElementsMatch(t, schema.TableNames(), userTables(t, s))
	assert.NoError(t, schema.Verify(ctx, s.DB()))

	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, schema.Version, v)
}

func TestOpen_ExistingDatabaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := tempDBPath(t)

	first := newStore(t, path, schema.Version, schema.NewManager(logger.Discard))
	require.NoError(t, first.Open(ctx))
	seed(t, first)
	require.NoError(t, first.Open(ctx), "second Open on an open store")
	require.NoError(t, first.Close())

	rec := &recorder{next: schema.NewManager(logger.Discard)}
	second := newStore(t, path, schema.Version, rec)
	require.NoError(t, second.Open(ctx))

	assert.Zero(t, rec.creates)
	assert.Empty(t, rec.upgrades)
	assert.Equal(t, store.TransitionNone, second.Transition().Kind)
	assert.Equal(t, 1, rowCount(t, second, schema.TableProducts), "rows survive a same-version open")
}

func TestOpen_UnavailableLocation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "no-such-dir", schema.DatabaseName)
	s := newStore(t, path, schema.Version, schema.NewManager(logger.Discard))

	err := s.Open(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.Nil(t, s.DB())
}

func TestOpen_UpgradeDropsAllRows(t *testing.T) {
	ctx := context.Background()
	path := tempDBPath(t)

	v1 := newStore(t, path, 1, schema.NewManager(logger.Discard))
	require.NoError(t, v1.Open(ctx))
	seed(t, v1)
	require.NoError(t, v1.Close())

	rec := &recorder{next: schema.NewManager(logger.Discard)}
	v2 := newStore(t, path, 2, rec)
	require.NoError(t, v2.Open(ctx))

	assert.Zero(t, rec.creates, "upgrade recreates through Upgrade, not a direct Create")
	assert.Equal(t, [][2]int{{1, 2}}, rec.upgrades)
	assert.Equal(t, store.Transition{Kind: store.TransitionUpgraded, From: 1, To: 2}, v2.Transition())
	assert.ElementsMatch(t, schema.TableNames(), userTables(t, v2))
	for _, table := range schema.TableNames() {
		assert.Zero(t, rowCount(t, v2, table), "table %s should be empty after upgrade", table)
	}
	assert.NoError(t, schema.Verify(ctx, v2.DB()))

	v, err := v2.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestOpen_DowngradeRefused(t *testing.T) {
	ctx := context.Background()
	path := tempDBPath(t)

	v2 := newStore(t, path, 2, schema.NewManager(logger.Discard))
	require.NoError(t, v2.Open(ctx))
	seed(t, v2)
	require.NoError(t, v2.Close())

	v1 := newStore(t, path, 1, schema.NewManager(logger.Discard))
	err := v1.Open(ctx)
	require.ErrorIs(t, err, store.ErrDowngrade)

	ro := newStore(t, path, 2, nil)
	require.NoError(t, ro.OpenReadOnly(ctx))
	v, err := ro.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, rowCount(t, ro, schema.TableProducts), "downgrade attempt leaves data alone")
}

func TestOpen_FailedCreateRollsBack(t *testing.T) {
	ctx := context.Background()
	path := tempDBPath(t)

	s := newStore(t, path, schema.Version, failingLifecycle{})
	err := s.Open(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Nil(t, s.DB(), "failed Open leaves the store closed")

	ro := newStore(t, path, schema.Version, nil)
	require.NoError(t, ro.OpenReadOnly(ctx))
	v, err := ro.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Zero(t, v)
	assert.Empty(t, userTables(t, ro))
}

func TestOpen_AfterReadOnly(t *testing.T) {
	ctx := context.Background()
	path := tempDBPath(t)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	s := newStore(t, path, schema.Version, schema.NewManager(logger.Discard))
	require.NoError(t, s.OpenReadOnly(ctx))
	state, err := s.CheckState(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.StateUninitialized, state)

	require.NoError(t, s.Open(ctx))
	assert.Equal(t, store.TransitionCreated, s.Transition().Kind)
	seed(t, s)
	assert.NoError(t, schema.Verify(ctx, s.DB()))

	require.NoError(t, s.OpenReadOnly(ctx))
	assert.Equal(t, 1, rowCount(t, s, schema.TableProducts))
	_, err = s.DB().ExecContext(ctx, "DELETE FROM "+schema.TableBookLoans)
	assert.Error(t, err, "handle is read-only again")
}

func TestOpen_InvalidConfiguration(t *testing.T) {
	ctx := context.Background()
	path := tempDBPath(t)

	assert.Error(t, newStore(t, path, 0, schema.NewManager(logger.Discard)).Open(ctx))
	assert.Error(t, newStore(t, path, 1, nil).Open(ctx))
}

func TestForeignKeysEnforced(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, tempDBPath(t), schema.Version, schema.NewManager(logger.Discard))
	require.NoError(t, s.Open(ctx))
	seed(t, s)

	insertItem := fmt.Sprintf(`INSERT INTO %s (%s, %s, %s, %s) VALUES (?, ?, 1, 1.0)`,
		schema.TableSaleItems, schema.ColItemSaleID, schema.ColItemProductID, schema.ColItemQuantity, schema.ColItemPrice)
	insertLoan := fmt.Sprintf(`INSERT INTO %s (%s, %s, %s, %s) VALUES (?, 'Bob', '2025-01-02', '2025-01-16')`,
		schema.TableBookLoans, schema.ColLoanBookID, schema.ColLoanBorrowerName, schema.ColLoanBorrowDate, schema.ColLoanReturnExpected)

	tests := []struct {
		name    string
		query   string
		args    []any
		wantErr bool
	}{
		{name: "item with unknown sale", query: insertItem, args: []any{99, 1}, wantErr: true},
		{name: "item with unknown product", query: insertItem, args: []any{1, 99}, wantErr: true},
		{name: "item with known sale and product", query: insertItem, args: []any{1, 1}},
		{name: "loan with unknown book", query: insertLoan, args: []any{99}, wantErr: true},
		{name: "loan with known book", query: insertLoan, args: []any{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.DB().ExecContext(ctx, tt.query, tt.args...)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNotNullEnforced(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, tempDBPath(t), schema.Version, schema.NewManager(logger.Discard))
	require.NoError(t, s.Open(ctx))

	_, err := s.DB().ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (%s, %s) VALUES (1.0, 1)`,
		schema.TableProducts, schema.ColProductPrice, schema.ColProductQuantity))
	assert.Error(t, err, "product without a name")

	_, err = s.DB().ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (%s) VALUES ('2025-01-02')`,
		schema.TableSales, schema.ColSaleDate))
	assert.Error(t, err, "sale without a total")
}

func TestRebuild(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, tempDBPath(t), schema.Version, schema.NewManager(logger.Discard))

	assert.ErrorIs(t, s.Rebuild(ctx), store.ErrNotOpen)

	require.NoError(t, s.Open(ctx))
	seed(t, s)
	require.NoError(t, s.Rebuild(ctx))

	assert.Equal(t, store.Transition{Kind: store.TransitionRebuilt, From: schema.Version, To: schema.Version}, s.Transition())
	for _, table := range schema.TableNames() {
		assert.Zero(t, rowCount(t, s, table), "table %s should be empty after rebuild", table)
	}
	assert.NoError(t, schema.Verify(ctx, s.DB()))
}

func TestCheckState(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := store.GetDBPath(dir)

	closed := newStore(t, path, schema.Version, nil)
	state, err := closed.CheckState(ctx)
	assert.ErrorIs(t, err, store.ErrNotOpen)
	assert.Equal(t, store.StateMissing, state)

	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	empty := newStore(t, path, schema.Version, nil)
	require.NoError(t, empty.OpenReadOnly(ctx))
	state, err = empty.CheckState(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.StateUninitialized, state)
	require.NoError(t, empty.Close())

	rw := newStore(t, path, schema.Version, schema.NewManager(logger.Discard))
	require.NoError(t, rw.Open(ctx))
	state, err = rw.CheckState(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.StateReady, state)
	require.NoError(t, rw.Close())

	newer := newStore(t, path, schema.Version+1, nil)
	require.NoError(t, newer.OpenReadOnly(ctx))
	state, err = newer.CheckState(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.StateVersionMismatch, state)
}

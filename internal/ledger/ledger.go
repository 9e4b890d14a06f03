// Package ledger records products, sales and book loans in the cashier
// database. Every statement names tables and columns through the schema
// package constants.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/maloquacious/libcashier/internal/logger"
	"github.com/maloquacious/libcashier/internal/schema"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Ledger provides access to the cashier tables.
type Ledger struct {
	db  *sqlx.DB
	log logger.Logger
}

// New wraps an open database handle whose schema is current.
func New(db *sql.DB, l logger.Logger) *Ledger {
	if l == nil {
		l = logger.Default
	}
	return &Ledger{db: sqlx.NewDb(db, "sqlite"), log: l}
}

// zeroIfNull lists nullable columns that the row types hold as plain values.
// They read back as 0 or '' when a row leaves them NULL.
var zeroIfNull = map[string]map[string]bool{
	schema.TableSaleItems: {
		schema.ColItemSaleID:    true,
		schema.ColItemProductID: true,
		schema.ColItemQuantity:  true,
		schema.ColItemPrice:     true,
	},
	schema.TableBookLoans: {
		schema.ColLoanBookID: true,
		schema.ColLoanStatus: true,
	},
}

func selectFrom(table string) string {
	t, _ := schema.Lookup(table)
	cols := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if c.NotNull || c.PrimaryKey || !zeroIfNull[table][c.Name] {
			cols = append(cols, c.Name)
			continue
		}
		zero := "0"
		if c.Type == "TEXT" {
			zero = "''"
		}
		cols = append(cols, fmt.Sprintf("COALESCE(%s, %s) AS %s", c.Name, zero, c.Name))
	}
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), table)
}

// insertInto renders a named INSERT for cols.
func insertInto(table string, cols ...string) string {
	named := make([]string, len(cols))
	for i, c := range cols {
		named[i] = ":" + c
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(named, ", "))
}

// AddProduct inserts p and sets its ID.
func (l *Ledger) AddProduct(ctx context.Context, p *Product) error {
	if err := validateProduct(p); err != nil {
		return err
	}
	q := insertInto(schema.TableProducts,
		schema.ColProductName, schema.ColProductCategory, schema.ColProductPrice,
		schema.ColProductQuantity, schema.ColProductBarcode, schema.ColProductNotes)
	res, err := l.db.NamedExecContext(ctx, q, p)
	if err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read product id: %w", err)
	}
	p.ID = id
	l.log.Debug("added product %d %q", id, p.Name)
	return nil
}

func validateProduct(p *Product) error {
	switch {
	case p == nil:
		return fmt.Errorf("%w: nil product", ErrInvalid)
	case strings.TrimSpace(p.Name) == "":
		return fmt.Errorf("%w: product name is required", ErrInvalid)
	case p.Price < 0 || math.IsNaN(p.Price) || math.IsInf(p.Price, 0):
		return fmt.Errorf("%w: price %v", ErrInvalid, p.Price)
	case p.Quantity < 0:
		return fmt.Errorf("%w: quantity %d", ErrInvalid, p.Quantity)
	}
	return nil
}

// GetProduct retrieves a product by its ID.
func (l *Ledger) GetProduct(ctx context.Context, id int64) (*Product, error) {
	return getProduct(ctx, l.db, id)
}

func getProduct(ctx context.Context, q sqlx.QueryerContext, id int64) (*Product, error) {
	var p Product
	query := selectFrom(schema.TableProducts) + " WHERE " + schema.ColProductID + " = ?"
	if err := sqlx.GetContext(ctx, q, &p, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find product: %w", err)
	}
	return &p, nil
}

// ListProducts returns all products, or those in category when it is not blank.
func (l *Ledger) ListProducts(ctx context.Context, category string) ([]Product, error) {
	query := selectFrom(schema.TableProducts)
	var args []any
	if c := strings.TrimSpace(category); c != "" {
		query += " WHERE " + schema.ColProductCategory + " = ? COLLATE NOCASE"
		args = append(args, c)
	}
	query += " ORDER BY " + schema.ColProductID

	products := []Product{}
	if err := l.db.SelectContext(ctx, &products, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

// UpdateProduct overwrites every column of the product with p.ID.
func (l *Ledger) UpdateProduct(ctx context.Context, p *Product) error {
	if err := validateProduct(p); err != nil {
		return err
	}
	sets := []string{}
	for _, c := range schema.Columns(schema.TableProducts)[1:] {
		sets = append(sets, c+" = :"+c)
	}
	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s = :%s",
		schema.TableProducts, strings.Join(sets, ", "), schema.ColProductID, schema.ColProductID)
	res, err := l.db.NamedExecContext(ctx, q, p)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("product %d: %w", p.ID, ErrNotFound)
	}
	return nil
}

// DeleteProduct removes a product that no sale item or loan refers to.
func (l *Ledger) DeleteProduct(ctx context.Context, id int64) error {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var refs int
	q := fmt.Sprintf("SELECT (SELECT COUNT(*) FROM %s WHERE %s = ?) + (SELECT COUNT(*) FROM %s WHERE %s = ?)",
		schema.TableSaleItems, schema.ColItemProductID, schema.TableBookLoans, schema.ColLoanBookID)
	if err := tx.GetContext(ctx, &refs, q, id, id); err != nil {
		return fmt.Errorf("failed to count product references: %w", err)
	}
	if refs > 0 {
		return fmt.Errorf("product %d: %w", id, ErrInUse)
	}

	res, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s = ?", schema.TableProducts, schema.ColProductID), id)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	return tx.Commit()
}

// RecordSale stores a sale of lines at the products' current prices and
// takes the sold units out of stock. Copies of a book that are out on loan
// cannot be sold. Either everything is recorded or nothing.
func (l *Ledger) RecordSale(ctx context.Context, when time.Time, lines []SaleLine) (*Sale, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: a sale needs at least one line", ErrInvalid)
	}

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sale := &Sale{Date: FormatDate(when)}
	remaining := map[int64]int{}
	sold := map[int64]int{}
	var total float64
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity %d for product %d", ErrInvalid, line.Quantity, line.ProductID)
		}
		p, err := getProduct(ctx, tx, line.ProductID)
		if err != nil {
			return nil, err
		}
		left, seen := remaining[p.ID]
		if !seen {
			if left, err = available(ctx, tx, p); err != nil {
				return nil, err
			}
		}
		if left < line.Quantity {
			return nil, fmt.Errorf("%w: product %d has %d available, sale needs %d", ErrInsufficientStock, p.ID, left, line.Quantity)
		}
		remaining[p.ID] = left - line.Quantity
		sold[p.ID] += line.Quantity
		total += p.Price * float64(line.Quantity)
		sale.Items = append(sale.Items, SaleItem{ProductID: p.ID, Quantity: line.Quantity, Price: p.Price})
	}
	sale.TotalAmount = math.Round(total*100) / 100

	res, err := tx.NamedExecContext(ctx, insertInto(schema.TableSales, schema.ColSaleDate, schema.ColSaleTotal), sale)
	if err != nil {
		return nil, fmt.Errorf("failed to create sale: %w", err)
	}
	if sale.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("failed to read sale id: %w", err)
	}

	insertItem := insertInto(schema.TableSaleItems,
		schema.ColItemSaleID, schema.ColItemProductID, schema.ColItemQuantity, schema.ColItemPrice)
	for i := range sale.Items {
		item := &sale.Items[i]
		item.SaleID = sale.ID
		res, err := tx.NamedExecContext(ctx, insertItem, item)
		if err != nil {
			return nil, fmt.Errorf("failed to create sale item: %w", err)
		}
		if item.ID, err = res.LastInsertId(); err != nil {
			return nil, fmt.Errorf("failed to read sale item id: %w", err)
		}
	}

	updateStock := fmt.Sprintf("UPDATE %s SET %s = %s - ? WHERE %s = ?",
		schema.TableProducts, schema.ColProductQuantity, schema.ColProductQuantity, schema.ColProductID)
	for id, qty := range sold {
		if _, err := tx.ExecContext(ctx, updateStock, qty, id); err != nil {
			return nil, fmt.Errorf("failed to update stock: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit sale: %w", err)
	}
	l.log.Info("recorded sale %d: %d lines, total %.2f", sale.ID, len(sale.Items), sale.TotalAmount)
	return sale, nil
}

// available returns the units of p that can be sold: stock minus outstanding
// loans for books.
func available(ctx context.Context, q sqlx.QueryerContext, p *Product) (int, error) {
	if !p.IsBook() {
		return p.Quantity, nil
	}
	out, err := outstandingLoans(ctx, q, p.ID)
	if err != nil {
		return 0, err
	}
	return max(p.Quantity-out, 0), nil
}

// GetSale retrieves a sale and its items.
func (l *Ledger) GetSale(ctx context.Context, id int64) (*Sale, error) {
	var s Sale
	query := selectFrom(schema.TableSales) + " WHERE " + schema.ColSaleID + " = ?"
	if err := l.db.GetContext(ctx, &s, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sale %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find sale: %w", err)
	}
	query = selectFrom(schema.TableSaleItems) + " WHERE " + schema.ColItemSaleID + " = ? ORDER BY " + schema.ColItemID
	if err := l.db.SelectContext(ctx, &s.Items, query, id); err != nil {
		return nil, fmt.Errorf("failed to find sale items: %w", err)
	}
	return &s, nil
}

// ListSales returns all sales, oldest first, without their items.
func (l *Ledger) ListSales(ctx context.Context) ([]Sale, error) {
	sales := []Sale{}
	query := selectFrom(schema.TableSales) + " ORDER BY " + schema.ColSaleDate + ", " + schema.ColSaleID
	if err := l.db.SelectContext(ctx, &sales, query); err != nil {
		return nil, fmt.Errorf("failed to list sales: %w", err)
	}
	return sales, nil
}

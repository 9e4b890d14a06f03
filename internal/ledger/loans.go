package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/maloquacious/libcashier/internal/schema"
)

// LendBook opens a loan for a product in the Books category. A book can be
// lent while fewer loans are outstanding than copies in stock.
func (l *Ledger) LendBook(ctx context.Context, req LoanRequest) (*BookLoan, error) {
	name := strings.TrimSpace(req.BorrowerName)
	if name == "" {
		return nil, fmt.Errorf("%w: borrower name is required", ErrInvalid)
	}
	if req.BorrowDate.IsZero() || req.DueDate.IsZero() {
		return nil, fmt.Errorf("%w: borrow and due dates are required", ErrInvalid)
	}
	if req.DueDate.Before(req.BorrowDate) {
		return nil, fmt.Errorf("%w: due date precedes borrow date", ErrInvalid)
	}

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	book, err := getProduct(ctx, tx, req.BookID)
	if err != nil {
		return nil, err
	}
	if !book.IsBook() {
		return nil, fmt.Errorf("product %d (%s): %w", book.ID, book.Category.String, ErrNotABook)
	}

	out, err := outstandingLoans(ctx, tx, book.ID)
	if err != nil {
		return nil, err
	}
	if out >= book.Quantity {
		return nil, fmt.Errorf("product %d: %d of %d lent: %w", book.ID, out, book.Quantity, ErrNoCopies)
	}

	loan := &BookLoan{
		BookID:             book.ID,
		BorrowerName:       name,
		BorrowerPhone:      NullString(req.BorrowerPhone),
		BorrowDate:         FormatDate(req.BorrowDate),
		ReturnDateExpected: FormatDate(req.DueDate),
		Status:             StatusBorrowed,
	}
	insert := insertInto(schema.TableBookLoans,
		schema.ColLoanBookID, schema.ColLoanBorrowerName, schema.ColLoanBorrowerPhone, schema.ColLoanBorrowDate,
		schema.ColLoanReturnExpected, schema.ColLoanReturnActual, schema.ColLoanStatus)
	res, err := tx.NamedExecContext(ctx, insert, loan)
	if err != nil {
		return nil, fmt.Errorf("failed to create loan: %w", err)
	}
	if loan.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("failed to read loan id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit loan: %w", err)
	}
	l.log.Info("lent book %d to %q until %s (loan %d)", book.ID, name, loan.ReturnDateExpected, loan.ID)
	return loan, nil
}

func outstandingLoans(ctx context.Context, q sqlx.QueryerContext, bookID int64) (int, error) {
	var out int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ? AND %s IS NULL",
		schema.TableBookLoans, schema.ColLoanBookID, schema.ColLoanReturnActual)
	if err := sqlx.GetContext(ctx, q, &out, query, bookID); err != nil {
		return 0, fmt.Errorf("failed to count outstanding loans: %w", err)
	}
	return out, nil
}

// ReturnBook closes an outstanding loan. The return date may not precede
// the borrow date.
func (l *Ledger) ReturnBook(ctx context.Context, loanID int64, when time.Time) (*BookLoan, error) {
	if when.IsZero() {
		return nil, fmt.Errorf("%w: return date is required", ErrInvalid)
	}
	returned := FormatDate(when)

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	loan, err := getLoan(ctx, tx, loanID)
	if err != nil {
		return nil, err
	}
	if !loan.Outstanding() {
		return nil, fmt.Errorf("loan %d returned %s: %w", loan.ID, loan.ReturnDateActual.String, ErrLoanClosed)
	}

	// DateLayout text orders chronologically.
	if returned < loan.BorrowDate {
		return nil, fmt.Errorf("%w: return %s precedes borrow %s", ErrInvalid, returned, loan.BorrowDate)
	}

	loan.ReturnDateActual = sql.NullString{String: returned, Valid: true}
	loan.Status = StatusReturned
	q := fmt.Sprintf("UPDATE %s SET %s = :%s, %s = :%s WHERE %s = :%s",
		schema.TableBookLoans,
		schema.ColLoanReturnActual, schema.ColLoanReturnActual,
		schema.ColLoanStatus, schema.ColLoanStatus,
		schema.ColLoanID, schema.ColLoanID)
	if _, err := tx.NamedExecContext(ctx, q, loan); err != nil {
		return nil, fmt.Errorf("failed to close loan: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit return: %w", err)
	}
	l.log.Info("loan %d returned", loan.ID)
	return loan, nil
}

// GetLoan retrieves a loan by its ID.
func (l *Ledger) GetLoan(ctx context.Context, id int64) (*BookLoan, error) {
	return getLoan(ctx, l.db, id)
}

func getLoan(ctx context.Context, q sqlx.QueryerContext, id int64) (*BookLoan, error) {
	var loan BookLoan
	query := selectFrom(schema.TableBookLoans) + " WHERE " + schema.ColLoanID + " = ?"
	if err := sqlx.GetContext(ctx, q, &loan, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("loan %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find loan: %w", err)
	}
	return &loan, nil
}

// ListLoans returns loans in ID order; outstandingOnly skips returned ones.
func (l *Ledger) ListLoans(ctx context.Context, outstandingOnly bool) ([]BookLoan, error) {
	query := selectFrom(schema.TableBookLoans)
	if outstandingOnly {
		query += " WHERE " + schema.ColLoanReturnActual + " IS NULL"
	}
	query += " ORDER BY " + schema.ColLoanID

	loans := []BookLoan{}
	if err := l.db.SelectContext(ctx, &loans, query); err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	return loans, nil
}

// OverdueLoans returns outstanding loans whose expected return is before asOf.
// Dates compare as text, which orders correctly in DateLayout.
func (l *Ledger) OverdueLoans(ctx context.Context, asOf time.Time) ([]BookLoan, error) {
	query := selectFrom(schema.TableBookLoans) +
		" WHERE " + schema.ColLoanReturnActual + " IS NULL AND " + schema.ColLoanReturnExpected + " < ?" +
		" ORDER BY " + schema.ColLoanReturnExpected + ", " + schema.ColLoanID

	loans := []BookLoan{}
	if err := l.db.SelectContext(ctx, &loans, query, FormatDate(asOf)); err != nil {
		return nil, fmt.Errorf("failed to list overdue loans: %w", err)
	}
	return loans, nil
}

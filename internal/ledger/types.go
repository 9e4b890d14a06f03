package ledger

import (
	"database/sql"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalid           = errors.New("invalid input")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrNotABook          = errors.New("product is not a book")
	ErrNoCopies          = errors.New("no copies available")
	ErrLoanClosed        = errors.New("loan already returned")
	ErrInUse             = errors.New("product is referenced by sales or loans")
)

// DateLayout is the text form of every date column, matching SQLite's datetime().
const DateLayout = "2006-01-02 15:04:05"

// CategoryBooks marks products that can be lent.
const CategoryBooks = "Books"

const (
	StatusBorrowed = "borrowed"
	StatusReturned = "returned"
)

// Product is a row of Products.
type Product struct {
	ID       int64          `db:"product_id"`
	Name     string         `db:"name"`
	Category sql.NullString `db:"category"`
	Price    float64        `db:"price"`
	Quantity int            `db:"quantity"`
	Barcode  sql.NullString `db:"barcode"`
	Notes    sql.NullString `db:"notes"`
}

// IsBook reports whether the product can be lent.
func (p Product) IsBook() bool {
	return p.Category.Valid && strings.EqualFold(strings.TrimSpace(p.Category.String), CategoryBooks)
}

// Sale is a row of Sales with its line items.
type Sale struct {
	ID          int64      `db:"sale_id" json:"id"`
	Date        string     `db:"date" json:"date"`
	TotalAmount float64    `db:"total_amount" json:"totalAmount"`
	Items       []SaleItem `db:"-" json:"items"`
}

// SaleItem is a row of Sale_Items: a product sold at a point-in-time price.
type SaleItem struct {
	ID        int64   `db:"item_id" json:"id"`
	SaleID    int64   `db:"sale_id" json:"saleId"`
	ProductID int64   `db:"product_id" json:"productId"`
	Quantity  int     `db:"quantity" json:"quantity"`
	Price     float64 `db:"price" json:"price"`
}

// BookLoan is a row of Book_Loans. ReturnDateActual stays NULL while the loan is open.
type BookLoan struct {
	ID                 int64          `db:"loan_id"`
	BookID             int64          `db:"book_id"`
	BorrowerName       string         `db:"borrower_name"`
	BorrowerPhone      sql.NullString `db:"borrower_phone"`
	BorrowDate         string         `db:"borrow_date"`
	ReturnDateExpected string         `db:"return_date_expected"`
	ReturnDateActual   sql.NullString `db:"return_date_actual"`
	Status             string         `db:"status"`
}

// Outstanding reports whether the book has not been returned.
func (l BookLoan) Outstanding() bool {
	return !l.ReturnDateActual.Valid
}

// SaleLine requests quantity units of a product in a sale.
type SaleLine struct {
	ProductID int64
	Quantity  int
}

// LoanRequest describes a new loan.
type LoanRequest struct {
	BookID        int64
	BorrowerName  string
	BorrowerPhone string
	BorrowDate    time.Time
	DueDate       time.Time
}

// FormatDate renders t in DateLayout (UTC).
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// NullString returns a NULL for blank strings.
func NullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}

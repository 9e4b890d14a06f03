// Package schema defines the cashier database layout: table and column
// identifiers, the DDL built from them, and the create/upgrade callbacks a
// storage driver invokes when it opens the database file.
//
// Code outside this package refers to tables and columns only through these
// constants so that queries cannot drift from the DDL.
package schema

import "github.com/maloquacious/libcashier/internal/store"

const (
	// DatabaseName is the fixed file name of the cashier database.
	DatabaseName = store.DefaultDBFile

	// Version is the declared schema version. Raising it makes the next
	// open drop every table and recreate the schema.
	Version = 1
)

const (
	TableProducts  = "Products"
	TableSales     = "Sales"
	TableSaleItems = "Sale_Items"
	TableBookLoans = "Book_Loans"
)

// Products columns.
const (
	ColProductID       = "product_id"
	ColProductName     = "name"
	ColProductCategory = "category"
	ColProductPrice    = "price"
	ColProductQuantity = "quantity"
	ColProductBarcode  = "barcode"
	ColProductNotes    = "notes"
)

// Sales columns.
const (
	ColSaleID    = "sale_id"
	ColSaleDate  = "date"
	ColSaleTotal = "total_amount"
)

// Sale_Items columns. The sale and product references reuse the parent key names.
const (
	ColItemID        = "item_id"
	ColItemSaleID    = ColSaleID
	ColItemProductID = ColProductID
	ColItemQuantity  = "quantity"
	ColItemPrice     = "price"
)

// Book_Loans columns.
const (
	ColLoanID             = "loan_id"
	ColLoanBookID         = "book_id"
	ColLoanBorrowerName   = "borrower_name"
	ColLoanBorrowerPhone  = "borrower_phone"
	ColLoanBorrowDate     = "borrow_date"
	ColLoanReturnExpected = "return_date_expected"
	ColLoanReturnActual   = "return_date_actual"
	ColLoanStatus         = "status"
)

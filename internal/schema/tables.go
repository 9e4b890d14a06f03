package schema

import (
	"fmt"
	"strings"
)

// Column declares one column of a table.
type Column struct {
	Name       string
	Type       string // SQLite declared type
	NotNull    bool
	PrimaryKey bool // INTEGER PRIMARY KEY AUTOINCREMENT
}

// ForeignKey declares a reference from a child column to a parent key.
type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
}

// Table declares a table, its columns in order and its foreign keys.
type Table struct {
	Name        string
	Columns     []Column
	ForeignKeys []ForeignKey
}

// tables is in creation order: parents before children.
var tables = []Table{
	{
		Name: TableProducts,
		Columns: []Column{
			{Name: ColProductID, Type: "INTEGER", PrimaryKey: true},
			{Name: ColProductName, Type: "TEXT", NotNull: true},
			{Name: ColProductCategory, Type: "TEXT"},
			{Name: ColProductPrice, Type: "REAL", NotNull: true},
			{Name: ColProductQuantity, Type: "INTEGER", NotNull: true},
			{Name: ColProductBarcode, Type: "TEXT"},
			{Name: ColProductNotes, Type: "TEXT"},
		},
	},
	{
		Name: TableSales,
		Columns: []Column{
			{Name: ColSaleID, Type: "INTEGER", PrimaryKey: true},
			{Name: ColSaleDate, Type: "TEXT", NotNull: true},
			{Name: ColSaleTotal, Type: "REAL", NotNull: true},
		},
	},
	{
		Name: TableSaleItems,
		Columns: []Column{
			{Name: ColItemID, Type: "INTEGER", PrimaryKey: true},
			{Name: ColItemSaleID, Type: "INTEGER"},
			{Name: ColItemProductID, Type: "INTEGER"},
			{Name: ColItemQuantity, Type: "INTEGER"},
			{Name: ColItemPrice, Type: "REAL"},
		},
		ForeignKeys: []ForeignKey{
			{Column: ColItemSaleID, RefTable: TableSales, RefColumn: ColSaleID},
			{Column: ColItemProductID, RefTable: TableProducts, RefColumn: ColProductID},
		},
	},
	{
		Name: TableBookLoans,
		Columns: []Column{
			{Name: ColLoanID, Type: "INTEGER", PrimaryKey: true},
			{Name: ColLoanBookID, Type: "INTEGER"},
			{Name: ColLoanBorrowerName, Type: "TEXT", NotNull: true},
			{Name: ColLoanBorrowerPhone, Type: "TEXT"},
			{Name: ColLoanBorrowDate, Type: "TEXT", NotNull: true},
			{Name: ColLoanReturnExpected, Type: "TEXT", NotNull: true},
			{Name: ColLoanReturnActual, Type: "TEXT"},
			{Name: ColLoanStatus, Type: "TEXT"},
		},
		ForeignKeys: []ForeignKey{
			{Column: ColLoanBookID, RefTable: TableProducts, RefColumn: ColProductID},
		},
	},
}

// Tables returns the declared tables in creation order.
func Tables() []Table {
	out := make([]Table, len(tables))
	copy(out, tables)
	return out
}

// TableNames returns the table names in creation order.
func TableNames() []string {
	names := make([]string, 0, len(tables))
	for _, t := range tables {
		names = append(names, t.Name)
	}
	return names
}

// Lookup returns the declaration of the named table.
func Lookup(name string) (Table, bool) {
	for _, t := range tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// Columns returns the column names of the named table, or nil if the table is unknown.
func Columns(table string) []string {
	t, ok := Lookup(table)
	if !ok {
		return nil
	}
	return t.ColumnNames()
}

// ColumnNames returns the table's column names in declaration order.
func (t Table) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		names = append(names, c.Name)
	}
	return names
}

// CreateSQL renders the CREATE TABLE statement for t.
func (t Table) CreateSQL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", t.Name)
	lines := make([]string, 0, len(t.Columns)+len(t.ForeignKeys))
	for _, c := range t.Columns {
		def := "    " + c.Name + " " + c.Type
		if c.PrimaryKey {
			def += " PRIMARY KEY AUTOINCREMENT"
		}
		if c.NotNull {
			def += " NOT NULL"
		}
		lines = append(lines, def)
	}
	for _, fk := range t.ForeignKeys {
		lines = append(lines, fmt.Sprintf("    FOREIGN KEY(%s) REFERENCES %s(%s)", fk.Column, fk.RefTable, fk.RefColumn))
	}
	b.WriteString(strings.Join(lines, ",\n"))
	b.WriteString("\n)")
	return b.String()
}

// DropSQL renders the DROP TABLE statement for t.
func (t Table) DropSQL() string {
	return "DROP TABLE IF EXISTS " + t.Name
}

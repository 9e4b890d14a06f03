package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/maloquacious/libcashier/internal/ledger"
	"github.com/spf13/cobra"
)

// withLedger opens the datastore (creating or upgrading the schema as
// needed), runs fn and closes it.
func withLedger(ctx context.Context, fn func(l *ledger.Ledger) error) error {
	s := newStore()
	if err := s.Open(ctx); err != nil {
		return err
	}
	defer s.Close()
	return fn(ledger.New(s.DB(), log))
}

// parseDate accepts RFC 3339, DateLayout or a bare YYYY-MM-DD. Empty means now.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Now().UTC(), nil
	}
	for _, layout := range []string{time.RFC3339, ledger.DateLayout, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// parseLine reads "product_id:quantity"; a bare product id means one unit.
func parseLine(s string) (ledger.SaleLine, error) {
	idPart, qtyPart, hasQty := strings.Cut(s, ":")
	id, err := parseID(idPart)
	if err != nil {
		return ledger.SaleLine{}, err
	}
	qty := 1
	if hasQty {
		if qty, err = strconv.Atoi(qtyPart); err != nil {
			return ledger.SaleLine{}, fmt.Errorf("invalid quantity in %q", s)
		}
	}
	return ledger.SaleLine{ProductID: id, Quantity: qty}, nil
}

func newProductCmd() *cobra.Command {
	productCmd := &cobra.Command{
		Use:   "product",
		Short: "Manage products",
	}

	var p ledger.Product
	var category, barcode, notes string
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add a product",
		RunE: func(cmd *cobra.Command, args []string) error {
			p.Category = ledger.NullString(category)
			p.Barcode = ledger.NullString(barcode)
			p.Notes = ledger.NullString(notes)
			return withLedger(cmd.Context(), func(l *ledger.Ledger) error {
				if err := l.AddProduct(cmd.Context(), &p); err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), productView(p))
			})
		},
	}
	addCmd.Flags().StringVar(&p.Name, "name", "", "product name (required)")
	addCmd.Flags().StringVar(&category, "category", "", "category; use "+ledger.CategoryBooks+" for lendable books")
	addCmd.Flags().Float64Var(&p.Price, "price", 0, "unit price")
	addCmd.Flags().IntVar(&p.Quantity, "quantity", 0, "units in stock")
	addCmd.Flags().StringVar(&barcode, "barcode", "", "barcode")
	addCmd.Flags().StringVar(&notes, "notes", "", "free-form notes")
	_ = addCmd.MarkFlagRequired("name")

	var listCategory string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List products",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(l *ledger.Ledger) error {
				products, err := l.ListProducts(cmd.Context(), listCategory)
				if err != nil {
					return err
				}
				views := make([]map[string]any, 0, len(products))
				for _, p := range products {
					views = append(views, productView(p))
				}
				return writeJSON(cmd.OutOrStdout(), views)
			})
		},
	}
	listCmd.Flags().StringVar(&listCategory, "category", "", "only list this category")

	productCmd.AddCommand(addCmd, listCmd)
	return productCmd
}

func productView(p ledger.Product) map[string]any {
	return map[string]any{
		"id":       p.ID,
		"name":     p.Name,
		"category": p.Category.String,
		"price":    p.Price,
		"quantity": p.Quantity,
		"barcode":  p.Barcode.String,
		"notes":    p.Notes.String,
	}
}

func newSaleCmd() *cobra.Command {
	saleCmd := &cobra.Command{
		Use:   "sale",
		Short: "Record and inspect sales",
	}

	var items []string
	var date string
	recordCmd := &cobra.Command{
		Use:   "record",
		Short: "Record a sale at current prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			when, err := parseDate(date)
			if err != nil {
				return err
			}
			lines := make([]ledger.SaleLine, 0, len(items))
			for _, it := range items {
				line, err := parseLine(it)
				if err != nil {
					return err
				}
				lines = append(lines, line)
			}
			return withLedger(cmd.Context(), func(l *ledger.Ledger) error {
				sale, err := l.RecordSale(cmd.Context(), when, lines)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), sale)
			})
		},
	}
	recordCmd.Flags().StringSliceVar(&items, "item", nil, "product_id[:quantity], repeatable")
	recordCmd.Flags().StringVar(&date, "date", "", "sale date (default now)")

	showCmd := &cobra.Command{
		Use:   "show <sale-id>",
		Short: "Show a sale and its items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withLedger(cmd.Context(), func(l *ledger.Ledger) error {
				sale, err := l.GetSale(cmd.Context(), id)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), sale)
			})
		},
	}

	saleCmd.AddCommand(recordCmd, showCmd)
	return saleCmd
}

func newLoanCmd() *cobra.Command {
	loanCmd := &cobra.Command{
		Use:   "loan",
		Short: "Lend and return books",
	}

	var req ledger.LoanRequest
	var borrowed, due string
	var days int
	lendCmd := &cobra.Command{
		Use:   "lend",
		Short: "Lend a book",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if req.BorrowDate, err = parseDate(borrowed); err != nil {
				return err
			}
			if due != "" {
				if req.DueDate, err = parseDate(due); err != nil {
					return err
				}
			} else {
				req.DueDate = req.BorrowDate.AddDate(0, 0, days)
			}
			return withLedger(cmd.Context(), func(l *ledger.Ledger) error {
				loan, err := l.LendBook(cmd.Context(), req)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), loanView(*loan))
			})
		},
	}
	lendCmd.Flags().Int64Var(&req.BookID, "book", 0, "product id of the book (required)")
	lendCmd.Flags().StringVar(&req.BorrowerName, "borrower", "", "borrower name (required)")
	lendCmd.Flags().StringVar(&req.BorrowerPhone, "phone", "", "borrower phone")
	lendCmd.Flags().StringVar(&borrowed, "date", "", "borrow date (default now)")
	lendCmd.Flags().StringVar(&due, "due", "", "expected return date")
	lendCmd.Flags().IntVar(&days, "days", 14, "loan length when --due is not given")
	_ = lendCmd.MarkFlagRequired("book")
	_ = lendCmd.MarkFlagRequired("borrower")

	var returned string
	returnCmd := &cobra.Command{
		Use:   "return <loan-id>",
		Short: "Close a loan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			when, err := parseDate(returned)
			if err != nil {
				return err
			}
			return withLedger(cmd.Context(), func(l *ledger.Ledger) error {
				loan, err := l.ReturnBook(cmd.Context(), id, when)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), loanView(*loan))
			})
		},
	}
	returnCmd.Flags().StringVar(&returned, "date", "", "return date (default now)")

	var outstanding, overdue bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List loans",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(l *ledger.Ledger) error {
				var loans []ledger.BookLoan
				var err error
				if overdue {
					loans, err = l.OverdueLoans(cmd.Context(), time.Now())
				} else {
					loans, err = l.ListLoans(cmd.Context(), outstanding)
				}
				if err != nil {
					return err
				}
				views := make([]map[string]any, 0, len(loans))
				for _, loan := range loans {
					views = append(views, loanView(loan))
				}
				return writeJSON(cmd.OutOrStdout(), views)
			})
		},
	}
	listCmd.Flags().BoolVar(&outstanding, "outstanding", false, "only loans not yet returned")
	listCmd.Flags().BoolVar(&overdue, "overdue", false, "only outstanding loans past their expected return")

	loanCmd.AddCommand(lendCmd, returnCmd, listCmd)
	return loanCmd
}

func loanView(l ledger.BookLoan) map[string]any {
	v := map[string]any{
		"id":                 l.ID,
		"bookId":             l.BookID,
		"borrowerName":       l.BorrowerName,
		"borrowerPhone":      l.BorrowerPhone.String,
		"borrowDate":         l.BorrowDate,
		"returnDateExpected": l.ReturnDateExpected,
		"returnDateActual":   nil,
		"status":             l.Status,
	}
	if l.ReturnDateActual.Valid {
		v["returnDateActual"] = l.ReturnDateActual.String
	}
	return v
}

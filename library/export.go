package library

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	sheetTransactions = "Transactions"
	sheetBooks        = "Books"
	exportTimeLayout  = "2006-01-02 15:04"
)

var transactionHeaders = []string{
	"ID", "Type", "Status", "Book", "ISBN", "Member ID", "Member", "Employee Code",
	"Checked Out", "Due", "Returned", "Condition", "Fine", "Condition Fee", "Notes",
}

var bookHeaders = []string{
	"ID", "UUID", "ISBN", "Title", "Author", "Publisher", "Location",
	"Status", "Copies Total", "Copies Available",
}

// ExportWorkbook writes the loan ledger and the catalogue to w as an .xlsx
// workbook with one sheet each.
func (lm *LibraryManager) ExportWorkbook(ctx context.Context, w io.Writer) error {
	txns, err := lm.db.ListTransactions(ctx, TransactionFilter{})
	if err != nil {
		return err
	}
	books, _, err := lm.db.ListBooks(ctx, BookFilter{})
	if err != nil {
		return err
	}
	byID := make(map[int64]*Book, len(books))
	for _, b := range books {
		byID[b.ID] = b
	}
	members := newMemberCache(lm.db)

	f := excelize.NewFile()
	defer f.Close()

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	if err := f.SetSheetName("Sheet1", sheetTransactions); err != nil {
		return err
	}
	if err := writeHeader(f, sheetTransactions, transactionHeaders, header); err != nil {
		return err
	}
	for i, t := range txns {
		b := byID[t.BookID]
		m, err := members.get(ctx, t.MemberID)
		if err != nil {
			return err
		}
		row := []any{
			t.ID, string(t.TransactionType), string(t.Status),
			bookTitle(b), bookISBN(b), m.MemberID, m.FullName(), m.EmployeeCode,
			t.TransactionDate.Format(exportTimeLayout), t.DueDate.Format(exportTimeLayout),
			formatOptionalTime(t), conditionOf(t),
			t.FineAmount.InexactFloat64(), t.ConditionFee.InexactFloat64(), t.Notes,
		}
		if err := writeRow(f, sheetTransactions, i+2, row); err != nil {
			return err
		}
	}

	if _, err := f.NewSheet(sheetBooks); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	if err := writeHeader(f, sheetBooks, bookHeaders, header); err != nil {
		return err
	}
	for i, b := range books {
		row := []any{
			b.ID, b.UUID, bookISBN(b), b.Title, b.Author, b.Publisher, b.Location,
			string(b.Status), b.CopiesTotal, b.CopiesAvailable,
		}
		if err := writeRow(f, sheetBooks, i+2, row); err != nil {
			return err
		}
	}

	for _, sheet := range []string{sheetTransactions, sheetBooks} {
		if err := f.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		}); err != nil {
			return fmt.Errorf("freeze panes: %w", err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string, headers []string, style int) error {
	for col, h := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return err
		}
	}
	last, err := excelize.ColumnNumberToName(len(headers))
	if err != nil {
		return err
	}
	return f.SetColWidth(sheet, "A", last, 18)
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	for col, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("set %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}

func bookTitle(b *Book) string {
	if b == nil {
		return ""
	}
	return b.Title
}

func bookISBN(b *Book) string {
	if b == nil {
		return ""
	}
	return derefString(b.ISBN)
}

func formatOptionalTime(t *Transaction) string {
	if t.ReturnDate == nil {
		return ""
	}
	return t.ReturnDate.Format(exportTimeLayout)
}

func conditionOf(t *Transaction) string {
	if t.ReturnCondition == nil {
		return ""
	}
	return string(*t.ReturnCondition)
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-circulation/library"
)

func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive circulation desk",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.close()
			interactive := term.IsTerminal(int(os.Stdin.Fd()))
			return runShell(cmd.Context(), a.mgr, os.Stdin, os.Stdout, interactive)
		},
	}
}

// desk is one shell session.
type desk struct {
	ctx context.Context
	mgr *library.LibraryManager
	sc  *bufio.Scanner
	out io.Writer
}

func runShell(ctx context.Context, mgr *library.LibraryManager, in io.Reader, out io.Writer, interactive bool) error {
	d := &desk{ctx: ctx, mgr: mgr, sc: bufio.NewScanner(in), out: out}

	if interactive {
		d.printf("Welcome to the Library Circulation Desk!\n")
		d.printf("Available commands:\n")
		d.printf("  Books: add book, list books, search book, lookup isbn\n")
		d.printf("  Members: add member, list members, loans\n")
		d.printf("  Circulation: checkout, checkin, status, recent\n")
		d.printf("  System: exit\n")
	}

	for {
		if interactive {
			d.printf("\n> ")
		}
		if !d.sc.Scan() {
			return d.sc.Err()
		}
		switch strings.TrimSpace(d.sc.Text()) {
		case "":
		case "add book":
			d.addBook()
		case "list books":
			d.listBooks("")
		case "search book":
			if q, ok := d.prompt("Search: "); ok {
				d.listBooks(q)
			}
		case "lookup isbn":
			d.lookupISBN()
		case "add member":
			d.addMember()
		case "list members":
			d.listMembers()
		case "loans":
			d.loans()
		case "checkout":
			d.checkout()
		case "checkin", "return":
			d.checkin()
		case "status":
			d.status()
		case "recent":
			d.recent()
		case "exit", "quit":
			d.printf("Goodbye!\n")
			return nil
		default:
			d.printf("Unknown command. Type one of the available commands listed above.\n")
		}
	}
}

func (d *desk) printf(format string, args ...any) {
	fmt.Fprintf(d.out, format, args...)
}

func (d *desk) prompt(label string) (string, bool) {
	d.printf("%s", label)
	if !d.sc.Scan() {
		return "", false
	}
	return strings.TrimSpace(d.sc.Text()), true
}

func (d *desk) promptID(label string) (int64, bool) {
	raw, ok := d.prompt(label)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		d.printf("Invalid ID: %s\n", raw)
		return 0, false
	}
	return id, true
}

func (d *desk) addBook() {
	var in library.BookInput
	fields := []struct {
		label string
		dst   *string
	}{
		{"ISBN (optional): ", &in.ISBN},
		{"Title: ", &in.Title},
		{"Author: ", &in.Author},
		{"Location (optional): ", &in.Location},
	}
	for _, f := range fields {
		v, ok := d.prompt(f.label)
		if !ok {
			return
		}
		*f.dst = v
	}
	copies, ok := d.prompt("Copies [1]: ")
	if !ok {
		return
	}
	if copies != "" {
		n, err := strconv.Atoi(copies)
		if err != nil {
			d.printf("Invalid number of copies: %s\n", copies)
			return
		}
		in.CopiesTotal = n
	}

	book, merged, err := d.mgr.AddBook(d.ctx, in)
	if err != nil {
		d.printf("Error adding book: %v\n", err)
		return
	}
	if merged {
		d.printf("Added copies to book ID %d. Total copies: %d\n", book.ID, book.CopiesTotal)
		return
	}
	d.printf("Added book ID %d (%s)\n", book.ID, book.UUID)
}

func (d *desk) listBooks(search string) {
	page, err := d.mgr.ListBooks(d.ctx, library.BookFilter{Search: search})
	if err != nil {
		d.printf("Error: %v\n", err)
		return
	}
	if len(page.Books) == 0 {
		d.printf("No books found.\n")
		return
	}
	d.printf("%-5s %-30s %-25s %-10s %s\n", "ID", "Title", "Author", "Status", "Available")
	d.printf("%s\n", strings.Repeat("-", 85))
	for _, b := range page.Books {
		d.printf("%-5d %-30s %-25s %-10s %d/%d\n", b.ID, truncate(b.Title, 30), truncate(b.Author, 25),
			b.Status, b.CopiesAvailable, b.CopiesTotal)
	}
}

func (d *desk) lookupISBN() {
	isbn, ok := d.prompt("ISBN: ")
	if !ok {
		return
	}
	info, err := d.mgr.LookupISBN(d.ctx, isbn)
	if err != nil {
		d.printf("Error: %v\n", err)
		return
	}
	d.printf("%s by %s (%s)\n", info.Title, info.Author, info.Source)
	if info.ExistingBook != nil {
		d.printf("Already catalogued as ID %d with %d copies.\n", info.ExistingBook.ID, info.ExistingBook.CopiesTotal)
	}
}

func (d *desk) addMember() {
	var in library.MemberInput
	fields := []struct {
		label string
		dst   *string
	}{
		{"First name: ", &in.FirstName},
		{"Last name: ", &in.LastName},
		{"Employee code: ", &in.EmployeeCode},
		{"Email (optional): ", &in.Email},
		{"Department (optional): ", &in.Department},
	}
	for _, f := range fields {
		v, ok := d.prompt(f.label)
		if !ok {
			return
		}
		*f.dst = v
	}
	m, err := d.mgr.AddMember(d.ctx, in)
	if err != nil {
		d.printf("Error: %v\n", err)
		return
	}
	d.printf("Added member '%s' with ID %d (%s)\n", m.FullName(), m.ID, m.MemberID)
}

func (d *desk) listMembers() {
	members, err := d.mgr.ListMembers(d.ctx, library.MemberFilter{})
	if err != nil {
		d.printf("Error: %v\n", err)
		return
	}
	if len(members) == 0 {
		d.printf("No members registered.\n")
		return
	}
	d.printf("%-5s %-18s %-25s %-12s %s\n", "ID", "Member", "Name", "Code", "Status")
	d.printf("%s\n", strings.Repeat("-", 75))
	for _, m := range members {
		d.printf("%-5d %-18s %-25s %-12s %s\n", m.ID, m.MemberID, truncate(m.FullName(), 25), m.EmployeeCode, m.Status)
	}
}

func (d *desk) loans() {
	id, ok := d.promptID("Member ID: ")
	if !ok {
		return
	}
	loans, err := d.mgr.ActiveLoans(d.ctx, id)
	if err != nil {
		d.printf("Error: %v\n", err)
		return
	}
	if len(loans) == 0 {
		d.printf("No active loans.\n")
		return
	}
	for _, l := range loans {
		flag := ""
		if l.IsOverdue {
			flag = " OVERDUE"
		}
		d.printf("  %s, due %s%s\n", l.Book.Title, l.DueDate.Format("2006-01-02"), flag)
	}
}

func (d *desk) checkout() {
	uuid, ok := d.prompt("Book UUID: ")
	if !ok {
		return
	}
	memberID, ok := d.promptID("Member ID: ")
	if !ok {
		return
	}
	res, err := d.mgr.Checkout(d.ctx, library.CheckoutRequest{BookUUID: uuid, MemberID: memberID})
	if err != nil {
		d.printf("Error: %v\n", err)
		return
	}
	d.printf("Checked out '%s' to %s, due %s\n", res.Book.Title, res.Member.FullName(), res.DueDate.Format("2006-01-02"))
}

func (d *desk) checkin() {
	uuid, ok := d.prompt("Book UUID: ")
	if !ok {
		return
	}
	cond, ok := d.prompt("Condition [good]: ")
	if !ok {
		return
	}
	req := library.CheckinRequest{BookUUID: uuid, Condition: library.Condition(strings.ToLower(cond))}
	if req.Condition == library.ConditionDamaged || req.Condition == library.ConditionLost {
		if req.ConditionFee, ok = d.prompt("Fee (blank for default): "); !ok {
			return
		}
		if req.ConditionNotes, ok = d.prompt("Notes: "); !ok {
			return
		}
	}
	res, err := d.mgr.Checkin(d.ctx, req)
	if err != nil {
		d.printf("Error: %v\n", err)
		return
	}
	d.printf("Checked in '%s' from %s\n", res.Book.Title, res.Member.FullName())
	if res.WasOverdue {
		d.printf("Overdue fine: %s\n", res.FineAmount.StringFixed(2))
	}
	if res.ConditionFee.IsPositive() {
		d.printf("Condition fee: %s\n", res.ConditionFee.StringFixed(2))
	}
}

func (d *desk) status() {
	uuid, ok := d.prompt("Book UUID: ")
	if !ok {
		return
	}
	st, err := d.mgr.CirculationStatus(d.ctx, uuid)
	if err != nil {
		d.printf("Error: %v\n", err)
		return
	}
	d.printf("%s: %d of %d available\n", st.Book.Title, st.Book.CopiesAvailable, st.Book.CopiesTotal)
	for _, l := range st.ActiveTransactions {
		d.printf("  on loan to %s, due %s\n", l.Member.FullName(), l.DueDate.Format("2006-01-02"))
	}
}

func (d *desk) recent() {
	recent, err := d.mgr.RecentTransactions(d.ctx, library.DefaultRecentLimit)
	if err != nil {
		d.printf("Error: %v\n", err)
		return
	}
	for _, r := range recent {
		d.printf("%s  %-10s %-30s %s\n", r.DisplayDate.Format("2006-01-02 15:04"), r.DisplayType,
			truncate(r.Book.Title, 30), r.Member.FullName())
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

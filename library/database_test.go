package library

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testClock is a manually advanced Clock.
type testClock struct{ now time.Time }

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func tempDB(t *testing.T) *Database {
	t.Helper()
	dir := t.TempDir()
	db, err := NewDatabase(DriverSQLite, filepath.Join(dir, "test.db"), PoolConfig{})
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lib.db")
	for i := 0; i < 2; i++ {
		db, err := NewDatabase(DriverSQLite, path, PoolConfig{})
		require.NoError(t, err)
		var version string
		require.NoError(t, db.db.Get(&version, `SELECT value FROM meta WHERE key='schema_version'`))
		assert.Equal(t, "1", version)
		require.NoError(t, db.Close())
	}
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := NewDatabase("oracle", "x", PoolConfig{})
	assert.ErrorContains(t, err, "unsupported driver")
}

func TestBookRoundTrip(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	now := newTestClock().Now()
	isbn := "9780306406157"
	pages := 320

	b := &Book{
		UUID: "b-1", ISBN: &isbn, Title: "Dune", Author: "Frank Herbert",
		Language: "en", Pages: &pages, Status: BookAvailable,
		CopiesTotal: 2, CopiesAvailable: 2, AddedDate: now, LastUpdated: now,
	}
	require.NoError(t, db.WithTx(ctx, func(tx Tx) error { return tx.InsertBook(ctx, b) }))
	require.NotZero(t, b.ID)

	got, err := db.BookByUUID(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, "Dune", got.Title)
	require.NotNil(t, got.ISBN)
	assert.Equal(t, isbn, *got.ISBN)
	require.NotNil(t, got.Pages)
	assert.Equal(t, 320, *got.Pages)
	assert.True(t, got.AddedDate.Equal(now))
	assert.Nil(t, got.PublicationDate)

	byISBN, err := db.BookByISBN(ctx, isbn)
	require.NoError(t, err)
	assert.Equal(t, b.ID, byISBN.ID)

	_, err = db.BookByUUID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertBookDuplicateISBN(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	isbn := "0306406152"
	mk := func(id string) *Book {
		return &Book{UUID: id, ISBN: &isbn, Title: "T", Author: "A", Status: BookAvailable,
			CopiesTotal: 1, CopiesAvailable: 1, AddedDate: now, LastUpdated: now}
	}
	require.NoError(t, db.WithTx(ctx, func(tx Tx) error { return tx.InsertBook(ctx, mk("a")) }))
	err := db.WithTx(ctx, func(tx Tx) error { return tx.InsertBook(ctx, mk("b")) })
	assert.ErrorIs(t, err, ErrConflict)
}

func TestUpdateInventoryCompareAndSwap(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	b := &Book{UUID: "cas", Title: "T", Author: "A", Status: BookAvailable,
		CopiesTotal: 2, CopiesAvailable: 2, AddedDate: now, LastUpdated: now}
	require.NoError(t, db.WithTx(ctx, func(tx Tx) error { return tx.InsertBook(ctx, b) }))

	stale := Inventory{Total: 2, Available: 1}
	b.CopiesAvailable = 0
	err := db.WithTx(ctx, func(tx Tx) error { return tx.UpdateInventory(ctx, b, stale) })
	assert.ErrorIs(t, err, ErrConflict)

	b.CopiesAvailable = 3
	err = db.WithTx(ctx, func(tx Tx) error { return tx.UpdateInventory(ctx, b, Inventory{Total: 2, Available: 2}) })
	assert.ErrorIs(t, err, ErrInventoryInconsistent)

	got, err := db.BookByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CopiesAvailable)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	boom := errors.New("boom")

	err := db.WithTx(ctx, func(tx Tx) error {
		b := &Book{UUID: "rb", Title: "T", Author: "A", Status: BookAvailable,
			CopiesTotal: 1, CopiesAvailable: 1, AddedDate: now, LastUpdated: now}
		if err := tx.InsertBook(ctx, b); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = db.BookByUUID(ctx, "rb")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListBooksSearchAndPaging(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	titles := []string{"Go in Action", "The Go Programming Language", "Rust Book", "Learning Go"}
	require.NoError(t, db.WithTx(ctx, func(tx Tx) error {
		for i, title := range titles {
			b := &Book{UUID: string(rune('a' + i)), Title: title, Author: "Someone", Status: BookAvailable,
				CopiesTotal: 1, CopiesAvailable: 1, AddedDate: now, LastUpdated: now}
			if err := tx.InsertBook(ctx, b); err != nil {
				return err
			}
		}
		return nil
	}))

	books, total, err := db.ListBooks(ctx, BookFilter{Search: "go", Page: 1, PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, books, 2)

	books, _, err = db.ListBooks(ctx, BookFilter{Search: "go", Page: 2, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "Learning Go", books[0].Title)
}

func TestLoanCountsOnlyOpenBorrows(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	now := newTestClock().Now()
	b := &Book{UUID: "cnt", Title: "T", Author: "A", Status: BookAvailable,
		CopiesTotal: 3, CopiesAvailable: 3, AddedDate: now, LastUpdated: now}
	m := &Member{MemberID: "LIB1", FirstName: "Ada", LastName: "Lovelace", EmployeeCode: "E-1",
		MembershipDate: now, MembershipType: MembershipRegular, Status: MemberActive, MaxBooks: 5}
	require.NoError(t, db.WithTx(ctx, func(tx Tx) error {
		if err := tx.InsertBook(ctx, b); err != nil {
			return err
		}
		if err := tx.InsertMember(ctx, m); err != nil {
			return err
		}
		for _, st := range []TransactionStatus{TransactionActive, TransactionCompleted} {
			txn := &Transaction{BookID: b.ID, MemberID: m.ID, TransactionType: TransactionBorrow,
				TransactionDate: now, DueDate: now.AddDate(0, 0, 14), Status: st}
			if err := tx.InsertTransaction(ctx, txn); err != nil {
				return err
			}
		}
		return nil
	}))
	_, err := db.db.Exec(`INSERT INTO transactions (book_id, member_id, transaction_type, transaction_date, due_date, status)
		VALUES (?, ?, 'renewal', ?, ?, 'active')`, b.ID, m.ID, now, now)
	require.NoError(t, err)

	n, err := db.ActiveLoanCount(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = db.CountActiveLoans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = db.CountMembers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// ---------------------------------------------------------------------------
// sqlmock: failures inside a unit of work must roll it back
// ---------------------------------------------------------------------------

var (
	mockBookCols   = []string{"id", "uuid", "title", "author", "status", "copies_total", "copies_available", "added_date", "last_updated"}
	mockMemberCols = []string{"id", "member_id", "first_name", "last_name", "employee_code", "membership_date", "membership_type", "status", "max_books"}
)

func mockCirculation(t *testing.T) (*Circulation, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	db := NewDatabaseFromDB(mockDB, DriverSQLite)
	return NewCirculation(db, newTestClock(), DefaultPolicy(), zap.NewNop()), mock
}

func expectCheckoutReads(mock sqlmock.Sqlmock, now time.Time) {
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM .books.").
		WillReturnRows(sqlmock.NewRows(mockBookCols).AddRow(1, "u-1", "Dune", "Herbert", "available", 1, 1, now, now))
	mock.ExpectQuery("SELECT \\* FROM .members.").
		WillReturnRows(sqlmock.NewRows(mockMemberCols).AddRow(7, "LIB1", "Ada", "Lovelace", "E-1", now, "regular", "active", 5))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM .transactions.").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
}

func TestCheckoutRollsBackWhenInsertFails(t *testing.T) {
	circ, mock := mockCirculation(t)
	now := newTestClock().Now()

	expectCheckoutReads(mock, now)
	mock.ExpectExec("INSERT INTO .transactions.").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := circ.Checkout(context.Background(), CheckoutRequest{BookUUID: "u-1", MemberID: 7})
	require.Error(t, err)
	assert.ErrorContains(t, err, "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutRollsBackOnConcurrentInventoryChange(t *testing.T) {
	circ, mock := mockCirculation(t)
	now := newTestClock().Now()

	expectCheckoutReads(mock, now)
	mock.ExpectExec("INSERT INTO .transactions.").WillReturnResult(sqlmock.NewResult(10, 1))
	mock.ExpectExec("UPDATE .books.").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := circ.Checkout(context.Background(), CheckoutRequest{BookUUID: "u-1", MemberID: 7})
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutCommits(t *testing.T) {
	circ, mock := mockCirculation(t)
	now := newTestClock().Now()

	expectCheckoutReads(mock, now)
	mock.ExpectExec("INSERT INTO .transactions.").WillReturnResult(sqlmock.NewResult(10, 1))
	mock.ExpectExec("UPDATE .books.").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := circ.Checkout(context.Background(), CheckoutRequest{BookUUID: "u-1", MemberID: 7})
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Transaction.ID)
	assert.Equal(t, 0, res.Book.CopiesAvailable)
	assert.Equal(t, BookBorrowed, res.Book.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

const (
	tableBooks        = "books"
	tableMembers      = "members"
	tableTransactions = "transactions"
)

// BookFilter narrows a catalogue listing. Page is 1-based; PerPage 0 means all.
type BookFilter struct {
	Search  string
	Status  BookStatus
	Page    int
	PerPage int
}

// MemberFilter narrows a member listing.
type MemberFilter struct {
	Search string
	Status MemberStatus
}

// TransactionFilter narrows a transaction listing. Zero values match everything.
type TransactionFilter struct {
	Type     TransactionType
	Status   TransactionStatus
	BookID   int64
	MemberID int64
	Limit    int
}

// Queries is the read side of the store.
type Queries interface {
	BookByID(ctx context.Context, id int64) (*Book, error)
	BookByUUID(ctx context.Context, uuid string) (*Book, error)
	BookByISBN(ctx context.Context, isbn string) (*Book, error)
	ListBooks(ctx context.Context, f BookFilter) ([]*Book, int, error)

	MemberByID(ctx context.Context, id int64) (*Member, error)
	MemberByMemberID(ctx context.Context, memberID string) (*Member, error)
	MemberByEmployeeCode(ctx context.Context, code string) (*Member, error)
	MemberByEmail(ctx context.Context, email string) (*Member, error)
	ListMembers(ctx context.Context, f MemberFilter) ([]*Member, error)
	CountMembers(ctx context.Context) (int, error)

	TransactionByID(ctx context.Context, id int64) (*Transaction, error)
	ActiveLoanCount(ctx context.Context, memberID int64) (int, error)
	CountActiveLoans(ctx context.Context) (int, error)
	FindActiveTransaction(ctx context.Context, bookID int64, memberID *int64) (*Transaction, error)
	ListTransactions(ctx context.Context, f TransactionFilter) ([]*Transaction, error)
}

// Mutations is the write side of the store, only reachable inside WithTx.
type Mutations interface {
	InsertBook(ctx context.Context, b *Book) error
	UpdateBook(ctx context.Context, b *Book) error
	UpdateInventory(ctx context.Context, b *Book, prev Inventory) error
	DeleteBook(ctx context.Context, id int64) error

	InsertMember(ctx context.Context, m *Member) error
	UpdateMember(ctx context.Context, m *Member) error
	DeleteMember(ctx context.Context, id int64) error

	InsertTransaction(ctx context.Context, t *Transaction) error
	CompleteTransaction(ctx context.Context, t *Transaction) error
}

// queries implements Queries and Mutations over either a pool or a transaction.
type queries struct {
	ext    sqlx.ExtContext
	d      goqu.DialectWrapper
	driver string
	lock   bool
}

func newQueries(ext sqlx.ExtContext, driver string, lock bool) queries {
	return queries{ext: ext, d: dialect(driver), driver: driver, lock: lock}
}

type sqlBuilder interface {
	ToSQL() (string, []interface{}, error)
}

func (q queries) get(ctx context.Context, dest any, ds *goqu.SelectDataset) error {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return sqlx.GetContext(ctx, q.ext, dest, query, args...)
}

func (q queries) list(ctx context.Context, dest any, ds *goqu.SelectDataset) error {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return sqlx.SelectContext(ctx, q.ext, dest, query, args...)
}

func (q queries) exec(ctx context.Context, b sqlBuilder) (sql.Result, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build statement: %w", err)
	}
	return q.ext.ExecContext(ctx, query, args...)
}

// insert adds a row and returns its generated id.
func (q queries) insert(ctx context.Context, table string, rec goqu.Record) (int64, error) {
	ds := q.d.Insert(table).Rows(rec).Prepared(true)
	if q.driver == DriverPostgres {
		query, args, err := ds.Returning("id").ToSQL()
		if err != nil {
			return 0, fmt.Errorf("build insert: %w", err)
		}
		var id int64
		if err := q.ext.QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}
	res, err := q.exec(ctx, ds)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// forUpdate locks the selected rows when running inside a PostgreSQL transaction.
func (q queries) forUpdate(ds *goqu.SelectDataset) *goqu.SelectDataset {
	if q.lock {
		return ds.ForUpdate(exp.Wait)
	}
	return ds
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

// ---------------------------------------------------------------------------
// Books
// ---------------------------------------------------------------------------

func (q queries) bookWhere(ctx context.Context, what string, cond exp.Expression) (*Book, error) {
	var b Book
	ds := q.forUpdate(q.d.From(tableBooks).Where(cond).Limit(1))
	if err := q.get(ctx, &b, ds); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("book %s", what)
		}
		return nil, fmt.Errorf("get book: %w", err)
	}
	return &b, nil
}

func (q queries) BookByID(ctx context.Context, id int64) (*Book, error) {
	return q.bookWhere(ctx, fmt.Sprint(id), goqu.C("id").Eq(id))
}

func (q queries) BookByUUID(ctx context.Context, uuid string) (*Book, error) {
	return q.bookWhere(ctx, uuid, goqu.C("uuid").Eq(uuid))
}

func (q queries) BookByISBN(ctx context.Context, isbn string) (*Book, error) {
	return q.bookWhere(ctx, "isbn "+isbn, goqu.C("isbn").Eq(isbn))
}

func (q queries) ListBooks(ctx context.Context, f BookFilter) ([]*Book, int, error) {
	ds := q.d.From(tableBooks)
	if f.Search != "" {
		like := "%" + f.Search + "%"
		ds = ds.Where(goqu.Or(
			goqu.C("title").ILike(like),
			goqu.C("author").ILike(like),
			goqu.C("isbn").ILike(like),
		))
	}
	if f.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(string(f.Status)))
	}

	var total int
	if err := q.get(ctx, &total, ds.Select(goqu.COUNT("*"))); err != nil {
		return nil, 0, fmt.Errorf("count books: %w", err)
	}

	ds = ds.Order(goqu.C("id").Asc())
	if f.PerPage > 0 {
		page := f.Page
		if page < 1 {
			page = 1
		}
		ds = ds.Limit(uint(f.PerPage)).Offset(uint((page - 1) * f.PerPage))
	}
	books := []*Book{}
	if err := q.list(ctx, &books, ds); err != nil {
		return nil, 0, fmt.Errorf("list books: %w", err)
	}
	return books, total, nil
}

func bookRecord(b *Book) goqu.Record {
	return goqu.Record{
		"uuid":             b.UUID,
		"isbn":             nullable(b.ISBN),
		"title":            b.Title,
		"author":           b.Author,
		"publisher":        b.Publisher,
		"publication_date": nullable(b.PublicationDate),
		"categories":       b.Categories,
		"description":      b.Description,
		"language":         b.Language,
		"pages":            nullable(b.Pages),
		"thumbnail_url":    b.ThumbnailURL,
		"location":         b.Location,
		"status":           string(b.Status),
		"copies_total":     b.CopiesTotal,
		"copies_available": b.CopiesAvailable,
		"added_date":       b.AddedDate,
		"last_updated":     b.LastUpdated,
	}
}

func (q queries) InsertBook(ctx context.Context, b *Book) error {
	if err := CheckInventory(b); err != nil {
		return err
	}
	id, err := q.insert(ctx, tableBooks, bookRecord(b))
	if err != nil {
		if isUniqueViolation(err) {
			return conflict("book with this ISBN or uuid already exists")
		}
		return fmt.Errorf("insert book: %w", err)
	}
	b.ID = id
	return nil
}

// UpdateBook writes catalogue fields. Copy counts only change through UpdateInventory.
func (q queries) UpdateBook(ctx context.Context, b *Book) error {
	rec := bookRecord(b)
	delete(rec, "uuid")
	delete(rec, "added_date")
	delete(rec, "copies_total")
	delete(rec, "copies_available")
	res, err := q.exec(ctx, q.d.Update(tableBooks).Set(rec).Where(goqu.C("id").Eq(b.ID)).Prepared(true))
	if err != nil {
		if isUniqueViolation(err) {
			return conflict("another book already has ISBN %s", derefString(b.ISBN))
		}
		return fmt.Errorf("update book: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("book %d", b.ID)
	}
	return nil
}

// UpdateInventory persists new copy counts and status, provided the stored
// counts still equal prev.
func (q queries) UpdateInventory(ctx context.Context, b *Book, prev Inventory) error {
	if err := CheckInventory(b); err != nil {
		return err
	}
	upd := q.d.Update(tableBooks).
		Set(goqu.Record{
			"copies_total":     b.CopiesTotal,
			"copies_available": b.CopiesAvailable,
			"status":           string(b.Status),
			"last_updated":     b.LastUpdated,
		}).
		Where(
			goqu.C("id").Eq(b.ID),
			goqu.C("copies_total").Eq(prev.Total),
			goqu.C("copies_available").Eq(prev.Available),
		).Prepared(true)
	res, err := q.exec(ctx, upd)
	if err != nil {
		return fmt.Errorf("update inventory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update inventory: %w", err)
	}
	if n != 1 {
		return conflict("book %s changed concurrently", b.UUID)
	}
	return nil
}

// DeleteBook removes a book together with its completed loan history.
func (q queries) DeleteBook(ctx context.Context, id int64) error {
	if _, err := q.exec(ctx, q.d.Delete(tableTransactions).Where(goqu.C("book_id").Eq(id)).Prepared(true)); err != nil {
		return fmt.Errorf("delete book history: %w", err)
	}
	res, err := q.exec(ctx, q.d.Delete(tableBooks).Where(goqu.C("id").Eq(id)).Prepared(true))
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("book %d", id)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

func (q queries) memberWhere(ctx context.Context, what string, cond exp.Expression) (*Member, error) {
	var m Member
	ds := q.forUpdate(q.d.From(tableMembers).Where(cond).Limit(1))
	if err := q.get(ctx, &m, ds); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("member %s", what)
		}
		return nil, fmt.Errorf("get member: %w", err)
	}
	return &m, nil
}

func (q queries) MemberByID(ctx context.Context, id int64) (*Member, error) {
	return q.memberWhere(ctx, fmt.Sprint(id), goqu.C("id").Eq(id))
}

func (q queries) MemberByMemberID(ctx context.Context, memberID string) (*Member, error) {
	return q.memberWhere(ctx, memberID, goqu.C("member_id").Eq(memberID))
}

func (q queries) MemberByEmployeeCode(ctx context.Context, code string) (*Member, error) {
	return q.memberWhere(ctx, "with employee code "+code, goqu.C("employee_code").Eq(code))
}

func (q queries) MemberByEmail(ctx context.Context, email string) (*Member, error) {
	return q.memberWhere(ctx, "with email "+email, goqu.C("email").Eq(email))
}

func (q queries) ListMembers(ctx context.Context, f MemberFilter) ([]*Member, error) {
	ds := q.d.From(tableMembers).Order(goqu.C("last_name").Asc(), goqu.C("first_name").Asc(), goqu.C("id").Asc())
	if f.Search != "" {
		like := "%" + f.Search + "%"
		ds = ds.Where(goqu.Or(
			goqu.C("first_name").ILike(like),
			goqu.C("last_name").ILike(like),
			goqu.C("employee_code").ILike(like),
			goqu.C("member_id").ILike(like),
			goqu.C("email").ILike(like),
		))
	}
	if f.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(string(f.Status)))
	}
	members := []*Member{}
	if err := q.list(ctx, &members, ds); err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

func memberRecord(m *Member) goqu.Record {
	return goqu.Record{
		"member_id":       m.MemberID,
		"first_name":      m.FirstName,
		"last_name":       m.LastName,
		"email":           nullable(m.Email),
		"phone":           m.Phone,
		"employee_code":   m.EmployeeCode,
		"department":      m.Department,
		"address":         m.Address,
		"membership_date": m.MembershipDate,
		"membership_type": string(m.MembershipType),
		"status":          string(m.Status),
		"max_books":       m.MaxBooks,
	}
}

func (q queries) InsertMember(ctx context.Context, m *Member) error {
	id, err := q.insert(ctx, tableMembers, memberRecord(m))
	if err != nil {
		if isUniqueViolation(err) {
			return conflict("member with this employee code, email or member id already exists")
		}
		return fmt.Errorf("insert member: %w", err)
	}
	m.ID = id
	return nil
}

func (q queries) UpdateMember(ctx context.Context, m *Member) error {
	rec := memberRecord(m)
	delete(rec, "member_id")
	delete(rec, "membership_date")
	res, err := q.exec(ctx, q.d.Update(tableMembers).Set(rec).Where(goqu.C("id").Eq(m.ID)).Prepared(true))
	if err != nil {
		if isUniqueViolation(err) {
			return conflict("employee code or email already in use")
		}
		return fmt.Errorf("update member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("member %d", m.ID)
	}
	return nil
}

// DeleteMember removes a member together with their completed loan history.
func (q queries) DeleteMember(ctx context.Context, id int64) error {
	if _, err := q.exec(ctx, q.d.Delete(tableTransactions).Where(goqu.C("member_id").Eq(id)).Prepared(true)); err != nil {
		return fmt.Errorf("delete member history: %w", err)
	}
	res, err := q.exec(ctx, q.d.Delete(tableMembers).Where(goqu.C("id").Eq(id)).Prepared(true))
	if err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("member %d", id)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Transactions
// ---------------------------------------------------------------------------

func (q queries) TransactionByID(ctx context.Context, id int64) (*Transaction, error) {
	var t Transaction
	ds := q.forUpdate(q.d.From(tableTransactions).Where(goqu.C("id").Eq(id)).Limit(1))
	if err := q.get(ctx, &t, ds); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("transaction %d", id)
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return &t, nil
}

func (q queries) ActiveLoanCount(ctx context.Context, memberID int64) (int, error) {
	var n int
	ds := q.d.From(tableTransactions).Select(goqu.COUNT("*")).Where(
		goqu.C("member_id").Eq(memberID),
		goqu.C("transaction_type").Eq(string(TransactionBorrow)),
		goqu.C("status").Eq(string(TransactionActive)),
	)
	if err := q.get(ctx, &n, ds); err != nil {
		return 0, fmt.Errorf("count active loans: %w", err)
	}
	return n, nil
}

// CountMembers returns the number of registered members.
func (q queries) CountMembers(ctx context.Context) (int, error) {
	var n int
	if err := q.get(ctx, &n, q.d.From(tableMembers).Select(goqu.COUNT("*"))); err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	return n, nil
}

// CountActiveLoans returns the number of open loans across all members.
func (q queries) CountActiveLoans(ctx context.Context) (int, error) {
	var n int
	ds := q.d.From(tableTransactions).Select(goqu.COUNT("*")).Where(
		goqu.C("transaction_type").Eq(string(TransactionBorrow)),
		goqu.C("status").Eq(string(TransactionActive)),
	)
	if err := q.get(ctx, &n, ds); err != nil {
		return 0, fmt.Errorf("count active loans: %w", err)
	}
	return n, nil
}

// FindActiveTransaction returns the oldest open loan of the book, optionally
// restricted to one member.
func (q queries) FindActiveTransaction(ctx context.Context, bookID int64, memberID *int64) (*Transaction, error) {
	ds := q.d.From(tableTransactions).Where(
		goqu.C("book_id").Eq(bookID),
		goqu.C("status").Eq(string(TransactionActive)),
	)
	if memberID != nil {
		ds = ds.Where(goqu.C("member_id").Eq(*memberID))
	}
	ds = q.forUpdate(ds.Order(goqu.C("transaction_date").Asc(), goqu.C("id").Asc()).Limit(1))

	var t Transaction
	if err := q.get(ctx, &t, ds); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if memberID != nil {
				return nil, notFound("no active loan of this book for member %d", *memberID)
			}
			return nil, notFound("no active loan of this book")
		}
		return nil, fmt.Errorf("find active loan: %w", err)
	}
	return &t, nil
}

// ListTransactions returns matching loans, newest first.
func (q queries) ListTransactions(ctx context.Context, f TransactionFilter) ([]*Transaction, error) {
	ds := q.d.From(tableTransactions).Order(goqu.C("transaction_date").Desc(), goqu.C("id").Desc())
	if f.Type != "" {
		ds = ds.Where(goqu.C("transaction_type").Eq(string(f.Type)))
	}
	if f.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(string(f.Status)))
	}
	if f.BookID != 0 {
		ds = ds.Where(goqu.C("book_id").Eq(f.BookID))
	}
	if f.MemberID != 0 {
		ds = ds.Where(goqu.C("member_id").Eq(f.MemberID))
	}
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit))
	}
	txns := []*Transaction{}
	if err := q.list(ctx, &txns, ds); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txns, nil
}

func (q queries) InsertTransaction(ctx context.Context, t *Transaction) error {
	id, err := q.insert(ctx, tableTransactions, goqu.Record{
		"book_id":          t.BookID,
		"member_id":        t.MemberID,
		"transaction_type": string(t.TransactionType),
		"transaction_date": t.TransactionDate,
		"due_date":         t.DueDate,
		"return_date":      nullable(t.ReturnDate),
		"fine_amount":      t.FineAmount.String(),
		"status":           string(t.Status),
		"notes":            t.Notes,
		"return_condition": nullable(t.ReturnCondition),
		"condition_notes":  t.ConditionNotes,
		"condition_fee":    t.ConditionFee.String(),
	})
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	t.ID = id
	return nil
}

// CompleteTransaction records the return of an open loan.
func (q queries) CompleteTransaction(ctx context.Context, t *Transaction) error {
	upd := q.d.Update(tableTransactions).
		Set(goqu.Record{
			"return_date":      nullable(t.ReturnDate),
			"fine_amount":      t.FineAmount.String(),
			"status":           string(TransactionCompleted),
			"return_condition": nullable(t.ReturnCondition),
			"condition_notes":  t.ConditionNotes,
			"condition_fee":    t.ConditionFee.String(),
		}).
		Where(
			goqu.C("id").Eq(t.ID),
			goqu.C("status").Eq(string(TransactionActive)),
		).Prepared(true)
	res, err := q.exec(ctx, upd)
	if err != nil {
		return fmt.Errorf("complete transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete transaction: %w", err)
	}
	if n != 1 {
		return conflict("transaction %d is not active", t.ID)
	}
	t.Status = TransactionCompleted
	return nil
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

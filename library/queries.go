package library

import (
	"context"
	"strings"
	"time"
)

// DefaultRecentLimit is the size of the recent-activity feed when none is given.
const DefaultRecentLimit = 10

// CirculationStatus returns a book with its open loans, each annotated with
// its borrower and whether it is overdue.
func (c *Circulation) CirculationStatus(ctx context.Context, bookUUID string) (*CirculationStatus, error) {
	book, err := c.store.BookByUUID(ctx, strings.TrimSpace(bookUUID))
	if err != nil {
		return nil, err
	}
	txns, err := c.store.ListTransactions(ctx, TransactionFilter{
		BookID: book.ID,
		Status: TransactionActive,
	})
	if err != nil {
		return nil, err
	}

	now := c.clock.Now()
	members := newMemberCache(c.store)
	loans := make([]LoanView, 0, len(txns))
	for _, t := range txns {
		m, err := members.get(ctx, t.MemberID)
		if err != nil {
			return nil, err
		}
		loans = append(loans, LoanView{Transaction: t, Member: m, IsOverdue: t.IsOverdue(now)})
	}
	return &CirculationStatus{
		Book:               book,
		ActiveTransactions: loans,
		IsAvailable:        book.CopiesAvailable > 0,
	}, nil
}

// RecentTransactions returns the latest loans, newest first, annotated for
// an activity feed. A limit of 0 or less uses DefaultRecentLimit.
func (c *Circulation) RecentTransactions(ctx context.Context, limit int) ([]RecentTransaction, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	txns, err := c.store.ListTransactions(ctx, TransactionFilter{Type: TransactionBorrow, Limit: limit})
	if err != nil {
		return nil, err
	}

	now := c.clock.Now()
	books := map[int64]*Book{}
	members := newMemberCache(c.store)
	out := make([]RecentTransaction, 0, len(txns))
	for _, t := range txns {
		b, ok := books[t.BookID]
		if !ok {
			if b, err = c.store.BookByID(ctx, t.BookID); err != nil {
				return nil, err
			}
			books[t.BookID] = b
		}
		m, err := members.get(ctx, t.MemberID)
		if err != nil {
			return nil, err
		}
		out = append(out, annotateRecent(t, b, m, now))
	}
	return out, nil
}

func annotateRecent(t *Transaction, b *Book, m *Member, now time.Time) RecentTransaction {
	rt := RecentTransaction{
		Transaction: t,
		Book:        b,
		Member:      m,
		IsOverdue:   t.IsOverdue(now),
		IsCompleted: t.Status == TransactionCompleted,
		DisplayType: DisplayCheckOut,
		DisplayDate: t.TransactionDate,
	}
	if t.IsActive() {
		d := floorDays(t.DueDate.Sub(now))
		rt.DaysUntilDue = &d
	}
	if rt.IsCompleted && t.ReturnDate != nil {
		rt.DisplayType = DisplayCheckIn
		rt.DisplayDate = *t.ReturnDate
	}
	return rt
}

// ActiveLoanCount returns how many books a member currently holds.
func (c *Circulation) ActiveLoanCount(ctx context.Context, memberID int64) (int, error) {
	if _, err := c.store.MemberByID(ctx, memberID); err != nil {
		return 0, err
	}
	return c.store.ActiveLoanCount(ctx, memberID)
}

// ActiveLoans returns the open loans of a member, annotated with their books.
func (c *Circulation) ActiveLoans(ctx context.Context, memberID int64) ([]RecentTransaction, error) {
	m, err := c.store.MemberByID(ctx, memberID)
	if err != nil {
		return nil, err
	}
	txns, err := c.store.ListTransactions(ctx, TransactionFilter{
		MemberID: memberID,
		Status:   TransactionActive,
	})
	if err != nil {
		return nil, err
	}
	now := c.clock.Now()
	out := make([]RecentTransaction, 0, len(txns))
	for _, t := range txns {
		b, err := c.store.BookByID(ctx, t.BookID)
		if err != nil {
			return nil, err
		}
		out = append(out, annotateRecent(t, b, m, now))
	}
	return out, nil
}

// memberCache avoids refetching the same borrower while building a listing.
type memberCache struct {
	q    Queries
	seen map[int64]*Member
}

func newMemberCache(q Queries) *memberCache {
	return &memberCache{q: q, seen: map[int64]*Member{}}
}

func (mc *memberCache) get(ctx context.Context, id int64) (*Member, error) {
	if m, ok := mc.seen[id]; ok {
		return m, nil
	}
	m, err := mc.q.MemberByID(ctx, id)
	if err != nil {
		return nil, err
	}
	mc.seen[id] = m
	return m, nil
}

package library

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addTestBook(t *testing.T, mgr *LibraryManager, title string, copies int) *Book {
	t.Helper()
	b, _, err := mgr.AddBook(context.Background(), BookInput{Title: title, Author: "Author of " + title, CopiesTotal: copies})
	require.NoError(t, err)
	return b
}

func addTestMember(t *testing.T, mgr *LibraryManager, code string, maxBooks int) *Member {
	t.Helper()
	m, err := mgr.AddMember(context.Background(), MemberInput{
		FirstName: "First" + code, LastName: "Last" + code, EmployeeCode: code, MaxBooks: maxBooks,
	})
	require.NoError(t, err)
	return m
}

func reloadBook(t *testing.T, mgr *LibraryManager, id int64) *Book {
	t.Helper()
	b, err := mgr.GetBook(context.Background(), id)
	require.NoError(t, err)
	return b
}

func TestCheckoutCheckinTwoCopies(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	book := addTestBook(t, mgr, "Dune", 2)
	alice := addTestMember(t, mgr, "E1", 5)
	bob := addTestMember(t, mgr, "E2", 5)
	carol := addTestMember(t, mgr, "E3", 5)

	res, err := mgr.Checkout(ctx, CheckoutRequest{BookUUID: book.UUID, MemberID: alice.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Book.CopiesAvailable)
	assert.Equal(t, BookAvailable, res.Book.Status)

	res, err = mgr.Checkout(ctx, CheckoutRequest{BookUUID: book.UUID, MemberID: bob.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Book.CopiesAvailable)
	assert.Equal(t, BookBorrowed, res.Book.Status)

	_, err = mgr.Checkout(ctx, CheckoutRequest{BookUUID: book.UUID, MemberID: carol.ID})
	assert.ErrorIs(t, err, ErrUnavailable)
	txns, err := mgr.ListTransactions(ctx, TransactionFilter{BookID: book.ID})
	require.NoError(t, err)
	assert.Len(t, txns, 2, "failed checkout must not create a transaction")

	in, err := mgr.Checkin(ctx, CheckinRequest{BookUUID: book.UUID})
	require.NoError(t, err)
	assert.Equal(t, 1, in.Book.CopiesAvailable)
	assert.Equal(t, BookAvailable, in.Book.Status)
	assert.Equal(t, alice.ID, in.Member.ID, "oldest loan is closed first")

	stored := reloadBook(t, mgr, book.ID)
	assert.Equal(t, 1, stored.CopiesAvailable)
	assert.Equal(t, 2, stored.CopiesTotal)
}

func TestBorrowingLimit(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	a := addTestBook(t, mgr, "A", 1)
	b := addTestBook(t, mgr, "B", 1)
	m := addTestMember(t, mgr, "E1", 1)

	_, err := mgr.Checkout(ctx, CheckoutRequest{BookUUID: a.UUID, MemberID: m.ID})
	require.NoError(t, err)

	_, err = mgr.Checkout(ctx, CheckoutRequest{BookUUID: b.UUID, MemberID: m.ID})
	assert.ErrorIs(t, err, ErrLimitExceeded)
	assert.Equal(t, 1, reloadBook(t, mgr, b.ID).CopiesAvailable)

	_, err = mgr.Checkin(ctx, CheckinRequest{BookUUID: a.UUID})
	require.NoError(t, err)

	_, err = mgr.Checkout(ctx, CheckoutRequest{BookUUID: b.UUID, MemberID: m.ID})
	assert.NoError(t, err)
}

func TestCheckoutPreconditionOrder(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	book := addTestBook(t, mgr, "Solo", 1)
	m := addTestMember(t, mgr, "E1", 5)

	_, err := mgr.Checkout(ctx, CheckoutRequest{BookUUID: "nope", MemberID: m.ID})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = mgr.Checkout(ctx, CheckoutRequest{BookUUID: book.UUID, MemberID: 9999})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = mgr.Checkout(ctx, CheckoutRequest{BookUUID: book.UUID, MemberID: m.ID})
	require.NoError(t, err)

	// No copy left and unknown member: availability is checked first.
	_, err = mgr.Checkout(ctx, CheckoutRequest{BookUUID: book.UUID, MemberID: 9999})
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = mgr.Checkout(ctx, CheckoutRequest{BookUUID: "", MemberID: m.ID})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCheckoutDueDays(t *testing.T) {
	mgr, clock := newManager(t)
	ctx := context.Background()
	book := addTestBook(t, mgr, "Due", 2)
	m := addTestMember(t, mgr, "E1", 5)

	res, err := mgr.Checkout(ctx, CheckoutRequest{BookUUID: book.UUID, MemberID: m.ID})
	require.NoError(t, err)
	assert.True(t, res.DueDate.Equal(clock.Now().AddDate(0, 0, 14)))

	res, err = mgr.Checkout(ctx, CheckoutRequest{BookUUID: book.UUID, MemberID: m.ID, DueDays: 3})
	require.NoError(t, err)
	assert.True(t, res.DueDate.Equal(clock.Now().AddDate(0, 0, 3)))
}

func TestCheckinOverdueFine(t *testing.T) {
	mgr, clock := newManager(t)
	ctx := context.Background()
	book := addTestBook(t, mgr, "Late", 1)
	m := addTestMember(t, mgr, "E1", 5)

	_, err := mgr.Checkout(ctx, CheckoutRequest{BookUUID: book.UUID, MemberID: m.ID})
	require.NoError(t, err)

	clock.Advance(24 * day)
	res, err := mgr.Checkin(ctx, CheckinRequest{BookUUID: book.UUID})
	require.NoError(t, err)
	assert.Equal(t, "10", res.FineAmount.String())
	assert.True(t, res.WasOverdue)
	assert.Equal(t, TransactionCompleted, res.Transaction.Status)
	require.NotNil(t, res.Transaction.ReturnDate)
	assert.True(t, res.Transaction.ReturnDate.Equal(clock.Now()))

	stored, err := mgr.GetTransaction(ctx, res.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, "10", stored.FineAmount.String())
	assert.Equal(t, TransactionCompleted, stored.Status)
	require.NotNil(t, stored.ReturnCondition)
	assert.Equal(t, ConditionGood, *stored.ReturnCondition)
}

func TestCheckinConditions(t *testing.T) {
	tests := []struct {
		name          string
		req           CheckinRequest
		wantFee       string
		wantAvailable int
		wantTotal     int
		wantStatus    BookStatus
	}{
		{"good", CheckinRequest{Condition: ConditionGood}, "0", 2, 2, BookAvailable},
		{"fair", CheckinRequest{Condition: ConditionFair}, "0", 2, 2, BookAvailable},
		{"damaged default fee", CheckinRequest{Condition: ConditionDamaged}, "15", 1, 2, BookAvailable},
		{"lost default fee", CheckinRequest{Condition: ConditionLost}, "50", 1, 1, BookAvailable},
		{"damaged explicit fee", CheckinRequest{Condition: ConditionDamaged, ConditionFee: "5.0"}, "5", 1, 2, BookAvailable},
		{"lost explicit fee", CheckinRequest{Condition: ConditionLost, ConditionFee: "5"}, "5", 1, 1, BookAvailable},
		{"unparseable fee falls back", CheckinRequest{Condition: ConditionDamaged, ConditionFee: "abc"}, "15", 1, 2, BookAvailable},
		{"explicit zero fee", CheckinRequest{Condition: ConditionDamaged, ConditionFee: "0", ExplicitFee: true}, "0", 1, 2, BookAvailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mgr, _ := newManager(t)
			ctx := context.Background()
			book := addTestBook(t, mgr, "Cond", 2)
			m := addTestMember(t, mgr, "E1", 5)
			_, err := mgr.Checkout(ctx, CheckoutRequest{BookUUID: book.UUID, MemberID: m.ID})
			require.NoError(t, err)

			req := tc.req
			req.BookUUID = book.UUID
			req.ConditionNotes = "checked at desk"
			res, err := mgr.Checkin(ctx, req)
			require.NoError(t, err)
			assert.Equal(t, tc.wantFee, res.ConditionFee.String())
			assert.Equal(t, "checked at desk", res.ConditionNotes)

			stored := reloadBook(t, mgr, book.ID)
			assert.Equal(t, tc.wantAvailable, stored.CopiesAvailable)
			assert.Equal(t, tc.wantTotal, stored.CopiesTotal)
			assert.Equal(t, tc.wantStatus, stored.Status)
		})
	}
}

func TestCheckinLostLastCopyKeepsStatus(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	book := addTestBook(t, mgr, "Only", 1)
	m := addTestMember(t, mgr, "E1", 5)
	_, err := mgr.Checkout(ctx, CheckoutRequest{BookUUID: book.UUID, MemberID: m.ID})
	require.NoError(t, err)

	res, err := mgr.Checkin(ctx, CheckinRequest{BookUUID: book.UUID, Condition: ConditionLost})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Book.CopiesTotal)
	assert.Equal(t, 0, res.Book.CopiesAvailable)
	assert.Equal(t, BookBorrowed, res.Book.Status)
}

func TestCheckinErrors(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	book := addTestBook(t, mgr, "Err", 1)
	m := addTestMember(t, mgr, "E1", 5)
	other := addTestMember(t, mgr, "E2", 5)

	_, err := mgr.Checkin(ctx, CheckinRequest{BookUUID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = mgr.Checkin(ctx, CheckinRequest{BookUUID: book.UUID})
	assert.ErrorIs(t, err, ErrNotFound, "no active loan")

	_, err = mgr.Checkout(ctx, CheckoutRequest{BookUUID: book.UUID, MemberID: m.ID})
	require.NoError(t, err)

	_, err = mgr.Checkin(ctx, CheckinRequest{BookUUID: book.UUID, Condition: "shredded"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = mgr.Checkin(ctx, CheckinRequest{BookUUID: book.UUID, ConditionFee: "-3"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = mgr.Checkin(ctx, CheckinRequest{BookUUID: book.UUID, MemberID: &other.ID})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorContains(t, err, fmt.Sprintf("member %d", other.ID))

	// Nothing above may have touched the loan or the inventory.
	assert.Equal(t, 0, reloadBook(t, mgr, book.ID).CopiesAvailable)

	res, err := mgr.Checkin(ctx, CheckinRequest{BookUUID: book.UUID, MemberID: &m.ID})
	require.NoError(t, err)
	assert.Equal(t, m.ID, res.Member.ID)
}

func TestCheckinZeroMemberMeansAnyBorrower(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	book := addTestBook(t, mgr, "Anyone", 1)
	m := addTestMember(t, mgr, "E1", 5)
	_, err := mgr.Checkout(ctx, CheckoutRequest{BookUUID: book.UUID, MemberID: m.ID})
	require.NoError(t, err)

	zero := int64(0)
	res, err := mgr.Checkin(ctx, CheckinRequest{BookUUID: book.UUID, MemberID: &zero})
	require.NoError(t, err)
	assert.Equal(t, m.ID, res.Member.ID)
	assert.Equal(t, 1, reloadBook(t, mgr, book.ID).CopiesAvailable)
}

func TestBorrowAndReturn(t *testing.T) {
	mgr, clock := newManager(t)
	ctx := context.Background()
	book := addTestBook(t, mgr, "Simple", 1)
	m := addTestMember(t, mgr, "E1", 1)
	other := addTestBook(t, mgr, "Other", 1)

	txn, err := mgr.Borrow(ctx, book.ID, m.ID)
	require.NoError(t, err)
	assert.True(t, txn.DueDate.Equal(clock.Now().AddDate(0, 0, 14)))
	assert.Equal(t, 0, reloadBook(t, mgr, book.ID).CopiesAvailable)

	// The simplified path does not enforce the borrowing cap.
	_, err = mgr.Borrow(ctx, other.ID, m.ID)
	require.NoError(t, err)

	_, err = mgr.Borrow(ctx, book.ID, m.ID)
	assert.ErrorIs(t, err, ErrUnavailable)

	clock.Advance(14*day + 3*day + 5*time.Hour)
	res, err := mgr.Return(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, "3", res.FineAmount.String())
	assert.Equal(t, 1, res.Book.CopiesAvailable)
	assert.Equal(t, BookAvailable, res.Book.Status)

	_, err = mgr.Return(ctx, txn.ID)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = mgr.Return(ctx, 424242)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentCheckoutOfLastCopy(t *testing.T) {
	mgr, err := OpenLibraryManager(DriverSQLite, t.TempDir()+"/race.db")
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	ctx := context.Background()

	book := addTestBook(t, mgr, "Scarce", 1)
	const workers = 8
	members := make([]*Member, workers)
	for i := range members {
		members[i] = addTestMember(t, mgr, fmt.Sprintf("R%d", i), 5)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(m *Member) {
			defer wg.Done()
			_, err := mgr.Checkout(ctx, CheckoutRequest{BookUUID: book.UUID, MemberID: m.ID})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrUnavailable) && !errors.Is(err, ErrConflict) {
				t.Errorf("unexpected checkout error: %v", err)
			}
		}(members[i])
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	stored := reloadBook(t, mgr, book.ID)
	assert.Equal(t, 0, stored.CopiesAvailable)
	active, err := mgr.ListTransactions(ctx, TransactionFilter{BookID: book.ID, Status: TransactionActive})
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestInventoryInvariantHoldsAcrossSequence(t *testing.T) {
	mgr, clock := newManager(t)
	ctx := context.Background()
	book := addTestBook(t, mgr, "Busy", 3)
	var members []*Member
	for i := 0; i < 4; i++ {
		members = append(members, addTestMember(t, mgr, fmt.Sprintf("S%d", i), 5))
	}
	conditions := []Condition{ConditionGood, ConditionDamaged, ConditionFair, ConditionLost}

	for round := 0; round < 4; round++ {
		for _, m := range members {
			_, err := mgr.Checkout(ctx, CheckoutRequest{BookUUID: book.UUID, MemberID: m.ID})
			if err != nil {
				require.ErrorIs(t, err, ErrUnavailable)
			}
			require.NoError(t, CheckInventory(reloadBook(t, mgr, book.ID)))
		}
		clock.Advance(day)
		_, err := mgr.Checkin(ctx, CheckinRequest{BookUUID: book.UUID, Condition: conditions[round]})
		if err != nil {
			require.ErrorIs(t, err, ErrNotFound)
		}
		require.NoError(t, CheckInventory(reloadBook(t, mgr, book.ID)))
	}
}

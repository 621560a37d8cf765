package library

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Clock supplies the current time to the engine.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock in UTC.
var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })

// Policy holds the circulation rules.
type Policy struct {
	LoanPeriodDays int
	FinePerDay     decimal.Decimal
	// MaxBooks is the cap given to new members; each member carries their own.
	MaxBooks int
	Fees     FeeSchedule
}

// DefaultPolicy lends for 14 days, charges 1.00 per overdue day and gives
// new members a cap of 5 books.
func DefaultPolicy() Policy {
	return Policy{
		LoanPeriodDays: 14,
		FinePerDay:     DefaultFinePerDay,
		MaxBooks:       5,
		Fees:           DefaultFeeSchedule(),
	}
}

// CheckoutRequest lends one copy of a book, identified by its public uuid,
// to a member identified by internal id. DueDays 0 uses the loan period.
type CheckoutRequest struct {
	BookUUID string
	MemberID int64
	DueDays  int
}

// CheckinRequest returns one copy of a book. MemberID, when positive,
// restricts which open loan is closed. ConditionFee is the caller's raw fee text;
// ExplicitFee marks it as deliberate so that a zero fee is not replaced by
// the default for the condition.
type CheckinRequest struct {
	BookUUID       string
	MemberID       *int64
	Condition      Condition
	ConditionNotes string
	ConditionFee   string
	ExplicitFee    bool
}

// Circulation runs checkouts and returns against a Store. Every operation is
// a single store transaction; nothing is written when it fails.
type Circulation struct {
	store  Store
	clock  Clock
	policy Policy
	logger *zap.Logger
}

// NewCirculation builds an engine. A nil logger disables logging.
func NewCirculation(store Store, clock Clock, policy Policy, logger *zap.Logger) *Circulation {
	if clock == nil {
		clock = SystemClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Circulation{store: store, clock: clock, policy: policy, logger: logger}
}

// Policy returns the rules in force.
func (c *Circulation) Policy() Policy { return c.policy }

// Checkout lends a copy. It fails with ErrNotFound for an unknown book or
// member, ErrUnavailable when no copy is on the shelf, or ErrLimitExceeded
// when the member already holds max_books loans.
func (c *Circulation) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	req.BookUUID = strings.TrimSpace(req.BookUUID)
	if req.BookUUID == "" {
		return nil, invalid("book_uuid", "is required")
	}
	if req.MemberID <= 0 {
		return nil, invalid("member_id", "is required")
	}
	if req.DueDays < 0 {
		return nil, invalid("due_days", "cannot be negative")
	}
	days := req.DueDays
	if days == 0 {
		days = c.policy.LoanPeriodDays
	}

	var res *CheckoutResult
	err := c.store.WithTx(ctx, func(tx Tx) error {
		book, err := tx.BookByUUID(ctx, req.BookUUID)
		if err != nil {
			return err
		}
		if book.CopiesAvailable <= 0 {
			return ErrUnavailable
		}
		member, err := tx.MemberByID(ctx, req.MemberID)
		if err != nil {
			return err
		}
		count, err := tx.ActiveLoanCount(ctx, member.ID)
		if err != nil {
			return err
		}
		if count >= member.MaxBooks {
			return ErrLimitExceeded
		}

		now := c.clock.Now()
		txn := &Transaction{
			BookID:          book.ID,
			MemberID:        member.ID,
			TransactionType: TransactionBorrow,
			TransactionDate: now,
			DueDate:         now.AddDate(0, 0, days),
			FineAmount:      decimal.Zero,
			Status:          TransactionActive,
			ConditionFee:    decimal.Zero,
		}
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return err
		}

		prev := inventoryOf(book)
		if err := lendCopy(book); err != nil {
			return err
		}
		book.LastUpdated = now
		if err := tx.UpdateInventory(ctx, book, prev); err != nil {
			return err
		}

		res = &CheckoutResult{Transaction: txn, Book: book, Member: member, DueDate: txn.DueDate}
		return nil
	})
	if err != nil {
		c.rejected("checkout", err,
			zap.String("book_uuid", req.BookUUID),
			zap.Int64("member_id", req.MemberID))
		return nil, err
	}

	c.logger.Info("book checked out",
		zap.Int64("transaction_id", res.Transaction.ID),
		zap.String("book_uuid", res.Book.UUID),
		zap.String("member", res.Member.MemberID),
		zap.Time("due_date", res.DueDate))
	return res, nil
}

// Checkin closes the oldest open loan of the book, charges any overdue fine
// and condition fee, and books the copy back in according to its condition.
func (c *Circulation) Checkin(ctx context.Context, req CheckinRequest) (*CheckinResult, error) {
	req.BookUUID = strings.TrimSpace(req.BookUUID)
	if req.BookUUID == "" {
		return nil, invalid("book_uuid", "is required")
	}
	if req.MemberID != nil && *req.MemberID <= 0 {
		req.MemberID = nil
	}
	cond := req.Condition
	if cond == "" {
		cond = ConditionGood
	}

	var res *CheckinResult
	err := c.store.WithTx(ctx, func(tx Tx) error {
		book, err := tx.BookByUUID(ctx, req.BookUUID)
		if err != nil {
			return err
		}
		if !IsValidCondition(cond) {
			return invalid("condition", "must be one of good, fair, damaged, lost")
		}
		supplied, err := ParseFee(req.ConditionFee)
		if err != nil {
			return err
		}
		fee := c.policy.Fees.Resolve(cond, supplied, req.ExplicitFee)

		txn, err := tx.FindActiveTransaction(ctx, book.ID, req.MemberID)
		if err != nil {
			return err
		}

		now := c.clock.Now()
		fine := Fine(txn.DueDate, now, c.policy.FinePerDay)
		txn.ReturnDate = &now
		txn.FineAmount = fine
		txn.ReturnCondition = &cond
		txn.ConditionNotes = req.ConditionNotes
		txn.ConditionFee = fee
		if err := tx.CompleteTransaction(ctx, txn); err != nil {
			return err
		}

		prev := inventoryOf(book)
		if err := receiveCopy(book, cond); err != nil {
			return err
		}
		book.LastUpdated = now
		if err := tx.UpdateInventory(ctx, book, prev); err != nil {
			return err
		}

		member, err := tx.MemberByID(ctx, txn.MemberID)
		if err != nil {
			return err
		}

		res = &CheckinResult{
			Transaction:    txn,
			Book:           book,
			Member:         member,
			FineAmount:     fine,
			ConditionFee:   fee,
			WasOverdue:     fine.IsPositive(),
			Condition:      cond,
			ConditionNotes: req.ConditionNotes,
		}
		return nil
	})
	if err != nil {
		c.rejected("checkin", err, zap.String("book_uuid", req.BookUUID))
		return nil, err
	}

	c.logger.Info("book checked in",
		zap.Int64("transaction_id", res.Transaction.ID),
		zap.String("book_uuid", res.Book.UUID),
		zap.String("condition", string(cond)),
		zap.String("fine", res.FineAmount.String()),
		zap.String("condition_fee", res.ConditionFee.String()))
	return res, nil
}

// simpleLoanDays is the fixed loan period of Borrow.
const simpleLoanDays = 14

// Borrow is the simplified checkout keyed by internal ids. It has a fixed
// loan period and does not check the member's borrowing cap.
func (c *Circulation) Borrow(ctx context.Context, bookID, memberID int64) (*Transaction, error) {
	if bookID <= 0 {
		return nil, invalid("book_id", "is required")
	}
	if memberID <= 0 {
		return nil, invalid("member_id", "is required")
	}

	var txn *Transaction
	err := c.store.WithTx(ctx, func(tx Tx) error {
		book, err := tx.BookByID(ctx, bookID)
		if err != nil {
			return err
		}
		if book.CopiesAvailable <= 0 {
			return ErrUnavailable
		}
		member, err := tx.MemberByID(ctx, memberID)
		if err != nil {
			return err
		}

		now := c.clock.Now()
		txn = &Transaction{
			BookID:          book.ID,
			MemberID:        member.ID,
			TransactionType: TransactionBorrow,
			TransactionDate: now,
			DueDate:         now.AddDate(0, 0, simpleLoanDays),
			FineAmount:      decimal.Zero,
			Status:          TransactionActive,
			ConditionFee:    decimal.Zero,
		}
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return err
		}
		prev := inventoryOf(book)
		if err := lendCopy(book); err != nil {
			return err
		}
		book.LastUpdated = now
		return tx.UpdateInventory(ctx, book, prev)
	})
	if err != nil {
		c.rejected("borrow", err, zap.Int64("book_id", bookID), zap.Int64("member_id", memberID))
		return nil, err
	}
	c.logger.Info("book borrowed",
		zap.Int64("transaction_id", txn.ID),
		zap.Int64("book_id", bookID),
		zap.Int64("member_id", memberID))
	return txn, nil
}

// Return closes a loan by transaction id. The copy goes back on the shelf in
// good condition and the fine uses the fixed default rate.
func (c *Circulation) Return(ctx context.Context, transactionID int64) (*ReturnResult, error) {
	if transactionID <= 0 {
		return nil, invalid("transaction_id", "is required")
	}

	var res *ReturnResult
	err := c.store.WithTx(ctx, func(tx Tx) error {
		txn, err := tx.TransactionByID(ctx, transactionID)
		if err != nil {
			return err
		}
		if !txn.IsActive() {
			return conflict("transaction %d is already completed", txn.ID)
		}
		book, err := tx.BookByID(ctx, txn.BookID)
		if err != nil {
			return err
		}

		now := c.clock.Now()
		cond := ConditionGood
		txn.ReturnDate = &now
		txn.FineAmount = Fine(txn.DueDate, now, DefaultFinePerDay)
		txn.ReturnCondition = &cond
		if err := tx.CompleteTransaction(ctx, txn); err != nil {
			return err
		}

		prev := inventoryOf(book)
		if err := receiveCopy(book, cond); err != nil {
			return err
		}
		book.LastUpdated = now
		if err := tx.UpdateInventory(ctx, book, prev); err != nil {
			return err
		}
		res = &ReturnResult{Transaction: txn, Book: book, FineAmount: txn.FineAmount}
		return nil
	})
	if err != nil {
		c.rejected("return", err, zap.Int64("transaction_id", transactionID))
		return nil, err
	}
	c.logger.Info("book returned",
		zap.Int64("transaction_id", transactionID),
		zap.String("fine", res.FineAmount.String()))
	return res, nil
}

// rejected logs a failed operation. Business-rule refusals are warnings and a
// broken copy count is an error; anything else is left to the caller.
func (c *Circulation) rejected(op string, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("op", op), zap.Error(err))
	switch {
	case errors.Is(err, ErrInventoryInconsistent):
		c.logger.Error("inventory inconsistent", fields...)
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrLimitExceeded):
		c.logger.Warn(op+" refused", fields...)
	default:
		c.logger.Debug(op+" failed", fields...)
	}
}

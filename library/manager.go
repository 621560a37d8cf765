package library

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// LibraryManager is a façade over the Store and the circulation engine,
// keeping the HTTP handlers and CLI code simple.
type LibraryManager struct {
	db       Store
	circ     *Circulation
	clock    Clock
	policy   Policy
	metadata MetadataLookup
	codec    QRCodec
	events   EventPublisher
	logger   *zap.Logger
}

// Option configures a LibraryManager.
type Option func(*LibraryManager)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option { return func(lm *LibraryManager) { lm.clock = c } }

// WithPolicy sets the circulation rules.
func WithPolicy(p Policy) Option { return func(lm *LibraryManager) { lm.policy = p } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(lm *LibraryManager) { lm.logger = l } }

// WithMetadataLookup sets the ISBN metadata service.
func WithMetadataLookup(m MetadataLookup) Option {
	return func(lm *LibraryManager) { lm.metadata = m }
}

// WithQRCodec sets the QR image codec.
func WithQRCodec(c QRCodec) Option { return func(lm *LibraryManager) { lm.codec = c } }

// WithEventPublisher sets where committed circulation events go.
func WithEventPublisher(p EventPublisher) Option {
	return func(lm *LibraryManager) { lm.events = p }
}

// NewLibraryManager wires a manager around store. Collaborators that are not
// supplied default to the system clock, DefaultPolicy, a PNG codec, a
// dropping publisher and a metadata client for the public endpoints.
func NewLibraryManager(store Store, opts ...Option) *LibraryManager {
	lm := &LibraryManager{
		db:     store,
		clock:  SystemClock,
		policy: DefaultPolicy(),
		codec:  NewPNGCodec(0),
		events: NopPublisher{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(lm)
	}
	if lm.metadata == nil {
		lm.metadata = NewMetadataClient("", "", 0, lm.logger)
	}
	lm.circ = NewCirculation(store, lm.clock, lm.policy, lm.logger)
	return lm
}

// OpenLibraryManager opens (or creates) the database and wires a manager around it.
func OpenLibraryManager(driver, dsn string, opts ...Option) (*LibraryManager, error) {
	db, err := NewDatabase(driver, dsn, PoolConfig{})
	if err != nil {
		return nil, err
	}
	return NewLibraryManager(db, opts...), nil
}

// Close closes the underlying store.
func (lm *LibraryManager) Close() error { return lm.db.Close() }

// Policy returns the circulation rules in force.
func (lm *LibraryManager) Policy() Policy { return lm.policy }

// Ping reports whether the store is reachable.
func (lm *LibraryManager) Ping(ctx context.Context) error { return lm.db.Ping(ctx) }

// Readiness summarises the collection for health checks.
type Readiness struct {
	Books       int `json:"books"`
	Members     int `json:"members"`
	ActiveLoans int `json:"active_loans"`
}

// Ready pings the store and counts what it holds.
func (lm *LibraryManager) Ready(ctx context.Context) (*Readiness, error) {
	if err := lm.db.Ping(ctx); err != nil {
		return nil, fmt.Errorf("database unreachable: %w", err)
	}
	_, books, err := lm.db.ListBooks(ctx, BookFilter{PerPage: 1})
	if err != nil {
		return nil, err
	}
	members, err := lm.db.CountMembers(ctx)
	if err != nil {
		return nil, err
	}
	active, err := lm.db.CountActiveLoans(ctx)
	if err != nil {
		return nil, err
	}
	return &Readiness{Books: books, Members: members, ActiveLoans: active}, nil
}

// ------------------ Circulation ------------------

// Checkout lends a copy and publishes a checkout event.
func (lm *LibraryManager) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	res, err := lm.circ.Checkout(ctx, req)
	if err != nil {
		return nil, err
	}
	lm.publish(ctx, CirculationEvent{
		Type:            EventCheckout,
		TransactionID:   res.Transaction.ID,
		BookID:          res.Book.ID,
		BookUUID:        res.Book.UUID,
		MemberID:        res.Member.ID,
		CopiesAvailable: res.Book.CopiesAvailable,
		CopiesTotal:     res.Book.CopiesTotal,
		DueDate:         res.DueDate,
		FineAmount:      res.Transaction.FineAmount,
		ConditionFee:    res.Transaction.ConditionFee,
		OccurredAt:      res.Transaction.TransactionDate,
	})
	return res, nil
}

// Checkin returns a copy and publishes a checkin event.
func (lm *LibraryManager) Checkin(ctx context.Context, req CheckinRequest) (*CheckinResult, error) {
	res, err := lm.circ.Checkin(ctx, req)
	if err != nil {
		return nil, err
	}
	lm.publish(ctx, CirculationEvent{
		Type:            EventCheckin,
		TransactionID:   res.Transaction.ID,
		BookID:          res.Book.ID,
		BookUUID:        res.Book.UUID,
		MemberID:        res.Transaction.MemberID,
		CopiesAvailable: res.Book.CopiesAvailable,
		CopiesTotal:     res.Book.CopiesTotal,
		DueDate:         res.Transaction.DueDate,
		FineAmount:      res.FineAmount,
		ConditionFee:    res.ConditionFee,
		Condition:       res.Condition,
		OccurredAt:      *res.Transaction.ReturnDate,
	})
	return res, nil
}

// Borrow runs the simplified checkout.
func (lm *LibraryManager) Borrow(ctx context.Context, bookID, memberID int64) (*Transaction, error) {
	txn, err := lm.circ.Borrow(ctx, bookID, memberID)
	if err != nil {
		return nil, err
	}
	lm.publish(ctx, CirculationEvent{
		Type:          EventBorrow,
		TransactionID: txn.ID,
		BookID:        txn.BookID,
		MemberID:      txn.MemberID,
		DueDate:       txn.DueDate,
		FineAmount:    txn.FineAmount,
		ConditionFee:  txn.ConditionFee,
		OccurredAt:    txn.TransactionDate,
	})
	return txn, nil
}

// Return runs the simplified return.
func (lm *LibraryManager) Return(ctx context.Context, transactionID int64) (*ReturnResult, error) {
	res, err := lm.circ.Return(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	lm.publish(ctx, CirculationEvent{
		Type:            EventReturn,
		TransactionID:   res.Transaction.ID,
		BookID:          res.Book.ID,
		BookUUID:        res.Book.UUID,
		MemberID:        res.Transaction.MemberID,
		CopiesAvailable: res.Book.CopiesAvailable,
		CopiesTotal:     res.Book.CopiesTotal,
		DueDate:         res.Transaction.DueDate,
		FineAmount:      res.FineAmount,
		ConditionFee:    res.Transaction.ConditionFee,
		Condition:       ConditionGood,
		OccurredAt:      *res.Transaction.ReturnDate,
	})
	return res, nil
}

// publish forwards a committed event. Delivery failures never undo the
// operation; they are only logged.
func (lm *LibraryManager) publish(ctx context.Context, ev CirculationEvent) {
	if err := lm.events.Publish(ctx, ev); err != nil {
		lm.logger.Warn("publish circulation event failed",
			zap.String("type", string(ev.Type)),
			zap.Int64("transaction_id", ev.TransactionID),
			zap.Error(err))
	}
}

func (lm *LibraryManager) CirculationStatus(ctx context.Context, bookUUID string) (*CirculationStatus, error) {
	return lm.circ.CirculationStatus(ctx, bookUUID)
}

func (lm *LibraryManager) RecentTransactions(ctx context.Context, limit int) ([]RecentTransaction, error) {
	return lm.circ.RecentTransactions(ctx, limit)
}

func (lm *LibraryManager) ActiveLoans(ctx context.Context, memberID int64) ([]RecentTransaction, error) {
	return lm.circ.ActiveLoans(ctx, memberID)
}

func (lm *LibraryManager) ActiveLoanCount(ctx context.Context, memberID int64) (int, error) {
	return lm.circ.ActiveLoanCount(ctx, memberID)
}

// ListTransactions returns loans matching f, newest first.
func (lm *LibraryManager) ListTransactions(ctx context.Context, f TransactionFilter) ([]*Transaction, error) {
	return lm.db.ListTransactions(ctx, f)
}

func (lm *LibraryManager) GetTransaction(ctx context.Context, id int64) (*Transaction, error) {
	return lm.db.TransactionByID(ctx, id)
}

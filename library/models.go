package library

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookStatus is the shelf state shown for a title.
type BookStatus string

const (
	BookAvailable BookStatus = "available"
	BookBorrowed  BookStatus = "borrowed"
	BookDamaged   BookStatus = "damaged"
	BookReserved  BookStatus = "reserved"
)

// MembershipType is stored on the member record but does not change any rule.
type MembershipType string

const (
	MembershipRegular MembershipType = "regular"
	MembershipPremium MembershipType = "premium"
	MembershipStudent MembershipType = "student"
)

var validMembershipTypes = map[MembershipType]bool{
	MembershipRegular: true,
	MembershipPremium: true,
	MembershipStudent: true,
}

// MemberStatus is the standing of a member.
type MemberStatus string

const (
	MemberActive    MemberStatus = "active"
	MemberSuspended MemberStatus = "suspended"
	MemberExpired   MemberStatus = "expired"
)

var validMemberStatuses = map[MemberStatus]bool{
	MemberActive:    true,
	MemberSuspended: true,
	MemberExpired:   true,
}

// TransactionType is the kind of circulation record. Returns are recorded on
// the borrow row itself, so borrow is the only type written today.
type TransactionType string

const TransactionBorrow TransactionType = "borrow"

// TransactionStatus is the lifecycle state of a loan.
type TransactionStatus string

const (
	TransactionActive    TransactionStatus = "active"
	TransactionCompleted TransactionStatus = "completed"
)

// Condition is the state a copy comes back in.
type Condition string

const (
	ConditionGood    Condition = "good"
	ConditionFair    Condition = "fair"
	ConditionDamaged Condition = "damaged"
	ConditionLost    Condition = "lost"
)

var validConditions = map[Condition]bool{
	ConditionGood:    true,
	ConditionFair:    true,
	ConditionDamaged: true,
	ConditionLost:    true,
}

// IsValidCondition reports whether c is one of the accepted return conditions.
func IsValidCondition(c Condition) bool { return validConditions[c] }

// Returnable reports whether a copy returned in this condition goes back on the shelf.
func (c Condition) Returnable() bool { return c == ConditionGood || c == ConditionFair }

// Book is one catalogue title and its pool of physical copies.
type Book struct {
	ID              int64      `db:"id" json:"id"`
	UUID            string     `db:"uuid" json:"uuid"`
	ISBN            *string    `db:"isbn" json:"isbn"`
	Title           string     `db:"title" json:"title"`
	Author          string     `db:"author" json:"author"`
	Publisher       string     `db:"publisher" json:"publisher"`
	PublicationDate *time.Time `db:"publication_date" json:"publication_date"`
	Categories      string     `db:"categories" json:"categories"`
	Description     string     `db:"description" json:"description"`
	Language        string     `db:"language" json:"language"`
	Pages           *int       `db:"pages" json:"pages"`
	ThumbnailURL    string     `db:"thumbnail_url" json:"thumbnail_url"`
	Location        string     `db:"location" json:"location"`
	Status          BookStatus `db:"status" json:"status"`
	CopiesTotal     int        `db:"copies_total" json:"copies_total"`
	CopiesAvailable int        `db:"copies_available" json:"copies_available"`
	AddedDate       time.Time  `db:"added_date" json:"added_date"`
	LastUpdated     time.Time  `db:"last_updated" json:"last_updated"`
}

// Member is a registered borrower.
type Member struct {
	ID             int64          `db:"id" json:"id"`
	MemberID       string         `db:"member_id" json:"member_id"`
	FirstName      string         `db:"first_name" json:"first_name"`
	LastName       string         `db:"last_name" json:"last_name"`
	Email          *string        `db:"email" json:"email"`
	Phone          string         `db:"phone" json:"phone"`
	EmployeeCode   string         `db:"employee_code" json:"employee_code"`
	Department     string         `db:"department" json:"department"`
	Address        string         `db:"address" json:"address"`
	MembershipDate time.Time      `db:"membership_date" json:"membership_date"`
	MembershipType MembershipType `db:"membership_type" json:"membership_type"`
	Status         MemberStatus   `db:"status" json:"status"`
	MaxBooks       int            `db:"max_books" json:"max_books"`
}

// FullName joins first and last name.
func (m *Member) FullName() string { return m.FirstName + " " + m.LastName }

// Transaction is a single loan of one copy to one member.
type Transaction struct {
	ID              int64             `db:"id" json:"id"`
	BookID          int64             `db:"book_id" json:"book_id"`
	MemberID        int64             `db:"member_id" json:"member_id"`
	TransactionType TransactionType   `db:"transaction_type" json:"transaction_type"`
	TransactionDate time.Time         `db:"transaction_date" json:"transaction_date"`
	DueDate         time.Time         `db:"due_date" json:"due_date"`
	ReturnDate      *time.Time        `db:"return_date" json:"return_date"`
	FineAmount      decimal.Decimal   `db:"fine_amount" json:"fine_amount"`
	Status          TransactionStatus `db:"status" json:"status"`
	Notes           string            `db:"notes" json:"notes"`
	ReturnCondition *Condition        `db:"return_condition" json:"return_condition"`
	ConditionNotes  string            `db:"condition_notes" json:"condition_notes"`
	ConditionFee    decimal.Decimal   `db:"condition_fee" json:"condition_fee"`
}

// IsActive reports whether the loan is still open.
func (t *Transaction) IsActive() bool { return t.Status == TransactionActive }

// IsOverdue reports whether an open loan is past its due date at now.
func (t *Transaction) IsOverdue(now time.Time) bool {
	return t.IsActive() && now.After(t.DueDate)
}

// ---------------------------------------------------------------------------
// Operation results and projections
// ---------------------------------------------------------------------------

// CheckoutResult is returned by a successful checkout.
type CheckoutResult struct {
	Transaction *Transaction `json:"transaction"`
	Book        *Book        `json:"book"`
	Member      *Member      `json:"member"`
	DueDate     time.Time    `json:"due_date"`
}

// CheckinResult is returned by a successful check-in.
type CheckinResult struct {
	Transaction    *Transaction    `json:"transaction"`
	Book           *Book           `json:"book"`
	Member         *Member         `json:"member"`
	FineAmount     decimal.Decimal `json:"fine_amount"`
	ConditionFee   decimal.Decimal `json:"condition_fee"`
	WasOverdue     bool            `json:"was_overdue"`
	Condition      Condition       `json:"condition"`
	ConditionNotes string          `json:"condition_notes"`
}

// ReturnResult is returned by the simplified return path.
type ReturnResult struct {
	Transaction *Transaction    `json:"transaction"`
	Book        *Book           `json:"book"`
	FineAmount  decimal.Decimal `json:"fine_amount"`
}

// LoanView is an active loan annotated for display.
type LoanView struct {
	*Transaction
	Member    *Member `json:"member"`
	IsOverdue bool    `json:"is_overdue"`
}

// CirculationStatus is the circulation picture of one book.
type CirculationStatus struct {
	Book               *Book      `json:"book"`
	ActiveTransactions []LoanView `json:"active_transactions"`
	IsAvailable        bool       `json:"is_available"`
}

// Display labels used by the recent-activity feed.
const (
	DisplayCheckIn  = "Check-in"
	DisplayCheckOut = "Check-out"
)

// RecentTransaction is one entry of the recent-activity feed.
type RecentTransaction struct {
	*Transaction
	Book         *Book     `json:"book"`
	Member       *Member   `json:"member"`
	IsOverdue    bool      `json:"is_overdue"`
	IsCompleted  bool      `json:"is_completed"`
	DaysUntilDue *int      `json:"days_until_due,omitempty"`
	DisplayType  string    `json:"display_type"`
	DisplayDate  time.Time `json:"display_date"`
}

// BookPage is one page of the catalogue listing.
type BookPage struct {
	Books       []*Book `json:"books"`
	Total       int     `json:"total"`
	Pages       int     `json:"pages"`
	CurrentPage int     `json:"current_page"`
}

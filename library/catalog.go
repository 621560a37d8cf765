package library

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BookInput is the payload for adding a title or more copies of one.
type BookInput struct {
	ISBN            string `json:"isbn"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	Publisher       string `json:"publisher"`
	PublicationDate string `json:"publication_date"`
	Categories      string `json:"categories"`
	Description     string `json:"description"`
	Language        string `json:"language"`
	Pages           *int   `json:"pages"`
	ThumbnailURL    string `json:"thumbnail_url"`
	Location        string `json:"location"`
	// CopiesTotal defaults to 1. CopiesAvailable defaults to CopiesTotal.
	CopiesTotal     int  `json:"copies_total"`
	CopiesAvailable *int `json:"copies_available"`
}

// Actions reported by AddBook.
const (
	ActionCreated = "created_new"
	ActionMerged  = "updated_existing"
)

// BookUpdate lists the book fields a caller may change. Nil fields are left
// alone. Copy counts and status are not here: they move only through
// circulation and AddBook.
type BookUpdate struct {
	ISBN            *string `json:"isbn"`
	Title           *string `json:"title"`
	Author          *string `json:"author"`
	Publisher       *string `json:"publisher"`
	PublicationDate *string `json:"publication_date"`
	Categories      *string `json:"categories"`
	Description     *string `json:"description"`
	Language        *string `json:"language"`
	Pages           *int    `json:"pages"`
	ThumbnailURL    *string `json:"thumbnail_url"`
	Location        *string `json:"location"`
}

// publicationLayouts are the date forms accepted for publication_date.
var publicationLayouts = []string{"2006-01-02", "2006-01", "2006", time.RFC3339}

func parsePublicationDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range publicationLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, invalid("publication_date", "unrecognised date %q", s)
}

// AddBook creates a title or, when the ISBN is already catalogued, adds the
// copies to the existing record. merged reports which happened.
func (lm *LibraryManager) AddBook(ctx context.Context, in BookInput) (book *Book, merged bool, err error) {
	copies := in.CopiesTotal
	if copies == 0 {
		copies = 1
	}
	if copies < 0 {
		return nil, false, invalid("copies_total", "cannot be negative")
	}
	available := copies
	if in.CopiesAvailable != nil {
		available = *in.CopiesAvailable
	}
	if available < 0 || available > copies {
		return nil, false, invalid("copies_available", "must be between 0 and copies_total")
	}
	isbn := CleanISBN(in.ISBN)
	if strings.TrimSpace(in.ISBN) != "" && isbn == "" {
		return nil, false, invalid("isbn", "invalid ISBN format")
	}

	err = lm.db.WithTx(ctx, func(tx Tx) error {
		now := lm.clock.Now()
		if isbn != "" {
			existing, err := tx.BookByISBN(ctx, isbn)
			switch {
			case err == nil:
				prev := inventoryOf(existing)
				if err := addCopies(existing, copies, available); err != nil {
					return err
				}
				if existing.Location == "" && in.Location != "" {
					existing.Location = in.Location
				}
				existing.LastUpdated = now
				if err := tx.UpdateBook(ctx, existing); err != nil {
					return err
				}
				if err := tx.UpdateInventory(ctx, existing, prev); err != nil {
					return err
				}
				book, merged = existing, true
				return nil
			case !isNotFound(err):
				return err
			}
		}

		if strings.TrimSpace(in.Title) == "" {
			return invalid("title", "is required")
		}
		if strings.TrimSpace(in.Author) == "" {
			return invalid("author", "is required")
		}
		pub, err := parsePublicationDate(in.PublicationDate)
		if err != nil {
			return err
		}
		status := BookAvailable
		if available == 0 {
			status = BookBorrowed
		}
		b := &Book{
			UUID:            uuid.NewString(),
			Title:           strings.TrimSpace(in.Title),
			Author:          strings.TrimSpace(in.Author),
			Publisher:       in.Publisher,
			PublicationDate: pub,
			Categories:      in.Categories,
			Description:     in.Description,
			Language:        orDefault(in.Language, "English"),
			Pages:           in.Pages,
			ThumbnailURL:    in.ThumbnailURL,
			Location:        in.Location,
			Status:          status,
			CopiesTotal:     copies,
			CopiesAvailable: available,
			AddedDate:       now,
			LastUpdated:     now,
		}
		if isbn != "" {
			b.ISBN = &isbn
		}
		if err := tx.InsertBook(ctx, b); err != nil {
			return err
		}
		book = b
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	lm.logger.Info("book added",
		zap.String("uuid", book.UUID),
		zap.String("title", book.Title),
		zap.Bool("merged", merged),
		zap.Int("copies_total", book.CopiesTotal))
	return book, merged, nil
}

func (lm *LibraryManager) GetBook(ctx context.Context, id int64) (*Book, error) {
	return lm.db.BookByID(ctx, id)
}

func (lm *LibraryManager) GetBookByUUID(ctx context.Context, id string) (*Book, error) {
	return lm.db.BookByUUID(ctx, strings.TrimSpace(id))
}

func (lm *LibraryManager) GetBookByISBN(ctx context.Context, isbn string) (*Book, error) {
	return lm.db.BookByISBN(ctx, CleanISBN(isbn))
}

// ListBooks returns one page of the catalogue. PerPage defaults to 10.
func (lm *LibraryManager) ListBooks(ctx context.Context, f BookFilter) (*BookPage, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage <= 0 {
		f.PerPage = 10
	}
	books, total, err := lm.db.ListBooks(ctx, f)
	if err != nil {
		return nil, err
	}
	return &BookPage{
		Books:       books,
		Total:       total,
		Pages:       (total + f.PerPage - 1) / f.PerPage,
		CurrentPage: f.Page,
	}, nil
}

// UpdateBook applies the allow-listed fields of u to book id.
func (lm *LibraryManager) UpdateBook(ctx context.Context, id int64, u BookUpdate) (*Book, error) {
	var book *Book
	err := lm.db.WithTx(ctx, func(tx Tx) error {
		b, err := tx.BookByID(ctx, id)
		if err != nil {
			return err
		}
		if err := u.apply(b); err != nil {
			return err
		}
		b.LastUpdated = lm.clock.Now()
		if err := tx.UpdateBook(ctx, b); err != nil {
			return err
		}
		book = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return book, nil
}

func (u BookUpdate) apply(b *Book) error {
	if u.Title != nil {
		if strings.TrimSpace(*u.Title) == "" {
			return invalid("title", "cannot be empty")
		}
		b.Title = strings.TrimSpace(*u.Title)
	}
	if u.Author != nil {
		if strings.TrimSpace(*u.Author) == "" {
			return invalid("author", "cannot be empty")
		}
		b.Author = strings.TrimSpace(*u.Author)
	}
	if u.ISBN != nil {
		if clean := CleanISBN(*u.ISBN); clean == "" {
			b.ISBN = nil
		} else {
			b.ISBN = &clean
		}
	}
	if u.PublicationDate != nil {
		pub, err := parsePublicationDate(*u.PublicationDate)
		if err != nil {
			return err
		}
		b.PublicationDate = pub
	}
	if u.Pages != nil {
		if *u.Pages < 0 {
			return invalid("pages", "cannot be negative")
		}
		b.Pages = u.Pages
	}
	setString(&b.Publisher, u.Publisher)
	setString(&b.Categories, u.Categories)
	setString(&b.Description, u.Description)
	setString(&b.Language, u.Language)
	setString(&b.ThumbnailURL, u.ThumbnailURL)
	setString(&b.Location, u.Location)
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// DeleteBook removes a book and its loan history. Books with copies still on
// loan cannot be deleted.
func (lm *LibraryManager) DeleteBook(ctx context.Context, id int64) error {
	return lm.db.WithTx(ctx, func(tx Tx) error {
		b, err := tx.BookByID(ctx, id)
		if err != nil {
			return err
		}
		active, err := tx.ListTransactions(ctx, TransactionFilter{BookID: b.ID, Status: TransactionActive, Limit: 1})
		if err != nil {
			return err
		}
		if len(active) > 0 {
			return conflict("book %q has copies on loan", b.Title)
		}
		return tx.DeleteBook(ctx, b.ID)
	})
}

// LookupISBN fetches metadata for isbn and reports how many copies the
// catalogue already holds.
func (lm *LibraryManager) LookupISBN(ctx context.Context, isbn string) (*ISBNLookup, error) {
	clean := CleanISBN(isbn)
	if !ValidISBN(clean) {
		return nil, invalid("isbn", "invalid ISBN format")
	}
	md, err := lm.metadata.Lookup(ctx, clean)
	if err != nil {
		return nil, err
	}
	out := &ISBNLookup{Metadata: md, SuggestedCopies: 1}
	existing, err := lm.db.BookByISBN(ctx, clean)
	switch {
	case err == nil:
		out.ExistingInLibrary = true
		out.ExistingBook = existing
		out.SuggestedCopies = existing.CopiesTotal + 1
	case !isNotFound(err):
		return nil, err
	}
	return out, nil
}

// BookQRCode renders the QR image that identifies a book by uuid.
func (lm *LibraryManager) BookQRCode(ctx context.Context, id int64) (*Book, []byte, error) {
	b, err := lm.db.BookByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	png, err := lm.codec.Encode(b.UUID)
	if err != nil {
		return nil, nil, fmt.Errorf("book %d qr: %w", id, err)
	}
	return b, png, nil
}

// ScanBook decodes a photographed book QR code and returns the book it names.
func (lm *LibraryManager) ScanBook(ctx context.Context, img []byte) (*Book, error) {
	text, err := lm.codec.Decode(img)
	if err != nil {
		return nil, err
	}
	return lm.db.BookByUUID(ctx, strings.TrimSpace(text))
}

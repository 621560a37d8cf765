package library

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Metadata sources.
const (
	SourceGoogleBooks = "google_books"
	SourceOpenLibrary = "open_library"
	SourceManual      = "manual_entry"
)

const maxDescriptionLen = 500

// Metadata is the bibliographic record a lookup returns for an ISBN.
type Metadata struct {
	ISBN            string   `json:"isbn"`
	Title           string   `json:"title"`
	Authors         []string `json:"authors"`
	Author          string   `json:"author"`
	Publisher       string   `json:"publisher"`
	PublicationDate string   `json:"publication_date"`
	Language        string   `json:"language"`
	Description     string   `json:"description"`
	CoverURL        string   `json:"cover_url"`
	Pages           *int     `json:"pages"`
	Categories      []string `json:"categories"`
	Source          string   `json:"source"`
}

// MetadataLookup resolves an ISBN to bibliographic metadata.
type MetadataLookup interface {
	Lookup(ctx context.Context, isbn string) (*Metadata, error)
}

// ISBNLookup is a metadata record enriched with what the catalogue already holds.
type ISBNLookup struct {
	*Metadata
	SuggestedCopies   int   `json:"suggested_copies"`
	ExistingInLibrary bool  `json:"existing_in_library"`
	ExistingBook      *Book `json:"existing_book,omitempty"`
}

// ---------------------------------------------------------------------------
// ISBN helpers
// ---------------------------------------------------------------------------

// CleanISBN strips separators and upper-cases a trailing check character.
func CleanISBN(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= '0' && r <= '9') || r == 'X' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidISBN reports whether s, once cleaned, is a valid ISBN-10 or ISBN-13.
func ValidISBN(s string) bool {
	s = CleanISBN(s)
	switch len(s) {
	case 10:
		return validISBN10(s)
	case 13:
		return validISBN13(s)
	}
	return false
}

func validISBN10(s string) bool {
	sum := 0
	for i, r := range s {
		var v int
		switch {
		case r == 'X' && i == 9:
			v = 10
		case r >= '0' && r <= '9':
			v = int(r - '0')
		default:
			return false
		}
		sum += v * (10 - i)
	}
	return sum%11 == 0
}

func validISBN13(s string) bool {
	sum := 0
	for i, r := range s {
		if r < '0' || r > '9' {
			return false
		}
		v := int(r - '0')
		if i%2 == 1 {
			v *= 3
		}
		sum += v
	}
	return sum%10 == 0
}

// ---------------------------------------------------------------------------
// HTTP client
// ---------------------------------------------------------------------------

// Default provider endpoints.
const (
	DefaultGoogleBooksURL = "https://www.googleapis.com"
	DefaultOpenLibraryURL = "https://openlibrary.org"
)

// MetadataClient queries Google Books, then Open Library, and falls back to a
// placeholder record when neither knows the ISBN.
type MetadataClient struct {
	google      *resty.Client
	openLibrary *resty.Client
	logger      *zap.Logger
}

// NewMetadataClient builds a client. Empty URLs use the public endpoints.
func NewMetadataClient(googleURL, openLibraryURL string, timeout time.Duration, logger *zap.Logger) *MetadataClient {
	if googleURL == "" {
		googleURL = DefaultGoogleBooksURL
	}
	if openLibraryURL == "" {
		openLibraryURL = DefaultOpenLibraryURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetadataClient{
		google:      newProviderClient(googleURL, timeout),
		openLibrary: newProviderClient(openLibraryURL, timeout),
		logger:      logger,
	}
}

func newProviderClient(baseURL string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json")
}

// Lookup resolves isbn. It returns ErrInvalidInput for a malformed ISBN and
// otherwise always yields a record, marked SourceManual when no provider had it.
func (c *MetadataClient) Lookup(ctx context.Context, isbn string) (*Metadata, error) {
	clean := CleanISBN(isbn)
	if !ValidISBN(clean) {
		return nil, invalid("isbn", "invalid ISBN format")
	}

	providers := []struct {
		name  string
		fetch func(context.Context, string) (*Metadata, error)
	}{
		{SourceGoogleBooks, c.fromGoogleBooks},
		{SourceOpenLibrary, c.fromOpenLibrary},
	}
	for _, p := range providers {
		md, err := p.fetch(ctx, clean)
		if err != nil {
			c.logger.Warn("metadata provider failed",
				zap.String("provider", p.name),
				zap.String("isbn", clean),
				zap.Error(err))
			continue
		}
		if md != nil {
			c.logger.Debug("metadata found", zap.String("provider", p.name), zap.String("isbn", clean))
			return md, nil
		}
	}

	c.logger.Info("no metadata found, returning placeholder", zap.String("isbn", clean))
	return placeholderMetadata(clean), nil
}

func placeholderMetadata(isbn string) *Metadata {
	return &Metadata{
		ISBN:        isbn,
		Title:       "Book " + isbn,
		Authors:     []string{},
		Author:      "Unknown Author",
		Publisher:   "Unknown Publisher",
		Language:    "en",
		Description: fmt.Sprintf("Book with ISBN %s. Please update information manually.", isbn),
		Categories:  []string{},
		Source:      SourceManual,
	}
}

type googleVolumes struct {
	TotalItems int `json:"totalItems"`
	Items      []struct {
		VolumeInfo struct {
			Title         string   `json:"title"`
			Authors       []string `json:"authors"`
			Publisher     string   `json:"publisher"`
			PublishedDate string   `json:"publishedDate"`
			Description   string   `json:"description"`
			Categories    []string `json:"categories"`
			Language      string   `json:"language"`
			PageCount     int      `json:"pageCount"`
			ImageLinks    struct {
				Thumbnail string `json:"thumbnail"`
			} `json:"imageLinks"`
		} `json:"volumeInfo"`
	} `json:"items"`
}

func (c *MetadataClient) fromGoogleBooks(ctx context.Context, isbn string) (*Metadata, error) {
	var out googleVolumes
	resp, err := c.google.R().
		SetContext(ctx).
		SetQueryParam("q", "isbn:"+isbn).
		SetResult(&out).
		Get("/books/v1/volumes")
	if err != nil {
		return nil, fmt.Errorf("google books: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("google books: status %d", resp.StatusCode())
	}
	if out.TotalItems == 0 || len(out.Items) == 0 {
		return nil, nil
	}

	v := out.Items[0].VolumeInfo
	md := &Metadata{
		ISBN:            isbn,
		Title:           orDefault(v.Title, "Book "+isbn),
		Authors:         nonNil(v.Authors),
		Author:          joinOr(v.Authors, "Unknown Author"),
		Publisher:       orDefault(v.Publisher, "Unknown Publisher"),
		PublicationDate: v.PublishedDate,
		Language:        orDefault(v.Language, "en"),
		Description:     cleanDescription(orDefault(v.Description, "No description available")),
		CoverURL:        v.ImageLinks.Thumbnail,
		Categories:      nonNil(v.Categories),
		Source:          SourceGoogleBooks,
	}
	if v.PageCount > 0 {
		pages := v.PageCount
		md.Pages = &pages
	}
	return md, nil
}

type openLibraryName struct {
	Name string `json:"name"`
}

type openLibraryBook struct {
	Title         string            `json:"title"`
	Authors       []openLibraryName `json:"authors"`
	Publishers    []openLibraryName `json:"publishers"`
	PublishDate   string            `json:"publish_date"`
	NumberOfPages int               `json:"number_of_pages"`
	Subjects      []openLibraryName `json:"subjects"`
	Excerpts      []struct {
		Text string `json:"text"`
	} `json:"excerpts"`
	Cover struct {
		Small  string `json:"small"`
		Medium string `json:"medium"`
	} `json:"cover"`
}

func (c *MetadataClient) fromOpenLibrary(ctx context.Context, isbn string) (*Metadata, error) {
	out := map[string]openLibraryBook{}
	resp, err := c.openLibrary.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"bibkeys": "ISBN:" + isbn,
			"format":  "json",
			"jscmd":   "data",
		}).
		SetResult(&out).
		Get("/api/books")
	if err != nil {
		return nil, fmt.Errorf("open library: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("open library: status %d", resp.StatusCode())
	}
	b, ok := out["ISBN:"+isbn]
	if !ok {
		return nil, nil
	}

	authors := names(b.Authors)
	md := &Metadata{
		ISBN:            isbn,
		Title:           orDefault(b.Title, "Book "+isbn),
		Authors:         authors,
		Author:          joinOr(authors, "Unknown Author"),
		Publisher:       "Unknown Publisher",
		PublicationDate: b.PublishDate,
		Language:        "en",
		Description:     fmt.Sprintf("Book with ISBN %s from Open Library", isbn),
		CoverURL:        orDefault(b.Cover.Medium, b.Cover.Small),
		Categories:      names(b.Subjects),
		Source:          SourceOpenLibrary,
	}
	if len(b.Publishers) > 0 && b.Publishers[0].Name != "" {
		md.Publisher = b.Publishers[0].Name
	}
	if len(b.Excerpts) > 0 && b.Excerpts[0].Text != "" {
		md.Description = cleanDescription(b.Excerpts[0].Text)
	}
	if b.NumberOfPages > 0 {
		pages := b.NumberOfPages
		md.Pages = &pages
	}
	return md, nil
}

var htmlTag = regexp.MustCompile(`<[^>]+>`)

func cleanDescription(s string) string {
	s = strings.TrimSpace(htmlTag.ReplaceAllString(s, ""))
	if r := []rune(s); len(r) > maxDescriptionLen {
		s = string(r[:maxDescriptionLen]) + "..."
	}
	return s
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func joinOr(parts []string, def string) string {
	if len(parts) == 0 {
		return def
	}
	return strings.Join(parts, ", ")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func names(in []openLibraryName) []string {
	out := make([]string, 0, len(in))
	for _, n := range in {
		if n.Name != "" {
			out = append(out, n.Name)
		}
	}
	return out
}

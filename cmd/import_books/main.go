package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"library-circulation/config"
	"library-circulation/library"
	"library-circulation/logging"
)

func main() {
	var (
		dbURL  string
		lookup bool
	)
	cmd := &cobra.Command{
		Use:          "import_books <file.csv>",
		Short:        "Import books from a CSV file with columns isbn,title,author,copies,location",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dbURL != "" {
				cfg.Database.URL = dbURL
			}
			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "import_books")
			if err != nil {
				return err
			}
			defer logger.Sync()

			opts := []library.Option{library.WithLogger(logger), library.WithPolicy(cfg.Policy())}
			if lookup {
				opts = append(opts, library.WithMetadataLookup(library.NewMetadataClient(
					cfg.Metadata.GoogleURL, cfg.Metadata.OpenLibraryURL, cfg.Metadata.Timeout, logger)))
			}
			manager, err := library.OpenLibraryManager(cfg.Database.Driver, cfg.Database.URL, opts...)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer manager.Close()

			f, err := os.Open(filepath.Clean(args[0]))
			if err != nil {
				return err
			}
			defer f.Close()

			sum, err := importCSV(cmd.Context(), manager, f, lookup, logger)
			if err != nil {
				return err
			}
			fmt.Printf("\nImport complete!\n")
			fmt.Printf("Created: %d books\n", sum.created)
			fmt.Printf("Merged into existing: %d books\n", sum.merged)
			fmt.Printf("Errors: %d\n", sum.failed)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbURL, "db", "", "database path or URL (overrides DATABASE_URL)")
	cmd.Flags().BoolVar(&lookup, "lookup", false, "fill missing title and author from the ISBN metadata services")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type summary struct {
	created, merged, failed int
}

// importCSV adds one book per row. The header row names the columns; isbn,
// title, author, copies and location are recognised and the rest ignored.
// Rows that fail are reported and skipped.
func importCSV(ctx context.Context, mgr *library.LibraryManager, r io.Reader, lookup bool, logger *zap.Logger) (summary, error) {
	var sum summary
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return sum, fmt.Errorf("read header: %w", err)
	}
	cols := map[string]int{}
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := cols["isbn"]; !ok {
		if _, ok := cols["title"]; !ok {
			return sum, errors.New("header needs an isbn or title column")
		}
	}
	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return sum, nil
		}
		if err != nil {
			return sum, fmt.Errorf("line %d: %w", line, err)
		}

		in := library.BookInput{
			ISBN:     field(rec, "isbn"),
			Title:    field(rec, "title"),
			Author:   field(rec, "author"),
			Location: field(rec, "location"),
		}
		if raw := field(rec, "copies"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				fmt.Printf("Line %d: ERROR - invalid copies %q\n", line, raw)
				sum.failed++
				continue
			}
			in.CopiesTotal = n
		}
		if lookup && in.ISBN != "" && (in.Title == "" || in.Author == "") {
			fillFromLookup(ctx, mgr, &in, logger)
		}

		book, merged, err := mgr.AddBook(ctx, in)
		if err != nil {
			fmt.Printf("Line %d: ERROR - %v\n", line, err)
			sum.failed++
			continue
		}
		if merged {
			fmt.Printf("Line %d: %s, now %d copies\n", line, book.Title, book.CopiesTotal)
			sum.merged++
			continue
		}
		fmt.Printf("Line %d: %s by %s (ID: %d)\n", line, book.Title, book.Author, book.ID)
		sum.created++
	}
}

func fillFromLookup(ctx context.Context, mgr *library.LibraryManager, in *library.BookInput, logger *zap.Logger) {
	info, err := mgr.LookupISBN(ctx, in.ISBN)
	if err != nil {
		logger.Warn("isbn lookup failed", zap.String("isbn", in.ISBN), zap.Error(err))
		return
	}
	if in.Title == "" {
		in.Title = info.Title
	}
	if in.Author == "" {
		in.Author = info.Author
	}
	if in.Publisher == "" {
		in.Publisher = info.Publisher
	}
	if in.Description == "" {
		in.Description = info.Description
	}
	if in.ThumbnailURL == "" {
		in.ThumbnailURL = info.CoverURL
	}
	in.Pages = info.Pages
}

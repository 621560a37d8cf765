package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"library-circulation/library"
)

type fakeLookup struct{ calls int }

func (f *fakeLookup) Lookup(_ context.Context, isbn string) (*library.Metadata, error) {
	f.calls++
	return &library.Metadata{ISBN: isbn, Title: "Looked Up", Author: "Found Author", Source: "google_books"}, nil
}

func TestImportCSV(t *testing.T) {
	lookup := &fakeLookup{}
	mgr, err := library.OpenLibraryManager(library.DriverSQLite, filepath.Join(t.TempDir(), "import.db"),
		library.WithMetadataLookup(lookup))
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	ctx := context.Background()

	csv := strings.Join([]string{
		"ISBN,Title,Author,Copies,Location",
		"9780306406157,Dune,Frank Herbert,2,A-1",
		"978-0-306-40615-7,Dune,Frank Herbert,1,",
		",Untitled Notes,Anon,1,B-2",
		"0306406152,,,1,C-3",
		",Bad Copies,Someone,many,",
		",,Nobody,1,",
	}, "\n")

	sum, err := importCSV(ctx, mgr, strings.NewReader(csv), true, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, summary{created: 3, merged: 1, failed: 2}, sum)
	assert.Equal(t, 1, lookup.calls)

	dune, err := mgr.GetBookByISBN(ctx, "9780306406157")
	require.NoError(t, err)
	assert.Equal(t, 3, dune.CopiesTotal)
	assert.Equal(t, 3, dune.CopiesAvailable)

	looked, err := mgr.GetBookByISBN(ctx, "0306406152")
	require.NoError(t, err)
	assert.Equal(t, "Looked Up", looked.Title)
	assert.Equal(t, "Found Author", looked.Author)
}

func TestImportCSVNeedsKnownHeader(t *testing.T) {
	mgr, err := library.OpenLibraryManager(library.DriverSQLite, filepath.Join(t.TempDir(), "import.db"))
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })

	_, err = importCSV(context.Background(), mgr, strings.NewReader("name,count\nx,1\n"), false, zap.NewNop())
	assert.ErrorContains(t, err, "isbn or title")
}

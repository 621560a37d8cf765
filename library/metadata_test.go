package library

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testISBN = "9780306406157"

func jsonServer(t *testing.T, hits *int32, handler func(r *http.Request) (int, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		status, body := handler(r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func emptyGoogle(r *http.Request) (int, string) { return http.StatusOK, `{"totalItems":0}` }
func emptyOpenLibrary(r *http.Request) (int, string) { return http.StatusOK, `{}` }

func TestCleanAndValidateISBN(t *testing.T) {
	assert.Equal(t, "030640615X", CleanISBN(" 0-306-40615-x "))
	assert.True(t, ValidISBN("978-0-306-40615-7"))
	assert.True(t, ValidISBN("0306406152"))
	assert.False(t, ValidISBN("0306406153"))
	assert.False(t, ValidISBN("9780306406158"))
	assert.False(t, ValidISBN("12345"))
}

func TestLookupFromGoogleBooks(t *testing.T) {
	google := jsonServer(t, nil, func(r *http.Request) (int, string) {
		assert.Equal(t, "/books/v1/volumes", r.URL.Path)
		assert.Equal(t, "isbn:"+testISBN, r.URL.Query().Get("q"))
		return http.StatusOK, `{"totalItems":1,"items":[{"volumeInfo":{
			"title":"Signals","authors":["A. Writer","B. Writer"],"publisher":"Pub",
			"publishedDate":"2001","description":"<p>Great <b>book</b></p>",
			"pageCount":321,"categories":["Science"],"imageLinks":{"thumbnail":"http://img"}}}]}`
	})
	var olHits int32
	ol := jsonServer(t, &olHits, emptyOpenLibrary)

	c := NewMetadataClient(google.URL, ol.URL, time.Second, zap.NewNop())
	md, err := c.Lookup(context.Background(), "978-0-306-40615-7")
	require.NoError(t, err)
	assert.Equal(t, SourceGoogleBooks, md.Source)
	assert.Equal(t, "Signals", md.Title)
	assert.Equal(t, "A. Writer, B. Writer", md.Author)
	assert.Equal(t, "Great book", md.Description)
	assert.Equal(t, "en", md.Language)
	require.NotNil(t, md.Pages)
	assert.Equal(t, 321, *md.Pages)
	assert.Zero(t, atomic.LoadInt32(&olHits))
}

func TestLookupFallsBackToOpenLibrary(t *testing.T) {
	google := jsonServer(t, nil, emptyGoogle)
	ol := jsonServer(t, nil, func(r *http.Request) (int, string) {
		assert.Equal(t, "ISBN:"+testISBN, r.URL.Query().Get("bibkeys"))
		assert.Equal(t, "data", r.URL.Query().Get("jscmd"))
		return http.StatusOK, `{"ISBN:` + testISBN + `":{"title":"Open Signals",
			"authors":[{"name":"C. Writer"}],"publishers":[{"name":"OL Press"}],
			"number_of_pages":99,"subjects":[{"name":"Radio"}],
			"cover":{"small":"s.jpg","medium":"m.jpg"}}}`
	})

	c := NewMetadataClient(google.URL, ol.URL, time.Second, nil)
	md, err := c.Lookup(context.Background(), testISBN)
	require.NoError(t, err)
	assert.Equal(t, SourceOpenLibrary, md.Source)
	assert.Equal(t, "Open Signals", md.Title)
	assert.Equal(t, "C. Writer", md.Author)
	assert.Equal(t, "OL Press", md.Publisher)
	assert.Equal(t, "m.jpg", md.CoverURL)
	assert.Equal(t, []string{"Radio"}, md.Categories)
}

func TestLookupPlaceholderWhenProvidersFail(t *testing.T) {
	google := jsonServer(t, nil, func(*http.Request) (int, string) { return http.StatusBadRequest, `{}` })
	ol := jsonServer(t, nil, emptyOpenLibrary)

	c := NewMetadataClient(google.URL, ol.URL, time.Second, nil)
	md, err := c.Lookup(context.Background(), testISBN)
	require.NoError(t, err)
	assert.Equal(t, SourceManual, md.Source)
	assert.Equal(t, "Book "+testISBN, md.Title)
	assert.Equal(t, "Unknown Author", md.Author)
}

func TestLookupRejectsInvalidISBN(t *testing.T) {
	var hits int32
	srv := jsonServer(t, &hits, emptyGoogle)
	c := NewMetadataClient(srv.URL, srv.URL, time.Second, nil)

	_, err := c.Lookup(context.Background(), "123")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestCleanDescriptionTruncates(t *testing.T) {
	long := strings.Repeat("é", 600)
	got := cleanDescription("<i>" + long + "</i>")
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, maxDescriptionLen+3, len([]rune(got)))
}

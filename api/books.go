package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"library-circulation/library"
)

func (s *Server) listBooks(w http.ResponseWriter, r *http.Request) {
	page, err := s.mgr.ListBooks(r.Context(), library.BookFilter{
		Search:  r.URL.Query().Get("search"),
		Status:  library.BookStatus(r.URL.Query().Get("status")),
		Page:    queryInt(r, "page", 1),
		PerPage: queryInt(r, "per_page", 10),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, envelope{
		"books":        page.Books,
		"total":        page.Total,
		"pages":        page.Pages,
		"current_page": page.CurrentPage,
	})
}

func (s *Server) addBook(w http.ResponseWriter, r *http.Request) {
	var in library.BookInput
	if err := readJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	book, merged, err := s.mgr.AddBook(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if merged {
		ok(w, http.StatusOK, envelope{
			"book":    book,
			"action":  library.ActionMerged,
			"message": fmt.Sprintf("Added copies to existing book. Total copies: %d", book.CopiesTotal),
		})
		return
	}
	ok(w, http.StatusCreated, envelope{
		"book":    book,
		"action":  library.ActionCreated,
		"message": "New book added successfully",
	})
}

func (s *Server) getBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	book, err := s.mgr.GetBook(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, envelope{"book": book})
}

func (s *Server) updateBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var u library.BookUpdate
	if err := readJSON(r, &u); err != nil {
		s.writeError(w, r, err)
		return
	}
	book, err := s.mgr.UpdateBook(r.Context(), id, u)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, envelope{"book": book, "message": "Book updated successfully"})
}

func (s *Server) deleteBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.mgr.DeleteBook(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, envelope{"message": "Book deleted successfully"})
}

func (s *Server) getBookByISBN(w http.ResponseWriter, r *http.Request) {
	book, err := s.mgr.GetBookByISBN(r.Context(), mux.Vars(r)["isbn"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, envelope{"book": book})
}

func (s *Server) getBookByUUID(w http.ResponseWriter, r *http.Request) {
	book, err := s.mgr.GetBookByUUID(r.Context(), mux.Vars(r)["uuid"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, envelope{"book": book})
}

func (s *Server) lookupISBN(w http.ResponseWriter, r *http.Request) {
	info, err := s.mgr.LookupISBN(r.Context(), mux.Vars(r)["isbn"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, envelope{"book_info": info})
}

func (s *Server) bookQR(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	book, png, err := s.mgr.BookQRCode(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, envelope{"qr_code": library.DataURI(png), "book": book})
}

func (s *Server) bookQRByUUID(w http.ResponseWriter, r *http.Request) {
	book, err := s.mgr.GetBookByUUID(r.Context(), mux.Vars(r)["uuid"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	book, png, err := s.mgr.BookQRCode(r.Context(), book.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, envelope{"qr_code": library.DataURI(png), "book": book})
}

// scanBookQR reads a multipart "image" upload and returns the book its QR
// code names.
func (s *Server) scanBookQR(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		fail(w, http.StatusBadRequest, "No image file provided")
		return
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		fail(w, http.StatusBadRequest, "No image file provided")
		return
	}
	defer file.Close()
	img, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	book, err := s.mgr.ScanBook(r.Context(), img)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, envelope{"book": book})
}

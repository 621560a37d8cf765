package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"library-circulation/library"
)

// Server serves the library HTTP API.
type Server struct {
	mgr    *library.LibraryManager
	logger *zap.Logger
	router *mux.Router
	http   *http.Server
}

// NewServer wires the routes around mgr. addr is only used by Start.
func NewServer(addr string, mgr *library.LibraryManager, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{mgr: mgr, logger: logger, router: mux.NewRouter()}
	s.routes()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	r := s.router
	r.Use(s.recoverer, s.requestLogger)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fail(w, http.StatusNotFound, "route not found")
	})

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.ready).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/books", s.listBooks).Methods(http.MethodGet)
	api.HandleFunc("/books", s.addBook).Methods(http.MethodPost)
	api.HandleFunc("/books/{id:[0-9]+}", s.getBook).Methods(http.MethodGet)
	api.HandleFunc("/books/{id:[0-9]+}", s.updateBook).Methods(http.MethodPut)
	api.HandleFunc("/books/{id:[0-9]+}", s.deleteBook).Methods(http.MethodDelete)
	api.HandleFunc("/books/isbn/{isbn}", s.getBookByISBN).Methods(http.MethodGet)
	api.HandleFunc("/books/uuid/{uuid}", s.getBookByUUID).Methods(http.MethodGet)
	api.HandleFunc("/isbn/lookup/{isbn}", s.lookupISBN).Methods(http.MethodGet)

	api.HandleFunc("/qr/{id:[0-9]+}", s.bookQR).Methods(http.MethodGet)
	api.HandleFunc("/qr/generate/{uuid}", s.bookQRByUUID).Methods(http.MethodGet)
	api.HandleFunc("/scan/qr", s.scanBookQR).Methods(http.MethodPost)
	api.HandleFunc("/scan/member-qr", s.scanMemberQR).Methods(http.MethodPost)

	api.HandleFunc("/circulation/checkout", s.checkout).Methods(http.MethodPost)
	api.HandleFunc("/circulation/checkin", s.checkin).Methods(http.MethodPost)
	api.HandleFunc("/circulation/status/{uuid}", s.circulationStatus).Methods(http.MethodGet)
	api.HandleFunc("/circulation/recent", s.recentTransactions).Methods(http.MethodGet)

	api.HandleFunc("/members", s.listMembers).Methods(http.MethodGet)
	api.HandleFunc("/members", s.addMember).Methods(http.MethodPost)
	api.HandleFunc("/members/{id:[0-9]+}", s.getMember).Methods(http.MethodGet)
	api.HandleFunc("/members/{id:[0-9]+}", s.updateMember).Methods(http.MethodPut)
	api.HandleFunc("/members/{id:[0-9]+}", s.deleteMember).Methods(http.MethodDelete)
	api.HandleFunc("/members/{id:[0-9]+}/loans", s.memberLoans).Methods(http.MethodGet)
	api.HandleFunc("/members/{id:[0-9]+}/qr", s.memberQR).Methods(http.MethodGet)
	api.HandleFunc("/members/employee/{code}", s.getMemberByEmployeeCode).Methods(http.MethodGet)

	api.HandleFunc("/transactions", s.listTransactions).Methods(http.MethodGet)
	api.HandleFunc("/transactions/export", s.exportTransactions).Methods(http.MethodGet)
	api.HandleFunc("/borrow", s.borrow).Methods(http.MethodPost)
	api.HandleFunc("/return", s.returnBook).Methods(http.MethodPost)
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.http.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.logger.Error("panic in handler",
					zap.Any("panic", v),
					zap.String("path", r.URL.Path),
					zap.Stack("stack"))
				fail(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	if err := s.mgr.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, envelope{
			"status":    "unhealthy",
			"timestamp": now,
			"database":  "error",
			"error":     err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, envelope{"status": "healthy", "timestamp": now, "database": "connected"})
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	rd, err := s.mgr.Ready(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, envelope{
			"status":    "not_ready",
			"timestamp": now,
			"error":     err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		"status":        "ready",
		"timestamp":     now,
		"database":      "ready",
		"books_count":   rd.Books,
		"members_count": rd.Members,
		"active_loans":  rd.ActiveLoans,
	})
}

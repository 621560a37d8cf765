package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"

	"library-circulation/library"
)

type checkoutRequest struct {
	BookUUID string `json:"book_uuid"`
	MemberID int64  `json:"member_id"`
	DueDays  int    `json:"due_days"`
}

func (s *Server) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := readJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.mgr.Checkout(r.Context(), library.CheckoutRequest{
		BookUUID: req.BookUUID,
		MemberID: req.MemberID,
		DueDays:  req.DueDays,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, envelope{
		"message":     "Book checked out successfully",
		"transaction": res.Transaction,
		"book":        res.Book,
		"member":      res.Member,
		"due_date":    res.DueDate,
	})
}

// checkinRequest accepts condition_fee as a JSON number or string.
type checkinRequest struct {
	BookUUID       string              `json:"book_uuid"`
	MemberID       *int64              `json:"member_id"`
	Condition      library.Condition   `json:"condition"`
	ConditionNotes string              `json:"condition_notes"`
	ConditionFee   jsoniter.RawMessage `json:"condition_fee"`
	// ConditionFeeExplicit charges a zero fee as given instead of the default.
	ConditionFeeExplicit bool `json:"condition_fee_explicit"`
}

// rawFee renders the raw condition_fee for library.ParseFee.
func rawFee(raw jsoniter.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func (s *Server) checkin(w http.ResponseWriter, r *http.Request) {
	var req checkinRequest
	if err := readJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.mgr.Checkin(r.Context(), library.CheckinRequest{
		BookUUID:       req.BookUUID,
		MemberID:       req.MemberID,
		Condition:      library.Condition(strings.ToLower(string(req.Condition))),
		ConditionNotes: req.ConditionNotes,
		ConditionFee:   rawFee(req.ConditionFee),
		ExplicitFee:    req.ConditionFeeExplicit,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, envelope{
		"message":         "Book checked in successfully",
		"transaction":     res.Transaction,
		"book":            res.Book,
		"member":          res.Member,
		"fine_amount":     res.FineAmount,
		"condition_fee":   res.ConditionFee,
		"was_overdue":     res.WasOverdue,
		"condition":       res.Condition,
		"condition_notes": res.ConditionNotes,
	})
}

func (s *Server) circulationStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.mgr.CirculationStatus(r.Context(), mux.Vars(r)["uuid"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, envelope{
		"book":                st.Book,
		"active_transactions": st.ActiveTransactions,
		"is_available":        st.IsAvailable,
	})
}

func (s *Server) recentTransactions(w http.ResponseWriter, r *http.Request) {
	recent, err := s.mgr.RecentTransactions(r.Context(), queryInt(r, "limit", library.DefaultRecentLimit))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, envelope{"transactions": recent, "total": len(recent)})
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	f := library.TransactionFilter{
		Status: library.TransactionStatus(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit", 0),
	}
	txns, err := s.mgr.ListTransactions(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, envelope{"transactions": txns, "total": len(txns)})
}

func (s *Server) exportTransactions(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.mgr.ExportWorkbook(r.Context(), &buf); err != nil {
		s.writeError(w, r, err)
		return
	}
	name := fmt.Sprintf("transactions-%s.xlsx", time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) borrow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BookID   int64 `json:"book_id"`
		MemberID int64 `json:"member_id"`
	}
	if err := readJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	txn, err := s.mgr.Borrow(r.Context(), req.BookID, req.MemberID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, envelope{"transaction": txn, "message": "Book borrowed successfully"})
}

func (s *Server) returnBook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TransactionID int64 `json:"transaction_id"`
	}
	if err := readJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.mgr.Return(r.Context(), req.TransactionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, envelope{
		"transaction": res.Transaction,
		"fine_amount": res.FineAmount,
		"message":     "Book returned successfully",
	})
}

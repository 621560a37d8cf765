package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"library-circulation/library"
)

func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.mgr.ListMembers(r.Context(), library.MemberFilter{
		Search: r.URL.Query().Get("search"),
		Status: library.MemberStatus(r.URL.Query().Get("status")),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, envelope{"members": members, "total": len(members)})
}

func (s *Server) addMember(w http.ResponseWriter, r *http.Request) {
	var in library.MemberInput
	if err := readJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.mgr.AddMember(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ok(w, http.StatusCreated, envelope{"member": m, "message": "Member added successfully"})
}

func (s *Server) getMember(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.mgr.GetMember(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, envelope{"member": m})
}

func (s *Server) getMemberByEmployeeCode(w http.ResponseWriter, r *http.Request) {
	m, err := s.mgr.GetMemberByEmployeeCode(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, envelope{"member": m})
}

func (s *Server) updateMember(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var u library.MemberUpdate
	if err := readJSON(r, &u); err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.mgr.UpdateMember(r.Context(), id, u)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, envelope{"member": m, "message": "Member updated successfully"})
}

func (s *Server) deleteMember(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.mgr.DeleteMember(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, envelope{"message": "Member deleted successfully"})
}

func (s *Server) memberLoans(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	loans, err := s.mgr.ActiveLoans(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, envelope{"loans": loans, "total": len(loans)})
}

func (s *Server) memberQR(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	m, png, err := s.mgr.MemberQRCode(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, envelope{"qr_code": library.DataURI(png), "member": m})
}

func (s *Server) scanMemberQR(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QRData string `json:"qr_data"`
	}
	if err := readJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	scan, err := s.mgr.ResolveMemberScan(r.Context(), req.QRData)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, envelope{"member": scan.Member, "qr_type": scan.QRType})
}

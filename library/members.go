package library

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// MemberInput is the payload for registering a member.
type MemberInput struct {
	FirstName      string         `json:"first_name"`
	LastName       string         `json:"last_name"`
	EmployeeCode   string         `json:"employee_code"`
	Email          string         `json:"email"`
	Phone          string         `json:"phone"`
	Department     string         `json:"department"`
	Address        string         `json:"address"`
	MembershipType MembershipType `json:"membership_type"`
	MaxBooks       int            `json:"max_books"`
}

// MemberUpdate lists the member fields a caller may change.
type MemberUpdate struct {
	FirstName      *string         `json:"first_name"`
	LastName       *string         `json:"last_name"`
	EmployeeCode   *string         `json:"employee_code"`
	Email          *string         `json:"email"`
	Phone          *string         `json:"phone"`
	Department     *string         `json:"department"`
	Address        *string         `json:"address"`
	MembershipType *MembershipType `json:"membership_type"`
	Status         *MemberStatus   `json:"status"`
	MaxBooks       *int            `json:"max_books"`
}

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// nextMemberID returns the first free LIB<unix seconds> number at or after now.
func nextMemberID(ctx context.Context, q Queries, unix int64) (string, error) {
	for n := unix; ; n++ {
		id := fmt.Sprintf("LIB%d", n)
		_, err := q.MemberByMemberID(ctx, id)
		if isNotFound(err) {
			return id, nil
		}
		if err != nil {
			return "", err
		}
	}
}

// AddMember registers a member. Employee code and email must be unique.
func (lm *LibraryManager) AddMember(ctx context.Context, in MemberInput) (*Member, error) {
	for _, f := range []struct{ name, value string }{
		{"first_name", in.FirstName},
		{"last_name", in.LastName},
		{"employee_code", in.EmployeeCode},
	} {
		if strings.TrimSpace(f.value) == "" {
			return nil, invalid(f.name, "is required")
		}
	}
	mt := in.MembershipType
	if mt == "" {
		mt = MembershipRegular
	}
	if !validMembershipTypes[mt] {
		return nil, invalid("membership_type", "unknown type %q", mt)
	}
	maxBooks := in.MaxBooks
	if maxBooks == 0 {
		maxBooks = lm.policy.MaxBooks
	}
	if maxBooks < 1 {
		return nil, invalid("max_books", "must be at least 1")
	}

	var member *Member
	err := lm.db.WithTx(ctx, func(tx Tx) error {
		code := strings.TrimSpace(in.EmployeeCode)
		if _, err := tx.MemberByEmployeeCode(ctx, code); err == nil {
			return conflict("employee code already exists")
		} else if !isNotFound(err) {
			return err
		}
		email := strings.TrimSpace(in.Email)
		if email != "" {
			if _, err := tx.MemberByEmail(ctx, email); err == nil {
				return conflict("email already exists")
			} else if !isNotFound(err) {
				return err
			}
		}

		now := lm.clock.Now()
		memberID, err := nextMemberID(ctx, tx, now.Unix())
		if err != nil {
			return err
		}
		m := &Member{
			MemberID:       memberID,
			FirstName:      strings.TrimSpace(in.FirstName),
			LastName:       strings.TrimSpace(in.LastName),
			Phone:          in.Phone,
			EmployeeCode:   code,
			Department:     in.Department,
			Address:        in.Address,
			MembershipDate: now,
			MembershipType: mt,
			Status:         MemberActive,
			MaxBooks:       maxBooks,
		}
		if email != "" {
			m.Email = &email
		}
		if err := tx.InsertMember(ctx, m); err != nil {
			return err
		}
		member = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	lm.logger.Info("member added", zap.String("member_id", member.MemberID), zap.String("employee_code", member.EmployeeCode))
	return member, nil
}

func (lm *LibraryManager) GetMember(ctx context.Context, id int64) (*Member, error) {
	return lm.db.MemberByID(ctx, id)
}

func (lm *LibraryManager) GetMemberByEmployeeCode(ctx context.Context, code string) (*Member, error) {
	return lm.db.MemberByEmployeeCode(ctx, strings.TrimSpace(code))
}

func (lm *LibraryManager) ListMembers(ctx context.Context, f MemberFilter) ([]*Member, error) {
	return lm.db.ListMembers(ctx, f)
}

// UpdateMember applies the allow-listed fields of u to member id.
func (lm *LibraryManager) UpdateMember(ctx context.Context, id int64, u MemberUpdate) (*Member, error) {
	var member *Member
	err := lm.db.WithTx(ctx, func(tx Tx) error {
		m, err := tx.MemberByID(ctx, id)
		if err != nil {
			return err
		}
		if u.EmployeeCode != nil {
			code := strings.TrimSpace(*u.EmployeeCode)
			if code == "" {
				return invalid("employee_code", "is required")
			}
			if code != m.EmployeeCode {
				if _, err := tx.MemberByEmployeeCode(ctx, code); err == nil {
					return conflict("employee code already exists")
				} else if !isNotFound(err) {
					return err
				}
			}
			m.EmployeeCode = code
		}
		if u.Email != nil {
			email := strings.TrimSpace(*u.Email)
			switch {
			case email == "":
				m.Email = nil
			case m.Email == nil || *m.Email != email:
				if _, err := tx.MemberByEmail(ctx, email); err == nil {
					return conflict("email already exists")
				} else if !isNotFound(err) {
					return err
				}
				m.Email = &email
			}
		}
		if err := u.apply(m); err != nil {
			return err
		}
		if err := tx.UpdateMember(ctx, m); err != nil {
			return err
		}
		member = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return member, nil
}

func (u MemberUpdate) apply(m *Member) error {
	if u.FirstName != nil {
		if strings.TrimSpace(*u.FirstName) == "" {
			return invalid("first_name", "cannot be empty")
		}
		m.FirstName = strings.TrimSpace(*u.FirstName)
	}
	if u.LastName != nil {
		if strings.TrimSpace(*u.LastName) == "" {
			return invalid("last_name", "cannot be empty")
		}
		m.LastName = strings.TrimSpace(*u.LastName)
	}
	if u.MembershipType != nil {
		if !validMembershipTypes[*u.MembershipType] {
			return invalid("membership_type", "unknown type %q", *u.MembershipType)
		}
		m.MembershipType = *u.MembershipType
	}
	if u.Status != nil {
		if !validMemberStatuses[*u.Status] {
			return invalid("status", "unknown status %q", *u.Status)
		}
		m.Status = *u.Status
	}
	if u.MaxBooks != nil {
		if *u.MaxBooks < 1 {
			return invalid("max_books", "must be at least 1")
		}
		m.MaxBooks = *u.MaxBooks
	}
	setString(&m.Phone, u.Phone)
	setString(&m.Department, u.Department)
	setString(&m.Address, u.Address)
	return nil
}

// DeleteMember removes a member and their loan history. Members who still
// hold books cannot be deleted.
func (lm *LibraryManager) DeleteMember(ctx context.Context, id int64) error {
	err := lm.db.WithTx(ctx, func(tx Tx) error {
		m, err := tx.MemberByID(ctx, id)
		if err != nil {
			return err
		}
		n, err := tx.ActiveLoanCount(ctx, m.ID)
		if err != nil {
			return err
		}
		if n > 0 {
			return conflict("member %s has %d active loan(s)", m.MemberID, n)
		}
		return tx.DeleteMember(ctx, m.ID)
	})
	if err != nil {
		return err
	}
	lm.logger.Info("member deleted", zap.Int64("id", id))
	return nil
}

// MemberScan is a member matched from a scanned code.
type MemberScan struct {
	Member *Member `json:"member"`
	QRType string  `json:"qr_type"`
}

// ResolveMemberScan finds the member a scanned code refers to. A member-card
// JSON payload is matched by its employee code; plain text is tried as an
// employee code, then as a member id.
func (lm *LibraryManager) ResolveMemberScan(ctx context.Context, data string) (*MemberScan, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return nil, invalid("qr_data", "is required")
	}
	if code, ok := parseMemberCard(data); ok {
		m, err := lm.db.MemberByEmployeeCode(ctx, code)
		if err != nil {
			return nil, err
		}
		return &MemberScan{Member: m, QRType: ScanLibraryMember}, nil
	}
	if m, err := lm.db.MemberByEmployeeCode(ctx, data); err == nil {
		return &MemberScan{Member: m, QRType: ScanEmployeeCode}, nil
	} else if !isNotFound(err) {
		return nil, err
	}
	if m, err := lm.db.MemberByMemberID(ctx, data); err == nil {
		return &MemberScan{Member: m, QRType: ScanMemberID}, nil
	} else if !isNotFound(err) {
		return nil, err
	}
	return nil, notFound("no member for the scanned code")
}

// MemberQRCode renders the member-card QR image for member id.
func (lm *LibraryManager) MemberQRCode(ctx context.Context, id int64) (*Member, []byte, error) {
	m, err := lm.db.MemberByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	payload, err := MemberCardPayload(m, lm.clock.Now())
	if err != nil {
		return nil, nil, err
	}
	png, err := lm.codec.Encode(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("member %d qr: %w", id, err)
	}
	return m, png, nil
}

package library

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/makiuchi-d/gozxing"
	zxingqr "github.com/makiuchi-d/gozxing/qrcode"
	"github.com/skip2/go-qrcode"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// QRCodec turns an identifier into a scannable image and back.
type QRCodec interface {
	Encode(payload string) ([]byte, error)
	Decode(img []byte) (string, error)
}

// PNGCodec renders QR codes as PNG and reads PNG or JPEG photos of them.
type PNGCodec struct {
	Size  int
	Level qrcode.RecoveryLevel
}

// NewPNGCodec returns a codec producing size x size images with medium
// error correction.
func NewPNGCodec(size int) PNGCodec {
	if size <= 0 {
		size = 256
	}
	return PNGCodec{Size: size, Level: qrcode.Medium}
}

func (c PNGCodec) Encode(payload string) ([]byte, error) {
	if payload == "" {
		return nil, invalid("payload", "is empty")
	}
	png, err := qrcode.Encode(payload, c.Level, c.Size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}

func (c PNGCodec) Decode(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", invalid("image", "cannot decode: %v", err)
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("read qr bitmap: %w", err)
	}
	res, err := zxingqr.NewQRCodeReader().Decode(bmp, nil)
	if err != nil {
		return "", notFound("qr code in image")
	}
	return res.GetText(), nil
}

// DataURI wraps a PNG for inline embedding.
func DataURI(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}

// Member card payloads carry this type tag.
const memberCardType = "library_member"

// MemberCard is the JSON payload printed on member cards.
type MemberCard struct {
	Type         string    `json:"type"`
	MemberID     string    `json:"member_id"`
	EmployeeCode string    `json:"employee_code"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// MemberCardPayload renders the card payload for m.
func MemberCardPayload(m *Member, now time.Time) (string, error) {
	b, err := json.Marshal(MemberCard{
		Type:         memberCardType,
		MemberID:     m.MemberID,
		EmployeeCode: m.EmployeeCode,
		FirstName:    m.FirstName,
		LastName:     m.LastName,
		GeneratedAt:  now,
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// How a scanned member code was matched.
const (
	ScanLibraryMember = "library_member"
	ScanEmployeeCode  = "employee_code"
	ScanMemberID      = "member_id"
)

// parseMemberCard returns the employee code of a member-card payload.
func parseMemberCard(data string) (string, bool) {
	data = strings.TrimSpace(data)
	if !strings.HasPrefix(data, "{") {
		return "", false
	}
	var card MemberCard
	if err := json.Unmarshal([]byte(data), &card); err != nil {
		return "", false
	}
	if card.Type != memberCardType || card.EmployeeCode == "" {
		return "", false
	}
	return card.EmployeeCode, true
}

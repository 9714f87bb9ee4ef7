// Package project keeps the servers pocketcode has been paired with.
// Projects are stored encrypted at rest and created from a pairing payload,
// the JSON text a server encodes in its QR code.
package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"
)

// ErrInvalidQRCode is returned when a pairing payload is not a JSON object
// with non-empty string fields "link" and "auth".
var ErrInvalidQRCode = errors.New("invalid QR code: expected {\"link\": ..., \"auth\": ...}")

// ErrNotFound is returned when no project has the requested id.
var ErrNotFound = errors.New("project not found")

// Project is a paired server endpoint.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	AuthToken string    `json:"authToken"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Host returns the host:port of the project URL, or the raw URL when it
// cannot be parsed.
func (p Project) Host() string {
	u, err := url.Parse(p.URL)
	if err != nil || u.Host == "" {
		return p.URL
	}
	return u.Host
}

// QRCodeData is a validated pairing payload.
type QRCodeData struct {
	Link string `json:"link"`
	Auth string `json:"auth"`
}

// ValidateQRCodeData parses a decoded QR payload. Both fields must be JSON
// strings that are non-empty after trimming; they are returned trimmed.
func ValidateQRCodeData(data string) (QRCodeData, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &raw); err != nil {
		return QRCodeData{}, ErrInvalidQRCode
	}
	link, ok := stringField(raw, "link")
	if !ok {
		return QRCodeData{}, ErrInvalidQRCode
	}
	auth, ok := stringField(raw, "auth")
	if !ok {
		return QRCodeData{}, ErrInvalidQRCode
	}
	return QRCodeData{Link: link, Auth: auth}, nil
}

func stringField(raw map[string]json.RawMessage, key string) (string, bool) {
	v, ok := raw[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// DefaultName derives a display name for a new project from its link.
func DefaultName(link string) string {
	if u, err := url.Parse(link); err == nil && u.Host != "" {
		return u.Host
	}
	return link
}

// PairingPayload is the JSON a QR code carries to pair another client with p.
func PairingPayload(p Project) string {
	data, _ := json.Marshal(QRCodeData{Link: p.URL, Auth: p.AuthToken})
	return string(data)
}

// PairingQR renders the pairing payload of p as terminal block art.
func PairingQR(p Project) (string, error) {
	qr, err := qrcode.New(PairingPayload(p), qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("generating QR code: %w", err)
	}
	return qr.ToSmallString(false), nil
}

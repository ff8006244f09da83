package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// sourceHashDomain separates source image digests from any other hash we may compute.
const sourceHashDomain = "reactivator/source/v1"

// SourceImage is the uploaded image a batch is generated from.
type SourceImage struct {
	Bytes      string `json:"base64" gorm:"type:text;not null"`
	MimeType   string `json:"mimeType" gorm:"size:64;not null"`
	DisplayURL string `json:"url" gorm:"type:text"`
}

// SourceImageFromDataURL splits a "data:<mime>;base64,<payload>" URL into a SourceImage.
// The data URL itself is kept as the display URL.
func SourceImageFromDataURL(dataURL string) (*SourceImage, error) {
	dataURL = strings.TrimSpace(dataURL)
	header, payload, ok := strings.Cut(dataURL, ",")
	if !ok || payload == "" {
		return nil, fmt.Errorf("could not read file as base64")
	}
	if !strings.HasPrefix(header, "data:") || !strings.HasSuffix(header, ";base64") {
		return nil, fmt.Errorf("could not determine MIME type")
	}
	mimeType := strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
	if mimeType == "" {
		return nil, fmt.Errorf("could not determine MIME type")
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("file is not an image")
	}
	return &SourceImage{
		Bytes:      payload,
		MimeType:   mimeType,
		DisplayURL: dataURL,
	}, nil
}

// IsEmpty reports whether the image carries no payload.
func (s *SourceImage) IsEmpty() bool {
	return s == nil || s.Bytes == "" || s.MimeType == ""
}

// Hash returns the content identity of the image bytes.
func (s *SourceImage) Hash() string {
	if s == nil {
		return ""
	}
	h := sha256.New()
	h.Write([]byte(sourceHashDomain))
	h.Write([]byte{0x00})
	h.Write([]byte(s.Bytes))
	return hex.EncodeToString(h.Sum(nil))
}

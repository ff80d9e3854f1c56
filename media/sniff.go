// Package media validates, stores and garbage-collects message attachments.
package media

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Sniffer guesses the content type from the bytes themselves.
type Sniffer interface {
	Sniff(data []byte) string
}

// MimeSniffer detects types by magic numbers.
type MimeSniffer struct{}

func (MimeSniffer) Sniff(data []byte) string {
	mt := mimetype.Detect(data).String()
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return strings.TrimSpace(mt)
}

// Allowed reports whether attachments of the given type may be stored.
func Allowed(mime string) bool {
	switch {
	case strings.HasPrefix(mime, "image/"),
		strings.HasPrefix(mime, "video/"),
		strings.HasPrefix(mime, "text/"):
		return true
	}
	return mime == "application/pdf" || mime == "application/zip"
}

package relay

import (
	"encoding/base64"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const genericMimeType = "application/octet-stream"

// normaliseMimeType keeps the declared type unless it is missing or the
// generic octet-stream, in which case the content is sniffed.
func normaliseMimeType(declared string, data []byte) string {
	declared = strings.TrimSpace(strings.ToLower(declared))
	if idx := strings.Index(declared, ";"); idx > 0 {
		declared = strings.TrimSpace(declared[:idx])
	}
	if declared != "" && declared != genericMimeType {
		return declared
	}
	detected := mimetype.Detect(data).String()
	if idx := strings.Index(detected, ";"); idx > 0 {
		detected = detected[:idx]
	}
	return detected
}

// formatFor returns the file format (extension without the dot) for a MIME type.
func formatFor(mimeType string) string {
	m := mimetype.Lookup(mimeType)
	if m == nil {
		return ""
	}
	return strings.TrimPrefix(m.Extension(), ".")
}

// DataURI embeds data as base64 text with its MIME type.
func DataURI(mimeType string, data []byte) string {
	var sb strings.Builder
	sb.Grow(len("data:;base64,") + len(mimeType) + base64.StdEncoding.EncodedLen(len(data)))
	sb.WriteString("data:")
	sb.WriteString(mimeType)
	sb.WriteString(";base64,")
	sb.WriteString(base64.StdEncoding.EncodeToString(data))
	return sb.String()
}

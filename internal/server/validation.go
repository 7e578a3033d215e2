// validation.go - Input sanitization helpers
package server

import (
	"path/filepath"
	"strings"
	"unicode"
)

const maxFilenameLength = 255

// SanitizeFilename strips directories and control characters from a client
// supplied filename before it is logged or forwarded.
func SanitizeFilename(filename string) string {
	filename = strings.ReplaceAll(filename, "\\", "/")
	filename = filename[strings.LastIndex(filename, "/")+1:]

	filename = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, filename)

	filename = strings.Trim(filename, " .")

	if len(filename) > maxFilenameLength {
		ext := filepath.Ext(filename)
		if len(ext) > 16 {
			ext = ""
		}
		filename = strings.ToValidUTF8(filename[:maxFilenameLength-len(ext)], "") + ext
	}

	if filename == "" {
		filename = "unnamed"
	}
	return filename
}

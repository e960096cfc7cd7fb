package constants

import "strings"

// AllowedExtensions holds the file extensions the watcher and ingestor accept.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"jpg":  {},
	"jpeg": {},
	"png":  {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// AllowedExt reports whether a normalized extension is ingestible.
func AllowedExt(ext string) bool {
	_, ok := AllowedExtensions[NormalizeExt(ext)]
	return ok
}

// IsPDF reports whether the normalized extension is a PDF.
func IsPDF(ext string) bool {
	return NormalizeExt(ext) == "pdf"
}

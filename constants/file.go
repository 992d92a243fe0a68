package constants

import (
	"mime"
	"strings"
)

// MaxFileBytes is the largest payload the service accepts for a single analysis.
const MaxFileBytes = 500 * 1024 * 1024

const (
	ContentTypePDF  = "application/pdf"
	ContentTypeXPDF = "application/x-pdf"
)

// SupportedContentTypes holds the MIME types the layout model can analyze.
var SupportedContentTypes = map[string]struct{}{
	ContentTypePDF:  {},
	ContentTypeXPDF: {},
	"image/jpeg":    {},
	"image/png":     {},
	"image/bmp":     {},
	"image/tiff":    {},
	"image/heif":    {},
	"text/html":     {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   {},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         {},
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": {},
}

// extTypes maps file extensions to the content type sent to the service.
var extTypes = map[string]string{
	"pdf":  ContentTypePDF,
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"bmp":  "image/bmp",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
	"heif": "image/heif",
	"html": "text/html",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// NormalizeContentType lowercases a MIME type and strips any parameters.
func NormalizeContentType(ct string) string {
	ct = strings.TrimSpace(ct)
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	return strings.ToLower(ct)
}

// IsSupportedContentType reports whether ct can be submitted for analysis.
func IsSupportedContentType(ct string) bool {
	_, ok := SupportedContentTypes[NormalizeContentType(ct)]
	return ok
}

// IsPDF reports whether ct is one of the PDF aliases.
func IsPDF(ct string) bool {
	ct = NormalizeContentType(ct)
	return ct == ContentTypePDF || ct == ContentTypeXPDF
}

// ContentTypeForExt returns the content type for a file extension, or "" if unsupported.
func ContentTypeForExt(ext string) string {
	return extTypes[NormalizeExt(ext)]
}

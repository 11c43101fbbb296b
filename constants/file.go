package constants

import (
	"net/http"
	"strings"
)

// FileClass is the routing class of an upload.
type FileClass string

const (
	PDF         FileClass = "PDF"
	IMAGE       FileClass = "IMAGE"
	SPREADSHEET FileClass = "SPREADSHEET"
	UNSUPPORTED FileClass = "UNSUPPORTED"
)

// MaxUploadBytes is the hard ceiling for a single upload.
const MaxUploadBytes = 20 << 20

// AllowedExtensions holds the extensions this pipeline accepts.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"webp": {},
	"gif":  {},
}

// SpreadsheetExtensions are parsed client-side and rejected here.
var SpreadsheetExtensions = map[string]struct{}{
	"xlsx": {},
	"xlsm": {},
	"xls":  {},
	"csv":  {},
	"ods":  {},
}

var imageMIME = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"webp": "image/webp",
	"gif":  "image/gif",
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MapExtToFormat maps a normalized extension to its routing class.
func MapExtToFormat(ext string) FileClass {
	ext = NormalizeExt(ext)
	if ext == "pdf" {
		return PDF
	}
	if _, ok := imageMIME[ext]; ok {
		return IMAGE
	}
	if _, ok := SpreadsheetExtensions[ext]; ok {
		return SPREADSHEET
	}
	return UNSUPPORTED
}

// MIMEForExt returns the canonical MIME type for an accepted extension.
func MIMEForExt(ext string) string {
	ext = NormalizeExt(ext)
	if ext == "pdf" {
		return "application/pdf"
	}
	return imageMIME[ext]
}

// ClassifyUpload decides the class from the declared MIME type, the filename
// extension and the leading bytes. Content sniffing wins over the declared
// type so that a mislabeled PDF is still routed as a PDF.
func ClassifyUpload(filename, mimeType string, head []byte) (FileClass, string) {
	sniffed := http.DetectContentType(head)
	switch {
	case sniffed == "application/pdf":
		return PDF, sniffed
	case strings.HasPrefix(sniffed, "image/"):
		if _, ok := mimeToExt(sniffed); ok {
			return IMAGE, sniffed
		}
	}

	mimeType = strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))
	switch {
	case mimeType == "application/pdf":
		return PDF, mimeType
	case strings.HasPrefix(mimeType, "image/"):
		if _, ok := mimeToExt(mimeType); ok {
			return IMAGE, mimeType
		}
	case strings.Contains(mimeType, "spreadsheet"), strings.Contains(mimeType, "excel"), mimeType == "text/csv":
		return SPREADSHEET, mimeType
	}

	ext := extOf(filename)
	class := MapExtToFormat(ext)
	return class, MIMEForExt(ext)
}

func mimeToExt(m string) (string, bool) {
	for ext, mt := range imageMIME {
		if mt == m {
			return ext, true
		}
	}
	return "", false
}

func extOf(filename string) string {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 {
		return ""
	}
	return NormalizeExt(filename[i+1:])
}

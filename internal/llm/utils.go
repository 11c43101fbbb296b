package llm

import (
	"encoding/base64"
	"net/http"
	"strings"
)

// DataURL encodes bytes as a data URL, sniffing the MIME type when none is given.
func DataURL(b []byte, mimeType string) string {
	mt := strings.TrimSpace(mimeType)
	if mt == "" {
		mt = http.DetectContentType(b)
		if i := strings.IndexByte(mt, ';'); i >= 0 {
			mt = mt[:i]
		}
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(b)
}

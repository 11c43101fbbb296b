package entity

// PageText is the text of one physical page.
type PageText struct {
	PageNumber int    `json:"page_number"`
	Text       string `json:"text"`
}

// TextExtraction is the output of a text-producing collaborator
// (local extractor or remote OCR service).
type TextExtraction struct {
	Text       string     `json:"text"`
	PageCount  int        `json:"page_count"`
	Pages      []PageText `json:"pages,omitempty"`
	Tables     []string   `json:"tables,omitempty"`
	Confidence float64    `json:"confidence,omitempty"` // 0 = not reported
	Method     string     `json:"method,omitempty"`
}

// TextMetrics are the quality signals of an extracted text.
type TextMetrics struct {
	Chars          int     `json:"chars"`
	Lines          int     `json:"lines"`
	PageCount      int     `json:"page_count"`
	CharsPerPage   float64 `json:"chars_per_page"`
	PrintableRatio float64 `json:"printable_ratio"`
	WordlikeRatio  float64 `json:"wordlike_ratio"`
	DigitRatio     float64 `json:"digit_ratio"`
}

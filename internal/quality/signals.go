package quality

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/joseph-ayodele/cutlist-extractor/internal/entity"
)

// Label is the result of a heuristic classifier.
type Label struct {
	Name       string   `json:"name"`
	Match      bool     `json:"match"`
	Confidence float64  `json:"confidence"`
	Signals    []string `json:"signals,omitempty"`
}

var (
	reDimensionPair = regexp.MustCompile(`\b\d{2,4}(?:[.,]\d)?\s*(?:mm)?\s*[x×X*]\s*\d{2,4}`)
	reNumericRow    = regexp.MustCompile(`(?m)^\D*\d{2,4}\D+\d{2,4}\D+\d{1,3}\b`)
	reHeaderWord    = regexp.MustCompile(`(?i)\b(length|width|thk|thickness|qty|quantity|material|part|edge|edging|grain|cutlist|cutting list|panel)\b`)
	reMaterialWord  = regexp.MustCompile(`(?i)\b(mdf|mfc|plywood|ply|oak|walnut|birch|melamine|chipboard|hdf|veneer|laminate|pine)\b`)
	reContinuation  = regexp.MustCompile(`(?i)(\bpage\s*[2-9]\d*\s*(?:of|/)\s*\d+\b|\bcontinued\b|\bcont\.|\bcarried forward\b)`)
	reThreeDigits   = regexp.MustCompile(`\d{3,}`)
)

// Metrics computes text quality signals.
func Metrics(text string, pageCount int) entity.TextMetrics {
	m := entity.TextMetrics{PageCount: pageCount}
	if pageCount < 1 {
		pageCount = 1
	}
	m.Chars = utf8.RuneCountInString(strings.TrimSpace(text))
	m.CharsPerPage = float64(m.Chars) / float64(pageCount)
	for _, l := range strings.Split(text, "\n") {
		if strings.TrimSpace(l) != "" {
			m.Lines++
		}
	}
	m.PrintableRatio = printableRatio(text)
	m.WordlikeRatio = wordlikeRatio(text)
	m.DigitRatio = digitRatio(text)
	return m
}

func printableRatio(text string) float64 {
	total, printable := 0, 0
	for _, r := range text {
		total++
		if isGarbageRune(r) {
			continue
		}
		if unicode.IsPrint(r) || r == '\n' || r == '\r' || r == '\t' || r == '\f' {
			printable++
		}
	}
	if total == 0 {
		return 1.0
	}
	return float64(printable) / float64(total)
}

func isGarbageRune(r rune) bool {
	if r >= 0xE000 && r <= 0xF8FF {
		return true
	}
	if r == utf8.RuneError {
		return true
	}
	return r < 0x20 && r != '\n' && r != '\r' && r != '\t' && r != '\f'
}

// wordlikeRatio counts tokens of 2-15 runes, or pure numbers (dimensions are
// often single digits in a quantity column).
func wordlikeRatio(text string) float64 {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0
	}
	wordlike := 0
	for _, f := range fields {
		n := utf8.RuneCountInString(f)
		if (n >= 2 && n <= 15) || isNumber(f) {
			wordlike++
		}
	}
	return float64(wordlike) / float64(len(fields))
}

func digitRatio(text string) float64 {
	total, digits := 0, 0
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsDigit(r) {
			digits++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(digits) / float64(total)
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '.' && r != ',' {
			return false
		}
	}
	return s != ""
}

// TextConfidence scores how much extracted text looks like a cutlist.
// Each signal adds a fixed weight on top of a low base.
func TextConfidence(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	score := 0.2
	if reHeaderWord.MatchString(text) {
		score += 0.15
	}
	if reDimensionPair.MatchString(text) || len(reNumericRow.FindAllString(text, 3)) >= 3 {
		score += 0.25
	}
	if reMaterialWord.MatchString(text) {
		score += 0.1
	}
	if utf8.RuneCountInString(text) > 120 {
		score += 0.1
	}
	if printableRatio(text) < 0.85 {
		score -= 0.2
	}
	return clamp(score)
}

// LooksMessy flags OCR output dominated by garbage tokens.
func LooksMessy(text string) Label {
	l := Label{Name: "messy_text"}
	if strings.TrimSpace(text) == "" {
		return l
	}
	weight := 0.0
	if r := printableRatio(text); r < 0.85 {
		weight += 0.4
		l.Signals = append(l.Signals, "low_printable_ratio")
	}
	if r := wordlikeRatio(text); r < 0.5 {
		weight += 0.35
		l.Signals = append(l.Signals, "low_wordlike_ratio")
	}
	if symbolRatio(text) > 0.3 {
		weight += 0.25
		l.Signals = append(l.Signals, "high_symbol_ratio")
	}
	l.Confidence = clamp(weight)
	l.Match = l.Confidence >= 0.5
	return l
}

func symbolRatio(text string) float64 {
	total, sym := 0, 0
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			sym++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(sym) / float64(total)
}

// LikelyBlankTemplate flags a printed form whose header is present but whose
// rows were never filled in (or were handwritten and invisible to text extraction).
func LikelyBlankTemplate(text string, pageCount int) Label {
	l := Label{Name: "blank_template"}
	if strings.TrimSpace(text) == "" {
		return l
	}
	if pageCount < 1 {
		pageCount = 1
	}
	weight := 0.0
	headers := len(reHeaderWord.FindAllString(text, -1))
	if headers >= 3 {
		weight += 0.4
		l.Signals = append(l.Signals, "header_words")
	}
	if rows := len(reNumericRow.FindAllString(text, -1)); rows == 0 {
		weight += 0.35
		l.Signals = append(l.Signals, "no_numeric_rows")
	}
	if len(reThreeDigits.FindAllString(text, -1)) < 2*pageCount {
		weight += 0.15
		l.Signals = append(l.Signals, "few_dimensions")
	}
	if m := Metrics(text, pageCount); m.CharsPerPage < 600 {
		weight += 0.1
		l.Signals = append(l.Signals, "sparse_text")
	}
	if headers == 0 {
		weight = 0
		l.Signals = nil
	}
	l.Confidence = clamp(weight)
	l.Match = l.Confidence >= 0.75
	return l
}

// LikelyContinuationPage flags a page that carries rows but no header, or an
// explicit "page N of M" / "continued" marker.
func LikelyContinuationPage(text string) Label {
	l := Label{Name: "continuation_page"}
	if strings.TrimSpace(text) == "" {
		return l
	}
	weight := 0.0
	if reContinuation.MatchString(text) {
		weight += 0.6
		l.Signals = append(l.Signals, "continuation_marker")
	}
	first := firstLine(text)
	if !reHeaderWord.MatchString(first) && reThreeDigits.MatchString(first) {
		weight += 0.3
		l.Signals = append(l.Signals, "starts_with_row")
	}
	if !reHeaderWord.MatchString(text) {
		weight += 0.2
		l.Signals = append(l.Signals, "no_header")
	}
	l.Confidence = clamp(weight)
	l.Match = l.Confidence >= 0.5
	return l
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if s := strings.TrimSpace(line); s != "" {
			return s
		}
	}
	return ""
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

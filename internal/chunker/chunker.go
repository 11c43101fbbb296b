// Package chunker splits oversized cutlist text into bounded chunks that can be
// sent to an extractor independently. Every chunk repeats the header block so
// the extractor keeps column semantics.
package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Options tune chunking. Zero values take defaults.
type Options struct {
	MaxRows        int // data rows per chunk, default 25
	MinLineLength  int // a line this long counts as structured, default 8
	MaxHeaderLines int // default 6
	MinBoundaries  int // row signatures required to trust flat-text rows, default 3
	WindowChars    int // fixed window for flat text without row signatures, default 2500
	MinWindowChars int // a trailing window smaller than this is merged back, default 400
	AvgRowChars    int // used to estimate rows of unstructured text, default 60
}

func (o *Options) defaults() {
	if o.MaxRows <= 0 {
		o.MaxRows = 25
	}
	if o.MinLineLength <= 0 {
		o.MinLineLength = 8
	}
	if o.MaxHeaderLines <= 0 {
		o.MaxHeaderLines = 6
	}
	if o.MinBoundaries <= 0 {
		o.MinBoundaries = 3
	}
	if o.WindowChars <= 0 {
		o.WindowChars = 2500
	}
	if o.MinWindowChars <= 0 {
		o.MinWindowChars = 400
	}
	if o.MinWindowChars >= o.WindowChars {
		o.MinWindowChars = o.WindowChars / 4
	}
	if o.AvgRowChars <= 0 {
		o.AvgRowChars = 60
	}
}

type Chunker struct {
	opts Options
}

func New(opts Options) *Chunker {
	opts.defaults()
	return &Chunker{opts: opts}
}

// Split splits text with default options and the given rows per chunk.
func Split(text string, maxRows int) []string {
	return New(Options{MaxRows: maxRows}).Split(text)
}

var (
	reThreeDigits = regexp.MustCompile(`\d{3,}`)
	// index token, word token, 2-4 digit number: "12 Side 720"
	reRowSignature = regexp.MustCompile(`(?:^|\s)(\d{1,3})[.)]?\s+\p{L}[\p{L}\-/]*\s+\d{2,4}\b`)
	reDimension    = regexp.MustCompile(`\b\d{2,4}(?:[.,]\d+)?\b`)
)

// Split returns the ordered chunks for text. Text that does not need
// splitting comes back as a single chunk equal to the input.
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return []string{text}
	}
	lines := nonEmptyLines(text)
	if c.hasLineStructure(lines) {
		return c.splitLines(text, lines)
	}
	if bounds := c.rowBoundaries(text); len(bounds) >= c.opts.MinBoundaries {
		return c.splitRows(text, bounds)
	}
	return c.splitWindows(text)
}

// EstimateRows estimates the number of data rows in text.
func (c *Chunker) EstimateRows(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	lines := nonEmptyLines(text)
	if c.hasLineStructure(lines) {
		header := c.headerLen(lines)
		return len(lines) - header
	}
	if bounds := c.rowBoundaries(text); len(bounds) >= c.opts.MinBoundaries {
		return len(bounds)
	}
	n := utf8.RuneCountInString(strings.TrimSpace(text))
	return (n + c.opts.AvgRowChars - 1) / c.opts.AvgRowChars
}

func nonEmptyLines(text string) []string {
	text = strings.ReplaceAll(text, "\f", "\n")
	raw := strings.Split(text, "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimRight(l, " \t\r")
		if strings.TrimSpace(l) == "" {
			continue
		}
		out = append(out, l)
	}
	return out
}

// hasLineStructure is true when a majority of lines exceed the minimal length.
func (c *Chunker) hasLineStructure(lines []string) bool {
	if len(lines) < 2 {
		return false
	}
	long := 0
	for _, l := range lines {
		if utf8.RuneCountInString(strings.TrimSpace(l)) >= c.opts.MinLineLength {
			long++
		}
	}
	return long*2 > len(lines)
}

// headerLen counts leading lines carrying no 3+ digit number.
func (c *Chunker) headerLen(lines []string) int {
	n := 0
	for n < len(lines) && n < c.opts.MaxHeaderLines && !reThreeDigits.MatchString(lines[n]) {
		n++
	}
	return n
}

func (c *Chunker) splitLines(text string, lines []string) []string {
	h := c.headerLen(lines)
	header := strings.Join(lines[:h], "\n")
	rows := lines[h:]
	if len(rows) <= c.opts.MaxRows {
		return []string{text}
	}
	chunks := make([]string, 0, (len(rows)+c.opts.MaxRows-1)/c.opts.MaxRows)
	for i := 0; i < len(rows); i += c.opts.MaxRows {
		end := min(i+c.opts.MaxRows, len(rows))
		body := strings.Join(rows[i:end], "\n")
		if header != "" {
			body = header + "\n" + body
		}
		chunks = append(chunks, body)
	}
	return chunks
}

// rowBoundaries returns the byte offsets of row starts in OCR-flattened text.
// Candidates may overlap; only a run of consecutive index numbers is kept so a
// dimension followed by a material name is not mistaken for a new row. A
// candidate must also carry a whole row, at least two dimensions before the
// next candidate, so "... 2 MDF 18" where 2 is a quantity is skipped.
func (c *Chunker) rowBoundaries(text string) []int {
	type cand struct {
		pos, end, idx int
	}
	var cands []cand
	pos := 0
	for pos < len(text) {
		m := reRowSignature.FindStringSubmatchIndex(text[pos:])
		if m == nil {
			break
		}
		start, end := pos+m[2], pos+m[3]
		cands = append(cands, cand{pos: start, end: end, idx: atoi(text[start:end])})
		pos = end
	}

	var out []int
	last := -1
	for i, cd := range cands {
		next := len(text)
		if i+1 < len(cands) {
			next = cands[i+1].pos
		}
		if len(reDimension.FindAllStringIndex(text[cd.end:next], 2)) < 2 {
			continue
		}
		switch {
		case last < 0 && cd.idx <= 2:
			out = append(out, cd.pos)
			last = cd.idx
		case last >= 0 && cd.idx == last+1:
			out = append(out, cd.pos)
			last = cd.idx
		}
	}
	return out
}

func (c *Chunker) splitRows(text string, bounds []int) []string {
	if len(bounds) <= c.opts.MaxRows {
		return []string{text}
	}
	header := strings.TrimSpace(text[:bounds[0]])
	rows := make([]string, len(bounds))
	for i, b := range bounds {
		end := len(text)
		if i+1 < len(bounds) {
			end = bounds[i+1]
		}
		rows[i] = strings.TrimSpace(text[b:end])
	}
	chunks := make([]string, 0, (len(rows)+c.opts.MaxRows-1)/c.opts.MaxRows)
	for i := 0; i < len(rows); i += c.opts.MaxRows {
		end := min(i+c.opts.MaxRows, len(rows))
		body := strings.Join(rows[i:end], " ")
		if header != "" {
			body = header + "\n" + body
		}
		chunks = append(chunks, body)
	}
	return chunks
}

// splitWindows cuts text into fixed windows whose edges snap to a safe split
// point. Concatenating the windows gives back the input.
func (c *Chunker) splitWindows(text string) []string {
	w := c.opts.WindowChars
	if len(text) <= w {
		return []string{text}
	}
	var out []string
	start := 0
	for start < len(text) {
		end := start + w
		if end >= len(text) {
			out = append(out, text[start:])
			break
		}
		cut := safeSplit(text, start, end, w/2)
		out = append(out, text[start:cut])
		start = cut
	}
	if n := len(out); n >= 2 && len(strings.TrimSpace(out[n-1])) < c.opts.MinWindowChars {
		out[n-2] += out[n-1]
		out = out[:n-1]
	}
	return out
}

// safeSplit finds a cut near end where a letter is followed by whitespace and
// then a digit; the cut lands on the digit. It searches backwards first.
func safeSplit(text string, start, end, reach int) int {
	lo := max(start+1, end-reach)
	for i := end; i > lo; i-- {
		if isSafeCut(text, start, i) {
			return i
		}
	}
	hi := min(len(text)-1, end+reach)
	for i := end + 1; i <= hi; i++ {
		if isSafeCut(text, start, i) {
			return i
		}
	}
	for end > start+1 && !utf8.RuneStart(text[end]) {
		end--
	}
	return end
}

func isSafeCut(text string, start, i int) bool {
	if i <= start+1 || i >= len(text) || !isDigit(text[i]) || !isSpace(text[i-1]) {
		return false
	}
	j := i - 1
	for j > start && isSpace(text[j]) {
		j--
	}
	r, _ := utf8.DecodeLastRuneInString(text[:j+1])
	return isLetter(r)
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f' }

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r > utf8.RuneSelf && r != utf8.RuneError)
}

func atoi(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		n = n*10 + int(s[i]-'0')
	}
	return n
}

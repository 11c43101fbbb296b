package quality

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/cutlist-extractor/constants"
	"github.com/joseph-ayodele/cutlist-extractor/internal/entity"
)

const cutlistText = `Part Length Width Thk Qty Material
Side 720 560 18 2 Oak
Top 600 560 18 1 Oak
Shelf 564 540 18 3 MDF
Back 720 600 6 1 HDF`

func attempt(s constants.Strategy, text string, conf float64) entity.ExtractionAttempt {
	return entity.ExtractionAttempt{Strategy: s, Text: text, Confidence: conf, Success: true, PageCount: 1}
}

func failed(s constants.Strategy) entity.ExtractionAttempt {
	return entity.ExtractionAttempt{Strategy: s, Err: errors.New("boom")}
}

func TestEvaluate_StrategyMinimums(t *testing.T) {
	g := NewGate(Config{})
	short := strings.Repeat("a", 50)

	assert.False(t, g.Evaluate(attempt(constants.StrategyLocalText, short, 0.9)).Accepted)
	assert.True(t, g.Evaluate(attempt(constants.StrategyRemoteOCR, short, 0.9)).Accepted)
	assert.False(t, g.Evaluate(failed(constants.StrategyRemoteOCR)).Accepted)
	assert.Equal(t, "skipped", g.Evaluate(entity.ExtractionAttempt{Skipped: true}).Reason)

	withParts := entity.ExtractionAttempt{Strategy: constants.StrategyVision, Success: true, Parts: []entity.ExtractedPart{{Label: "a"}}}
	assert.True(t, g.Evaluate(withParts).Accepted)
}

func TestChoose_OrderIndependent(t *testing.T) {
	g := NewGate(Config{})
	local := attempt(constants.StrategyLocalText, cutlistText+strings.Repeat(" x", 50), 0.7)
	ocr := failed(constants.StrategyRemoteOCR)

	w1, ok := g.Choose(local, ocr)
	require.True(t, ok)
	w2, ok := g.Choose(ocr, local)
	require.True(t, ok)
	assert.Equal(t, constants.StrategyLocalText, w1.Strategy)
	assert.Equal(t, w1.Strategy, w2.Strategy)
}

func TestChoose_PrefersOCRAboveFloor(t *testing.T) {
	g := NewGate(Config{})
	local := attempt(constants.StrategyLocalText, strings.Repeat("panel 720 ", 30), 0.9)
	ocr := attempt(constants.StrategyRemoteOCR, cutlistText, 0.6)

	w, ok := g.Choose(local, ocr)
	require.True(t, ok)
	assert.Equal(t, constants.StrategyRemoteOCR, w.Strategy)

	lowOCR := attempt(constants.StrategyRemoteOCR, cutlistText, 0.3)
	w, ok = g.Choose(lowOCR, local)
	require.True(t, ok)
	assert.Equal(t, constants.StrategyLocalText, w.Strategy)

	// low OCR is still better than nothing
	w, ok = g.Choose(lowOCR, failed(constants.StrategyLocalText))
	require.True(t, ok)
	assert.Equal(t, constants.StrategyRemoteOCR, w.Strategy)
}

func TestChoose_NoneAccepted(t *testing.T) {
	g := NewGate(Config{})
	_, ok := g.Choose(failed(constants.StrategyLocalText), attempt(constants.StrategyRemoteOCR, "x", 0.9))
	assert.False(t, ok)
}

func TestShouldEscalate(t *testing.T) {
	g := NewGate(Config{})
	weak := attempt(constants.StrategyRemoteOCR, strings.Repeat("a", 120), 0.3)
	weak.PageCount = 3
	assert.True(t, g.ShouldEscalate(weak, 3))

	confident := weak
	confident.Confidence = 0.8
	assert.False(t, g.ShouldEscalate(confident, 3))

	plenty := attempt(constants.StrategyRemoteOCR, strings.Repeat("a", 400), 0.3)
	assert.False(t, g.ShouldEscalate(plenty, 3))
}

func TestPartThresholds(t *testing.T) {
	g := NewGate(Config{})
	assert.True(t, g.NeedsMoreParts(0))
	assert.True(t, g.NeedsMoreParts(2))
	assert.False(t, g.NeedsMoreParts(3))
	assert.False(t, g.NeedsMoreParts(12))
	assert.True(t, g.Sufficient(10))

	strict := NewGate(Config{MinExpectedParts: 20, SufficientParts: 10})
	assert.False(t, strict.NeedsMoreParts(15), "sufficient part count never escalates")
}

func TestTextConfidence(t *testing.T) {
	assert.Zero(t, TextConfidence("   "))
	low := TextConfidence("hello world")
	high := TextConfidence(cutlistText)
	assert.Less(t, low, high)
	assert.GreaterOrEqual(t, high, 0.65)
}

func TestMetrics(t *testing.T) {
	m := Metrics(cutlistText, 2)
	assert.Equal(t, 5, m.Lines)
	assert.Equal(t, 2, m.PageCount)
	assert.InDelta(t, float64(m.Chars)/2, m.CharsPerPage, 0.001)
	assert.InDelta(t, 1.0, m.PrintableRatio, 0.001)
	assert.Greater(t, m.DigitRatio, 0.2)
}

func TestLooksMessy(t *testing.T) {
	assert.False(t, LooksMessy(cutlistText).Match)
	garbage := strings.Repeat("# ~ | ^ ; \uFFFD ", 20)
	l := LooksMessy(garbage)
	assert.True(t, l.Match)
	assert.Contains(t, l.Signals, "high_symbol_ratio")
}

func TestLikelyBlankTemplate(t *testing.T) {
	blank := "ACME JOINERY CUTLIST\nPart | Length | Width | Thk | Qty | Material | Edge\n\n\n"
	l := LikelyBlankTemplate(blank, 1)
	assert.True(t, l.Match, "%+v", l)

	assert.False(t, LikelyBlankTemplate(cutlistText, 1).Match)
	assert.False(t, LikelyBlankTemplate("lorem ipsum", 1).Match)
}

func TestLikelyContinuationPage(t *testing.T) {
	cont := "Page 2 of 3\nShelf 564 540 18 3\nDoor 715 396 18 2"
	assert.True(t, LikelyContinuationPage(cont).Match)

	assert.False(t, LikelyContinuationPage(cutlistText).Match)
}

func TestConsecutiveDuplicates(t *testing.T) {
	var parts []entity.ExtractedPart
	parts = append(parts, entity.ExtractedPart{Length: 100, Width: 50})
	for i := 0; i < 11; i++ {
		parts = append(parts, entity.ExtractedPart{Length: 720, Width: 560, Thickness: 18})
	}
	parts = append(parts, entity.ExtractedPart{Length: 300, Width: 200})

	runs := ConsecutiveDuplicates(parts, 0)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].Start)
	assert.Equal(t, 11, runs[0].Length)

	warnings := DuplicateWarnings(parts, DefaultDuplicateRun)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "720x560")

	assert.Empty(t, ConsecutiveDuplicates(parts[:9], 10))
}

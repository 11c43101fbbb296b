// Package quality scores extraction attempts and decides which one wins and
// whether a result is weak enough to justify the raster vision fallback.
package quality

import (
	"fmt"
	"sort"

	"github.com/joseph-ayodele/cutlist-extractor/constants"
	"github.com/joseph-ayodele/cutlist-extractor/internal/entity"
)

type Config struct {
	// MinTextLength per strategy; cheaper strategies need more text to count.
	MinTextLength    map[constants.Strategy]int
	ConfidenceFloor  float64 // default 0.5
	MinCharsPerPage  int     // default 50
	MinExpectedParts int     // default 3
	SufficientParts  int     // default 10
}

func (c *Config) defaults() {
	if c.MinTextLength == nil {
		c.MinTextLength = map[constants.Strategy]int{}
	}
	if _, ok := c.MinTextLength[constants.StrategyLocalText]; !ok {
		c.MinTextLength[constants.StrategyLocalText] = 100
	}
	if _, ok := c.MinTextLength[constants.StrategyRemoteOCR]; !ok {
		c.MinTextLength[constants.StrategyRemoteOCR] = 20
	}
	if c.ConfidenceFloor <= 0 {
		c.ConfidenceFloor = 0.5
	}
	if c.MinCharsPerPage <= 0 {
		c.MinCharsPerPage = 50
	}
	if c.MinExpectedParts <= 0 {
		c.MinExpectedParts = 3
	}
	if c.SufficientParts <= 0 {
		c.SufficientParts = 10
	}
}

type Gate struct {
	cfg Config
}

func NewGate(cfg Config) *Gate {
	cfg.defaults()
	return &Gate{cfg: cfg}
}

// Verdict is the accept/reject decision for one attempt.
type Verdict struct {
	Accepted bool
	Reason   string
}

// Evaluate accepts an attempt when it succeeded and produced more text than its
// strategy's minimum.
func (g *Gate) Evaluate(a entity.ExtractionAttempt) Verdict {
	switch {
	case a.Skipped:
		return Verdict{Reason: "skipped"}
	case !a.Success:
		if a.Err != nil {
			return Verdict{Reason: "failed: " + a.Err.Error()}
		}
		return Verdict{Reason: "failed"}
	}
	if len(a.Parts) > 0 {
		return Verdict{Accepted: true, Reason: "structured parts"}
	}
	minLen := g.cfg.MinTextLength[a.Strategy]
	if n := a.TextLength(); n <= minLen {
		return Verdict{Reason: fmt.Sprintf("text too short (%d <= %d)", n, minLen)}
	}
	return Verdict{Accepted: true, Reason: "ok"}
}

// Choose picks the winner among competing text attempts. Remote OCR is
// preferred when accepted with confidence at or above the floor; otherwise any
// other accepted attempt wins, and an accepted low-confidence OCR attempt is the
// last resort. The result does not depend on argument order.
func (g *Gate) Choose(attempts ...entity.ExtractionAttempt) (entity.ExtractionAttempt, bool) {
	type ranked struct {
		a    entity.ExtractionAttempt
		rank int
	}
	var pool []ranked
	for _, a := range attempts {
		if !g.Evaluate(a).Accepted {
			continue
		}
		rank := 1
		if a.Strategy == constants.StrategyRemoteOCR {
			rank = 0
			if a.Confidence < g.cfg.ConfidenceFloor {
				rank = 2
			}
		}
		pool = append(pool, ranked{a: a, rank: rank})
	}
	if len(pool) == 0 {
		return entity.ExtractionAttempt{}, false
	}
	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].rank != pool[j].rank {
			return pool[i].rank < pool[j].rank
		}
		if pool[i].a.Confidence != pool[j].a.Confidence {
			return pool[i].a.Confidence > pool[j].a.Confidence
		}
		return pool[i].a.Strategy < pool[j].a.Strategy
	})
	return pool[0].a, true
}

// ShouldEscalate reports whether a chosen text attempt is weak: low confidence
// and implausibly little text for the number of pages.
func (g *Gate) ShouldEscalate(a entity.ExtractionAttempt, pageCount int) bool {
	pages := max(pageCount, a.PageCount, 1)
	return a.Confidence < g.cfg.ConfidenceFloor && a.TextLength() < pages*g.cfg.MinCharsPerPage
}

// NeedsMoreParts is the post-hoc escalation signal on derived part counts.
func (g *Gate) NeedsMoreParts(parts int) bool {
	if g.Sufficient(parts) {
		return false
	}
	return parts < g.cfg.MinExpectedParts
}

// Sufficient is true when enough parts were found that no fallback is worth its cost.
func (g *Gate) Sufficient(parts int) bool {
	return parts >= g.cfg.SufficientParts
}

func (g *Gate) ConfidenceFloor() float64 { return g.cfg.ConfidenceFloor }

package quality

import (
	"fmt"

	"github.com/joseph-ayodele/cutlist-extractor/internal/entity"
)

// DefaultDuplicateRun is the run length from which identical consecutive rows
// are reported.
const DefaultDuplicateRun = 10

// DuplicateRun is a run of consecutive parts with identical dimensions.
type DuplicateRun struct {
	Start  int // index of the first part in the run
	Length int
	Part   entity.ExtractedPart
}

// ConsecutiveDuplicates finds runs of at least minRun parts sharing length,
// width and thickness. It is a diagnostic only; parts are never dropped.
func ConsecutiveDuplicates(parts []entity.ExtractedPart, minRun int) []DuplicateRun {
	if minRun <= 1 {
		minRun = DefaultDuplicateRun
	}
	var runs []DuplicateRun
	for i := 0; i < len(parts); {
		j := i + 1
		for j < len(parts) && sameDimensions(parts[i], parts[j]) {
			j++
		}
		if j-i >= minRun && parts[i].Length > 0 {
			runs = append(runs, DuplicateRun{Start: i, Length: j - i, Part: parts[i]})
		}
		i = j
	}
	return runs
}

// DuplicateWarnings renders duplicate runs as warnings.
func DuplicateWarnings(parts []entity.ExtractedPart, minRun int) []string {
	runs := ConsecutiveDuplicates(parts, minRun)
	out := make([]string, 0, len(runs))
	for _, r := range runs {
		out = append(out, fmt.Sprintf("%d consecutive rows share dimensions %gx%g (rows %d-%d); check for repeated OCR lines",
			r.Length, r.Part.Length, r.Part.Width, r.Start+1, r.Start+r.Length))
	}
	return out
}

func sameDimensions(a, b entity.ExtractedPart) bool {
	return a.Length == b.Length && a.Width == b.Width && a.Thickness == b.Thickness
}

package template

import (
	"fmt"
	"strings"

	"github.com/joseph-ayodele/cutlist-extractor/internal/entity"
)

var columnMeaning = map[string]string{
	"label":      "part label",
	"length":     "length",
	"width":      "width",
	"thickness":  "thickness",
	"quantity":   "quantity (integer)",
	"material":   "material code",
	"operations": "operation shortcodes",
	"notes":      "notes",
}

// BuildDeterministicPrompt names the exact columns and shortcode meanings of
// a recognized template, replacing the generic layout heuristics.
func BuildDeterministicPrompt(d *entity.TemplateDescriptor) string {
	if d == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are reading cutlist template %s version %d", d.ID, d.Version)
	if d.Name != "" {
		fmt.Fprintf(&b, " (%s)", d.Name)
	}
	b.WriteString(". Return ONLY JSON that matches the provided JSON Schema. The table columns, left to right, are exactly:\n")
	for i, c := range d.Columns {
		fmt.Fprintf(&b, "%d. %q -> %s", i+1, c.Header, columnMeaning[c.Key])
		if u := strings.TrimSpace(c.Unit); u != "" && u != "mm" {
			fmt.Fprintf(&b, " in %s (convert to millimetres)", u)
		}
		b.WriteString("\n")
	}
	b.WriteString("Read every data row. Do not look for other columns and do not reorder them.")
	if len(d.Shortcodes) > 0 {
		b.WriteString("\nOperation shortcodes used on this template (emit each as an operation with type set to the shortcode and code set to the shortcode):\n")
		for _, sc := range d.Shortcodes {
			fmt.Fprintf(&b, "- %s = %s: %s\n", sc.Code, sc.Kind, sc.Meaning)
		}
		b.WriteString("Any other code in an operations cell is kept verbatim as an operation of type other.")
	}
	return b.String()
}

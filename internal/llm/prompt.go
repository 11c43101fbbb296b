package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MaxPromptTextChars caps text sent in one call unless the caller marks it as a
// natural chunk with SkipChunking.
const MaxPromptTextChars = 24000

// BuildSystemPrompt composes the system message. A deterministic template
// prompt replaces the generic layout heuristics; output rules are shared.
func BuildSystemPrompt(opts ParseOptions) string {
	var parts []string
	if p := strings.TrimSpace(opts.DeterministicPrompt); p != "" {
		parts = append(parts, p)
	} else {
		parts = append(parts,
			"You are a cutlist parser for a woodworking and cabinetry shop. Return ONLY JSON that matches the provided JSON Schema.",
			"Each row of the cutlist is one part: a physical piece to be cut.",
			"Columns vary between shops. Identify length, width, thickness, quantity and material by their headers or by position (the two largest numbers of a row are usually length then width, a small number near 16-25 is usually thickness, a small integer is usually quantity).",
			"Edge banding, grooves, drilling and CNC work are operations. Record each as {\"type\": edging|grooving|drilling|cnc|<other>, \"code\": <code as printed>, \"detail\": <meaning>}.",
		)
	}
	parts = append(parts,
		"All dimensions are millimetres as numbers. Convert cm or inches if the document clearly uses them.",
		"quantity is an integer; if absent, use 1.",
		"Set a per-part 'confidence' between 0 and 1 reflecting how legible and unambiguous the row is, and an overall 'confidence'.",
		"Do not invent rows. Skip totals, headers and blank rows.",
		"Never output null. If a field is not present, omit it.",
	)
	if opts.DefaultMaterialID != "" {
		parts = append(parts, "If no material is given for a row, omit 'material' (the default '"+opts.DefaultMaterialID+"' is applied later).")
	}
	if opts.DefaultThicknessMm > 0 {
		parts = append(parts, fmt.Sprintf("If no thickness is given, omit it (default %gmm is applied later).", opts.DefaultThicknessMm))
	}
	if opts.ExtractMetadata {
		parts = append(parts,
			"Also fill 'metadata': project_code (the job, project or order reference printed on the sheet), page_number and total_pages (from markings like 'Page 2 of 3'), template_id (any template code printed on the sheet). Omit what is not visible.",
		)
	}
	return strings.Join(parts, " ")
}

// BuildUserPrompt packages the text to parse. Text longer than
// MaxPromptTextChars is cut unless it is a natural chunk.
func BuildUserPrompt(text string, opts ParseOptions) (string, bool) {
	var b strings.Builder
	if f := strings.TrimSpace(opts.Filename); f != "" {
		b.WriteString("Filename: ")
		b.WriteString(f)
		b.WriteString("\n")
	}
	if opts.Page > 0 {
		fmt.Fprintf(&b, "Page: %d\n", opts.Page)
	}
	text = strings.TrimSpace(text)
	cut := false
	if !opts.SkipChunking && len(text) > MaxPromptTextChars {
		text = text[:MaxPromptTextChars]
		cut = true
	}
	b.WriteString("\nCutlist text:\n")
	b.WriteString(text)
	if cut {
		b.WriteString("\n…(truncated)")
	}
	b.WriteString("\n\nReturn ONLY JSON that matches the provided schema.")
	return b.String(), cut
}

// BuildImagePrompt is the user instruction sent next to an image or document.
func BuildImagePrompt(opts ParseOptions) string {
	var b strings.Builder
	if f := strings.TrimSpace(opts.Filename); f != "" {
		b.WriteString("Filename: ")
		b.WriteString(f)
		b.WriteString("\n")
	}
	if opts.Page > 0 {
		fmt.Fprintf(&b, "Page: %d\n", opts.Page)
	}
	b.WriteString("The attached file is a photographed or scanned cutlist. Read every part row, including handwritten rows.")
	b.WriteString("\n\nReturn ONLY JSON that matches the provided schema.")
	return b.String()
}

// SchemaInstruction renders the schema for providers without native structured output.
func SchemaInstruction() string {
	return "JSON Schema:\n" + mustJSON(BuildCutlistJSONSchema())
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

package llm

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/joseph-ayodele/cutlist-extractor/internal/entity"
	"github.com/joseph-ayodele/cutlist-extractor/internal/ratelimit"
)

// truncatedPenalty scales confidence of a reply that stopped mid-structure.
const truncatedPenalty = 0.8

// BuildResult turns a raw model reply into a ParseResult. An unparseable reply
// is returned together with an error wrapping ErrUnparseableResponse so the
// raw payload stays available for diagnostics.
func BuildResult(raw []byte, stopReason string, opts ParseOptions, logger *slog.Logger) (ParseResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	res := ParseResult{RawResponse: raw, StopReason: stopReason}
	res.Truncated, res.TruncationReason = ratelimit.DetectTruncation(string(raw), stopReason)
	if res.Truncated {
		res.Warnings = append(res.Warnings, "model output truncated ("+res.TruncationReason+"); some rows may be missing")
		logger.Warn("llm.parse.truncated", "reason", res.TruncationReason, "raw_bytes", len(raw), "page", opts.Page, "chunk", opts.Chunk)
	}

	resp := ParseResponse(raw, logger)
	if resp.Variant == VariantUnparseable && res.Truncated {
		if repaired, ok := RepairTruncated(raw); ok {
			if r := ParseResponse(repaired, logger); r.Variant != VariantUnparseable {
				resp = r
				res.Warnings = append(res.Warnings, "recovered rows before the truncation point")
			}
		}
	}
	res.Variant = resp.Variant
	if resp.Variant == VariantUnparseable {
		return res, resp.Err
	}
	if len(resp.Dropped) > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("normalized %d field(s) in model output", len(resp.Dropped)))
	}

	res.Parts, res.Confidence = ToParts(resp.Doc, opts)
	if res.Truncated {
		res.Confidence *= truncatedPenalty
	}
	if opts.ExtractMetadata && resp.Doc.Metadata != nil {
		res.Metadata = entity.ParseMetadata{
			ProjectCode: strings.TrimSpace(resp.Doc.Metadata.ProjectCode),
			PageNumber:  resp.Doc.Metadata.PageNumber,
			TotalPages:  resp.Doc.Metadata.TotalPages,
			TemplateID:  strings.TrimSpace(resp.Doc.Metadata.TemplateID),
		}
	}
	if res.Metadata.TemplateID == "" {
		res.Metadata.TemplateID = opts.TemplateID
	}
	return res, nil
}

// IsImageFormatError reports a provider rejecting the image itself (corrupt,
// unsupported encoding, too small), which the user can fix by re-photographing.
func IsImageFormatError(err error) bool {
	var se *ratelimit.StatusError
	if !errors.As(err, &se) {
		return false
	}
	if se.StatusCode != http.StatusBadRequest && se.StatusCode != http.StatusUnprocessableEntity {
		return false
	}
	body := strings.ToLower(se.Body)
	if !strings.Contains(body, "image") {
		return false
	}
	for _, hint := range []string{"invalid", "unsupported", "could not process", "format", "decode", "corrupt"} {
		if strings.Contains(body, hint) {
			return true
		}
	}
	return false
}

package llm

import (
	"context"
	"errors"

	"github.com/joseph-ayodele/cutlist-extractor/internal/entity"
)

// ErrUnparseableResponse marks a model reply that matched no known shape.
var ErrUnparseableResponse = errors.New("model response matched no known shape")

// ExpandedMaxOutputTokens is the output budget used when a caller opts in to
// re-running a truncated parse.
const ExpandedMaxOutputTokens = 32000

// ParseOptions is the recognized option set for every parse call.
type ParseOptions struct {
	ExtractMetadata     bool
	TemplateID          string
	TemplateConfig      *entity.TemplateDescriptor
	DeterministicPrompt string
	DefaultMaterialID   string
	DefaultThicknessMm  float64
	// SkipChunking marks the input as a natural chunk (one page, one chunk);
	// it is sent whole instead of being capped at the provider's input limit.
	SkipChunking bool

	// ExpandOnTruncation re-runs a truncated parse once with ExpandedMaxOutputTokens.
	ExpandOnTruncation bool
	MaxOutputTokens    int // 0 = provider default

	Filename string
	Page     int
	Chunk    int
}

// ParseResult is the shape every provider returns.
type ParseResult struct {
	Parts            []entity.ExtractedPart
	Confidence       float64
	RawResponse      []byte
	Metadata         entity.ParseMetadata
	Variant          Variant
	Truncated        bool
	TruncationReason string
	StopReason       string
	Warnings         []string
}

// Provider is a vision-capable language model.
type Provider interface {
	Name() string
	IsConfigured() bool
	ParseText(ctx context.Context, text string, opts ParseOptions) (ParseResult, error)
	ParseImage(ctx context.Context, image []byte, mimeType string, opts ParseOptions) (ParseResult, error)
}

// DocumentParser is implemented by providers that read PDFs natively.
type DocumentParser interface {
	ParseDocument(ctx context.Context, pdf []byte, opts ParseOptions) (ParseResult, error)
}

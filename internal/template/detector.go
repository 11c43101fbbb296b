// Package template recognizes organization templates on uploaded cutlists
// from a QR code or a printed marker and loads their field layout.
package template

import (
	"bytes"
	"context"
	"errors"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"log/slog"
	"time"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	_ "golang.org/x/image/webp" // register decoder

	"github.com/joseph-ayodele/cutlist-extractor/internal/common"
	"github.com/joseph-ayodele/cutlist-extractor/internal/entity"
)

// Source values of entity.TemplateMatch.
const (
	SourceQR       = "qr"
	SourceMarker   = "text_marker"
	SourceFilename = "filename"
)

// TextReader reads text off an image; used for the marker second chance.
type TextReader interface {
	Recognize(ctx context.Context, image []byte) (string, float64, error)
}

// Input is what the detector may look at. Any field may be empty.
type Input struct {
	OrgID    string
	Filename string
	Image    []byte
	Text     string
}

// Detection is the outcome of Detect.
type Detection struct {
	Match      entity.TemplateMatch
	Descriptor *entity.TemplateDescriptor // set only when Status is recognized
	Prompt     string
}

type Detector struct {
	store  Store
	reader TextReader
	logger *slog.Logger
}

// NewDetector builds a detector. reader may be nil.
func NewDetector(store Store, reader TextReader, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{store: store, reader: reader, logger: logger}
}

// Detect never fails: any error or timeout yields a "none" detection so the
// caller proceeds generically.
func (d *Detector) Detect(ctx context.Context, in Input) Detection {
	start := time.Now()
	none := Detection{Match: entity.TemplateMatch{Status: entity.TemplateNone}}

	type found struct {
		ref     Ref
		source  string
		payload string
		ok      bool
	}
	ch := make(chan found, 1)
	go func() {
		ref, source, payload, ok := d.locate(ctx, in)
		ch <- found{ref, source, payload, ok}
	}()

	var f found
	select {
	case <-ctx.Done():
		d.logger.Warn("template.detect.timeout", "org_id", in.OrgID, "elapsed_ms", time.Since(start).Milliseconds())
		return none
	case f = <-ch:
	}
	if !f.ok {
		d.logger.Debug("template.detect.none", "org_id", in.OrgID, "elapsed_ms", time.Since(start).Milliseconds())
		return none
	}

	out := Detection{Match: entity.TemplateMatch{
		Status:     entity.TemplateUnconfigured,
		TemplateID: f.ref.ID,
		Version:    f.ref.Version,
		Source:     f.source,
		Payload:    f.payload,
	}}
	if d.store != nil {
		desc, err := d.store.Get(ctx, in.OrgID, f.ref.ID, f.ref.Version)
		switch {
		case err == nil:
			out.Match.Status = entity.TemplateRecognized
			out.Match.Version = desc.Version
			out.Descriptor = desc
			out.Prompt = BuildDeterministicPrompt(desc)
		case errors.Is(err, common.ErrNotFound):
		default:
			d.logger.Warn("template.lookup_failed", "org_id", in.OrgID, "template_id", f.ref.ID, "error", err)
		}
	}
	d.logger.Info("template.detect",
		"org_id", in.OrgID,
		"template_id", f.ref.ID,
		"version", out.Match.Version,
		"status", out.Match.Status,
		"source", f.source,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out
}

// locate tries, in order: QR code, text already extracted, text read off the
// image, and the filename.
func (d *Detector) locate(ctx context.Context, in Input) (Ref, string, string, bool) {
	if len(in.Image) > 0 {
		if payload, err := DecodeQR(in.Image); err == nil {
			if ref, ok := ParsePayload(payload); ok {
				return ref, SourceQR, payload, true
			}
			d.logger.Debug("template.qr.foreign_payload", "payload_len", len(payload))
		}
	}
	if ref, ok := FindMarker(in.Text); ok {
		return ref, SourceMarker, "", true
	}
	if len(in.Image) > 0 && d.reader != nil && ctx.Err() == nil {
		if text, _, err := d.reader.Recognize(ctx, in.Image); err == nil {
			if ref, ok := FindMarker(text); ok {
				return ref, SourceMarker, "", true
			}
		} else {
			d.logger.Debug("template.marker.ocr_failed", "error", err)
		}
	}
	if ref, ok := FindMarker(in.Filename); ok {
		return ref, SourceFilename, "", true
	}
	return Ref{}, "", "", false
}

// DecodeQR returns the text of the first QR code found in the image.
func DecodeQR(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", err
	}
	hints := map[gozxing.DecodeHintType]interface{}{gozxing.DecodeHintType_TRY_HARDER: true}
	res, err := qrcode.NewQRCodeReader().Decode(bmp, hints)
	if err != nil {
		return "", err
	}
	return res.GetText(), nil
}

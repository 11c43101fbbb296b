// Package imageopt shrinks photographs of cutlists toward a byte budget
// before they are sent to a vision model.
package imageopt

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // register decoder
	"image/jpeg"
	_ "image/png" // register decoder

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder
)

// Options for Optimize.
type Options struct {
	MaxDimension int // default 2048
	TargetBytes  int // default 1.5MB
	MinQuality   int // default 50
}

func (o Options) defaults() Options {
	if o.MaxDimension <= 0 {
		o.MaxDimension = 2048
	}
	if o.TargetBytes <= 0 {
		o.TargetBytes = 1500 << 10
	}
	if o.MinQuality <= 0 {
		o.MinQuality = 50
	}
	return o
}

// Result is the optimized image.
type Result struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
	Quality  int // 0 when the original was kept
	Resized  bool
}

// Optimize resizes so neither side exceeds MaxDimension and re-encodes as
// JPEG, stepping quality down until the byte budget is met. Larger originals
// start at a lower quality. An original already within both limits and in a
// format every provider accepts is returned unchanged.
func Optimize(data []byte, opts Options) (Result, error) {
	opts = opts.defaults()
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return Result{}, fmt.Errorf("decode image: empty bounds")
	}

	fits := w <= opts.MaxDimension && h <= opts.MaxDimension
	if fits && len(data) <= opts.TargetBytes && (format == "jpeg" || format == "png") {
		return Result{Data: data, MIMEType: "image/" + format, Width: w, Height: h}, nil
	}

	res := Result{MIMEType: "image/jpeg", Width: w, Height: h}
	if !fits {
		scale := float64(opts.MaxDimension) / float64(max(w, h))
		res.Width = max(1, int(float64(w)*scale+0.5))
		res.Height = max(1, int(float64(h)*scale+0.5))
		dst := image.NewRGBA(image.Rect(0, 0, res.Width, res.Height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		img = dst
		res.Resized = true
	}

	for q := startQuality(len(data)); ; q -= 8 {
		if q < opts.MinQuality {
			q = opts.MinQuality
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
			return Result{}, fmt.Errorf("encode jpeg: %w", err)
		}
		res.Data, res.Quality = buf.Bytes(), q
		if buf.Len() <= opts.TargetBytes || q == opts.MinQuality {
			return res, nil
		}
	}
}

// startQuality scales the first encode quality down for larger originals.
func startQuality(n int) int {
	switch {
	case n > 8<<20:
		return 70
	case n > 4<<20:
		return 78
	case n > 2<<20:
		return 85
	}
	return 90
}

// Package render rasterizes PDF pages into images for the classifier.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"

	"invoice-split/pkg/errdefs"
	"invoice-split/pkg/models"
)

// DefaultDPI is the resolution pages are rendered at.
const DefaultDPI = 200

// Rasterizer turns a document into one image per page, in page order.
type Rasterizer interface {
	Render(ctx context.Context, doc models.Document) ([]models.Page, error)
}

// Fitz renders with MuPDF.
type Fitz struct {
	DPI float64
}

// NewFitz returns a MuPDF rasterizer at dpi, or DefaultDPI when dpi <= 0.
func NewFitz(dpi float64) *Fitz {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &Fitz{DPI: dpi}
}

// MuPDF contexts are not shared across goroutines safely by the binding.
var fitzMu sync.Mutex

// Render rasterizes every page of doc. Any page failure fails the document.
func (f *Fitz) Render(ctx context.Context, doc models.Document) ([]models.Page, error) {
	fitzMu.Lock()
	defer fitzMu.Unlock()

	fd, err := fitz.NewFromMemory(doc.Data)
	if err != nil {
		return nil, fmt.Errorf("open %s: %v: %w", doc.Name, err, errdefs.ErrRender)
	}
	defer fd.Close()

	n := fd.NumPage()
	if n <= 0 {
		return nil, fmt.Errorf("%s has no pages: %w", doc.Name, errdefs.ErrRender)
	}
	pages := make([]models.Page, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := fd.ImageDPI(i, f.DPI)
		if err != nil {
			return nil, fmt.Errorf("render page %d of %s: %v: %w", i+1, doc.Name, err, errdefs.ErrRender)
		}
		pages = append(pages, models.Page{Index: i, Image: img})
	}
	return pages, nil
}

// Prepare fits img within maxDim on its longest side. Smaller images are
// returned unchanged.
func Prepare(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	if maxDim <= 0 || (b.Dx() <= maxDim && b.Dy() <= maxDim) {
		return img
	}
	return imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
}

// EncodeJPEG fits img within maxDim and encodes it as quality-85 JPEG.
func EncodeJPEG(img image.Image, maxDim int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, Prepare(img, maxDim), imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

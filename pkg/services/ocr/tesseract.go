package ocr

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"invoice-split/pkg/errdefs"
	"invoice-split/pkg/models"
)

// Tesseract runs OCR locally through libtesseract.
type Tesseract struct {
	Language string
}

// NewTesseract returns a local OCR engine for lang, "eng" when empty.
func NewTesseract(lang string) *Tesseract {
	if lang == "" {
		lang = "eng"
	}
	return &Tesseract{Language: lang}
}

// ExtractText performs OCR on img, one TextLine per recognized line.
func (t *Tesseract) ExtractText(ctx context.Context, img image.Image) ([]models.TextLine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := encodeForOCR(img, 4000)
	if err != nil {
		return nil, err
	}

	client := gosseract.NewClient()
	defer client.Close()
	if err := client.SetLanguage(t.Language); err != nil {
		return nil, fmt.Errorf("tesseract language %q: %v: %w", t.Language, err, errdefs.ErrOracle)
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return nil, fmt.Errorf("tesseract image: %v: %w", err, errdefs.ErrOracle)
	}
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("tesseract: %v: %w", err, errdefs.ErrOracle)
	}

	lines := make([]models.TextLine, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		lines = append(lines, models.TextLine{
			Text:   text,
			X:      b.Box.Min.X,
			Y:      b.Box.Min.Y,
			Width:  b.Box.Dx(),
			Height: b.Box.Dy(),
		})
	}
	return lines, nil
}

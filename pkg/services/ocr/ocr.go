// Package ocr reads printed text lines from rendered page images.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"strconv"
	"strings"

	"invoice-split/pkg/errdefs"
	"invoice-split/pkg/models"

	"github.com/Azure/azure-sdk-for-go/services/cognitiveservices/v3.0/computervision"
	"github.com/Azure/go-autorest/autorest"
	"github.com/disintegration/imaging"
)

// Extractor returns the text lines of one page image, top to bottom.
type Extractor interface {
	ExtractText(ctx context.Context, img image.Image) ([]models.TextLine, error)
}

// Service handles OCR operations against Azure Computer Vision.
type Service struct {
	client *computervision.BaseClient
}

// NewService creates a new OCR service
func NewService(endpoint, apiKey string) *Service {
	client := computervision.New(endpoint)
	client.Authorizer = autorest.NewCognitiveServicesAuthorizer(apiKey)
	return &Service{client: &client}
}

// EnhanceImageForOCR returns a grayscale, contrast-boosted copy of img.
func EnhanceImageForOCR(img image.Image) image.Image {
	out := imaging.Grayscale(img)
	out = imaging.AdjustContrast(out, 30)
	out = imaging.Sharpen(out, 1.5)
	out = imaging.AdjustBrightness(out, 10)
	return imaging.AdjustGamma(out, 1.2)
}

// encodeForOCR enhances img, caps it at maxSide pixels and encodes it as PNG.
func encodeForOCR(img image.Image, maxSide int) ([]byte, error) {
	out := EnhanceImageForOCR(img)
	if b := out.Bounds(); b.Dx() > maxSide || b.Dy() > maxSide {
		out = imaging.Fit(out, maxSide, maxSide, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode page image: %w", err)
	}
	return buf.Bytes(), nil
}

// Azure rejects images larger than 4200px on a side.
const azureMaxSide = 4200

// ExtractText performs OCR on img and returns the extracted text lines.
func (s *Service) ExtractText(ctx context.Context, img image.Image) ([]models.TextLine, error) {
	data, err := encodeForOCR(img, azureMaxSide)
	if err != nil {
		return nil, err
	}
	result, err := s.client.RecognizePrintedTextInStream(
		ctx,
		true,
		io.NopCloser(bytes.NewReader(data)),
		computervision.OcrLanguages(computervision.En),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to extract text: %v: %w", err, errdefs.ErrOracle)
	}
	return extractTextFromOCRResult(result), nil
}

// extractTextFromOCRResult extracts text lines with position information from OCR result
func extractTextFromOCRResult(result computervision.OcrResult) []models.TextLine {
	var textLines []models.TextLine
	if result.Regions == nil {
		return textLines
	}
	for _, region := range *result.Regions {
		if region.Lines == nil {
			continue
		}
		for _, line := range *region.Lines {
			var boundingBox []int
			if line.BoundingBox != nil {
				for _, part := range strings.Split(*line.BoundingBox, ",") {
					val, _ := strconv.Atoi(strings.TrimSpace(part))
					boundingBox = append(boundingBox, val)
				}
			}
			if len(boundingBox) < 4 || line.Words == nil {
				continue
			}

			var lineText strings.Builder
			for _, word := range *line.Words {
				if word.Text == nil {
					continue
				}
				lineText.WriteString(*word.Text)
				lineText.WriteString(" ")
			}
			textLines = append(textLines, models.TextLine{
				Text:   strings.TrimSpace(lineText.String()),
				X:      boundingBox[0],
				Y:      boundingBox[1],
				Width:  boundingBox[2],
				Height: boundingBox[3],
			})
		}
	}
	return textLines
}

// Join flattens lines into newline-separated text.
func Join(lines []models.TextLine) string {
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		if l.Text != "" {
			parts = append(parts, l.Text)
		}
	}
	return strings.Join(parts, "\n")
}

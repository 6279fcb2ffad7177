package classifier

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"invoice-split/pkg/errdefs"
	"invoice-split/pkg/models"
	"invoice-split/pkg/services/ocr"
)

var (
	reInvoiceTitle  = regexp.MustCompile(`(?i)\b(tax\s+)?invoice\b`)
	reInvoiceNumber = regexp.MustCompile(`(?i)invoice\s*(?:no\.?|number|num|#|id)\s*[:#.]?\s*([A-Z0-9][A-Z0-9\-/_.]*[A-Z0-9])`)
	reContinued     = regexp.MustCompile(`(?i)\bcontinued\b|\bcont'?d\b`)
	rePageOf        = regexp.MustCompile(`(?i)\bpage\s+(\d+)\s*(?:of|/)\s*(\d+)\b`)
	reTotal         = regexp.MustCompile(`(?i)\b(?:grand\s+|invoice\s+)?total(?:\s+due)?\b[^0-9\-\n]*(-?[\d,]+(?:\.\d{1,2})?)`)
	reTax           = regexp.MustCompile(`(?i)\b(?:vat|tax|gst)\b[^0-9\-\n]*(-?[\d,]+\.\d{2})`)
	reISODate       = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	reDueDate       = regexp.MustCompile(`(?i)\bdue(?:\s+date)?\b[^0-9\n]*(\d{4}-\d{2}-\d{2})`)
	reCurrencyCode  = regexp.MustCompile(`\b(USD|EUR|GBP|CAD|AUD|CHF|JPY|INR)\b`)
)

var currencySymbols = [][2]string{{"€", "EUR"}, {"£", "GBP"}, {"¥", "JPY"}, {"₹", "INR"}, {"$", "USD"}}

// Heuristic classifies windows from OCR text alone. It is a fallback for
// deployments without a vision model and reports low confidence.
type Heuristic struct {
	ocr ocr.Extractor

	mu    sync.Mutex
	texts map[string]map[int]string
	// order lists cached documents oldest first.
	order []string
}

// maxCachedDocuments bounds how many documents keep OCR text at once.
const maxCachedDocuments = 16

// NewHeuristic classifies with text read by ex.
func NewHeuristic(ex ocr.Extractor) *Heuristic {
	return &Heuristic{ocr: ex, texts: make(map[string]map[int]string)}
}

// Classify reads every page of w and derives boundary signals from
// invoice titles, page counters and totals.
func (h *Heuristic) Classify(ctx context.Context, w models.Window) (models.WindowResult, error) {
	if len(w.Pages) == 0 {
		return models.WindowResult{}, fmt.Errorf("empty window: %w", errdefs.ErrOracle)
	}
	doc := h.release(w)
	texts := make([]string, len(w.Pages))
	for i, p := range w.Pages {
		text, err := h.pageText(ctx, doc, p)
		if err != nil {
			return models.WindowResult{}, fmt.Errorf("ocr page %d: %w", p.Index+1, err)
		}
		texts[i] = text
	}
	return analyzeTexts(texts), nil
}

// pageText memoizes OCR per document page; overlapping windows revisit the
// same pages. Windows without a document are never cached.
func (h *Heuristic) pageText(ctx context.Context, doc string, p models.Page) (string, error) {
	if doc != "" {
		h.mu.Lock()
		text, ok := h.texts[doc][p.Index]
		h.mu.Unlock()
		if ok {
			return text, nil
		}
	}
	lines, err := h.ocr.ExtractText(ctx, p.Image)
	if err != nil {
		return "", err
	}
	text := ocr.Join(lines)
	if doc != "" {
		h.store(doc, p.Index, text)
	}
	return text, nil
}

func (h *Heuristic) store(doc string, idx int, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	pages, ok := h.texts[doc]
	if !ok {
		pages = make(map[int]string)
		h.texts[doc] = pages
		h.order = append(h.order, doc)
		if len(h.order) > maxCachedDocuments {
			delete(h.texts, h.order[0])
			h.order = h.order[1:]
		}
	}
	pages[idx] = text
}

// release drops text the document's remaining windows can no longer use and
// returns the cache key for w. Windows only move forward, so pages before the
// window start are done; a window starting on the last page is the final one
// and is not cached at all.
func (h *Heuristic) release(w models.Window) string {
	if w.Document == "" {
		return ""
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if w.TotalPages > 0 && w.Start() >= w.TotalPages-1 {
		h.forget(w.Document)
		return ""
	}
	for idx := range h.texts[w.Document] {
		if idx < w.Start() {
			delete(h.texts[w.Document], idx)
		}
	}
	return w.Document
}

func (h *Heuristic) forget(doc string) {
	delete(h.texts, doc)
	for i, d := range h.order {
		if d == doc {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

func analyzeTexts(texts []string) models.WindowResult {
	first, last := texts[0], texts[len(texts)-1]
	number := findNumber(first)
	start := number != "" || reInvoiceTitle.MatchString(first)

	continuation := reContinued.MatchString(last)
	if m := rePageOf.FindStringSubmatch(last); m != nil {
		x, _ := strconv.Atoi(m[1])
		y, _ := strconv.Atoi(m[2])
		continuation = continuation || x < y
	}

	// A later page carrying a different invoice number starts another invoice.
	mixed := false
	for _, t := range texts[1:] {
		if n := findNumber(t); n != "" && number != "" && n != number {
			mixed = true
		}
	}

	all := strings.Join(texts, "\n")
	rec := models.InvoiceRecord{LineItems: []models.LineItem{}}
	if number != "" {
		rec.InvoiceNumber = models.String(number)
	}
	total := lastAmount(reTotal, all)
	rec.TotalAmount = total
	rec.TotalTax = lastAmount(reTax, all)
	if m := reDueDate.FindStringSubmatch(all); m != nil {
		rec.DueDate = models.String(m[1])
	}
	for _, m := range reISODate.FindAllStringSubmatch(all, -1) {
		if rec.DueDate == nil || m[1] != *rec.DueDate {
			rec.InvoiceDate = models.String(m[1])
			break
		}
	}
	rec.Currency = findCurrency(all)

	complete := start && !continuation && !mixed && (total != nil || len(texts) == 1)
	conf := 0.2
	if start {
		conf = 0.5
	}
	reasons := []string{}
	if start {
		reasons = append(reasons, "invoice header on first page")
	}
	if continuation {
		reasons = append(reasons, "continuation marker on last page")
	}
	if total != nil {
		reasons = append(reasons, "total found")
	}
	if mixed {
		reasons = append(reasons, "second invoice number in window")
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "no invoice cues")
	}
	return models.WindowResult{
		Boundary: models.Boundary{
			IsCompleteInvoice: complete,
			IsInvoiceStart:    start,
			HasContinuation:   continuation,
			Confidence:        conf,
			Reasoning:         "ocr heuristic: " + strings.Join(reasons, "; "),
		},
		Record: rec,
	}
}

func findNumber(text string) string {
	if m := reInvoiceNumber.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

func lastAmount(re *regexp.Regexp, text string) *float64 {
	ms := re.FindAllStringSubmatch(text, -1)
	if len(ms) == 0 {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(ms[len(ms)-1][1], ",", ""), 64)
	if err != nil {
		return nil
	}
	return &v
}

func findCurrency(text string) *string {
	if m := reCurrencyCode.FindStringSubmatch(text); m != nil {
		return models.String(m[1])
	}
	for _, sc := range currencySymbols {
		if strings.Contains(text, sc[0]) {
			return models.String(sc[1])
		}
	}
	return nil
}

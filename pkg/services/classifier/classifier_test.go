package classifier

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoice-split/pkg/errdefs"
	"invoice-split/pkg/models"
	"invoice-split/pkg/services/consolidation"
)

func window(start, size, total int) models.Window {
	w := models.Window{TotalPages: total}
	for i := start; i < start+size; i++ {
		w.Pages = append(w.Pages, models.Page{Index: i, Image: imaging.New(40, 60, color.White)})
		w.PageNumbers = append(w.PageNumbers, i+1)
	}
	return w
}

func TestPageLabel(t *testing.T) {
	assert.Equal(t, "Page 3 of 9", pageLabel(window(2, 1, 9)))
	assert.Equal(t, "Pages 3-5 of 9", pageLabel(window(2, 3, 9)))
	assert.Contains(t, Prompt(window(0, 2, 4)), "(Pages 1-2 of 4)")
}

func TestParseResultFencedAnswer(t *testing.T) {
	answer := "Here you go:\n```json\n" + `{
  "is_complete_invoice": true,
  "is_invoice_start": "true",
  "has_continuation": false,
  "invoice_number": 1001,
  "vendor_name": "  ACME  ",
  "customer_name": "",
  "total_amount": "1,234.50",
  "total_tax": null,
  "currency": "USD",
  "line_items": [{"item_name": "Bolt", "quantity": "3", "unit_price": 1.5, "total_price": null}],
  "confidence": 1.7,
  "reasoning": "header and total on one page"
}` + "\n```"

	res, err := ParseResult(answer)
	require.NoError(t, err)
	assert.True(t, res.IsCompleteInvoice)
	assert.True(t, res.IsInvoiceStart)
	assert.False(t, res.HasContinuation)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Equal(t, "header and total on one page", res.Reasoning)

	r := res.Record
	require.NotNil(t, r.InvoiceNumber)
	assert.Equal(t, "1001", *r.InvoiceNumber)
	assert.Equal(t, "ACME", *r.VendorName)
	assert.Nil(t, r.CustomerName)
	assert.Equal(t, 1234.5, *r.TotalAmount)
	assert.Nil(t, r.TotalTax)
	assert.Nil(t, r.DueDate)
	require.Len(t, r.LineItems, 1)
	assert.Equal(t, "Bolt", r.LineItems[0].ItemName)
	assert.Equal(t, 3.0, *r.LineItems[0].Quantity)
	assert.Nil(t, r.LineItems[0].TotalPrice)
}

func TestParseResultLenientValues(t *testing.T) {
	res, err := ParseResult(`{"confidence": -3, "total_amount": "n/a", "line_items": "none", "is_invoice_start": 1}`)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Confidence)
	assert.Nil(t, res.Record.TotalAmount)
	assert.NotNil(t, res.Record.LineItems)
	assert.Empty(t, res.Record.LineItems)
	assert.False(t, res.IsInvoiceStart)
}

func TestParseResultKeepsInvoiceNumberVerbatim(t *testing.T) {
	c := consolidation.New()
	for _, answer := range []string{
		`{"is_complete_invoice": true, "invoice_number": "INV-7"}`,
		`{"is_complete_invoice": true, "invoice_number": " INV-7 "}`,
		`{"is_complete_invoice": true, "invoice_number": "INV-7"}`,
	} {
		res, err := ParseResult(answer)
		require.NoError(t, err)
		c.Add(models.InvoiceGroup{PageIndices: []int{c.Len()}, Record: res.Record, Boundary: res.Boundary})
	}

	groups := c.Groups()
	require.Len(t, groups, 2)
	assert.Equal(t, "INV-7", groups[0].Record.Number())
	assert.Equal(t, []int{0, 2}, groups[0].PageIndices)
	assert.Equal(t, " INV-7 ", groups[1].Record.Number())

	for _, blank := range []string{`""`, `"   "`, `"null"`, `null`} {
		res, err := ParseResult(`{"invoice_number": ` + blank + `}`)
		require.NoError(t, err)
		assert.Nil(t, res.Record.InvoiceNumber, blank)
	}
}

func TestParseResultAmounts(t *testing.T) {
	cases := map[string]*float64{
		`"1,234.50"`:     models.Float(1234.5),
		`"$12"`:          models.Float(12),
		`"EUR 9.99"`:     models.Float(9.99),
		`"-$5.00"`:       models.Float(-5),
		`"0.75"`:         models.Float(0.75),
		`42`:             models.Float(42),
		`"1.234,50"`:     nil,
		`"12-34"`:        nil,
		`"12,34"`:        nil,
		`"1 200"`:        nil,
		`"1e5"`:          nil,
		`"about twelve"`: nil,
	}
	for raw, want := range cases {
		res, err := ParseResult(`{"total_amount": ` + raw + `}`)
		require.NoError(t, err, raw)
		if want == nil {
			assert.Nil(t, res.Record.TotalAmount, raw)
			continue
		}
		require.NotNil(t, res.Record.TotalAmount, raw)
		assert.InDelta(t, *want, *res.Record.TotalAmount, 1e-9, raw)
	}
}

func TestParseResultRejectsNonJSON(t *testing.T) {
	for _, answer := range []string{"", "I cannot help with that.", "{broken", "```\n[1,2]\n```"} {
		_, err := ParseResult(answer)
		require.Error(t, err, answer)
		assert.True(t, errors.Is(err, errdefs.ErrOracle), answer)
	}
}

type fakeChat struct {
	req    openai.ChatCompletionRequest
	answer string
	err    error
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{
		{Message: openai.ChatCompletionMessage{Content: f.answer}},
	}}, nil
}

func TestOpenAIClassify(t *testing.T) {
	chat := &fakeChat{answer: `{"is_complete_invoice": false, "is_invoice_start": true, "has_continuation": true, "invoice_number": "A-7", "confidence": 0.8}`}
	c := newOpenAI(chat, "", zerolog.Nop())

	res, err := c.Classify(context.Background(), window(4, 2, 10))
	require.NoError(t, err)
	assert.True(t, res.HasContinuation)
	assert.Equal(t, "A-7", res.Record.Number())

	req := chat.req
	assert.Equal(t, defaultModel, req.Model)
	assert.Equal(t, maxTokens, req.MaxTokens)
	assert.InDelta(t, 0.1, req.Temperature, 1e-6)
	require.Len(t, req.Messages, 1)
	parts := req.Messages[0].MultiContent
	require.Len(t, parts, 3)
	assert.Contains(t, parts[0].Text, "Pages 5-6 of 10")
	for _, p := range parts[1:] {
		require.NotNil(t, p.ImageURL)
		assert.True(t, strings.HasPrefix(p.ImageURL.URL, "data:image/jpeg;base64,"))
		assert.Equal(t, openai.ImageURLDetailHigh, p.ImageURL.Detail)
	}
}

func TestOpenAIClassifyErrors(t *testing.T) {
	c := newOpenAI(&fakeChat{err: errors.New("503 upstream")}, "gpt-test", zerolog.Nop())
	_, err := c.Classify(context.Background(), window(0, 1, 1))
	assert.True(t, errors.Is(err, errdefs.ErrOracle))

	c = newOpenAI(&fakeChat{answer: "sorry"}, "gpt-test", zerolog.Nop())
	_, err = c.Classify(context.Background(), window(0, 1, 1))
	assert.True(t, errors.Is(err, errdefs.ErrOracle))

	_, err = c.Classify(context.Background(), models.Window{})
	assert.True(t, errors.Is(err, errdefs.ErrOracle))
}

type fakeOCR struct {
	texts map[int]string
	calls atomic.Int32
}

func (f *fakeOCR) ExtractText(_ context.Context, img image.Image) ([]models.TextLine, error) {
	f.calls.Add(1)
	// Page images in these tests are w pixels wide where w-40 is the page index.
	idx := img.Bounds().Dx() - 40
	var lines []models.TextLine
	for _, l := range strings.Split(f.texts[idx], "\n") {
		lines = append(lines, models.TextLine{Text: l})
	}
	return lines, nil
}

func ocrWindow(start, size, total int) models.Window {
	w := models.Window{TotalPages: total}
	for i := start; i < start+size; i++ {
		w.Pages = append(w.Pages, models.Page{Index: i, Image: imaging.New(40+i, 60, color.White)})
		w.PageNumbers = append(w.PageNumbers, i+1)
	}
	return w
}

func TestHeuristicSinglePageInvoice(t *testing.T) {
	ex := &fakeOCR{texts: map[int]string{
		0: "ACME Ltd\nINVOICE\nInvoice No: INV-1001\nDate 2024-03-01\nDue date: 2024-03-31\nVAT 20.00\nTotal: $120.00",
	}}
	res, err := NewHeuristic(ex).Classify(context.Background(), ocrWindow(0, 1, 3))
	require.NoError(t, err)

	assert.True(t, res.IsInvoiceStart)
	assert.True(t, res.IsCompleteInvoice)
	assert.False(t, res.HasContinuation)
	assert.Equal(t, 0.5, res.Confidence)
	r := res.Record
	assert.Equal(t, "INV-1001", r.Number())
	assert.Equal(t, 120.0, *r.TotalAmount)
	assert.Equal(t, 20.0, *r.TotalTax)
	assert.Equal(t, "2024-03-01", *r.InvoiceDate)
	assert.Equal(t, "2024-03-31", *r.DueDate)
	assert.Equal(t, "USD", *r.Currency)
}

func TestHeuristicContinuation(t *testing.T) {
	ex := &fakeOCR{texts: map[int]string{
		0: "INVOICE\nInvoice #: 77-B\nWidget 10.00\nPage 1 of 2",
		1: "Gadget 5.00\nTotal 15.00\nPage 2 of 2",
	}}
	h := NewHeuristic(ex)
	w := ocrWindow(0, 2, 2)
	w.Document = "run-1"
	single := models.Window{Document: "run-1", Pages: w.Pages[:1], PageNumbers: w.PageNumbers[:1], TotalPages: 2}

	first, err := h.Classify(context.Background(), single)
	require.NoError(t, err)
	assert.True(t, first.IsInvoiceStart)
	assert.True(t, first.HasContinuation)
	assert.False(t, first.IsCompleteInvoice)

	both, err := h.Classify(context.Background(), w)
	require.NoError(t, err)
	assert.True(t, both.IsCompleteInvoice)
	assert.Equal(t, 15.0, *both.Record.TotalAmount)
	assert.Equal(t, int32(2), ex.calls.Load(), "pages are read once")
}

func docWindow(doc string, start, size, total int) models.Window {
	w := ocrWindow(start, size, total)
	w.Document = doc
	return w
}

func TestHeuristicCacheIsPerDocument(t *testing.T) {
	ex := &fakeOCR{texts: map[int]string{0: "Invoice No: A1", 1: "Total 1.00", 2: "Invoice No: A2", 3: "Total 2.00"}}
	h := NewHeuristic(ex)
	ctx := context.Background()
	classify := func(w models.Window) {
		_, err := h.Classify(ctx, w)
		require.NoError(t, err)
	}
	cachedPages := func(doc string) int {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.texts[doc])
	}

	classify(docWindow("a", 0, 1, 4))
	classify(docWindow("a", 0, 2, 4))
	assert.Equal(t, int32(2), ex.calls.Load())
	assert.Equal(t, 2, cachedPages("a"))

	classify(docWindow("b", 0, 1, 4))
	assert.Equal(t, int32(3), ex.calls.Load(), "another document with the same page index is read again")

	classify(docWindow("a", 1, 1, 4))
	assert.Equal(t, int32(3), ex.calls.Load())
	assert.Equal(t, 1, cachedPages("a"), "pages behind the cursor are dropped")

	classify(docWindow("a", 3, 1, 4))
	assert.Equal(t, int32(4), ex.calls.Load())
	assert.Zero(t, cachedPages("a"), "the last window releases the document")

	classify(ocrWindow(0, 1, 4))
	classify(ocrWindow(0, 1, 4))
	assert.Equal(t, int32(6), ex.calls.Load(), "windows without a document are not cached")

	for i := 0; i < maxCachedDocuments+4; i++ {
		classify(docWindow(fmt.Sprintf("doc-%d", i), 0, 1, 4))
	}
	h.mu.Lock()
	assert.Len(t, h.texts, maxCachedDocuments)
	assert.Len(t, h.order, maxCachedDocuments)
	_, oldest := h.texts["b"]
	h.mu.Unlock()
	assert.False(t, oldest, "oldest document is evicted first")
}

func TestHeuristicMixedNumbers(t *testing.T) {
	ex := &fakeOCR{texts: map[int]string{
		0: "Invoice No: A1\nTotal 5.00",
		1: "Invoice No: B2\nTotal 7.00",
	}}
	res, err := NewHeuristic(ex).Classify(context.Background(), ocrWindow(0, 2, 2))
	require.NoError(t, err)
	assert.False(t, res.IsCompleteInvoice)
	assert.Contains(t, res.Reasoning, "second invoice number")
}

func TestHeuristicCompleteness(t *testing.T) {
	cases := []struct {
		name     string
		texts    map[int]string
		size     int
		complete bool
	}{
		{"single page without total", map[int]string{0: "INVOICE\nInvoice No: S1"}, 1, true},
		{"two pages with total", map[int]string{0: "Invoice No: T1", 1: "Total 9.00"}, 2, true},
		{"two pages without total", map[int]string{0: "Invoice No: T2", 1: "Widget 9.00"}, 2, false},
		{"continued on last page", map[int]string{0: "Invoice No: T3\nTotal 1.00\ncontinued"}, 1, false},
		{"no header", map[int]string{0: "Total 4.00"}, 1, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := NewHeuristic(&fakeOCR{texts: tc.texts}).Classify(context.Background(), ocrWindow(0, tc.size, 2))
			require.NoError(t, err)
			assert.Equal(t, tc.complete, res.IsCompleteInvoice)
		})
	}
}

func TestHeuristicBlankPage(t *testing.T) {
	res, err := NewHeuristic(&fakeOCR{}).Classify(context.Background(), ocrWindow(0, 1, 1))
	require.NoError(t, err)
	assert.False(t, res.IsInvoiceStart)
	assert.Equal(t, 0.2, res.Confidence)
	assert.Nil(t, res.Record.InvoiceNumber)
}

func TestWithTimeout(t *testing.T) {
	slow := Func(func(ctx context.Context, _ models.Window) (models.WindowResult, error) {
		<-ctx.Done()
		return models.WindowResult{}, ctx.Err()
	})
	_, err := WithTimeout(slow, 10*time.Millisecond).Classify(context.Background(), window(0, 1, 1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.NotNil(t, WithTimeout(slow, 0))
}

func TestWithRateLimit(t *testing.T) {
	var calls int
	c := WithRateLimit(Func(func(context.Context, models.Window) (models.WindowResult, error) {
		calls++
		return models.WindowResult{}, nil
	}), 1)

	_, err := c.Classify(context.Background(), window(0, 1, 1))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Classify(ctx, window(0, 1, 1))
	assert.True(t, errors.Is(err, errdefs.ErrOracle))
	assert.Equal(t, 1, calls)
}

package classifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"invoice-split/pkg/errdefs"
	"invoice-split/pkg/models"
)

// ParseResult decodes a model answer into a WindowResult. Markdown fences and
// prose around the JSON object are tolerated, as are numbers sent as strings.
// Anything that is not a JSON object is an oracle error.
func ParseResult(text string) (models.WindowResult, error) {
	body := extractJSON(text)
	if body == "" {
		return models.WindowResult{}, fmt.Errorf("no JSON object in classifier answer: %w", errdefs.ErrOracle)
	}
	var raw rawResult
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&raw); err != nil {
		return models.WindowResult{}, fmt.Errorf("decode classifier answer: %v: %w", err, errdefs.ErrOracle)
	}
	return raw.result(), nil
}

func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "```json"); i >= 0 {
		text = text[i+len("```json"):]
		if j := strings.Index(text, "```"); j >= 0 {
			text = text[:j]
		}
	} else if i := strings.Index(text, "```"); i >= 0 {
		text = text[i+3:]
		if j := strings.Index(text, "```"); j >= 0 {
			text = text[:j]
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return ""
	}
	return text[start : end+1]
}

type rawResult struct {
	IsCompleteInvoice flexBool   `json:"is_complete_invoice"`
	IsInvoiceStart    flexBool   `json:"is_invoice_start"`
	HasContinuation   flexBool   `json:"has_continuation"`
	Confidence        flexFloat  `json:"confidence"`
	Reasoning         flexString `json:"reasoning"`

	InvoiceNumber exactString `json:"invoice_number"`
	CustomerName  flexString  `json:"customer_name"`
	VendorName    flexString  `json:"vendor_name"`
	VendorAddress flexString  `json:"vendor_address"`
	VendorPhone   flexString  `json:"vendor_phone"`
	VendorEmail   flexString  `json:"vendor_email"`
	InvoiceDate   flexString  `json:"invoice_date"`
	DueDate       flexString  `json:"due_date"`
	TotalAmount   flexFloat   `json:"total_amount"`
	Currency      flexString  `json:"currency"`
	TotalTax      flexFloat   `json:"total_tax"`
	Description   flexString  `json:"description"`
	LineItems     flexItems   `json:"line_items"`
}

func (r rawResult) result() models.WindowResult {
	conf := 0.0
	if r.Confidence.v != nil {
		conf = math.Min(1, math.Max(0, *r.Confidence.v))
	}
	reasoning := ""
	if r.Reasoning.v != nil {
		reasoning = *r.Reasoning.v
	}
	items := make([]models.LineItem, 0, len(r.LineItems))
	for _, it := range r.LineItems {
		name := ""
		if it.ItemName.v != nil {
			name = *it.ItemName.v
		}
		items = append(items, models.LineItem{
			ItemName:   name,
			Quantity:   it.Quantity.v,
			UnitPrice:  it.UnitPrice.v,
			TotalPrice: it.TotalPrice.v,
		})
	}
	return models.WindowResult{
		Boundary: models.Boundary{
			IsCompleteInvoice: bool(r.IsCompleteInvoice),
			IsInvoiceStart:    bool(r.IsInvoiceStart),
			HasContinuation:   bool(r.HasContinuation),
			Confidence:        conf,
			Reasoning:         reasoning,
		},
		Record: models.InvoiceRecord{
			InvoiceNumber: r.InvoiceNumber.v,
			CustomerName:  r.CustomerName.v,
			VendorName:    r.VendorName.v,
			VendorAddress: r.VendorAddress.v,
			VendorPhone:   r.VendorPhone.v,
			VendorEmail:   r.VendorEmail.v,
			InvoiceDate:   r.InvoiceDate.v,
			DueDate:       r.DueDate.v,
			TotalAmount:   r.TotalAmount.v,
			Currency:      r.Currency.v,
			TotalTax:      r.TotalTax.v,
			Description:   r.Description.v,
			LineItems:     items,
		},
	}
}

type rawLineItem struct {
	ItemName   flexString `json:"item_name"`
	Quantity   flexFloat  `json:"quantity"`
	UnitPrice  flexFloat  `json:"unit_price"`
	TotalPrice flexFloat  `json:"total_price"`
}

// flexItems decodes an array of line items; any other value is no items.
type flexItems []rawLineItem

func (f *flexItems) UnmarshalJSON(data []byte) error {
	var items []rawLineItem
	if err := json.Unmarshal(data, &items); err != nil {
		*f = nil
		return nil
	}
	*f = items
	return nil
}

// flexString accepts strings and numbers. Null, blank and other types are absent.
type flexString struct{ v *string }

func (f *flexString) UnmarshalJSON(data []byte) error {
	f.v = nil
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		if s = strings.TrimSpace(s); s != "" && !strings.EqualFold(s, "null") {
			f.v = &s
		}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		s := string(data)
		f.v = &s
	}
	return nil
}

// exactString is flexString without trimming: identifiers keep their exact
// spelling, only blank text and "null" are absent.
type exactString struct{ v *string }

func (f *exactString) UnmarshalJSON(data []byte) error {
	f.v = nil
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		if t := strings.TrimSpace(s); t != "" && !strings.EqualFold(t, "null") {
			f.v = &s
		}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		s := string(data)
		f.v = &s
	}
	return nil
}

// flexFloat accepts numbers and numeric strings such as "1,234.50", "$12" or
// "EUR 9.99". Null, NaN, infinities and text that is not a plain amount are
// absent; "1.234,50" and "12-34" are rejected rather than guessed at.
type flexFloat struct{ v *float64 }

var reAmount = regexp.MustCompile(`^(?:\d+|\d{1,3}(?:,\d{3})+)?(?:\.\d+)?$`)

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	f.v = nil
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	text := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &text); err != nil {
			return nil
		}
		var ok bool
		if text, ok = plainAmount(text); !ok {
			return nil
		}
	}
	n, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil
	}
	f.v = &n
	return nil
}

// plainAmount strips a currency symbol or code around an amount and the
// thousands separators inside it.
func plainAmount(s string) (string, bool) {
	notAmount := func(r rune) bool { return !unicode.IsDigit(r) && r != '.' && r != '-' }
	s = strings.TrimFunc(s, notAmount)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = strings.TrimFunc(s[1:], notAmount)
	}
	if s == "" || s == "." || !reAmount.MatchString(s) {
		return "", false
	}
	s = strings.ReplaceAll(s, ",", "")
	if neg {
		s = "-" + s
	}
	return s, true
}

// flexBool accepts booleans and the strings "true"/"false"; anything else is false.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.ToLower(string(bytes.TrimSpace(data))), `"`)
	*f = s == "true" || s == "yes"
	return nil
}

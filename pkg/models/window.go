package models

import "fmt"

// Window is the ordered page range handed to the classifier in one call.
type Window struct {
	// Document identifies the pass the window belongs to. Classifiers may key
	// per-document state on it; empty means unknown.
	Document string
	Pages    []Page
	// PageNumbers are 1-based, matching how pages are labelled to the model.
	PageNumbers []int
	TotalPages  int
}

// Start returns the 0-based index of the first page in the window.
func (w Window) Start() int {
	if len(w.Pages) == 0 {
		return 0
	}
	return w.Pages[0].Index
}

// Boundary holds the boundary signals the classifier reports for a window.
type Boundary struct {
	IsCompleteInvoice bool    `json:"is_complete_invoice"`
	IsInvoiceStart    bool    `json:"is_invoice_start"`
	HasContinuation   bool    `json:"has_continuation"`
	Confidence        float64 `json:"confidence"`
	Reasoning         string  `json:"reasoning"`
}

// WindowResult is the classifier output for one window.
type WindowResult struct {
	Boundary
	Record InvoiceRecord
}

// NeutralResult is substituted for a classifier call that failed. It reads as
// a complete invoice start with zero confidence so the cursor always advances.
func NeutralResult(cause error) WindowResult {
	return WindowResult{
		Boundary: Boundary{
			IsCompleteInvoice: true,
			IsInvoiceStart:    true,
			HasContinuation:   false,
			Confidence:        0,
			Reasoning:         fmt.Sprintf("classifier error: %v", cause),
		},
		Record: InvoiceRecord{LineItems: []LineItem{}},
	}
}

// InvoiceGroup is a set of pages assigned to one invoice. Pages are contiguous
// when the group is created; consolidation may append further ranges.
type InvoiceGroup struct {
	PageIndices []int
	Record      InvoiceRecord
	Boundary    Boundary
}

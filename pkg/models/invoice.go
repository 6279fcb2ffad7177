package models

import (
	"gorm.io/gorm"
)

// InvoiceRecord is the structured data extracted for one invoice. Absent
// values are nil and serialize as explicit nulls.
type InvoiceRecord struct {
	InvoiceNumber *string    `json:"invoice_number"`
	CustomerName  *string    `json:"customer_name"`
	VendorName    *string    `json:"vendor_name"`
	VendorAddress *string    `json:"vendor_address"`
	VendorPhone   *string    `json:"vendor_phone"`
	VendorEmail   *string    `json:"vendor_email"`
	InvoiceDate   *string    `json:"invoice_date"`
	DueDate       *string    `json:"due_date"`
	TotalAmount   *float64   `json:"total_amount"`
	Currency      *string    `json:"currency"`
	TotalTax      *float64   `json:"total_tax"`
	Description   *string    `json:"description"`
	LineItems     []LineItem `json:"line_items"`
}

// LineItem is one billed line of an invoice.
type LineItem struct {
	ItemName   string   `json:"item_name"`
	Quantity   *float64 `json:"quantity"`
	UnitPrice  *float64 `json:"unit_price"`
	TotalPrice *float64 `json:"total_price"`
}

// Number returns the invoice number, or "" when none was extracted.
func (r InvoiceRecord) Number() string {
	if r.InvoiceNumber == nil {
		return ""
	}
	return *r.InvoiceNumber
}

// Clone returns a deep copy so merges never alias another group's record.
func (r InvoiceRecord) Clone() InvoiceRecord {
	out := r
	out.InvoiceNumber = cloneString(r.InvoiceNumber)
	out.CustomerName = cloneString(r.CustomerName)
	out.VendorName = cloneString(r.VendorName)
	out.VendorAddress = cloneString(r.VendorAddress)
	out.VendorPhone = cloneString(r.VendorPhone)
	out.VendorEmail = cloneString(r.VendorEmail)
	out.InvoiceDate = cloneString(r.InvoiceDate)
	out.DueDate = cloneString(r.DueDate)
	out.TotalAmount = cloneFloat(r.TotalAmount)
	out.Currency = cloneString(r.Currency)
	out.TotalTax = cloneFloat(r.TotalTax)
	out.Description = cloneString(r.Description)
	if r.LineItems == nil {
		return out
	}
	out.LineItems = make([]LineItem, len(r.LineItems))
	for i, item := range r.LineItems {
		out.LineItems[i] = LineItem{
			ItemName:   item.ItemName,
			Quantity:   cloneFloat(item.Quantity),
			UnitPrice:  cloneFloat(item.UnitPrice),
			TotalPrice: cloneFloat(item.TotalPrice),
		}
	}
	return out
}

// String returns a pointer to s for optional record fields.
func String(s string) *string { return &s }

// Float returns a pointer to f for optional record fields.
func Float(f float64) *float64 { return &f }

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// Invoice is the persisted row for one final invoice group.
type Invoice struct {
	gorm.Model
	AttachmentID  int64   `gorm:"index"`
	InvoiceNumber *string `gorm:"index"`
	CustomerName  *string
	VendorName    *string
	VendorAddress *string
	VendorPhone   *string
	VendorEmail   *string
	InvoiceDate   *string
	DueDate       *string
	TotalAmount   *float64
	Currency      *string
	TotalTax      *float64
	Description   *string
	S3PDFKey      string
	S3JSONKey     string
	LineItems     []InvoiceLineItem `gorm:"constraint:OnDelete:CASCADE"`
}

// InvoiceLineItem is a persisted line item; Position keeps extraction order.
type InvoiceLineItem struct {
	gorm.Model
	InvoiceID  uint `gorm:"index"`
	Position   int
	ItemName   string
	Quantity   *float64
	UnitPrice  *float64
	TotalPrice *float64
}

// TextLine represents a line of text with its position from OCR
type TextLine struct {
	Text   string
	X      int
	Y      int
	Width  int
	Height int
}

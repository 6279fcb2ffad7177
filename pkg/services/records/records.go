// Package records persists one invoice record per final group, either through
// the processor API or directly into a database.
package records

import (
	"context"

	"invoice-split/pkg/models"
)

// Entry is one invoice record together with where its artifacts were stored.
type Entry struct {
	AttachmentID int64
	Record       models.InvoiceRecord
	S3PDFKey     string
	S3JSONKey    string
}

// Store creates invoice records. CreateBatch may persist some entries and
// still return an error describing the ones that failed.
type Store interface {
	CreateBatch(ctx context.Context, entries []Entry) error
}

// payload is the wire form: the record fields flattened next to the
// attachment id and storage keys.
type payload struct {
	models.InvoiceRecord
	AttachmentID int64  `json:"attachment_id"`
	S3PDFKey     string `json:"s3_pdf_key"`
	S3JSONKey    string `json:"s3_json_key"`
}

func toPayload(e Entry) payload {
	rec := e.Record
	if rec.LineItems == nil {
		rec.LineItems = []models.LineItem{}
	}
	return payload{InvoiceRecord: rec, AttachmentID: e.AttachmentID, S3PDFKey: e.S3PDFKey, S3JSONKey: e.S3JSONKey}
}

// ToRow converts an entry into its database row, keeping line item order.
func ToRow(e Entry) models.Invoice {
	r := e.Record
	row := models.Invoice{
		AttachmentID:  e.AttachmentID,
		InvoiceNumber: r.InvoiceNumber,
		CustomerName:  r.CustomerName,
		VendorName:    r.VendorName,
		VendorAddress: r.VendorAddress,
		VendorPhone:   r.VendorPhone,
		VendorEmail:   r.VendorEmail,
		InvoiceDate:   r.InvoiceDate,
		DueDate:       r.DueDate,
		TotalAmount:   r.TotalAmount,
		Currency:      r.Currency,
		TotalTax:      r.TotalTax,
		Description:   r.Description,
		S3PDFKey:      e.S3PDFKey,
		S3JSONKey:     e.S3JSONKey,
	}
	for i, it := range r.LineItems {
		row.LineItems = append(row.LineItems, models.InvoiceLineItem{
			Position:   i,
			ItemName:   it.ItemName,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			TotalPrice: it.TotalPrice,
		})
	}
	return row
}

package artifacts

import (
	"bytes"
	"encoding/json"
	"fmt"

	"invoice-split/pkg/models"
)

// Serialize renders r as the canonical JSON document: fields in a fixed order,
// absent values as explicit nulls, line items as an array (never null),
// two-space indentation and unescaped non-ASCII text.
func Serialize(r models.InvoiceRecord) ([]byte, error) {
	if r.LineItems == nil {
		r.LineItems = []models.LineItem{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return nil, fmt.Errorf("serialize invoice record: %w", err)
	}
	return buf.Bytes(), nil
}

// Deserialize parses a document produced by Serialize.
func Deserialize(data []byte) (models.InvoiceRecord, error) {
	var r models.InvoiceRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return models.InvoiceRecord{}, fmt.Errorf("deserialize invoice record: %w", err)
	}
	if r.LineItems == nil {
		r.LineItems = []models.LineItem{}
	}
	return r, nil
}

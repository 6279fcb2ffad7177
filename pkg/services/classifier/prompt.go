package classifier

import (
	"fmt"

	"invoice-split/pkg/models"
)

const promptTemplate = `Analyze these document pages (%s) and perform TWO tasks:

TASK 1: Determine invoice boundaries
- Does the FIRST page START a new invoice? (Look for invoice headers, invoice numbers, an "INVOICE" title, billing or shipping addresses at the top)
- Do these pages form a COMPLETE invoice? (All pages belong to the same invoice and nothing continues onto later pages)
- Is there a CONTINUATION to another page? (Look for "continued on next page", page counters such as "Page 1 of 3", tables cut off at the bottom)

TASK 2: Extract invoice data (if this is an invoice)
1. invoice_number: the invoice number or identifier
2. customer_name: the customer or buyer ("Bill To")
3. vendor_name: the vendor or seller (the issuer)
4. vendor_address: the vendor address
5. vendor_phone: the vendor phone number
6. vendor_email: the vendor email address
7. invoice_date: invoice date as YYYY-MM-DD
8. due_date: payment due date as YYYY-MM-DD, if present
9. total_amount: total amount as a number
10. currency: ISO currency code (USD, EUR, ...)
11. total_tax: total tax as a number
12. description: a one-line summary of the invoice
13. line_items: every item across all pages with item_name, quantity, unit_price, total_price

Rules:
- Use null for any field that is not present
- Amounts are numbers, not strings
- Dates use YYYY-MM-DD

Respond ONLY with valid JSON in exactly this shape:
{
  "is_complete_invoice": true/false,
  "is_invoice_start": true/false,
  "has_continuation": true/false,
  "invoice_number": "string or null",
  "customer_name": "string or null",
  "vendor_name": "string or null",
  "vendor_address": "string or null",
  "vendor_phone": "string or null",
  "vendor_email": "string or null",
  "invoice_date": "YYYY-MM-DD or null",
  "due_date": "YYYY-MM-DD or null",
  "total_amount": number or null,
  "currency": "string or null",
  "total_tax": number or null,
  "description": "string or null",
  "line_items": [
    {"item_name": "string", "quantity": number or null, "unit_price": number or null, "total_price": number or null}
  ],
  "confidence": 0.0-1.0,
  "reasoning": "brief explanation"
}`

// Prompt returns the instruction sent with the page images of w.
func Prompt(w models.Window) string {
	return fmt.Sprintf(promptTemplate, pageLabel(w))
}

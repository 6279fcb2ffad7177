// Package consolidation merges invoice groups that carry the same invoice
// number within one document pass.
package consolidation

import (
	"fmt"
	"sort"

	"invoice-split/pkg/errdefs"
	"invoice-split/pkg/models"
)

// Outcome describes what Add did with a group.
type Outcome struct {
	// Index is the position of the group the pages ended up in.
	Index int
	// Merged is true when the group was folded into an earlier one.
	Merged bool
	// Added lists the page indices contributed by this call, in order.
	Added []int
}

// Consolidator owns the groups of one document pass. Groups live in an arena
// addressed by position; the session index maps invoice numbers to positions.
// A Consolidator is not safe for concurrent use; each pass owns its own.
type Consolidator struct {
	groups []models.InvoiceGroup
	index  map[string]int
}

// New returns an empty consolidator for a new document pass.
func New() *Consolidator {
	return &Consolidator{index: make(map[string]int)}
}

// Add registers a newly emitted group. A group whose invoice number was seen
// before in this pass is merged into the first group with that number; groups
// without a number always stand alone. Numbers match by exact string equality.
func (c *Consolidator) Add(g models.InvoiceGroup) Outcome {
	added := append([]int(nil), g.PageIndices...)
	num := g.Record.Number()
	if num != "" {
		if pos, ok := c.index[num]; ok {
			existing := &c.groups[pos]
			existing.Record = MergeRecord(existing.Record, g.Record)
			existing.PageIndices = append(existing.PageIndices, added...)
			return Outcome{Index: pos, Merged: true, Added: added}
		}
	}

	g.PageIndices = added
	g.Record = g.Record.Clone()
	c.groups = append(c.groups, g)
	pos := len(c.groups) - 1
	if num != "" {
		c.index[num] = pos
	}
	return Outcome{Index: pos, Added: added}
}

// Len returns the number of final groups so far.
func (c *Consolidator) Len() int { return len(c.groups) }

// Group returns a copy of the group at position i.
func (c *Consolidator) Group(i int) models.InvoiceGroup {
	g := c.groups[i]
	g.PageIndices = append([]int(nil), g.PageIndices...)
	g.Record = g.Record.Clone()
	return g
}

// Groups returns copies of all groups in creation order.
func (c *Consolidator) Groups() []models.InvoiceGroup {
	out := make([]models.InvoiceGroup, len(c.groups))
	for i := range c.groups {
		out[i] = c.Group(i)
	}
	return out
}

// MergeRecord folds src into dst. Line items are appended in order, never
// deduplicated. A scalar field of dst is filled from src only when it is empty;
// populated values are never overwritten.
func MergeRecord(dst, src models.InvoiceRecord) models.InvoiceRecord {
	out := dst.Clone()
	add := src.Clone()

	out.LineItems = append(out.LineItems, add.LineItems...)

	fillString(&out.InvoiceNumber, add.InvoiceNumber)
	fillString(&out.CustomerName, add.CustomerName)
	fillString(&out.VendorName, add.VendorName)
	fillString(&out.VendorAddress, add.VendorAddress)
	fillString(&out.VendorPhone, add.VendorPhone)
	fillString(&out.VendorEmail, add.VendorEmail)
	fillString(&out.InvoiceDate, add.InvoiceDate)
	fillString(&out.DueDate, add.DueDate)
	fillFloat(&out.TotalAmount, add.TotalAmount)
	fillString(&out.Currency, add.Currency)
	fillFloat(&out.TotalTax, add.TotalTax)
	fillString(&out.Description, add.Description)
	return out
}

func fillString(dst **string, src *string) {
	if (*dst == nil || **dst == "") && src != nil && *src != "" {
		*dst = src
	}
}

// fillFloat treats only nil as empty; a zero amount is a real value.
func fillFloat(dst **float64, src *float64) {
	if *dst == nil && src != nil {
		*dst = src
	}
}

// CheckPartition verifies that groups cover pages 0..n-1 exactly once.
func CheckPartition(groups []models.InvoiceGroup, n int) error {
	var all []int
	for _, g := range groups {
		all = append(all, g.PageIndices...)
	}
	if len(all) != n {
		return fmt.Errorf("groups cover %d pages, document has %d: %w", len(all), n, errdefs.ErrInvariant)
	}
	sort.Ints(all)
	for i, p := range all {
		if p != i {
			return fmt.Errorf("page %d missing or assigned twice: %w", i, errdefs.ErrInvariant)
		}
	}
	return nil
}

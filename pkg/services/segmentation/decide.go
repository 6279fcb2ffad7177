// Package segmentation discovers invoice boundaries in a rasterized document.
//
// For each cursor position the engine grows a window one page at a time and
// asks the classifier about it. The decision of which window to accept is kept
// apart from the classifier I/O in Tracker, so it can be exercised over a plain
// sequence of results.
package segmentation

import "invoice-split/pkg/models"

// Reason records how a window came to be accepted.
type Reason string

const (
	// ReasonComplete: the classifier called the window a complete invoice.
	ReasonComplete Reason = "complete"
	// ReasonStartOnly: an invoice start with no promised continuation.
	ReasonStartOnly Reason = "start_no_continuation"
	// ReasonBestStart: no window was accepted outright; the largest window
	// reported as an invoice start wins.
	ReasonBestStart Reason = "best_start"
	// ReasonForced: no window ever reported an invoice start; a single page is
	// taken so the cursor still advances.
	ReasonForced Reason = "forced"
)

// Decision is the accepted window, relative to the cursor.
type Decision struct {
	Size   int
	Result models.WindowResult
	Reason Reason
}

// Tracker holds the candidate state for one cursor position: either nothing
// yet, or the largest invoice-start window seen so far. Feed it results for
// strictly increasing window sizes.
type Tracker struct {
	first *Decision
	best  *Decision
}

// Observe records the result for a window of the given size. It returns the
// decision and true when the window is accepted immediately and the window
// should stop growing.
func (t *Tracker) Observe(size int, r models.WindowResult) (Decision, bool) {
	if t.first == nil {
		t.first = &Decision{Size: size, Result: r, Reason: ReasonForced}
	}
	switch {
	case r.IsCompleteInvoice:
		return Decision{Size: size, Result: r, Reason: ReasonComplete}, true
	case r.IsInvoiceStart && !r.HasContinuation:
		return Decision{Size: size, Result: r, Reason: ReasonStartOnly}, true
	case r.IsInvoiceStart:
		if t.best == nil || size > t.best.Size {
			t.best = &Decision{Size: size, Result: r, Reason: ReasonBestStart}
		}
	}
	return Decision{}, false
}

// Finish returns the decision once every window size has been tried without
// an immediate accept.
func (t *Tracker) Finish() Decision {
	if t.best != nil {
		return *t.best
	}
	if t.first != nil {
		d := *t.first
		d.Size = 1
		return d
	}
	return Decision{Size: 1, Reason: ReasonForced}
}

// Decide runs a Tracker over results, where results[k] answers the window of
// size k+1. Results after an immediate accept are ignored.
func Decide(results []models.WindowResult) Decision {
	var t Tracker
	for k, r := range results {
		if d, ok := t.Observe(k+1, r); ok {
			return d
		}
	}
	return t.Finish()
}

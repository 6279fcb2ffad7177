// Package classifier adapts page classifiers to the window contract used by
// the segmentation engine: given an ordered window of page images, report
// boundary signals and the invoice fields visible in that window.
package classifier

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"invoice-split/pkg/errdefs"
	"invoice-split/pkg/models"
)

// Classifier evaluates one candidate window. Implementations must tolerate
// repeated, overlapping windows over the same document.
type Classifier interface {
	Classify(ctx context.Context, w models.Window) (models.WindowResult, error)
}

// Func adapts a plain function to Classifier.
type Func func(ctx context.Context, w models.Window) (models.WindowResult, error)

// Classify calls f.
func (f Func) Classify(ctx context.Context, w models.Window) (models.WindowResult, error) {
	return f(ctx, w)
}

// WithTimeout bounds every call of c by d. A non-positive d returns c unchanged.
func WithTimeout(c Classifier, d time.Duration) Classifier {
	if d <= 0 {
		return c
	}
	return Func(func(ctx context.Context, w models.Window) (models.WindowResult, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		res, err := c.Classify(ctx, w)
		if err != nil {
			return models.WindowResult{}, err
		}
		return res, nil
	})
}

// WithRateLimit paces calls of c to rpm requests per minute. rpm <= 0
// returns c unchanged.
func WithRateLimit(c Classifier, rpm int) Classifier {
	if rpm <= 0 {
		return c
	}
	lim := rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
	return Func(func(ctx context.Context, w models.Window) (models.WindowResult, error) {
		if err := lim.Wait(ctx); err != nil {
			return models.WindowResult{}, fmt.Errorf("rate limit wait: %v: %w", err, errdefs.ErrOracle)
		}
		return c.Classify(ctx, w)
	})
}

func pageLabel(w models.Window) string {
	if len(w.PageNumbers) == 0 {
		return fmt.Sprintf("Page ? of %d", w.TotalPages)
	}
	first, last := w.PageNumbers[0], w.PageNumbers[len(w.PageNumbers)-1]
	if first == last {
		return fmt.Sprintf("Page %d of %d", first, w.TotalPages)
	}
	return fmt.Sprintf("Pages %d-%d of %d", first, last, w.TotalPages)
}

// Package queue drives the pipeline from batches of attachment ids and from
// an SQS queue.
package queue

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"invoice-split/pkg/services/pipeline"
)

// Processor runs one attachment.
type Processor interface {
	ProcessAttachment(ctx context.Context, id int64) (pipeline.Result, error)
}

// Processed is a successful attachment in a Summary.
type Processed struct {
	AttachmentID int64  `json:"attachment_id"`
	RunID        string `json:"run_id"`
	Invoices     int    `json:"invoices"`
	OutputFiles  int    `json:"output_files"`
}

// Failed is a failed attachment or unusable message in a Summary.
type Failed struct {
	MessageID    string `json:"message_id,omitempty"`
	AttachmentID int64  `json:"attachment_id,omitempty"`
	Error        string `json:"error"`
}

// Summary reports a batch of attachments.
type Summary struct {
	ProcessedCount int         `json:"processed_count"`
	FailedCount    int         `json:"failed_count"`
	Processed      []Processed `json:"processed"`
	Failed         []Failed    `json:"failed"`
}

func (s *Summary) add(id int64, res pipeline.Result, err error) {
	if err == nil && res.OK() {
		s.Processed = append(s.Processed, Processed{
			AttachmentID: id,
			RunID:        res.RunID,
			Invoices:     len(res.Groups),
			OutputFiles:  len(res.OutputFiles),
		})
		s.ProcessedCount++
		return
	}
	msg := res.Error
	if err != nil {
		msg = err.Error()
	}
	if msg == "" {
		msg = fmt.Sprintf("attachment ended with status %s", res.Status)
	}
	s.Failed = append(s.Failed, Failed{AttachmentID: id, Error: msg})
	s.FailedCount++
}

// ProcessBatch runs every id through p, at most concurrency at a time, and
// summarizes the outcomes in input order. One attachment failing never stops
// the others.
func ProcessBatch(ctx context.Context, p Processor, ids []int64, concurrency int) Summary {
	type outcome struct {
		res pipeline.Result
		err error
	}
	outcomes := make([]outcome, len(ids))

	var g errgroup.Group
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, id := range ids {
		g.Go(func() error {
			res, err := p.ProcessAttachment(ctx, id)
			outcomes[i] = outcome{res: res, err: err}
			return nil
		})
	}
	g.Wait()

	s := Summary{Processed: []Processed{}, Failed: []Failed{}}
	for i, id := range ids {
		s.add(id, outcomes[i].res, outcomes[i].err)
	}
	return s
}

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"invoice-split/pkg/errdefs"
)

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// NewSQSClient builds an SQS client from the default AWS credential chain.
func NewSQSClient(ctx context.Context) (*sqs.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return sqs.NewFromConfig(cfg), nil
}

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	QueueURL    string
	Concurrency int
	WaitTime    time.Duration
	Backoff     time.Duration
	Logger      zerolog.Logger
}

// Worker long-polls a queue of attachment ids.
type Worker struct {
	api  sqsAPI
	proc Processor
	opts WorkerOptions
}

// NewWorker returns a worker reading opts.QueueURL through api.
func NewWorker(api sqsAPI, proc Processor, opts WorkerOptions) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Concurrency > 10 {
		opts.Concurrency = 10
	}
	if opts.WaitTime <= 0 || opts.WaitTime > 20*time.Second {
		opts.WaitTime = 20 * time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 5 * time.Second
	}
	return &Worker{api: api, proc: proc, opts: opts}
}

// Run polls until ctx is cancelled. Messages already received when ctx ends
// are still processed to completion.
func (w *Worker) Run(ctx context.Context) error {
	log := w.opts.Logger
	log.Info().Str("queue", w.opts.QueueURL).Msg("starting SQS worker")
	for ctx.Err() == nil {
		out, err := w.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(w.opts.QueueURL),
			MaxNumberOfMessages: int32(w.opts.Concurrency),
			WaitTimeSeconds:     int32(w.opts.WaitTime / time.Second),
		})
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Error().Err(err).Dur("backoff", w.opts.Backoff).Msg("SQS receive failed")
			select {
			case <-ctx.Done():
			case <-time.After(w.opts.Backoff):
			}
			continue
		}
		if len(out.Messages) == 0 {
			continue
		}
		sum := w.handleAll(context.WithoutCancel(ctx), out.Messages)
		log.Info().
			Int("received", len(out.Messages)).
			Int("processed", sum.ProcessedCount).
			Int("failed", sum.FailedCount).
			Msg("poll handled")
	}
	log.Info().Msg("SQS worker stopped")
	return nil
}

func (w *Worker) handleAll(ctx context.Context, msgs []types.Message) Summary {
	results := make([]Summary, len(msgs))
	var g errgroup.Group
	for i, m := range msgs {
		g.Go(func() error {
			results[i] = w.Handle(ctx, m)
			return nil
		})
	}
	g.Wait()

	var total Summary
	for _, r := range results {
		total.ProcessedCount += r.ProcessedCount
		total.FailedCount += r.FailedCount
		total.Processed = append(total.Processed, r.Processed...)
		total.Failed = append(total.Failed, r.Failed...)
	}
	return total
}

// Handle processes one message and deletes it on success. Failed messages
// stay on the queue for redelivery.
func (w *Worker) Handle(ctx context.Context, m types.Message) Summary {
	msgID := aws.ToString(m.MessageId)
	log := w.opts.Logger.With().Str("message_id", msgID).Logger()
	var s Summary

	id, err := ParseMessage(aws.ToString(m.Body))
	if err != nil {
		log.Error().Err(err).Msg("unusable message")
		s.Failed = append(s.Failed, Failed{MessageID: msgID, Error: err.Error()})
		s.FailedCount++
		return s
	}

	log.Info().Int64("attachment_id", id).Msg("received message")
	res, err := w.proc.ProcessAttachment(ctx, id)
	s.add(id, res, err)
	if s.FailedCount > 0 {
		s.Failed[0].MessageID = msgID
		log.Warn().Int64("attachment_id", id).Msg("failed to process message, leaving it for redelivery")
		return s
	}

	if _, err := w.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(w.opts.QueueURL),
		ReceiptHandle: m.ReceiptHandle,
	}); err != nil {
		log.Error().Err(err).Msg("failed to delete message")
		return s
	}
	log.Info().Int64("attachment_id", id).Msg("processed and deleted message")
	return s
}

// ParseMessage reads the attachment id from a body like {"attachment_id": 6}.
// The id may also be sent as a numeric string.
func ParseMessage(body string) (int64, error) {
	var msg struct {
		AttachmentID json.RawMessage `json:"attachment_id"`
	}
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return 0, fmt.Errorf("decode message body: %v: %w", err, errdefs.ErrValidation)
	}
	raw := strings.Trim(strings.TrimSpace(string(msg.AttachmentID)), `"`)
	if raw == "" || raw == "null" {
		return 0, fmt.Errorf("no attachment_id in message body: %w", errdefs.ErrValidation)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid attachment_id %s: %w", raw, errdefs.ErrValidation)
	}
	return id, nil
}

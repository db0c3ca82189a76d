// Package dispatch drains the outbox: each run claims a batch of messages
// for one channel, delivers them and records a terminal status per message.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/josuerivera300891-prog/GymTime-sub001/internal/cache"
	"github.com/josuerivera300891-prog/GymTime-sub001/internal/logger"
	"github.com/josuerivera300891-prog/GymTime-sub001/internal/metrics"
	"github.com/josuerivera300891-prog/GymTime-sub001/internal/model"
	"github.com/josuerivera300891-prog/GymTime-sub001/internal/repo"
)

const (
	DefaultLease = 5 * time.Minute

	ledgerRecoveredNote = "recovered from delivery ledger"

	// statusWriteTimeout bounds status writes made after the run context
	// is done.
	statusWriteTimeout = 5 * time.Second
)

var tracer = otel.Tracer("github.com/josuerivera300891-prog/GymTime-sub001/internal/dispatch")

type Options struct {
	BatchSize int
	Lease     time.Duration
	WorkerID  string
	Ledger    cache.DeliveryLedger
	Now       func() time.Time
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = repo.DefaultBatchSize
	}
	if o.Lease <= 0 {
		o.Lease = DefaultLease
	}
	if o.WorkerID == "" {
		o.WorkerID = uuid.NewString()
	}
	if o.Ledger == nil {
		o.Ledger = cache.NopLedger{}
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

type Result struct {
	ID     string       `json:"id"`
	Status model.Status `json:"status"`
	Error  string       `json:"error,omitempty"`
}

type RunSummary struct {
	Channel   model.Channel `json:"channel"`
	Processed int           `json:"processed"`
	Sent      int           `json:"sent"`
	Failed    int           `json:"failed"`
	Released  int           `json:"released"`
	Results   []Result      `json:"results"`
}

// outcome is what processing decided for one message.
type outcome struct {
	status model.Status
	// detail is the failure reason for failed and released messages and
	// the optional note for sent ones.
	detail string
	// delivered is set when a provider accepted the message during this run.
	delivered bool
	remoteID  string
	// sentAt overrides the run clock for messages recovered from the ledger.
	sentAt time.Time
}

func sent(note string) outcome { return outcome{status: model.Sent, detail: note, delivered: true} }

func failed(format string, args ...any) outcome {
	return outcome{status: model.Failed, detail: fmt.Sprintf(format, args...)}
}

// released hands the message back to the outbox for a later run.
func released(format string, args ...any) outcome {
	return outcome{status: model.Pending, detail: fmt.Sprintf(format, args...)}
}

// runner holds what both channel workers share: the claim loop, the ledger
// check and the status bookkeeping.
type runner struct {
	channel model.Channel
	store   repo.OutboxStore
	opts    Options
}

func (r *runner) Channel() model.Channel { return r.channel }

func (r *runner) run(ctx context.Context, process func(context.Context, model.OutboxMessage) outcome) (RunSummary, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "dispatch.run", trace.WithAttributes(
		attribute.String("channel", string(r.channel)),
		attribute.String("worker_id", r.opts.WorkerID),
	))
	defer span.End()
	defer func() {
		metrics.RunDuration.WithLabelValues(string(r.channel)).Observe(time.Since(start).Seconds())
	}()

	log := logger.From(ctx).With("channel", string(r.channel), "worker_id", r.opts.WorkerID)

	msgs, err := r.store.ClaimBatch(ctx, r.channel, r.opts.BatchSize, r.opts.WorkerID, r.opts.Lease)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim batch")
		return RunSummary{}, fmt.Errorf("claim %s batch: %w", r.channel, err)
	}
	span.SetAttributes(attribute.Int("claimed", len(msgs)))

	summary := RunSummary{Channel: r.channel, Results: make([]Result, 0, len(msgs))}
	for i, msg := range msgs {
		if ctx.Err() != nil {
			r.releaseRemaining(ctx, msgs[i:], &summary)
			log.Warn("dispatch run interrupted, released remaining messages",
				"released", len(msgs)-i, "error", ctx.Err())
			break
		}

		o := r.processOne(ctx, msg, process)
		r.record(ctx, msg, o, &summary)
	}

	log.Info("dispatch run completed",
		"processed", summary.Processed,
		"sent", summary.Sent,
		"failed", summary.Failed,
		"released", summary.Released,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return summary, nil
}

func (r *runner) processOne(ctx context.Context, msg model.OutboxMessage, process func(context.Context, model.OutboxMessage) outcome) outcome {
	ctx, span := tracer.Start(ctx, "dispatch.message", trace.WithAttributes(
		attribute.String("message_id", msg.ID),
		attribute.String("tenant_id", msg.TenantID),
	))
	defer span.End()

	// A reclaimed row may already have been delivered by a run that died
	// before writing its status.
	if sentAt, found, err := r.opts.Ledger.LookupSent(ctx, msg.ID); err != nil {
		logger.From(ctx).Warn("delivery ledger lookup failed", "message_id", msg.ID, "error", err)
	} else if found {
		metrics.LedgerRecoveriesTotal.WithLabelValues(string(r.channel)).Inc()
		return outcome{status: model.Sent, detail: ledgerRecoveredNote, sentAt: sentAt}
	}

	o := process(ctx, msg)
	span.SetAttributes(attribute.String("status", string(o.status)))
	if o.status == model.Failed {
		span.SetStatus(codes.Error, o.detail)
	}
	return o
}

func (r *runner) record(ctx context.Context, msg model.OutboxMessage, o outcome, summary *RunSummary) {
	log := logger.From(ctx).With("channel", string(r.channel), "message_id", msg.ID, "tenant_id", msg.TenantID)

	// Status writes must land even when the run deadline has passed,
	// otherwise a delivered message is sent again after its lease expires.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()

	now := r.opts.Now()
	var err error
	switch o.status {
	case model.Sent:
		if o.delivered {
			if lerr := r.opts.Ledger.StoreSent(wctx, msg.ID, o.remoteID, now); lerr != nil {
				log.Warn("delivery ledger write failed", "error", lerr)
			}
		}
		at := now
		if !o.sentAt.IsZero() {
			at = o.sentAt
		}
		err = r.store.MarkSent(wctx, msg.ID, at, o.detail)
	case model.Failed:
		err = r.store.MarkFailed(wctx, msg.ID, o.detail)
	default:
		err = r.store.Release(wctx, []string{msg.ID})
	}

	if err != nil {
		// The row keeps its claim until the lease expires; the ledger stops a
		// delivered message from being sent again.
		log.Error("outbox status write failed", "status", string(o.status), "error", err)
		detail := fmt.Sprintf("status write failed: %v", err)
		if o.detail != "" {
			detail = fmt.Sprintf("%s (%s)", detail, o.detail)
		}
		metrics.MessagesTotal.WithLabelValues(string(r.channel), string(model.Claimed)).Inc()
		summary.Results = append(summary.Results, Result{ID: msg.ID, Status: model.Claimed, Error: detail})
		return
	}

	switch o.status {
	case model.Sent:
		summary.Sent++
		summary.Processed++
	case model.Failed:
		summary.Failed++
		summary.Processed++
		log.Warn("outbox message failed", "error", o.detail)
	default:
		summary.Released++
	}
	metrics.MessagesTotal.WithLabelValues(string(r.channel), string(o.status)).Inc()
	summary.Results = append(summary.Results, Result{ID: msg.ID, Status: o.status, Error: o.detail})
}

func (r *runner) releaseRemaining(ctx context.Context, msgs []model.OutboxMessage, summary *RunSummary) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()

	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	if err := r.store.Release(wctx, ids); err != nil {
		logger.From(ctx).Error("release of unprocessed messages failed", "count", len(ids), "error", err)
	}

	reason := fmt.Sprintf("released: %v", ctx.Err())
	for _, id := range ids {
		summary.Released++
		summary.Results = append(summary.Results, Result{ID: id, Status: model.Pending, Error: reason})
		metrics.MessagesTotal.WithLabelValues(string(r.channel), string(model.Pending)).Inc()
	}
}

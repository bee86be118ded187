// Package pipeline runs the per-event processing sequence: acquire a tenant
// token, resolve the message content to text, classify it, create a calendar
// event for tasks, and reply to the user. One webhook delivery maps to one
// run; runs share no mutable state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/YaHan2020/voice-flow/internal/classify"
	"github.com/YaHan2020/voice-flow/internal/lark"
	"github.com/YaHan2020/voice-flow/internal/providers"
	"github.com/YaHan2020/voice-flow/internal/store"
)

// LarkAPI is the slice of the Lark client the pipeline depends on.
type LarkAPI interface {
	AcquireToken(ctx context.Context) (string, error)
	DownloadMessageResource(ctx context.Context, token, messageID, fileKey string) ([]byte, error)
	Reply(ctx context.Context, token, messageID, text string) error
	CreateCalendarEvent(ctx context.Context, token, summary string, start, end time.Time, timezone string, reminderMinutes int) error
}

// Decider is the classification capability the pipeline depends on.
type Decider interface {
	Classify(ctx context.Context, text string, nowUTC time.Time) (*classify.TaskDecision, error)
}

// OutcomeRecorder persists terminal run outcomes; nil disables recording.
type OutcomeRecorder interface {
	RecordOutcome(messageID, outcome string) error
}

// Options tunes a Pipeline.
type Options struct {
	// TimezoneName is passed to the calendar API alongside timestamps.
	TimezoneName string
	// CallTimeout bounds each external call within a run.
	CallTimeout time.Duration
	// ReminderMinutes is the calendar reminder lead time.
	ReminderMinutes int
	// Now is the clock; defaults to time.Now. Tests override it.
	Now func() time.Time
}

// Pipeline executes one run per inbound event.
type Pipeline struct {
	lark        LarkAPI
	transcriber providers.Transcriber
	decider     Decider
	ledger      OutcomeRecorder
	opts        Options
}

var tracer = otel.Tracer("voiceflow/pipeline")

// New creates a Pipeline. ledger may be nil.
func New(larkAPI LarkAPI, transcriber providers.Transcriber, decider Decider, ledger OutcomeRecorder, opts Options) *Pipeline {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	if opts.ReminderMinutes <= 0 {
		opts.ReminderMinutes = 15
	}
	if opts.TimezoneName == "" {
		opts.TimezoneName = "Asia/Shanghai"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		lark:        larkAPI,
		transcriber: transcriber,
		decider:     decider,
		ledger:      ledger,
		opts:        opts,
	}
}

// Run processes one event to completion. It never returns an error and never
// panics out: every failure is terminal for this run only, reported to the
// user as a single diagnostic reply and logged.
func (p *Pipeline) Run(ctx context.Context, ev *lark.InboundEvent) {
	runID := uuid.NewString()
	log := slog.With("run_id", runID, "message_id", ev.MessageID, "modality", ev.Modality.String())

	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("message.modality", ev.Modality.String()),
	))
	defer span.End()

	log.Info("pipeline run started")

	// Token first: without it no reply can be delivered, so a failure here
	// can only be logged.
	token, err := withTimeout(ctx, p.opts.CallTimeout, "lark.acquire_token", p.lark.AcquireToken)
	if err != nil {
		log.Error("token acquisition failed, run abandoned", "error", err)
		p.recordOutcome(ev.MessageID, store.OutcomeFailed)
		span.SetAttributes(attribute.String("run.outcome", store.OutcomeFailed))
		return
	}

	outcome := p.process(ctx, log, token, ev)
	p.recordOutcome(ev.MessageID, outcome)
	span.SetAttributes(attribute.String("run.outcome", outcome))
	log.Info("pipeline run finished", "outcome", outcome)
}

// process runs resolve → classify → act and returns the ledger outcome.
func (p *Pipeline) process(ctx context.Context, log *slog.Logger, token string, ev *lark.InboundEvent) string {
	// Transcription takes seconds; let the user know the bot is alive
	// before starting the slow path.
	if ev.Modality == lark.ModalityAudio {
		p.notify(ctx, log, token, ev.MessageID, "Got your voice message, listening...")
	}

	text, err := p.resolveContent(ctx, token, ev)
	if err != nil {
		return p.failRun(ctx, log, token, ev.MessageID, err)
	}

	decision, err := p.classifyText(ctx, text)
	if err != nil {
		return p.failRun(ctx, log, token, ev.MessageID, err)
	}

	if !decision.IsTask() {
		p.notify(ctx, log, token, ev.MessageID, decision.Reply)
		return store.OutcomeReplied
	}

	task := decision.Task
	err = p.scheduleTask(ctx, token, task)
	if err != nil {
		return p.failRun(ctx, log, token, ev.MessageID, failf(FailureScheduling, err))
	}

	p.notify(ctx, log, token, ev.MessageID, fmt.Sprintf(
		"Scheduled: %s\n%s – %s (%s)\nPriority: %s",
		task.Summary,
		task.Start.Format("2006-01-02 15:04"),
		task.End.Format("15:04"),
		p.opts.TimezoneName,
		task.Quadrant,
	))
	return store.OutcomeScheduled
}

func (p *Pipeline) classifyText(ctx context.Context, text string) (*classify.TaskDecision, error) {
	decision, err := withTimeout(ctx, p.opts.CallTimeout, "classify", func(ctx context.Context) (*classify.TaskDecision, error) {
		return p.decider.Classify(ctx, text, p.opts.Now().UTC())
	})
	if err != nil {
		var malformed *classify.ErrMalformedOutput
		if errors.As(err, &malformed) {
			return nil, failf(FailureMalformedModelOutput, err)
		}
		return nil, failf(FailureClassification, err)
	}
	return decision, nil
}

func (p *Pipeline) scheduleTask(ctx context.Context, token string, task *classify.ScheduledTask) error {
	_, err := withTimeout(ctx, p.opts.CallTimeout, "lark.create_calendar_event", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.lark.CreateCalendarEvent(ctx, token, task.Summary, task.Start, task.End, p.opts.TimezoneName, p.opts.ReminderMinutes)
	})
	return err
}

// failRun converts a terminal failure into one diagnostic reply and the
// matching ledger outcome.
func (p *Pipeline) failRun(ctx context.Context, log *slog.Logger, token, messageID string, err error) string {
	f, ok := AsFailure(err)
	if !ok {
		f = failf(FailureClassification, err)
	}

	log.Warn("pipeline run failed", "kind", f.Kind.String(), "error", err)
	p.notify(ctx, log, token, messageID, userMessage(f))

	if f.Kind == FailureUnsupportedModality {
		return store.OutcomeUnsupported
	}
	return store.OutcomeFailed
}

// notify sends a reply best-effort. Delivery failures are logged and
// swallowed: a reply about a failed reply would loop forever.
func (p *Pipeline) notify(ctx context.Context, log *slog.Logger, token, messageID, text string) {
	_, err := withTimeout(ctx, p.opts.CallTimeout, "lark.reply", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.lark.Reply(ctx, token, messageID, text)
	})
	if err != nil {
		log.Warn("reply delivery failed", "error", err)
	}
}

func (p *Pipeline) recordOutcome(messageID, outcome string) {
	if p.ledger == nil {
		return
	}
	if err := p.ledger.RecordOutcome(messageID, outcome); err != nil {
		slog.Warn("ledger outcome write failed", "message_id", messageID, "error", err)
	}
}

// withTimeout bounds a single external call within the run and records it
// as a child span.
func withTimeout[T any](ctx context.Context, timeout time.Duration, spanName string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := fn(callCtx)
	if err != nil {
		span.SetAttributes(attribute.String("error.message", err.Error()))
	}
	return v, err
}

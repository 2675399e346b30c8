package turn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-medic/internal/epoch"
	"github.com/loqalabs/loqa-medic/internal/llm"
	"github.com/loqalabs/loqa-medic/internal/protocol"
	"github.com/loqalabs/loqa-medic/internal/queue"
	"github.com/loqalabs/loqa-medic/internal/tts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-medic/internal/turn"

// DefaultPacing is the pause between revealed sentences.
const DefaultPacing = 300 * time.Millisecond

// Turn is one user utterance bound to the epoch it was started under.
type Turn struct {
	Epoch   uint64
	Text    string
	Source  protocol.Source
	TraceID string
}

// Outcome describes how a generation ended.
type Outcome string

const (
	OutcomeStale      Outcome = "stale"
	OutcomeSuperseded Outcome = "superseded"
	OutcomeCompleted  Outcome = "completed"
	OutcomeAborted    Outcome = "aborted"
	OutcomeFailed     Outcome = "failed"
)

type GeneratorOptions struct {
	SystemPrompt string
	Pacing       time.Duration
	MaxTokens    int
	Temperature  float64
}

// Generator turns one completion into paced response_stream events and
// synthesis items, stopping as soon as its epoch is superseded.
type Generator struct {
	completer llm.Completer
	queue     *queue.Queue[tts.Item]
	epochs    epoch.Register
	emit      protocol.Emitter
	journal   Journal
	opts      GeneratorOptions

	tracer     trace.Tracer
	sentences  metric.Int64Counter
	completed  metric.Int64Counter
	superseded metric.Int64Counter
	logger     *slog.Logger
}

func NewGenerator(completer llm.Completer, q *queue.Queue[tts.Item], epochs epoch.Register, emit protocol.Emitter, journal Journal, opts GeneratorOptions, log *slog.Logger) *Generator {
	if opts.Pacing < 0 {
		opts.Pacing = 0
	}
	if journal == nil {
		journal = NopJournal{}
	}
	g := &Generator{
		completer: completer,
		queue:     q,
		epochs:    epochs,
		emit:      emit,
		journal:   journal,
		opts:      opts,
		tracer:    otel.Tracer(instrumentationName),
		logger:    log.With(slog.String("component", "generator")),
	}
	meter := otel.Meter(instrumentationName)
	g.sentences = counter(meter, g.logger, "medic.sentences.emitted", "Sentences revealed and queued for synthesis")
	g.completed = counter(meter, g.logger, "medic.turns.completed", "Turns that reached their final response")
	g.superseded = counter(meter, g.logger, "medic.turns.superseded", "Turns abandoned because a newer turn started")
	return g
}

// Generate runs turn to completion or until it goes stale. ctx only bounds
// process lifetime; supersession is detected through the epoch register.
func (g *Generator) Generate(ctx context.Context, t Turn) (outcome Outcome) {
	if !g.epochs.IsCurrent(t.Epoch) {
		return OutcomeStale
	}

	ctx, span := g.tracer.Start(ctx, "turn.generate", trace.WithAttributes(
		attribute.Int64("medic.epoch", int64(t.Epoch)),
		attribute.String("medic.source", string(t.Source)),
		attribute.String("medic.turn_id", t.TraceID),
	))
	started := time.Now()
	sentences := 0

	g.emit.Emit(protocol.Thinking(true))
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("response generation panicked", slog.Uint64("epoch", t.Epoch), slog.Any("panic", r))
			g.emit.Emit(protocol.Error(fmt.Sprintf("Error generating response: %v", r)))
			span.SetStatus(codes.Error, fmt.Sprint(r))
			outcome = OutcomeFailed
		}
		if g.epochs.IsCurrent(t.Epoch) {
			g.emit.Emit(protocol.Thinking(false))
		}
		g.finish(ctx, t, outcome, sentences, time.Since(started))
		span.SetAttributes(attribute.Int("medic.sentences", sentences), attribute.String("medic.outcome", string(outcome)))
		span.End()
	}()

	body := g.complete(ctx, t, span)

	var buf strings.Builder
	for sentence := range Sentences(body) {
		if !g.epochs.IsCurrent(t.Epoch) {
			return OutcomeSuperseded
		}
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(sentence)
		g.emit.Emit(protocol.Response(buf.String(), false))
		if err := g.queue.Push(tts.Item{Epoch: t.Epoch, Text: sentence}); err != nil {
			g.logger.Warn("failed to queue sentence", slog.Uint64("epoch", t.Epoch), slogError(err))
			return OutcomeAborted
		}
		sentences++
		if g.sentences != nil {
			g.sentences.Add(ctx, 1)
		}
		if !g.pause(ctx) {
			return OutcomeAborted
		}
	}

	if !g.epochs.IsCurrent(t.Epoch) {
		return OutcomeSuperseded
	}
	g.emit.Emit(protocol.Response(buf.String(), true))
	return OutcomeCompleted
}

// complete returns the response body. A failed completion becomes the body.
func (g *Generator) complete(ctx context.Context, t Turn, span trace.Span) string {
	req := llm.Request{
		System:      g.opts.SystemPrompt,
		Prompt:      t.Text,
		MaxTokens:   g.opts.MaxTokens,
		Temperature: g.opts.Temperature,
		TraceID:     t.TraceID,
	}
	body, err := g.completer.Complete(ctx, req)
	if err != nil {
		g.logger.Warn("completion failed", slog.Uint64("epoch", t.Epoch), slogError(err))
		span.RecordError(err)
		return "Error: Unable to fetch response. " + err.Error()
	}
	return body
}

func (g *Generator) pause(ctx context.Context) bool {
	if g.opts.Pacing <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(g.opts.Pacing)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (g *Generator) finish(ctx context.Context, t Turn, outcome Outcome, sentences int, elapsed time.Duration) {
	var kind string
	switch outcome {
	case OutcomeCompleted:
		kind = KindCompleted
		if g.completed != nil {
			g.completed.Add(ctx, 1)
		}
	case OutcomeSuperseded:
		kind = KindSuperseded
		if g.superseded != nil {
			g.superseded.Add(ctx, 1)
		}
	default:
		g.logger.Debug("turn ended", slog.Uint64("epoch", t.Epoch), slog.String("outcome", string(outcome)))
		return
	}
	g.logger.Info("turn ended",
		slog.Uint64("epoch", t.Epoch),
		slog.String("outcome", string(outcome)),
		slog.Int("sentences", sentences),
		slog.Duration("elapsed", elapsed),
	)
	detail := map[string]any{
		"source":      string(t.Source),
		"sentences":   sentences,
		"duration_ms": elapsed.Milliseconds(),
	}
	if err := g.journal.Record(context.WithoutCancel(ctx), t.Epoch, t.TraceID, kind, detail); err != nil {
		g.logger.Warn("failed to journal turn", slog.String("kind", kind), slogError(err))
	}
}

func counter(meter metric.Meter, log *slog.Logger, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		log.Warn("failed to create metric", slog.String("metric", name), slogError(err))
		return nil
	}
	return c
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

package tts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/loqalabs/loqa-medic/internal/epoch"
	"github.com/loqalabs/loqa-medic/internal/protocol"
	"github.com/loqalabs/loqa-medic/internal/queue"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-medic/internal/tts"

// DefaultMinChars is the shortest trimmed sentence worth voicing.
const DefaultMinChars = 2

type WorkerOptions struct {
	Language string
	Voice    string
	MinChars int
	Timeout  time.Duration
}

// Worker is the single consumer of the synthesis queue. It voices items in
// queue order and drops any item whose epoch is no longer current.
type Worker struct {
	queue  *queue.Queue[Item]
	epochs epoch.Register
	synth  Synthesizer
	emit   protocol.Emitter
	opts   WorkerOptions

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	tracer    trace.Tracer
	discarded metric.Int64Counter
	completed metric.Int64Counter
	failed    metric.Int64Counter
	logger    *slog.Logger
}

func NewWorker(parent context.Context, q *queue.Queue[Item], epochs epoch.Register, synth Synthesizer, emit protocol.Emitter, opts WorkerOptions, log *slog.Logger) *Worker {
	if opts.MinChars <= 0 {
		opts.MinChars = DefaultMinChars
	}
	ctx, cancel := context.WithCancel(parent)
	w := &Worker{
		queue:  q,
		epochs: epochs,
		synth:  synth,
		emit:   emit,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		tracer: otel.Tracer(instrumentationName),
		logger: log.With(slog.String("component", "tts-worker")),
	}
	w.initMetrics()
	return w
}

func (w *Worker) initMetrics() {
	meter := otel.Meter(instrumentationName)
	var err error
	if w.discarded, err = meter.Int64Counter("medic.synthesis.discarded",
		metric.WithDescription("Queued sentences dropped as stale or too short")); err != nil {
		w.logger.Warn("failed to create metric", slog.String("metric", "medic.synthesis.discarded"), slogError(err))
	}
	if w.completed, err = meter.Int64Counter("medic.synthesis.completed",
		metric.WithDescription("Sentences voiced and delivered")); err != nil {
		w.logger.Warn("failed to create metric", slog.String("metric", "medic.synthesis.completed"), slogError(err))
	}
	if w.failed, err = meter.Int64Counter("medic.synthesis.failed",
		metric.WithDescription("Synthesis attempts that returned an error")); err != nil {
		w.logger.Warn("failed to create metric", slog.String("metric", "medic.synthesis.failed"), slogError(err))
	}
}

// Start launches the consumer goroutine.
func (w *Worker) Start() {
	if !w.running.CompareAndSwap(false, true) {
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.running.Store(false)
		w.run()
	}()
}

// Close stops the consumer and waits for the item in flight, if any.
func (w *Worker) Close() {
	w.cancel()
	w.wg.Wait()
}

func (w *Worker) Healthy() bool { return w.running.Load() }

func (w *Worker) run() {
	for {
		item, err := w.queue.Pop(w.ctx)
		if err != nil {
			if !errors.Is(err, queue.ErrClosed) && w.ctx.Err() == nil {
				w.logger.Warn("synthesis queue pop failed", slogError(err))
			}
			return
		}
		w.process(item)
	}
}

func (w *Worker) process(item Item) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("synthesis panicked", slog.Uint64("epoch", item.Epoch), slog.Any("panic", r))
			w.count(w.failed, "panic")
			w.emit.Emit(protocol.Error(fmt.Sprintf("Error generating speech: %v", r)))
		}
	}()

	if !w.epochs.IsCurrent(item.Epoch) {
		w.count(w.discarded, "stale")
		w.logger.Debug("discarding stale sentence", slog.Uint64("epoch", item.Epoch), slog.Uint64("current", w.epochs.Current()))
		return
	}
	text := strings.TrimSpace(item.Text)
	if utf8.RuneCountInString(text) < w.opts.MinChars {
		w.count(w.discarded, "short")
		return
	}

	ctx, span := w.tracer.Start(w.ctx, "tts.synthesize", trace.WithAttributes(
		attribute.Int64("medic.epoch", int64(item.Epoch)),
		attribute.Int("medic.chars", len(text)),
	))
	defer span.End()
	if w.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.opts.Timeout)
		defer cancel()
	}

	started := time.Now()
	clip, err := w.synth.Synthesize(ctx, Request{Text: text, Language: w.opts.Language, Voice: w.opts.Voice})
	if err != nil {
		if w.ctx.Err() != nil {
			return
		}
		if errors.Is(err, ErrDisabled) {
			w.count(w.discarded, "disabled")
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.count(w.failed, "error")
		w.logger.Warn("synthesis failed", slog.Uint64("epoch", item.Epoch), slogError(err))
		w.emit.Emit(protocol.Error("Error generating speech: " + err.Error()))
		return
	}

	w.emit.Emit(protocol.Audio(base64.StdEncoding.EncodeToString(clip)))
	w.count(w.completed, "")
	w.logger.Debug("sentence voiced",
		slog.Uint64("epoch", item.Epoch),
		slog.Int("bytes", len(clip)),
		slog.Duration("elapsed", time.Since(started)),
	)
}

func (w *Worker) count(c metric.Int64Counter, reason string) {
	if c == nil {
		return
	}
	if reason == "" {
		c.Add(w.ctx, 1)
		return
	}
	c.Add(w.ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

package turn

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-medic/internal/epoch"
	"github.com/loqalabs/loqa-medic/internal/protocol"
	"github.com/loqalabs/loqa-medic/internal/queue"
	"github.com/loqalabs/loqa-medic/internal/tts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Journal kinds for turn lifecycle transitions.
const (
	KindStarted    = "turn.started"
	KindSuperseded = "turn.superseded"
	KindCompleted  = "turn.completed"
)

// Journal records turn lifecycle transitions. Detail never carries user or
// response text.
type Journal interface {
	Record(ctx context.Context, epoch uint64, traceID, kind string, detail map[string]any) error
}

// NopJournal discards every record.
type NopJournal struct{}

func (NopJournal) Record(context.Context, uint64, string, string, map[string]any) error { return nil }

// Controller starts a new turn for every accepted input and supersedes the
// previous one.
type Controller struct {
	epochs  epoch.Register
	queue   *queue.Queue[tts.Item]
	emit    protocol.Emitter
	gen     *Generator
	journal Journal

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	started metric.Int64Counter
	logger  *slog.Logger
}

func NewController(parent context.Context, epochs epoch.Register, q *queue.Queue[tts.Item], emit protocol.Emitter, gen *Generator, journal Journal, log *slog.Logger) *Controller {
	if journal == nil {
		journal = NopJournal{}
	}
	ctx, cancel := context.WithCancel(parent)
	c := &Controller{
		epochs:  epochs,
		queue:   q,
		emit:    emit,
		gen:     gen,
		journal: journal,
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.With(slog.String("component", "turn-controller")),
	}
	c.started = counter(otel.Meter(instrumentationName), c.logger, "medic.turns.started", "Turns started by user input")
	return c
}

// Submit starts a turn for text. Blank input is ignored and reports false.
// The turn runs in its own goroutine and outlives ctx.
func (c *Controller) Submit(ctx context.Context, source protocol.Source, text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	// Advance, Clear and stop_audio run as one step per turn.
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.wg.Add(1)
	e := c.epochs.Advance()
	cleared := c.queue.Clear()
	c.emit.Emit(protocol.Stop())
	c.mu.Unlock()

	t := Turn{Epoch: e, Text: text, Source: source, TraceID: uuid.NewString()}
	c.logger.Info("turn started",
		slog.Uint64("epoch", e),
		slog.String("source", string(source)),
		slog.String("turn_id", t.TraceID),
		slog.Int("cleared", cleared),
	)
	if c.started != nil {
		c.started.Add(ctx, 1, metric.WithAttributes(attribute.String("source", string(source))))
	}
	detail := map[string]any{"source": string(source), "cleared": cleared}
	if err := c.journal.Record(context.WithoutCancel(ctx), e, t.TraceID, KindStarted, detail); err != nil {
		c.logger.Warn("failed to journal turn", slog.String("kind", KindStarted), slogError(err))
	}

	go func() {
		defer c.wg.Done()
		c.gen.Generate(c.ctx, t)
	}()
	return true
}

// Wait blocks until every started turn has returned.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close stops accepting input, cancels running turns and waits for them.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}

package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-medic/internal/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	MsgNoSpeech      = "Sorry, I couldn't understand. Please try again."
	msgServicePrefix = "Error in speech recognition service: "
	msgOtherPrefix   = "An error occurred during speech recognition: "
)

// Outcome classifies how a capture ended.
type Outcome string

const (
	OutcomeRecognized   Outcome = "recognized"
	OutcomeNoSpeech     Outcome = "no_speech"
	OutcomeServiceError Outcome = "service_error"
	OutcomeOtherError   Outcome = "other_error"
)

// Submitter accepts recognized text as a new turn.
type Submitter interface {
	Submit(ctx context.Context, source protocol.Source, text string) bool
}

type CoordinatorOptions struct {
	Calibration   time.Duration
	ListenTimeout time.Duration
	PhraseLimit   time.Duration
}

// Coordinator runs one voice capture per request and reports its progress
// as client events. Captures are not serialised against each other.
type Coordinator struct {
	capturer Capturer
	emit     protocol.Emitter
	submit   Submitter
	opts     CoordinatorOptions

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	captures metric.Int64Counter
	logger   *slog.Logger
}

func NewCoordinator(parent context.Context, capturer Capturer, emit protocol.Emitter, submit Submitter, opts CoordinatorOptions, log *slog.Logger) *Coordinator {
	if opts.Calibration <= 0 {
		opts.Calibration = time.Second
	}
	if opts.ListenTimeout <= 0 {
		opts.ListenTimeout = 5 * time.Second
	}
	if opts.PhraseLimit <= 0 {
		opts.PhraseLimit = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(parent)
	c := &Coordinator{
		capturer: capturer,
		emit:     emit,
		submit:   submit,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.With(slog.String("component", "voice-capture")),
	}
	captures, err := otel.Meter("github.com/loqalabs/loqa-medic/internal/stt").Int64Counter("medic.captures",
		metric.WithDescription("Voice captures by outcome"))
	if err != nil {
		c.logger.Warn("failed to create metric", slog.String("metric", "medic.captures"), slogError(err))
	}
	c.captures = captures
	return c
}

// Start begins a capture in the background.
func (c *Coordinator) Start() {
	if c.ctx.Err() != nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.Capture(c.ctx)
	}()
}

// Close cancels running captures and waits for them.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()
}

// Capture runs one capture to completion and reports its outcome.
// listening_status{false} is emitted exactly once.
func (c *Coordinator) Capture(ctx context.Context) Outcome {
	c.emit.Emit(protocol.Listening(true))

	text, err := c.listen(ctx)
	c.emit.Emit(protocol.Listening(false))

	outcome := classify(err)
	switch outcome {
	case OutcomeRecognized:
		c.emit.Emit(protocol.Recognized(text))
		c.logger.Info("speech recognized", slog.Int("chars", len(text)))
		if c.submit != nil {
			c.submit.Submit(ctx, protocol.SourceVoice, text)
		}
	case OutcomeNoSpeech:
		c.logger.Info("no speech recognized")
		c.emit.Emit(protocol.Error(MsgNoSpeech))
	case OutcomeServiceError:
		c.logger.Warn("speech recognition service failed", slogError(err))
		c.emit.Emit(protocol.Error(msgServicePrefix + err.Error()))
	default:
		c.logger.Warn("speech capture failed", slogError(err))
		c.emit.Emit(protocol.Error(msgOtherPrefix + err.Error()))
	}
	if c.captures != nil {
		c.captures.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
	}
	return outcome
}

func (c *Coordinator) listen(ctx context.Context) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if err := c.capturer.Calibrate(ctx, c.opts.Calibration); err != nil {
		return "", fmt.Errorf("calibrate: %w", err)
	}
	clip, err := c.capturer.Listen(ctx, c.opts.ListenTimeout, c.opts.PhraseLimit)
	if err != nil {
		return "", err
	}
	text, err = c.capturer.Transcribe(ctx, clip)
	if err == nil && strings.TrimSpace(text) == "" {
		err = ErrNoSpeech
	}
	return strings.TrimSpace(text), err
}

func classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeRecognized
	case errors.Is(err, ErrNoSpeech):
		return OutcomeNoSpeech
	case errors.Is(err, ErrUnavailable):
		return OutcomeServiceError
	default:
		return OutcomeOtherError
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-medic/internal/bus"
	"github.com/loqalabs/loqa-medic/internal/config"
	"github.com/loqalabs/loqa-medic/internal/epoch"
	"github.com/loqalabs/loqa-medic/internal/eventstore"
	"github.com/loqalabs/loqa-medic/internal/gateway"
	"github.com/loqalabs/loqa-medic/internal/llm"
	"github.com/loqalabs/loqa-medic/internal/natsserver"
	"github.com/loqalabs/loqa-medic/internal/protocol"
	"github.com/loqalabs/loqa-medic/internal/queue"
	"github.com/loqalabs/loqa-medic/internal/stt"
	"github.com/loqalabs/loqa-medic/internal/tts"
	"github.com/loqalabs/loqa-medic/internal/turn"
)

const shutdownTimeout = 10 * time.Second

type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	instanceID string

	httpServer    *http.Server
	metricsServer *http.Server
	addr          atomic.Value
	ready         atomic.Bool
	wg            sync.WaitGroup

	closers []closer

	epochs    *epoch.Counter
	queue     *queue.Queue[tts.Item]
	worker    *tts.Worker
	capturer  stt.Capturer
	store     *eventstore.Store
	busClient *bus.Client
	bridge    *bus.Bridge
	hub       *gateway.Hub
}

type closer struct {
	name string
	fn   func(context.Context) error
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		instanceID: uuid.NewString(),
	}
}

// Addr is the bound HTTP address once the server is listening.
func (r *Runtime) Addr() string {
	addr, _ := r.addr.Load().(string)
	return addr
}

// onShutdown registers fn to run when the runtime stops. Closers run in
// reverse registration order.
func (r *Runtime) onShutdown(name string, fn func(context.Context) error) {
	r.closers = append(r.closers, closer{name: name, fn: fn})
}

func (r *Runtime) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for i := len(r.closers) - 1; i >= 0; i-- {
		c := r.closers[i]
		if err := c.fn(ctx); err != nil {
			r.logger.Error("shutdown step failed", slog.String("step", c.name), slogError(err))
		}
	}
	r.closers = nil
	r.wg.Wait()
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer r.shutdown()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.onShutdown("telemetry", shutdownTelemetry)

	if err := r.startBus(ctx); err != nil {
		return err
	}

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	r.store = store
	r.onShutdown("event-store", func(context.Context) error { return store.Close() })
	if err := store.AppendSession(ctx, r.instanceID, r.cfg.RuntimeName, r.cfg.Environment); err != nil {
		r.logger.Warn("failed to record session", slogError(err))
	}

	completer, synth, capturer, err := r.backends(ctx)
	if err != nil {
		return err
	}
	r.capturer = capturer

	if err := r.startPipeline(ctx, completer, synth); err != nil {
		return err
	}

	if err := r.startHTTP(metricsHandler); err != nil {
		return err
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", r.Addr()),
		slog.String("instance_id", r.instanceID),
		slog.String("gateway", r.cfg.Gateway.Path))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	return nil
}

func (r *Runtime) startBus(ctx context.Context) error {
	if !r.cfg.Bus.Enabled {
		return nil
	}
	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded NATS: %w", err)
	}
	r.onShutdown("nats-server", func(context.Context) error {
		embedded.Shutdown()
		return nil
	})

	client, err := bus.Connect(ctx, r.cfg.Bus, embedded.ClientURL(), r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	r.busClient = client
	r.onShutdown("bus", func(context.Context) error {
		client.Close()
		return nil
	})
	return nil
}

// backends builds the completion, synthesis and capture collaborators. A
// disabled collaborator is replaced by one that fails quietly.
func (r *Runtime) backends(ctx context.Context) (llm.Completer, tts.Synthesizer, stt.Capturer, error) {
	completer := llm.Disabled()
	if r.cfg.LLM.Enabled {
		c, err := llm.New(ctx, r.cfg.LLM)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to initialize completion backend: %w", err)
		}
		completer = c
	}

	synth := tts.Disabled()
	if r.cfg.TTS.Enabled {
		s, err := tts.New(r.cfg.TTS)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to initialize speech synthesis: %w", err)
		}
		synth = s
	}

	capturer := stt.Disabled()
	if r.cfg.STT.Enabled {
		c, err := stt.New(r.cfg.STT)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to initialize speech recognition: %w", err)
		}
		capturer = c
	}

	r.logger.Info("collaborators initialized",
		slog.String("llm", modeOf(r.cfg.LLM.Enabled, r.cfg.LLM.Mode)),
		slog.String("tts", modeOf(r.cfg.TTS.Enabled, r.cfg.TTS.Mode)),
		slog.String("stt", modeOf(r.cfg.STT.Enabled, r.cfg.STT.Mode)))
	return completer, synth, capturer, nil
}

func modeOf(enabled bool, mode string) string {
	if !enabled {
		return "disabled"
	}
	return mode
}

// startPipeline wires the turn controller, synthesis worker and voice
// coordinator to the client gateway and the bus mirror.
func (r *Runtime) startPipeline(ctx context.Context, completer llm.Completer, synth tts.Synthesizer) error {
	r.epochs = epoch.New()
	r.queue = queue.New[tts.Item]()
	if err := registerQueueDepth(r.queue); err != nil {
		r.logger.Warn("failed to register queue depth gauge", slogError(err))
	}

	inputs := &assistantInputs{}
	r.hub = gateway.NewHub(ctx, r.cfg.Gateway, inputs, r.logger)
	r.onShutdown("gateway", func(context.Context) error {
		r.hub.Close()
		return nil
	})

	emitters := []protocol.Emitter{r.hub}
	if r.busClient != nil {
		emitters = append(emitters, bus.NewPublisher(r.busClient, r.cfg.Bus.SubjectPrefix, r.logger))
	}
	emit := protocol.Fanout(emitters...)
	journal := r.store.Journal(r.instanceID)

	gen := turn.NewGenerator(completer, r.queue, r.epochs, emit, journal, turn.GeneratorOptions{
		SystemPrompt: r.cfg.Pipeline.SystemPrompt,
		Pacing:       time.Duration(r.cfg.Pipeline.PacingMS) * time.Millisecond,
		MaxTokens:    r.cfg.LLM.MaxTokens,
		Temperature:  r.cfg.LLM.Temperature,
	}, r.logger)
	controller := turn.NewController(ctx, r.epochs, r.queue, emit, gen, journal, r.logger)
	coordinator := stt.NewCoordinator(ctx, r.capturer, emit, controller, stt.CoordinatorOptions{
		Calibration:   time.Duration(r.cfg.STT.CalibrationMS) * time.Millisecond,
		ListenTimeout: time.Duration(r.cfg.STT.ListenTimeoutMS) * time.Millisecond,
		PhraseLimit:   time.Duration(r.cfg.STT.PhraseLimitMS) * time.Millisecond,
	}, r.logger)
	r.onShutdown("voice", func(context.Context) error {
		coordinator.Close()
		return nil
	})
	r.onShutdown("turns", func(context.Context) error {
		controller.Close()
		return nil
	})

	r.worker = tts.NewWorker(ctx, r.queue, r.epochs, synth, emit, tts.WorkerOptions{
		Language: r.cfg.Pipeline.Language,
		Voice:    r.cfg.TTS.Voice,
		MinChars: r.cfg.Pipeline.MinSynthesisChars,
		Timeout:  time.Duration(r.cfg.TTS.TimeoutMS) * time.Millisecond,
	}, r.logger)
	r.worker.Start()
	r.onShutdown("synthesis", func(context.Context) error {
		r.queue.Close()
		r.worker.Close()
		return nil
	})

	inputs.turns = controller
	inputs.voice = coordinator

	if r.busClient != nil {
		r.bridge = bus.NewBridge(ctx, r.busClient, r.cfg.Bus.SubjectPrefix, inputs, r.logger)
		if err := r.bridge.Start(); err != nil {
			return fmt.Errorf("failed to start bus bridge: %w", err)
		}
		r.onShutdown("bus-bridge", func(context.Context) error {
			r.bridge.Close()
			return nil
		})
	}
	return nil
}

func (r *Runtime) startHTTP(metricsHandler http.Handler) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/test_tts", r.handleTestTTS)
	mux.HandleFunc("/test_mic", r.handleTestMic)
	mux.Handle(r.cfg.Gateway.Path, r.hub)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	r.addr.Store(ln.Addr().String())
	r.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve("http", r.httpServer, ln)
	r.onShutdown("http", r.httpServer.Shutdown)

	if bind := r.cfg.Telemetry.PrometheusBind; bind != "" && metricsHandler != nil {
		mln, err := net.Listen("tcp", bind)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", bind, err)
		}
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}
		r.serve("metrics", r.metricsServer, mln)
		r.onShutdown("metrics", r.metricsServer.Shutdown)
	}
	return nil
}

func (r *Runtime) serve(name string, srv *http.Server, ln net.Listener) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("server", name), slogError(err))
		}
	}()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

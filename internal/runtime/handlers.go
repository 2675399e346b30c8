package runtime

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/loqalabs/loqa-medic/internal/protocol"
	"github.com/loqalabs/loqa-medic/internal/stt"
	"github.com/loqalabs/loqa-medic/internal/tts"
	"github.com/loqalabs/loqa-medic/internal/turn"
)

const (
	testSentence       = "This is a test of the text to speech system."
	deviceListTimeout  = 5 * time.Second
	readinessPingLimit = 2 * time.Second
)

// assistantInputs routes gateway and bus triggers to the turn controller and
// voice coordinator. Its fields are set once the pipeline is built.
type assistantInputs struct {
	turns *turn.Controller
	voice *stt.Coordinator
}

func (a *assistantInputs) Submit(ctx context.Context, source protocol.Source, text string) bool {
	if a.turns == nil {
		return false
	}
	return a.turns.Submit(ctx, source, text)
}

func (a *assistantInputs) StartVoiceInput(context.Context) {
	if a.voice != nil {
		a.voice.Start()
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), readinessPingLimit)
	defer cancel()

	ready := r.ready.Load() && r.worker != nil && r.worker.Healthy() && r.store.Healthy(ctx)
	if r.busClient != nil {
		ready = ready && r.busClient.Healthy() && r.bridge != nil && r.bridge.Healthy()
	}
	if ready {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

// handleTestTTS voices a fixed sentence through the synthesis worker so it
// reaches connected clients as play_audio.
func (r *Runtime) handleTestTTS(w http.ResponseWriter, _ *http.Request) {
	r.logger.Info("testing speech synthesis")
	if err := r.queue.Push(tts.Item{Epoch: r.epochs.Current(), Text: testSentence}); err != nil {
		r.logger.Warn("failed to queue test sentence", slogError(err))
		http.Error(w, "speech synthesis is shutting down", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Testing TTS functionality. Check logs for synthesis results."))
}

type micReport struct {
	Status      string   `json:"status"`
	Microphones []string `json:"microphones"`
	Count       int      `json:"count"`
	Message     string   `json:"message,omitempty"`
}

// handleTestMic lists the capture devices the recognizer can see.
func (r *Runtime) handleTestMic(w http.ResponseWriter, req *http.Request) {
	report := micReport{Status: "success", Microphones: []string{}}
	lister, ok := r.capturer.(stt.DeviceLister)
	if !ok {
		report = micReport{Status: "error", Message: "speech recognition backend cannot list devices"}
	} else {
		ctx, cancel := context.WithTimeout(req.Context(), deviceListTimeout)
		defer cancel()
		devices, err := lister.ListDevices(ctx)
		if err != nil {
			r.logger.Warn("microphone listing failed", slogError(err))
			report = micReport{Status: "error", Message: err.Error()}
		} else {
			report.Microphones = append(report.Microphones, devices...)
			report.Count = len(devices)
		}
	}
	r.logger.Info("microphone check", slog.String("status", report.Status), slog.Int("count", report.Count))

	data, err := sonic.Marshal(report)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

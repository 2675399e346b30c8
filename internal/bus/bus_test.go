package bus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-medic/internal/config"
	"github.com/loqalabs/loqa-medic/internal/natsserver"
	"github.com/loqalabs/loqa-medic/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startBus(t *testing.T) *Client {
	t.Helper()
	cfg := config.BusConfig{Enabled: true, Embedded: true, Host: "127.0.0.1", Port: -1, ConnectTimeout: 2000}
	srv, err := natsserver.Start(cfg, testLogger())
	if err != nil {
		t.Fatalf("start embedded bus: %v", err)
	}
	client, err := Connect(context.Background(), cfg, srv.ClientURL(), testLogger())
	if err != nil {
		srv.Shutdown()
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
		srv.Shutdown()
	})
	return client
}

type recordingInputs struct {
	mu      sync.Mutex
	texts   []string
	sources []protocol.Source
	voices  int
}

func (r *recordingInputs) Submit(_ context.Context, source protocol.Source, text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if text == "" {
		return false
	}
	r.texts = append(r.texts, text)
	r.sources = append(r.sources, source)
	return true
}

func (r *recordingInputs) StartVoiceInput(context.Context) {
	r.mu.Lock()
	r.voices++
	r.mu.Unlock()
}

func TestConnectWithoutServers(t *testing.T) {
	if _, err := Connect(context.Background(), config.BusConfig{}, "", testLogger()); err == nil {
		t.Fatal("expected error without servers")
	}
}

func TestPublisherMirrorsEvents(t *testing.T) {
	client := startBus(t)
	sub, err := client.Conn().SubscribeSync(protocol.EventSubject("assistant", protocol.EventResponseStream))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	pub := NewPublisher(client, "assistant", testLogger())
	pub.Emit(protocol.Response("Stay hydrated.", true))
	pub.Emit(protocol.Stop())

	msg, err := sub.NextMsg(time.Second)
	if err != nil {
		t.Fatalf("next msg: %v", err)
	}
	typ, raw, err := protocol.Unmarshal(msg.Data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	payload, err := protocol.DecodePayload[protocol.ResponseStream](raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if typ != protocol.EventResponseStream || payload.Text != "Stay hydrated." || !payload.Final {
		t.Fatalf("unexpected mirrored event %s %+v", typ, payload)
	}
	if _, err := sub.NextMsg(50 * time.Millisecond); err == nil {
		t.Fatal("stop_audio must go to its own subject")
	}
}

func TestBridgeForwardsInputs(t *testing.T) {
	client := startBus(t)
	inputs := &recordingInputs{}
	bridge := NewBridge(context.Background(), client, "assistant", inputs, testLogger())
	if err := bridge.Start(); err != nil {
		t.Fatalf("start bridge: %v", err)
	}
	defer bridge.Close()
	if !bridge.Healthy() {
		t.Fatal("expected healthy bridge")
	}

	reply, err := client.Conn().Request(protocol.InputMessageSubject("assistant"), []byte(`{"text":"my knee hurts"}`), time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var ack SubmitReply
	if err := json.Unmarshal(reply.Data, &ack); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if !ack.Accepted {
		t.Fatal("expected input accepted")
	}

	reply, err = client.Conn().Request(protocol.InputMessageSubject("assistant"), []byte(`{"text":""}`), time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := json.Unmarshal(reply.Data, &ack); err != nil || ack.Accepted {
		t.Fatalf("expected blank input rejected, got %+v %v", ack, err)
	}

	if _, err := client.Conn().Request(protocol.InputVoiceSubject("assistant"), nil, time.Second); err != nil {
		t.Fatalf("voice request: %v", err)
	}

	inputs.mu.Lock()
	defer inputs.mu.Unlock()
	if len(inputs.texts) != 1 || inputs.texts[0] != "my knee hurts" || inputs.sources[0] != protocol.SourceBus {
		t.Fatalf("unexpected submissions %v %v", inputs.texts, inputs.sources)
	}
	if inputs.voices != 1 {
		t.Fatalf("expected one voice start, got %d", inputs.voices)
	}
}

package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-medic/internal/config"
	"github.com/loqalabs/loqa-medic/internal/protocol"
)

type fakeInputs struct {
	mu     sync.Mutex
	texts  []string
	voices int
}

func (f *fakeInputs) Submit(_ context.Context, source protocol.Source, text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if source != protocol.SourceText {
		return false
	}
	f.texts = append(f.texts, text)
	return true
}

func (f *fakeInputs) StartVoiceInput(context.Context) {
	f.mu.Lock()
	f.voices++
	f.mu.Unlock()
}

func (f *fakeInputs) snapshot() ([]string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...), f.voices
}

func newHub(t *testing.T, inputs protocol.Inputs) (*Hub, *httptest.Server) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(context.Background(), config.GatewayConfig{Path: "/ws", WriteTimeoutMS: 1000}, inputs, log)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) (protocol.EventType, []byte) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	typ, raw, err := protocol.Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return typ, raw
}

func TestHubBroadcastsInOrder(t *testing.T) {
	hub, srv := newHub(t, &fakeInputs{})
	a := dial(t, srv)
	b := dial(t, srv)
	waitFor(t, func() bool { return hub.Clients() == 2 })

	hub.Emit(protocol.Stop())
	hub.Emit(protocol.Response("Rest.", false))
	hub.Emit(protocol.Response("Rest.", true))

	for _, conn := range []*websocket.Conn{a, b} {
		typ, _ := readEnvelope(t, conn)
		if typ != protocol.EventStopAudio {
			t.Fatalf("expected stop_audio first, got %s", typ)
		}
		for _, wantFinal := range []bool{false, true} {
			typ, raw := readEnvelope(t, conn)
			if typ != protocol.EventResponseStream {
				t.Fatalf("expected response_stream, got %s", typ)
			}
			p, err := protocol.DecodePayload[protocol.ResponseStream](raw)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if p.Final != wantFinal || p.Text != "Rest." {
				t.Fatalf("unexpected payload %+v", p)
			}
		}
	}
}

func TestHubDispatchesInputs(t *testing.T) {
	inputs := &fakeInputs{}
	_, srv := newHub(t, inputs)
	conn := dial(t, srv)

	frames := []string{
		`{"type":"send_message","payload":{"text":"I feel dizzy"}}`,
		`{"type":"send_message","payload":{"message":"legacy key"}}`,
		`{"type":"start_voice_input"}`,
		`{"type":"dance"}`,
		`garbage`,
	}
	for _, f := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	waitFor(t, func() bool {
		texts, voices := inputs.snapshot()
		return len(texts) == 2 && voices == 1
	})
	texts, _ := inputs.snapshot()
	if texts[0] != "I feel dizzy" || texts[1] != "legacy key" {
		t.Fatalf("unexpected texts %q", texts)
	}
}

func TestHubDropsDisconnectedClient(t *testing.T) {
	hub, srv := newHub(t, &fakeInputs{})
	conn := dial(t, srv)
	waitFor(t, func() bool { return hub.Clients() == 1 })

	conn.Close()
	waitFor(t, func() bool { return hub.Clients() == 0 })
	hub.Emit(protocol.Thinking(true))
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(context.Background(), config.GatewayConfig{AllowedOrigins: []string{"http://clinic.local"}}, &fakeInputs{}, log)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := map[string][]string{"Origin": {"http://evil.example"}}
	if _, _, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Fatal("expected handshake to fail for foreign origin")
	}
}

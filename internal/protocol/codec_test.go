package protocol

import (
	"strings"
	"testing"
)

func TestMarshalResponseStream(t *testing.T) {
	data, err := Marshal(Response("Take ibuprofen.", true))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	typ, raw, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if typ != EventResponseStream {
		t.Fatalf("expected response_stream, got %q", typ)
	}
	payload, err := DecodePayload[ResponseStream](raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Text != "Take ibuprofen." || !payload.Final {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestMarshalUsesWireFieldNames(t *testing.T) {
	data, err := Marshal(Audio("QUJD"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"audio_data":"QUJD"`) {
		t.Fatalf("expected audio_data field, got %s", data)
	}
	data, err = Marshal(Stop())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"type":"stop_audio"`) {
		t.Fatalf("expected stop_audio type, got %s", data)
	}
}

func TestUnmarshalSendMessageLegacyKey(t *testing.T) {
	typ, raw, err := Unmarshal([]byte(`{"type":"send_message","payload":{"message":"I have a cough"}}`))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if typ != InputSendMessage {
		t.Fatalf("expected send_message, got %q", typ)
	}
	msg, err := DecodePayload[SendMessage](raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Content() != "I have a cough" {
		t.Fatalf("unexpected content %q", msg.Content())
	}
}

func TestUnmarshalWithoutPayload(t *testing.T) {
	typ, raw, err := Unmarshal([]byte(`{"type":"start_voice_input"}`))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if typ != InputStartVoiceInput {
		t.Fatalf("unexpected type %q", typ)
	}
	if _, err := DecodePayload[struct{}](raw); err != nil {
		t.Fatalf("decode empty payload: %v", err)
	}
}

func TestUnmarshalRejectsMissingType(t *testing.T) {
	if _, _, err := Unmarshal([]byte(`{"payload":{}}`)); err == nil {
		t.Fatal("expected error for missing type")
	}
	if _, _, err := Unmarshal([]byte(`not json`)); err == nil {
		t.Fatal("expected error for invalid json")
	}
}

func TestFanoutPreservesOrderAndSkipsNil(t *testing.T) {
	var got []string
	a := EmitterFunc(func(evt Event) { got = append(got, "a:"+string(evt.Type)) })
	b := EmitterFunc(func(evt Event) { got = append(got, "b:"+string(evt.Type)) })
	out := Fanout(a, nil, b)
	out.Emit(Stop())
	out.Emit(Thinking(true))

	want := []string{"a:stop_audio", "b:stop_audio", "a:thinking_status", "b:thinking_status"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestSubjects(t *testing.T) {
	if got := EventSubject("assistant", EventPlayAudio); got != "assistant.event.play_audio" {
		t.Fatalf("unexpected subject %q", got)
	}
	if got := InputMessageSubject("assistant"); got != "assistant.input.message" {
		t.Fatalf("unexpected subject %q", got)
	}
	if got := InputVoiceSubject("assistant"); got != "assistant.input.voice" {
		t.Fatalf("unexpected subject %q", got)
	}
}

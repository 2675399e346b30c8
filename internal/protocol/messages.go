package protocol

import "context"

// EventType names a message exchanged with clients.
type EventType string

const (
	EventListeningStatus  EventType = "listening_status"
	EventThinkingStatus   EventType = "thinking_status"
	EventSpeechRecognized EventType = "speech_recognized"
	EventResponseStream   EventType = "response_stream"
	EventPlayAudio        EventType = "play_audio"
	EventStopAudio        EventType = "stop_audio"
	EventErrorMessage     EventType = "error_message"

	InputSendMessage     EventType = "send_message"
	InputStartVoiceInput EventType = "start_voice_input"
)

// ListeningStatus marks capture phase boundaries.
type ListeningStatus struct {
	Active bool `json:"active"`
}

// ThinkingStatus marks generation phase boundaries.
type ThinkingStatus struct {
	Active bool `json:"active"`
}

// SpeechRecognized carries the transcript of a successful capture.
type SpeechRecognized struct {
	Text string `json:"text"`
}

// ResponseStream carries the cumulative response text of a turn.
type ResponseStream struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// PlayAudio carries one base64 encoded clip for the client playback queue.
type PlayAudio struct {
	AudioData string `json:"audio_data"`
}

// StopAudio instructs the client to drop its playback queue.
type StopAudio struct{}

// ErrorMessage is a user-visible, non-fatal error.
type ErrorMessage struct {
	Message string `json:"message"`
}

// SendMessage is the inbound typed-message payload. Message is accepted for
// clients that still send the older key.
type SendMessage struct {
	Text    string `json:"text"`
	Message string `json:"message,omitempty"`
}

// Content returns whichever text field the client populated.
func (m SendMessage) Content() string {
	if m.Text != "" {
		return m.Text
	}
	return m.Message
}

// Event is one outbound message.
type Event struct {
	Type    EventType
	Payload any
}

// Emitter delivers events. Implementations must preserve the order of calls
// made from a single goroutine and must not block indefinitely.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

func (f EmitterFunc) Emit(evt Event) { f(evt) }

// Fanout delivers every event to each non-nil emitter in order.
func Fanout(emitters ...Emitter) Emitter {
	var targets []Emitter
	for _, e := range emitters {
		if e != nil {
			targets = append(targets, e)
		}
	}
	return EmitterFunc(func(evt Event) {
		for _, e := range targets {
			e.Emit(evt)
		}
	})
}

// Source identifies where a user input came from.
type Source string

const (
	SourceText  Source = "text"
	SourceVoice Source = "voice"
	SourceBus   Source = "bus"
)

// Inputs receives the inbound triggers of the assistant.
type Inputs interface {
	Submit(ctx context.Context, source Source, text string) bool
	StartVoiceInput(ctx context.Context)
}

// Event constructors.

func Listening(active bool) Event {
	return Event{Type: EventListeningStatus, Payload: ListeningStatus{Active: active}}
}

func Thinking(active bool) Event {
	return Event{Type: EventThinkingStatus, Payload: ThinkingStatus{Active: active}}
}

func Recognized(text string) Event {
	return Event{Type: EventSpeechRecognized, Payload: SpeechRecognized{Text: text}}
}

func Response(text string, final bool) Event {
	return Event{Type: EventResponseStream, Payload: ResponseStream{Text: text, Final: final}}
}

func Audio(encoded string) Event {
	return Event{Type: EventPlayAudio, Payload: PlayAudio{AudioData: encoded}}
}

func Stop() Event {
	return Event{Type: EventStopAudio, Payload: StopAudio{}}
}

func Error(message string) Event {
	return Event{Type: EventErrorMessage, Payload: ErrorMessage{Message: message}}
}

const (
	SubjectEventSuffix        = "event"
	SubjectInputMessageSuffix = "input.message"
	SubjectInputVoiceSuffix   = "input.voice"
)

// EventSubject is the bus subject mirroring events of the given type.
func EventSubject(prefix string, t EventType) string {
	return prefix + "." + SubjectEventSuffix + "." + string(t)
}

func InputMessageSubject(prefix string) string {
	return prefix + "." + SubjectInputMessageSuffix
}

func InputVoiceSubject(prefix string) string {
	return prefix + "." + SubjectInputVoiceSuffix
}

package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/loqalabs/loqa-medic/internal/protocol"
	"github.com/nats-io/nats.go"
)

// SubmitReply answers request-style input messages.
type SubmitReply struct {
	Accepted bool `json:"accepted"`
}

// Bridge accepts assistant inputs from the bus: a SendMessage payload on
// <prefix>.input.message and any message on <prefix>.input.voice.
type Bridge struct {
	client *Client
	prefix string
	inputs protocol.Inputs

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	subs   []*nats.Subscription
	log    *slog.Logger
}

func NewBridge(parent context.Context, client *Client, prefix string, inputs protocol.Inputs, log *slog.Logger) *Bridge {
	ctx, cancel := context.WithCancel(parent)
	return &Bridge{
		client: client,
		prefix: prefix,
		inputs: inputs,
		ctx:    ctx,
		cancel: cancel,
		log:    log.With(slog.String("component", "bus-bridge")),
	}
}

func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgSub, err := b.client.Conn().Subscribe(protocol.InputMessageSubject(b.prefix), b.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribe input messages: %w", err)
	}
	voiceSub, err := b.client.Conn().Subscribe(protocol.InputVoiceSubject(b.prefix), b.handleVoice)
	if err != nil {
		_ = msgSub.Unsubscribe()
		return fmt.Errorf("subscribe voice input: %w", err)
	}
	b.subs = []*nats.Subscription{msgSub, voiceSub}
	return nil
}

func (b *Bridge) Close() {
	b.cancel()
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Drain()
	}
}

func (b *Bridge) Healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs) == 2 && b.client.Healthy()
}

func (b *Bridge) handleMessage(msg *nats.Msg) {
	payload, err := protocol.DecodePayload[protocol.SendMessage](msg.Data)
	if err != nil {
		b.log.Warn("failed to decode input message", slogError(err))
		b.reply(msg, false)
		return
	}
	accepted := b.inputs.Submit(b.ctx, protocol.SourceBus, payload.Content())
	b.reply(msg, accepted)
}

func (b *Bridge) handleVoice(msg *nats.Msg) {
	b.inputs.StartVoiceInput(b.ctx)
	b.reply(msg, true)
}

func (b *Bridge) reply(msg *nats.Msg, accepted bool) {
	if msg.Reply == "" {
		return
	}
	data, err := sonic.Marshal(SubmitReply{Accepted: accepted})
	if err != nil {
		return
	}
	if err := msg.Respond(data); err != nil {
		b.log.Warn("failed to reply to input", slogError(err))
	}
}

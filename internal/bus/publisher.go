package bus

import (
	"log/slog"

	"github.com/loqalabs/loqa-medic/internal/protocol"
)

// Publisher mirrors client events onto <prefix>.event.<type>.
type Publisher struct {
	client *Client
	prefix string
	log    *slog.Logger
}

func NewPublisher(client *Client, prefix string, log *slog.Logger) *Publisher {
	return &Publisher{
		client: client,
		prefix: prefix,
		log:    log.With(slog.String("component", "bus-publisher")),
	}
}

// Emit publishes evt. Failures are logged and never reach the caller.
func (p *Publisher) Emit(evt protocol.Event) {
	data, err := protocol.Marshal(evt)
	if err != nil {
		p.log.Warn("failed to encode event", slog.String("type", string(evt.Type)), slogError(err))
		return
	}
	subject := protocol.EventSubject(p.prefix, evt.Type)
	if err := p.client.Conn().Publish(subject, data); err != nil {
		p.log.Warn("failed to publish event", slog.String("subject", subject), slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

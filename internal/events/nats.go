package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/hochfrequenz/codex-orchestrator/internal/logger"
)

// conn is the subset of *nats.Conn the publisher needs
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSPublisher publishes events as JSON on <prefix>.<type>
type NATSPublisher struct {
	nc     conn
	prefix string
	log    *logger.Logger
}

// NewNATSPublisher connects to url
func NewNATSPublisher(url, prefix string, log *logger.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("codex-orchestrator"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return newNATSPublisher(nc, prefix, log), nil
}

func newNATSPublisher(nc conn, prefix string, log *logger.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = "codex"
	}
	if log == nil {
		log = logger.Default()
	}
	return &NATSPublisher{nc: nc, prefix: prefix, log: log.WithComponent("events")}
}

// Subject returns the subject an event type is published on
func (p *NATSPublisher) Subject(t Type) string {
	return p.prefix + "." + string(t)
}

func (p *NATSPublisher) Publish(_ context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Warn("marshal event", zap.Error(err))
		return
	}
	if err := p.nc.Publish(p.Subject(ev.Type), data); err != nil {
		p.log.Warn("publish event", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

// Close drains pending messages and closes the connection
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}

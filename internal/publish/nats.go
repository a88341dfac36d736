package publish

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// NATSConfig configures the NATS publisher.
type NATSConfig struct {
	URL            string
	SubjectPrefix  string
	ConnectionName string
	MaxReconnects  int
	ReconnectWait  time.Duration
}

// natsConn is the part of *nats.Conn the publisher uses.
type natsConn interface {
	Publish(subj string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// NATSPublisher publishes LeadIngested events as JSON on
// <prefix>.lead.ingested.
type NATSPublisher struct {
	nc      natsConn
	subject string
}

// NewNATS connects to cfg.URL.
func NewNATS(cfg NATSConfig) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				zap.L().Warn("publish: disconnected from nats", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			zap.L().Info("publish: reconnected to nats", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			zap.L().Info("publish: nats connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "publish: connect to nats")
	}
	return newNATSPublisher(nc, cfg.SubjectPrefix), nil
}

func newNATSPublisher(nc natsConn, prefix string) *NATSPublisher {
	return &NATSPublisher{nc: nc, subject: Subject(prefix)}
}

// Subject returns the subject events are published on.
func Subject(prefix string) string {
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		return "lead.ingested"
	}
	return prefix + ".lead.ingested"
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(ctx context.Context, ev LeadIngested) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "publish: marshal event")
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		return eris.Wrapf(err, "publish: %s", p.subject)
	}
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return eris.Wrap(err, "publish: flush")
	}
	return nil
}

// Close drops the connection.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}

package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Config holds NATS publisher configuration
type Config struct {
	URL           string `yaml:"url"` // empty disables publishing
	SubjectPrefix string `yaml:"subjectPrefix"`
	Name          string `yaml:"name"`
}

// DefaultConfig returns default NATS configuration
func DefaultConfig() Config {
	return Config{
		SubjectPrefix: "panelctl",
		Name:          "panelctl",
	}
}

// NATSPublisher publishes events as JSON on <prefix>.<type>
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSPublisher connects to NATS and reconnects forever
func NewNATSPublisher(cfg Config, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("events")

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	return &NATSPublisher{nc: nc, prefix: cfg.SubjectPrefix}, nil
}

// Publish implements Publisher
func (p *NATSPublisher) Publish(_ context.Context, e Event) error {
	if p.nc == nil || p.nc.IsClosed() {
		return errors.New("nats not connected")
	}

	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	return p.nc.Publish(p.subject(e.Type), payload)
}

func (p *NATSPublisher) subject(eventType string) string {
	if p.prefix == "" {
		return eventType
	}
	return p.prefix + "." + eventType
}

// Close flushes pending messages and closes the connection
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

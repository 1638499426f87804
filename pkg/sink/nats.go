// Copyright (c) OpenMMLab. All rights reserved.

package sink

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Publisher is the part of *nats.Conn used by NATS outputs
type Publisher interface {
	Publish(subject string, data []byte) error
	Flush() error
}

var _ Publisher = (*nats.Conn)(nil)

// NATSSet publishes each partition to its own subject, prefix.key
type NATSSet struct {
	Partitioner

	conn   Publisher
	prefix string
}

// NewNATSSet publishes through conn. The caller owns conn and closes it
// after the pool has finished.
func NewNATSSet(p Partitioner, conn Publisher, prefix string) *NATSSet {
	return &NATSSet{Partitioner: p, conn: conn, prefix: strings.Trim(prefix, ".")}
}

// Subject returns the subject a partition key is published to
func (s *NATSSet) Subject(key string) string {
	token := subjectToken(key)
	if s.prefix == "" {
		return token
	}
	return s.prefix + "." + token
}

// Open implements SinkSet
func (s *NATSSet) Open(key string) (Output, error) {
	return &natsOutput{conn: s.conn, subject: s.Subject(key)}, nil
}

// subjectToken turns a key into a single subject token
func subjectToken(key string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, key)
	if token == "" {
		return "_"
	}
	return token
}

type natsOutput struct {
	conn    Publisher
	subject string
}

func (o *natsOutput) WriteRecord(line []byte) error {
	if err := o.conn.Publish(o.subject, bytes.TrimSuffix(line, []byte("\n"))); err != nil {
		return fmt.Errorf("publish to %s: %w", o.subject, err)
	}
	return o.conn.Flush()
}

func (o *natsOutput) Close() error {
	return o.conn.Flush()
}

// ConnectNATS dials url with reconnects enabled, logging connection events
func ConnectNATS(url string, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("dogtail"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Debug("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// Copyright (c) OpenMMLab. All rights reserved.

// Package sink fans event records out to one output actor per partition key.
package sink

import (
	"context"
	"sync"
	"sync/atomic"

	dterrors "github.com/oliverbrowneprima/dogtail/pkg/errors"
	"github.com/oliverbrowneprima/dogtail/pkg/format"
	"github.com/oliverbrowneprima/dogtail/pkg/prom/metrics"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

// MailboxSize is the default capacity of each actor's mailbox
const MailboxSize = 100

// SinkSet maps records to partition keys and opens one Output per key
type SinkSet interface {
	// PartitionKey never fails; records without a usable key go to a default.
	PartitionKey(event *fastjson.Value) string
	Open(key string) (Output, error)
}

// Output is the destination owned by a single actor
type Output interface {
	// WriteRecord appends line and flushes it. line is only valid for the
	// duration of the call.
	WriteRecord(line []byte) error
	Close() error
}

// Sink is one output actor: a goroutine draining a bounded mailbox into an
// Output.
type Sink struct {
	key       string
	mailbox   chan *fastjson.Value
	failed    chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	output    Output
	formatter format.Formatter
	logger    *zap.Logger

	events  atomic.Int64
	dropped atomic.Int64
	// err is written before failed or done is closed
	err error
}

func newSink(key string, output Output, formatter format.Formatter, mailboxSize int, logger *zap.Logger) *Sink {
	s := &Sink{
		key:       key,
		mailbox:   make(chan *fastjson.Value, mailboxSize),
		failed:    make(chan struct{}),
		done:      make(chan struct{}),
		output:    output,
		formatter: formatter,
		logger:    logger.With(zap.String("partition", key)),
	}
	metrics.ActiveSinks.Inc()
	go s.run()
	return s
}

// failedSink is registered when the output could not be opened, so every
// later record for the key is rejected the same way.
func failedSink(key string, err error) *Sink {
	s := &Sink{
		key:     key,
		mailbox: make(chan *fastjson.Value),
		failed:  make(chan struct{}),
		done:    make(chan struct{}),
		err:     err,
	}
	close(s.failed)
	close(s.done)
	return s
}

// Key returns the partition key served by the actor
func (s *Sink) Key() string {
	return s.key
}

// Send enqueues event, blocking while the mailbox is full. It fails once
// the actor has failed.
func (s *Sink) Send(ctx context.Context, event *fastjson.Value) error {
	select {
	case <-s.failed:
		s.dropped.Add(1)
		return s.err
	default:
	}

	select {
	case s.mailbox <- event:
		return nil
	case <-s.failed:
		s.dropped.Add(1)
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close ends the mailbox; the actor exits after draining it
func (s *Sink) close() {
	s.closeOnce.Do(func() { close(s.mailbox) })
}

func (s *Sink) run() {
	defer close(s.done)
	defer metrics.ActiveSinks.Dec()

	var buf []byte
	for event := range s.mailbox {
		// after a failure, keep draining so producers never block
		if s.isFailed() {
			s.dropped.Add(1)
			continue
		}

		buf = s.formatter.AppendLine(buf[:0], event)
		if err := s.output.WriteRecord(buf); err != nil {
			metrics.SinkWritesTotal.WithLabelValues("error").Inc()
			s.err = dterrors.Sink(err, "write to %q", s.key)
			close(s.failed)
			s.dropped.Add(1)
			s.logger.Error("Output failed, discarding further records", zap.Error(err))
			continue
		}
		metrics.SinkWritesTotal.WithLabelValues("ok").Inc()
		s.events.Add(1)
	}

	if err := s.output.Close(); err != nil {
		s.logger.Error("Failed to close output", zap.Error(err))
		if !s.isFailed() {
			s.err = dterrors.Sink(err, "close %q", s.key)
		}
	}
}

func (s *Sink) isFailed() bool {
	select {
	case <-s.failed:
		return true
	default:
		return false
	}
}

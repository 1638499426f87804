// Copyright (c) OpenMMLab. All rights reserved.

package sink

import (
	"context"
	"errors"
	"sort"
	"time"

	dterrors "github.com/oliverbrowneprima/dogtail/pkg/errors"
	"github.com/oliverbrowneprima/dogtail/pkg/format"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

// ErrAbandoned marks an actor that was still running when Finish gave up
var ErrAbandoned = errors.New("output actor did not finish in time")

// Config holds consumer pool configuration
type Config struct {
	Set       SinkSet
	Formatter format.Formatter
	// MailboxSize defaults to MailboxSize.
	MailboxSize int
	Logger      *zap.Logger
}

// Report is the shutdown outcome of one partition
type Report struct {
	Key string
	// Clean is true when the actor exited in time without an error.
	Clean   bool
	Events  int64
	Dropped int64
	Err     error
}

// ConsumerPool routes records to per-partition actors, creating them on
// first use. It is driven by a single goroutine and is not safe for
// concurrent use.
type ConsumerPool struct {
	set         SinkSet
	formatter   format.Formatter
	mailboxSize int
	logger      *zap.Logger

	sinks    map[string]*Sink
	finished bool
}

// NewConsumerPool creates an empty pool
func NewConsumerPool(cfg Config) *ConsumerPool {
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = MailboxSize
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &ConsumerPool{
		set:         cfg.Set,
		formatter:   cfg.Formatter,
		mailboxSize: cfg.MailboxSize,
		logger:      cfg.Logger,
		sinks:       make(map[string]*Sink),
	}
}

// Consume routes event to the actor for its partition key, blocking while
// that actor's mailbox is full. A failed actor rejects the event with a
// SinkError; other partitions are unaffected.
func (p *ConsumerPool) Consume(ctx context.Context, event *fastjson.Value) error {
	if p.finished {
		return dterrors.Sink(nil, "consumer pool already finished")
	}

	key := p.set.PartitionKey(event)
	s, ok := p.sinks[key]
	if !ok {
		s = p.open(key)
		p.sinks[key] = s
	}
	return s.Send(ctx, event)
}

func (p *ConsumerPool) open(key string) *Sink {
	output, err := p.set.Open(key)
	if err != nil {
		p.logger.Error("Failed to open output", zap.String("partition", key), zap.Error(err))
		return failedSink(key, dterrors.Sink(err, "open %q", key))
	}
	p.logger.Info("Opened output", zap.String("partition", key))
	return newSink(key, output, p.formatter, p.mailboxSize, p.logger)
}

// Len returns the number of registered partitions
func (p *ConsumerPool) Len() int {
	return len(p.sinks)
}

// Finish closes every mailbox and waits for the actors, sharing a single
// maxWait deadline across all of them. Actors still running at the deadline
// are abandoned, not stopped. One report per partition is returned, sorted
// by key.
func (p *ConsumerPool) Finish(maxWait time.Duration) []Report {
	p.finished = true

	keys := make([]string, 0, len(p.sinks))
	for key, s := range p.sinks {
		s.close()
		keys = append(keys, key)
	}
	sort.Strings(keys)

	timer := time.NewTimer(maxWait)
	defer timer.Stop()
	expired := false

	reports := make([]Report, 0, len(keys))
	for _, key := range keys {
		s := p.sinks[key]

		finished := false
		if expired {
			select {
			case <-s.done:
				finished = true
			default:
			}
		} else {
			select {
			case <-s.done:
				finished = true
			case <-timer.C:
				expired = true
				select {
				case <-s.done:
					finished = true
				default:
				}
			}
		}

		report := Report{
			Key:     key,
			Events:  s.events.Load(),
			Dropped: s.dropped.Load(),
		}
		if finished {
			report.Err = s.err
			report.Clean = s.err == nil
		} else {
			report.Err = ErrAbandoned
		}
		reports = append(reports, report)

		fields := []zap.Field{
			zap.String("partition", report.Key),
			zap.Bool("clean", report.Clean),
			zap.Int64("events", report.Events),
			zap.Int64("dropped", report.Dropped),
		}
		if report.Clean {
			p.logger.Info("Output finished", fields...)
		} else {
			p.logger.Warn("Output did not finish cleanly", append(fields, zap.Error(report.Err))...)
		}
	}
	return reports
}

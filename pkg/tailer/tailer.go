// Copyright (c) OpenMMLab. All rights reserved.

// Package tailer polls a Source against the search API, honouring the
// server's rate-limit budget, and emits event records onto a bounded queue.
package tailer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	dterrors "github.com/oliverbrowneprima/dogtail/pkg/errors"
	"github.com/oliverbrowneprima/dogtail/pkg/prom/metrics"
	"github.com/oliverbrowneprima/dogtail/pkg/source"
	"github.com/oliverbrowneprima/dogtail/pkg/version"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// QueueSize is the capacity of the queue created by Start
const QueueSize = 100

// Request headers
const (
	HeaderAPIKey = "DD-API-KEY"
	HeaderAppKey = "DD-APPLICATION-KEY"
)

// Config configures a Tailer
type Config struct {
	APIKey string
	AppKey string

	// Client defaults to a client with a 60s timeout.
	Client *http.Client
	Logger *zap.Logger

	Backoff BackoffPolicy
	// MaxJitter is added at random to every pause. Zero means
	// DefaultMaxJitter, negative disables jitter.
	MaxJitter time.Duration
	// MaxRequestsPerSecond caps the request rate on top of the server
	// budget. Zero means no cap.
	MaxRequestsPerSecond float64
	// QueueSize is the capacity of the channel made by Start.
	QueueSize int
}

// Tailer drives one Source until it is exhausted, a fatal error occurs or
// the context is cancelled.
type Tailer struct {
	src     source.Source
	client  *http.Client
	apiKey  string
	appKey  string
	logger  *zap.Logger
	tracker *tracker
	limiter *rate.Limiter
	queue   int

	mu   sync.Mutex
	err  error
	done chan struct{}
}

// New creates a Tailer for src
func New(src source.Source, cfg Config) *Tailer {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxJitter == 0 {
		cfg.MaxJitter = DefaultMaxJitter
	} else if cfg.MaxJitter < 0 {
		cfg.MaxJitter = 0
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = QueueSize
	}

	t := &Tailer{
		src:    src,
		client: cfg.Client,
		apiKey: cfg.APIKey,
		appKey: cfg.AppKey,
		logger: cfg.Logger,
		tracker: &tracker{
			policy:    cfg.Backoff,
			maxJitter: cfg.MaxJitter,
			now:       time.Now,
			jitter:    randomJitter,
			sleep:     sleepContext,
		},
		queue: cfg.QueueSize,
		done:  make(chan struct{}),
	}
	if cfg.MaxRequestsPerSecond > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), 1)
	}
	return t
}

// Start runs the tailer in a new goroutine and returns its queue. The queue
// is closed when the tailer stops; Err then reports why.
func (t *Tailer) Start(ctx context.Context) <-chan *fastjson.Value {
	out := make(chan *fastjson.Value, t.queue)
	go func() {
		err := t.Run(ctx, out)
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
		close(t.done)
	}()
	return out
}

// Done is closed once a tailer launched by Start has stopped
func (t *Tailer) Done() <-chan struct{} {
	return t.done
}

// Err returns the error that stopped a tailer launched by Start, or nil
// while it is still running or after it finished cleanly.
func (t *Tailer) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Run polls until the source is exhausted (nil), the context is cancelled
// (ctx.Err()) or a fatal error occurs. out is closed on return.
func (t *Tailer) Run(ctx context.Context, out chan<- *fastjson.Value) error {
	defer close(out)

	for {
		returned, err := t.runQuery(ctx, out)
		switch {
		case errors.Is(err, source.ErrExhausted):
			t.logger.Info("Source exhausted, stopping")
			return nil
		case ctx.Err() != nil:
			t.logger.Info("Tailer cancelled", zap.Error(ctx.Err()))
			return ctx.Err()
		case err != nil:
			t.logger.Error("Tailer stopped",
				zap.String("kind", dterrors.KindOf(err).String()),
				zap.Error(err))
			return err
		}

		t.logger.Info("Returned events",
			zap.Int("count", returned),
			zap.Duration("wait", t.tracker.pending()))
	}
}

// runQuery performs one iteration: the first page of the next window and
// every continuation after it.
func (t *Tailer) runQuery(ctx context.Context, out chan<- *fastjson.Value) (int, error) {
	req, err := t.src.NextRequest(ctx)
	if err != nil {
		return 0, err
	}

	returned := 0
	for req != nil {
		body, err := t.fetch(ctx, req)
		if err != nil {
			return returned, err
		}

		next, err := t.src.Continuation(body)
		if err != nil {
			return returned, err
		}
		results, err := t.src.ExtractResults(body)
		if err != nil {
			return returned, err
		}
		if err := emit(ctx, out, results); err != nil {
			return returned, err
		}
		returned += len(results)
		t.tracker.scale(len(results), t.src.PageSize())

		req = nil
		if next != "" {
			t.logger.Debug("Following next link", zap.String("url", next))
			req, err = http.NewRequestWithContext(ctx, http.MethodGet, next, nil)
			if err != nil {
				return returned, dterrors.SchemaCause(err, "invalid continuation url %q", next)
			}
		}
	}

	t.tracker.scale(returned, t.src.PageSize())
	return returned, nil
}

func emit(ctx context.Context, out chan<- *fastjson.Value, results []*fastjson.Value) error {
	for _, v := range results {
		select {
		case out <- v:
			metrics.EventsTotal.Inc()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// fetch sends req until it gets a non-429 answer and returns the parsed
// body. Each attempt waits for the rate-limit state left by the previous
// response.
func (t *Tailer) fetch(ctx context.Context, req *http.Request) (*fastjson.Value, error) {
	for {
		waited, err := t.tracker.pause(ctx)
		if err != nil {
			return nil, err
		}
		if waited > 0 {
			metrics.RateLimitWait.Observe(waited.Seconds())
			t.logger.Debug("Waited for rate limit", zap.Duration("wait", waited))
		}
		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				// the next token lies past the deadline
				<-ctx.Done()
				return nil, ctx.Err()
			}
		}

		attempt, err := t.prepare(ctx, req)
		if err != nil {
			return nil, err
		}

		start := time.Now()
		resp, err := t.client.Do(attempt)
		metrics.RequestDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			metrics.RequestsTotal.WithLabelValues("transport_error").Inc()
			return nil, dterrors.Transport(err, "%s %s", req.Method, req.URL.Redacted())
		}
		payload, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		metrics.RequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

		limitErr := t.tracker.update(resp.Header)
		if limitErr != nil {
			t.logger.Debug("Rate limit headers unusable", zap.Error(limitErr))
		} else {
			t.logger.Debug("Rate limit status", zap.Stringer("status", t.tracker.status))
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			if limitErr != nil {
				return nil, limitErr
			}
			metrics.RateLimitedTotal.Inc()
			t.logger.Warn("Got too many requests, waiting and retrying",
				zap.Duration("wait", t.tracker.pending()))
			continue
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			return nil, dterrors.Auth(resp.StatusCode, string(payload))
		}

		if limitErr != nil {
			return nil, limitErr
		}
		if readErr != nil {
			return nil, dterrors.Transport(readErr, "reading response body")
		}

		// one parser per body so earlier pages stay valid
		var p fastjson.Parser
		body, err := p.ParseBytes(payload)
		if err != nil {
			return nil, dterrors.SchemaCause(err, "response is not valid JSON")
		}
		return body, nil
	}
}

// prepare copies req with a fresh body and the auth headers
func (t *Tailer) prepare(ctx context.Context, req *http.Request) (*http.Request, error) {
	attempt := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		attempt.Body = body
	}
	attempt.Header.Set("Accept", "application/json")
	attempt.Header.Set("User-Agent", version.GetUserAgent())
	attempt.Header.Set(HeaderAPIKey, t.apiKey)
	attempt.Header.Set(HeaderAppKey, t.appKey)
	return attempt, nil
}

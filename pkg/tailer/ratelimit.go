// Copyright (c) OpenMMLab. All rights reserved.

package tailer

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	dterrors "github.com/oliverbrowneprima/dogtail/pkg/errors"
)

// Rate limit response headers
const (
	HeaderLimit     = "x-ratelimit-limit"
	HeaderPeriod    = "x-ratelimit-period"
	HeaderRemaining = "x-ratelimit-remaining"
	HeaderReset     = "x-ratelimit-reset"
)

// DefaultMaxJitter bounds the random delay added to every pause
const DefaultMaxJitter = 5 * time.Second

// BackoffPolicy decides whether waits are shortened between resets
type BackoffPolicy int

const (
	// BackoffGreedy shortens the wait when pages come back full.
	BackoffGreedy BackoffPolicy = iota
	// BackoffStrict always waits for the server-declared reset.
	BackoffStrict
)

func (p BackoffPolicy) String() string {
	switch p {
	case BackoffStrict:
		return "strict"
	default:
		return "greedy"
	}
}

// ParseBackoffPolicy maps "greedy" and "strict" to a policy
func ParseBackoffPolicy(s string) (BackoffPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "greedy":
		return BackoffGreedy, nil
	case "strict":
		return BackoffStrict, nil
	default:
		return BackoffGreedy, dterrors.Config("unknown backoff policy %q, want greedy or strict", s)
	}
}

// LimitStatus is the rate-limit budget declared by the last response
type LimitStatus struct {
	// Limit is informational only.
	Limit       int
	Period      time.Duration
	Remaining   int
	NextAllowed time.Time
}

// ParseLimitStatus reads the rate-limit headers of a response received at now
func ParseLimitStatus(h http.Header, now time.Time) (LimitStatus, error) {
	period, err := headerInt(h, HeaderPeriod)
	if err != nil {
		return LimitStatus{}, err
	}
	remaining, err := headerInt(h, HeaderRemaining)
	if err != nil {
		return LimitStatus{}, err
	}
	reset, err := headerInt(h, HeaderReset)
	if err != nil {
		return LimitStatus{}, err
	}
	limit, _ := headerInt(h, HeaderLimit)

	return LimitStatus{
		Limit:       limit,
		Period:      time.Duration(period) * time.Second,
		Remaining:   remaining,
		NextAllowed: now.Add(time.Duration(reset) * time.Second),
	}, nil
}

func headerInt(h http.Header, key string) (int, error) {
	raw := h.Get(key)
	if raw == "" {
		return 0, dterrors.Schema("missing header %s", key)
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, dterrors.SchemaCause(err, "invalid header %s=%q", key, raw)
	}
	if n < 0 {
		return 0, dterrors.Schema("negative header %s=%d", key, n)
	}
	return n, nil
}

// ScaleByUsefulness shortens the wait in proportion to how full the last
// pages were: a full page means the next request can go out immediately, an
// empty one waits the whole period. The wait never exceeds the reset and is
// left alone once the budget is spent.
func (s *LimitStatus) ScaleByUsefulness(returned, pageSize int, now time.Time) {
	if s.Remaining <= 0 || pageSize <= 0 {
		return
	}
	useful := float64(returned) / float64(pageSize)
	desired := time.Duration(float64(s.Period) * (1 - useful))

	wait := s.NextAllowed.Sub(now)
	if desired < wait {
		wait = desired
	}
	if wait < 0 {
		wait = 0
	}
	s.NextAllowed = now.Add(wait)
}

// Wait returns how long to wait at now before NextAllowed
func (s LimitStatus) Wait(now time.Time) time.Duration {
	if d := s.NextAllowed.Sub(now); d > 0 {
		return d
	}
	return 0
}

func (s LimitStatus) String() string {
	return fmt.Sprintf("limit=%d period=%s remaining=%d next=%s",
		s.Limit, s.Period, s.Remaining, s.NextAllowed.Format(time.RFC3339))
}

// tracker holds the state between one response and the next request
type tracker struct {
	status    *LimitStatus
	policy    BackoffPolicy
	maxJitter time.Duration
	now       func() time.Time
	jitter    func(max time.Duration) time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// update replaces the state with the one declared by h
func (t *tracker) update(h http.Header) error {
	status, err := ParseLimitStatus(h, t.now())
	if err != nil {
		t.status = nil
		return err
	}
	t.status = &status
	return nil
}

// pause blocks until the stored state allows a request, plus jitter. The
// state is consumed, so a second pause without an update returns at once.
func (t *tracker) pause(ctx context.Context) (time.Duration, error) {
	if t.status == nil {
		return 0, ctx.Err()
	}
	wait := t.status.Wait(t.now()) + t.jitter(t.maxJitter)
	t.status = nil
	return wait, t.sleep(ctx, wait)
}

// scale applies the usefulness rule under the greedy policy
func (t *tracker) scale(returned, pageSize int) {
	if t.status == nil || t.policy == BackoffStrict {
		return
	}
	t.status.ScaleByUsefulness(returned, pageSize, t.now())
}

// pending reports the wait the stored state currently implies
func (t *tracker) pending() time.Duration {
	if t.status == nil {
		return 0
	}
	return t.status.Wait(t.now())
}

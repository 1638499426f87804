// Copyright (c) OpenMMLab. All rights reserved.

package metrics

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/oliverbrowneprima/dogtail/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

var (
	// Search API requests by response status ("200", "429", "transport_error")
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dogtail_requests_total",
		Help: "Total number of search API requests",
	}, []string{"status"})

	// Search API latency histogram
	RequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dogtail_request_duration_seconds",
		Help:    "Duration of search API requests in seconds",
		Buckets: prometheus.DefBuckets,
	})

	RateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dogtail_rate_limited_total",
		Help: "Total number of 429 responses",
	})

	RateLimitWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dogtail_rate_limit_wait_seconds",
		Help:    "Time spent waiting for the rate limit window",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	EventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dogtail_events_total",
		Help: "Total number of novel events emitted",
	})

	DuplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dogtail_duplicates_total",
		Help: "Total number of events dropped as already seen",
	})

	// Output writes by result ("ok", "error")
	SinkWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dogtail_sink_writes_total",
		Help: "Total number of records written to outputs",
	}, []string{"result"})

	ActiveSinks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dogtail_active_sinks",
		Help: "Number of running output actors",
	})
)

// PushMetricsToGateway pushes every collector to the gateway each interval
// until ctx is cancelled. A final push is attempted on the way out.
func PushMetricsToGateway(ctx context.Context, pushgatewayUrl, jobName string, interval time.Duration) {
	if pushgatewayUrl == "" {
		logger.Logger.Debug("Pushgateway URL not set, skipping metrics push")
		return
	}

	pusher := push.New(pushgatewayUrl, jobName).
		Collector(RequestsTotal).
		Collector(RequestDuration).
		Collector(RateLimitedTotal).
		Collector(RateLimitWait).
		Collector(EventsTotal).
		Collector(DuplicatesTotal).
		Collector(SinkWritesTotal).
		Collector(ActiveSinks).
		Grouping("instance", getHostname())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := pusher.Push(); err != nil {
				logger.Logger.Error("Error pushing metrics", zap.Error(err))
			}
			return
		case <-ticker.C:
			if err := pusher.Push(); err != nil {
				logger.Logger.Error("Error pushing metrics", zap.Error(err))
			}
		}
	}
}

func getHostname() string {
	if hostname, err := os.Hostname(); err == nil {
		return hostname
	}

	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}

	if hostname := os.Getenv("HOST"); hostname != "" {
		return hostname
	}

	if data, err := os.ReadFile("/etc/hostname"); err == nil {
		return strings.TrimSpace(string(data))
	}

	return "unknown"
}

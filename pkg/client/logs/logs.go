// Copyright (c) OpenMMLab. All rights reserved.

package logs

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oliverbrowneprima/dogtail/logger"
	"github.com/oliverbrowneprima/dogtail/pkg/client/alerts"
	dterrors "github.com/oliverbrowneprima/dogtail/pkg/errors"
	"github.com/oliverbrowneprima/dogtail/pkg/prom/metrics"
	"github.com/oliverbrowneprima/dogtail/pkg/sink"
	"github.com/oliverbrowneprima/dogtail/pkg/source"
	"github.com/oliverbrowneprima/dogtail/pkg/tailer"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Summary is the outcome of one run
type Summary struct {
	RunID   string
	Events  int64
	Reports []sink.Report
	// SinkRejects counts records refused by failed outputs.
	SinkRejects int
}

// NewCmdLogs creates the logs command
func NewCmdLogs() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs <query>",
		Short: "Tail log events matching a query",
		Long: `Tail log events matching a search query, writing them to files,
stdout or NATS.

Without --from the search window follows the current time forever; with
--from a single window of --history seconds is searched and the command
exits. Credentials are read from DD_API_KEY and DD_APP_KEY.

Usage:
  dogtail logs <query> [--output-mode file|stdout|nats] [--split-key <key path>] [--from <RFC3339>]

Examples:
  dogtail logs "service:web status:error" -o stdout
  dogtail logs "service:web" -k attributes.tags.pod_name --output-dir ./pods
  dogtail logs "service:web" -t 2024-05-01T12:00:00Z -H 600 -s`,
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := LoadOptions(cmd, args)
			if err != nil {
				return err
			}
			if err := opts.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			_, err = Run(ctx, opts, cmd.OutOrStdout())
			return err
		},
	}
	addFlags(cmd)
	return cmd
}

// Run tails until the source is exhausted, ctx is cancelled or polling
// fails. It returns an error only for fatal polling or startup failures;
// cancellation is a clean stop.
func Run(ctx context.Context, opts *Options, stdout io.Writer) (*Summary, error) {
	runID := uuid.NewString()
	log := logger.Logger.With(zap.String("run_id", runID))
	summary := &Summary{RunID: runID}

	formatter, err := opts.Formatter()
	if err != nil {
		return summary, dterrors.Config("%v", err)
	}
	windows, err := opts.Windows(time.Now)
	if err != nil {
		return summary, err
	}
	src, err := source.NewLogSource(opts.BaseURL(), opts.Query, windows, source.LogOptions{
		PageSize:     opts.PageSize,
		SeenCapacity: opts.DedupeCapacity,
		Logger:       log.Named("source"),
	})
	if err != nil {
		return summary, err
	}
	set, release, err := opts.SinkSet(stdout, log)
	if err != nil {
		return summary, err
	}
	defer release()

	pool := sink.NewConsumerPool(sink.Config{
		Set:       set,
		Formatter: formatter,
		Logger:    log.Named("sink"),
	})
	t := tailer.New(src, tailer.Config{
		APIKey:               opts.APIKey,
		AppKey:               opts.AppKey,
		Logger:               log.Named("tailer"),
		Backoff:              opts.Backoff,
		MaxRequestsPerSecond: opts.MaxRequestsPerSecond,
	})

	log.Info("Starting tail",
		zap.String("query", opts.Query),
		zap.String("api", opts.BaseURL()),
		zap.String("output_mode", opts.OutputMode),
		zap.Bool("snapshot", opts.Snapshot()),
		zap.Duration("history", opts.History),
		zap.String("backoff", opts.Backoff.String()))

	// auxiliary goroutines outlive the tailer until the pool has finished
	auxCtx, cancelAux := context.WithCancel(ctx)
	defer cancelAux()
	group, groupCtx := errgroup.WithContext(auxCtx)

	if opts.MetricsAddr != "" {
		srv := metrics.NewServer(opts.MetricsAddr)
		group.Go(func() error {
			return metrics.Serve(groupCtx, srv)
		})
	}
	if opts.PushGateway != "" {
		group.Go(func() error {
			metrics.PushMetricsToGateway(groupCtx, opts.PushGateway, "dogtail", opts.PushInterval)
			return nil
		})
	}

	queue := make(chan *fastjson.Value, tailer.QueueSize)
	var tailErr error
	tailDone := make(chan struct{})
	go func() {
		defer close(tailDone)
		tailErr = t.Run(groupCtx, queue)
	}()

	for event := range queue {
		summary.Events++
		if err := pool.Consume(groupCtx, event); err != nil {
			if dterrors.IsKind(err, dterrors.KindSink) {
				summary.SinkRejects++
			}
			// cancelled: keep draining until the tailer closes the queue
		}
	}
	<-tailDone

	summary.Reports = pool.Finish(opts.ShutdownWait)

	cancelAux()
	auxErr := group.Wait()

	// a cancelled parent is a requested stop, not a failure
	if tailErr != nil && ctx.Err() == nil && !errors.Is(tailErr, context.Canceled) {
		notify(opts, log, runID, tailErr, summary.Reports)
		return summary, tailErr
	}
	if auxErr != nil {
		log.Error("Metrics endpoint failed", zap.Error(auxErr))
		return summary, auxErr
	}

	log.Info("Tail finished",
		zap.Int64("events", summary.Events),
		zap.Int("outputs", len(summary.Reports)),
		zap.Int("sink_rejects", summary.SinkRejects))
	return summary, nil
}

// notify sends the fatal error to the alert webhook when one is configured
func notify(opts *Options, log *zap.Logger, runID string, cause error, reports []sink.Report) {
	if opts.AlertWebhook == "" {
		return
	}
	n, err := alerts.NewNotifier(opts.AlertWebhook)
	if err != nil {
		log.Warn("Alert webhook unusable", zap.Error(err))
		return
	}

	partitions := make([]string, 0, len(reports))
	for _, r := range reports {
		partitions = append(partitions, r.Key)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = n.NotifyFailure(ctx, "dogtail stopped", alerts.Failure{
		RunID:      runID,
		Query:      opts.Query,
		Kind:       dterrors.KindOf(cause).String(),
		Err:        cause,
		Partitions: partitions,
	})
	if err != nil {
		log.Warn("Failed to send alert", zap.Error(err))
		return
	}
	log.Info("Alert sent", zap.String("webhook", opts.AlertWebhook))
}

// Copyright (c) OpenMMLab. All rights reserved.

package logs

import (
	"io"
	"os"
	"strings"
	"time"

	dterrors "github.com/oliverbrowneprima/dogtail/pkg/errors"
	"github.com/oliverbrowneprima/dogtail/pkg/format"
	"github.com/oliverbrowneprima/dogtail/pkg/keypath"
	"github.com/oliverbrowneprima/dogtail/pkg/sink"
	"github.com/oliverbrowneprima/dogtail/pkg/source"
	"github.com/oliverbrowneprima/dogtail/pkg/tailer"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Output modes
const (
	ModeFile   = "file"
	ModeStdout = "stdout"
	ModeNATS   = "nats"
)

const (
	DefaultDomain = "api.datadoghq.eu"
	DefaultOutput = "output.log"

	EnvAPIKey = "DD_API_KEY"
	EnvAppKey = "DD_APP_KEY"
)

// Options is everything the logs command needs for one run
type Options struct {
	Domain string
	Query  string
	APIKey string
	AppKey string

	OutputMode        string
	SplitKey          string
	DefaultOutput     string
	OutputDir         string
	Compress          bool
	NATSURL           string
	NATSSubjectPrefix string

	FormatFile string
	Structured bool

	History time.Duration
	// From switches to snapshot mode when set
	From time.Time

	PageSize             int
	DedupeCapacity       int
	Backoff              tailer.BackoffPolicy
	MaxRequestsPerSecond float64
	ShutdownWait         time.Duration

	MetricsAddr  string
	PushGateway  string
	PushInterval time.Duration
	AlertWebhook string
}

// addFlags registers the logs flags on cmd
func addFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringP("output-mode", "o", ModeFile, "Where to write events: file, stdout or nats")
	flags.StringP("split-key", "k", "", "Key path used to split events into outputs, e.g. attributes.tags.pod_name")
	flags.StringP("default-output", "f", DefaultOutput, "Output used for events without a split key value")
	flags.String("output-dir", ".", "Directory for file outputs")
	flags.Bool("compress", false, "Write file outputs as zstd frames")
	flags.String("nats-url", "nats://127.0.0.1:4222", "NATS server for nats output mode")
	flags.String("nats-subject-prefix", "dogtail", "Subject prefix for nats output mode")
	flags.String("format-file", "", "File listing the key paths to print, one per line, or a YAML layout")
	flags.BoolP("structured", "s", false, "Print events as JSON")
	flags.IntP("history", "H", 60, "Width of the search window in seconds")
	flags.StringP("from", "t", "", "RFC3339 start time; searches one window and exits")
	flags.Int("page-size", source.DefaultPageSize, "Events requested per page")
	flags.Int("dedupe-capacity", 0, "Maximum event ids remembered for de-duplication, 0 keeps all")
	flags.String("backoff", "greedy", "Rate limit backoff: greedy or strict")
	flags.Float64("max-requests-per-second", 0, "Client-side request ceiling, 0 for none")
	flags.Duration("shutdown-wait", 5*time.Second, "How long to wait for outputs to finish on shutdown")
	flags.String("metrics-addr", "", "Serve /metrics and /health on this address")
	flags.String("push-gateway", "", "Pushgateway URL (e.g., http://localhost:9091)")
	flags.Duration("push-interval", 15*time.Second, "Metrics push interval")
	flags.String("alert-webhook", "", "Webhook notified when polling stops on an error")
}

// flag values fall back to the config file or DOGTAIL_* env when the flag
// was not given on the command line

func stringOption(cmd *cobra.Command, name, def string) string {
	if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
		return f.Value.String()
	}
	if viper.IsSet(name) {
		return viper.GetString(name)
	}
	if f := cmd.Flags().Lookup(name); f != nil {
		return f.Value.String()
	}
	return def
}

func boolOption(cmd *cobra.Command, name string) bool {
	if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
		v, _ := cmd.Flags().GetBool(name)
		return v
	}
	if viper.IsSet(name) {
		return viper.GetBool(name)
	}
	v, _ := cmd.Flags().GetBool(name)
	return v
}

func intOption(cmd *cobra.Command, name string) int {
	if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
		v, _ := cmd.Flags().GetInt(name)
		return v
	}
	if viper.IsSet(name) {
		return viper.GetInt(name)
	}
	v, _ := cmd.Flags().GetInt(name)
	return v
}

func floatOption(cmd *cobra.Command, name string) float64 {
	if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
		v, _ := cmd.Flags().GetFloat64(name)
		return v
	}
	if viper.IsSet(name) {
		return viper.GetFloat64(name)
	}
	v, _ := cmd.Flags().GetFloat64(name)
	return v
}

func durationOption(cmd *cobra.Command, name string) time.Duration {
	if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
		v, _ := cmd.Flags().GetDuration(name)
		return v
	}
	if viper.IsSet(name) {
		return viper.GetDuration(name)
	}
	v, _ := cmd.Flags().GetDuration(name)
	return v
}

// LoadOptions resolves flags, config and environment into Options. Values
// that need parsing are checked here; cross-field rules live in Validate.
func LoadOptions(cmd *cobra.Command, args []string) (*Options, error) {
	opts := &Options{
		Domain:               stringOption(cmd, "domain", DefaultDomain),
		APIKey:               os.Getenv(EnvAPIKey),
		AppKey:               os.Getenv(EnvAppKey),
		OutputMode:           strings.ToLower(stringOption(cmd, "output-mode", ModeFile)),
		SplitKey:             stringOption(cmd, "split-key", ""),
		DefaultOutput:        stringOption(cmd, "default-output", DefaultOutput),
		OutputDir:            stringOption(cmd, "output-dir", "."),
		Compress:             boolOption(cmd, "compress"),
		NATSURL:              stringOption(cmd, "nats-url", ""),
		NATSSubjectPrefix:    stringOption(cmd, "nats-subject-prefix", ""),
		FormatFile:           stringOption(cmd, "format-file", ""),
		Structured:           boolOption(cmd, "structured"),
		History:              time.Duration(intOption(cmd, "history")) * time.Second,
		PageSize:             intOption(cmd, "page-size"),
		DedupeCapacity:       intOption(cmd, "dedupe-capacity"),
		MaxRequestsPerSecond: floatOption(cmd, "max-requests-per-second"),
		ShutdownWait:         durationOption(cmd, "shutdown-wait"),
		MetricsAddr:          stringOption(cmd, "metrics-addr", ""),
		PushGateway:          stringOption(cmd, "push-gateway", ""),
		PushInterval:         durationOption(cmd, "push-interval"),
		AlertWebhook:         stringOption(cmd, "alert-webhook", ""),
	}
	if opts.Domain == "" {
		opts.Domain = DefaultDomain
	}
	if len(args) > 0 {
		opts.Query = strings.Join(args, " ")
	}

	backoff, err := tailer.ParseBackoffPolicy(stringOption(cmd, "backoff", "greedy"))
	if err != nil {
		return nil, err
	}
	opts.Backoff = backoff

	if from := stringOption(cmd, "from", ""); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return nil, dterrors.Config("invalid --from %q, want RFC3339 (e.g. 2024-05-01T12:00:00Z): %v", from, err)
		}
		opts.From = t
	}
	return opts, nil
}

// Validate rejects option combinations that cannot run
func (o *Options) Validate() error {
	if strings.TrimSpace(o.Query) == "" {
		return dterrors.Config("a query is required")
	}
	if o.APIKey == "" || o.AppKey == "" {
		return dterrors.Config("%s and %s must be set", EnvAPIKey, EnvAppKey)
	}

	switch o.OutputMode {
	case ModeFile, ModeStdout:
	case ModeNATS:
		if o.NATSURL == "" {
			return dterrors.Config("nats output mode needs --nats-url")
		}
	default:
		return dterrors.Config("unknown output mode %q, want file, stdout or nats", o.OutputMode)
	}
	if o.Compress && o.OutputMode != ModeFile {
		return dterrors.Config("--compress only applies to file output mode")
	}
	if o.SplitKey != "" && o.OutputMode != ModeStdout && o.DefaultOutput == "" {
		return dterrors.PartitionKey("split key %q needs a non-empty --default-output", o.SplitKey)
	}
	if o.OutputMode != ModeStdout && o.SplitKey == "" && o.DefaultOutput == "" {
		return dterrors.Config("--default-output cannot be empty")
	}

	if o.Structured && o.FormatFile != "" {
		return dterrors.Config("--structured and --format-file are mutually exclusive")
	}
	if o.History <= 0 {
		return dterrors.Config("--history must be positive")
	}
	if o.PageSize < 1 || o.PageSize > source.MaxPageSize {
		return dterrors.Config("--page-size must be between 1 and %d", source.MaxPageSize)
	}
	if o.DedupeCapacity < 0 {
		return dterrors.Config("--dedupe-capacity cannot be negative")
	}
	if o.MaxRequestsPerSecond < 0 {
		return dterrors.Config("--max-requests-per-second cannot be negative")
	}
	if o.ShutdownWait <= 0 {
		return dterrors.Config("--shutdown-wait must be positive")
	}
	if o.PushGateway != "" && o.PushInterval <= 0 {
		return dterrors.Config("--push-interval must be positive")
	}
	return nil
}

// BaseURL is the search API root. A bare domain gets https.
func (o *Options) BaseURL() string {
	if strings.Contains(o.Domain, "://") {
		return strings.TrimRight(o.Domain, "/")
	}
	return "https://" + strings.TrimRight(o.Domain, "/")
}

// Snapshot reports whether the run searches a single window
func (o *Options) Snapshot() bool {
	return !o.From.IsZero()
}

// Windows builds the window generator for this run
func (o *Options) Windows(now func() time.Time) (*source.Windows, error) {
	if o.Snapshot() {
		w, err := source.Snapshot(o.From, o.History, now)
		if err != nil {
			return nil, dterrors.Config("%v", err)
		}
		return w, nil
	}
	return source.Follow(o.History, now), nil
}

// Formatter builds the event formatter for this run
func (o *Options) Formatter() (format.Formatter, error) {
	switch {
	case o.Structured:
		return format.Structured(), nil
	case o.FormatFile != "":
		return format.LoadFile(o.FormatFile)
	default:
		return format.Default(), nil
	}
}

// Partitioner derives partition keys from the split key and default output
func (o *Options) Partitioner() (sink.Partitioner, error) {
	if o.SplitKey == "" {
		return sink.Fixed(o.DefaultOutput), nil
	}
	return sink.ByKey(keypath.Parse(o.SplitKey), o.DefaultOutput)
}

// SinkSet opens the output backend. The returned func releases it and must
// be called after the consumer pool has finished.
func (o *Options) SinkSet(stdout io.Writer, logger *zap.Logger) (sink.SinkSet, func(), error) {
	noop := func() {}
	if o.OutputMode == ModeStdout {
		if o.SplitKey != "" {
			logger.Warn("Split key has no effect in stdout mode", zap.String("split_key", o.SplitKey))
		}
		return sink.NewStdoutSet(stdout), noop, nil
	}

	partitioner, err := o.Partitioner()
	if err != nil {
		return nil, noop, err
	}

	switch o.OutputMode {
	case ModeNATS:
		nc, err := sink.ConnectNATS(o.NATSURL, logger)
		if err != nil {
			return nil, noop, err
		}
		release := func() {
			if err := nc.Flush(); err != nil {
				logger.Warn("Failed to flush NATS connection", zap.Error(err))
			}
			nc.Close()
		}
		return sink.NewNATSSet(partitioner, nc, o.NATSSubjectPrefix), release, nil
	default:
		return sink.NewFileSet(partitioner, o.OutputDir, o.Compress), noop, nil
	}
}

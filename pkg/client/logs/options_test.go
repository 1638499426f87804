// Copyright (c) OpenMMLab. All rights reserved.

package logs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	dterrors "github.com/oliverbrowneprima/dogtail/pkg/errors"
	"github.com/oliverbrowneprima/dogtail/pkg/tailer"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fastjson"
	"go.uber.org/zap/zaptest"
)

// newParsedCmd emulates the root command's inherited --domain flag
func newParsedCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	cmd := NewCmdLogs()
	cmd.Flags().StringP("domain", "d", DefaultDomain, "")
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func validOptions() *Options {
	return &Options{
		Domain:        DefaultDomain,
		Query:         "service:web",
		APIKey:        "api",
		AppKey:        "app",
		OutputMode:    ModeFile,
		DefaultOutput: DefaultOutput,
		OutputDir:     ".",
		History:       time.Minute,
		PageSize:      1000,
		ShutdownWait:  5 * time.Second,
		PushInterval:  15 * time.Second,
		NATSURL:       "nats://127.0.0.1:4222",
	}
}

func TestLoadOptions_Defaults(t *testing.T) {
	t.Setenv(EnvAPIKey, "api")
	t.Setenv(EnvAppKey, "app")
	cmd := newParsedCmd(t)

	opts, err := LoadOptions(cmd, []string{"service:web", "status:error"})
	require.NoError(t, err)

	assert.Equal(t, DefaultDomain, opts.Domain)
	assert.Equal(t, "service:web status:error", opts.Query)
	assert.Equal(t, "api", opts.APIKey)
	assert.Equal(t, "app", opts.AppKey)
	assert.Equal(t, ModeFile, opts.OutputMode)
	assert.Equal(t, DefaultOutput, opts.DefaultOutput)
	assert.Equal(t, 60*time.Second, opts.History)
	assert.Equal(t, 1000, opts.PageSize)
	assert.Equal(t, tailer.BackoffGreedy, opts.Backoff)
	assert.Equal(t, 5*time.Second, opts.ShutdownWait)
	assert.False(t, opts.Snapshot())
	assert.NoError(t, opts.Validate())
}

func TestLoadOptions_Flags(t *testing.T) {
	cmd := newParsedCmd(t,
		"-o", "STDOUT",
		"-k", "attributes.tags.pod",
		"-H", "30",
		"-t", "2024-05-01T12:00:00Z",
		"--backoff", "strict",
		"--page-size", "200",
		"--max-requests-per-second", "2.5",
		"-s",
		"-d", "api.datadoghq.com",
	)

	opts, err := LoadOptions(cmd, []string{"q"})
	require.NoError(t, err)

	assert.Equal(t, ModeStdout, opts.OutputMode)
	assert.Equal(t, "attributes.tags.pod", opts.SplitKey)
	assert.Equal(t, 30*time.Second, opts.History)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), opts.From)
	assert.True(t, opts.Snapshot())
	assert.Equal(t, tailer.BackoffStrict, opts.Backoff)
	assert.Equal(t, 200, opts.PageSize)
	assert.Equal(t, 2.5, opts.MaxRequestsPerSecond)
	assert.True(t, opts.Structured)
	assert.Equal(t, "https://api.datadoghq.com", opts.BaseURL())
}

func TestLoadOptions_ConfigFallback(t *testing.T) {
	cmd := newParsedCmd(t, "--output-dir", "/from/flag")
	viper.Set("output-dir", "/from/config")
	viper.Set("split-key", "attributes.service")
	viper.Set("history", 120)
	viper.Set("compress", true)

	opts, err := LoadOptions(cmd, []string{"q"})
	require.NoError(t, err)

	// an explicit flag wins over the config
	assert.Equal(t, "/from/flag", opts.OutputDir)
	assert.Equal(t, "attributes.service", opts.SplitKey)
	assert.Equal(t, 120*time.Second, opts.History)
	assert.True(t, opts.Compress)
}

func TestLoadOptions_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "bad from", args: []string{"-t", "yesterday"}},
		{name: "bad backoff", args: []string{"--backoff", "evil"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadOptions(newParsedCmd(t, tt.args...), []string{"q"})
			if !dterrors.IsKind(err, dterrors.KindConfig) {
				t.Errorf("LoadOptions() error = %v, want ConfigError", err)
			}
		})
	}
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(o *Options)
		wantKind dterrors.Kind
	}{
		{name: "valid", mutate: func(o *Options) {}},
		{name: "valid stdout", mutate: func(o *Options) { o.OutputMode = ModeStdout; o.DefaultOutput = "" }},
		{name: "valid nats", mutate: func(o *Options) { o.OutputMode = ModeNATS }},
		{name: "missing query", mutate: func(o *Options) { o.Query = " " }, wantKind: dterrors.KindConfig},
		{name: "missing api key", mutate: func(o *Options) { o.APIKey = "" }, wantKind: dterrors.KindConfig},
		{name: "missing app key", mutate: func(o *Options) { o.AppKey = "" }, wantKind: dterrors.KindConfig},
		{name: "unknown mode", mutate: func(o *Options) { o.OutputMode = "kafka" }, wantKind: dterrors.KindConfig},
		{name: "nats without url", mutate: func(o *Options) { o.OutputMode = ModeNATS; o.NATSURL = "" }, wantKind: dterrors.KindConfig},
		{name: "compress stdout", mutate: func(o *Options) { o.OutputMode = ModeStdout; o.Compress = true }, wantKind: dterrors.KindConfig},
		{
			name:     "split key without default",
			mutate:   func(o *Options) { o.SplitKey = "attributes.tags.pod"; o.DefaultOutput = "" },
			wantKind: dterrors.KindPartitionKey,
		},
		{name: "empty default output", mutate: func(o *Options) { o.DefaultOutput = "" }, wantKind: dterrors.KindConfig},
		{name: "structured and format file", mutate: func(o *Options) { o.Structured = true; o.FormatFile = "keys.txt" }, wantKind: dterrors.KindConfig},
		{name: "zero history", mutate: func(o *Options) { o.History = 0 }, wantKind: dterrors.KindConfig},
		{name: "page size too large", mutate: func(o *Options) { o.PageSize = 5001 }, wantKind: dterrors.KindConfig},
		{name: "negative dedupe", mutate: func(o *Options) { o.DedupeCapacity = -1 }, wantKind: dterrors.KindConfig},
		{name: "negative ceiling", mutate: func(o *Options) { o.MaxRequestsPerSecond = -1 }, wantKind: dterrors.KindConfig},
		{name: "zero shutdown wait", mutate: func(o *Options) { o.ShutdownWait = 0 }, wantKind: dterrors.KindConfig},
		{
			name:     "push gateway without interval",
			mutate:   func(o *Options) { o.PushGateway = "http://pg:9091"; o.PushInterval = 0 },
			wantKind: dterrors.KindConfig,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := validOptions()
			tt.mutate(o)
			err := o.Validate()
			if tt.wantKind == dterrors.KindUnknown {
				assert.NoError(t, err)
				return
			}
			if got := dterrors.KindOf(err); got != tt.wantKind {
				t.Errorf("Validate() kind = %v, want %v (err: %v)", got, tt.wantKind, err)
			}
		})
	}
}

func TestOptions_BaseURL(t *testing.T) {
	tests := []struct {
		domain string
		want   string
	}{
		{domain: "api.datadoghq.eu", want: "https://api.datadoghq.eu"},
		{domain: "api.datadoghq.eu/", want: "https://api.datadoghq.eu"},
		{domain: "http://127.0.0.1:8080", want: "http://127.0.0.1:8080"},
	}
	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			o := &Options{Domain: tt.domain}
			if got := o.BaseURL(); got != tt.want {
				t.Errorf("BaseURL() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOptions_Windows(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	o := validOptions()
	w, err := o.Windows(clock)
	require.NoError(t, err)
	assert.False(t, w.IsSnapshot())

	o.From = now.Add(-time.Hour)
	w, err = o.Windows(clock)
	require.NoError(t, err)
	assert.True(t, w.IsSnapshot())

	o.From = now.Add(time.Hour)
	_, err = o.Windows(clock)
	assert.True(t, dterrors.IsKind(err, dterrors.KindConfig))
}

func TestOptions_Formatter(t *testing.T) {
	record := fastjson.MustParse(`{"id":"1","attributes":{"timestamp":"t","status":"info","message":"m"}}`)

	o := validOptions()
	f, err := o.Formatter()
	require.NoError(t, err)
	assert.Equal(t, "t | info | m", f.Format(record))

	o.Structured = true
	f, err = o.Formatter()
	require.NoError(t, err)
	assert.True(t, f.IsStructured())

	path := filepath.Join(t.TempDir(), "keys.txt")
	require.NoError(t, os.WriteFile(path, []byte("id\nattributes.message\n"), 0644))
	o.Structured = false
	o.FormatFile = path
	f, err = o.Formatter()
	require.NoError(t, err)
	assert.Equal(t, "1 | m", f.Format(record))
}

func TestOptions_SinkSet(t *testing.T) {
	record := fastjson.MustParse(`{"id":"1","attributes":{"tags":{"pod":"web-1"}}}`)
	logger := zaptest.NewLogger(t)

	tests := []struct {
		name    string
		mutate  func(o *Options)
		wantKey string
	}{
		{name: "file single", mutate: func(o *Options) {}, wantKey: DefaultOutput},
		{name: "file split", mutate: func(o *Options) { o.SplitKey = "attributes.tags.pod" }, wantKey: "web-1"},
		{name: "stdout ignores split", mutate: func(o *Options) { o.OutputMode = ModeStdout; o.SplitKey = "attributes.tags.pod" }, wantKey: "stdout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := validOptions()
			o.OutputDir = t.TempDir()
			tt.mutate(o)

			set, release, err := o.SinkSet(nil, logger)
			require.NoError(t, err)
			defer release()
			assert.Equal(t, tt.wantKey, set.PartitionKey(record))
		})
	}
}

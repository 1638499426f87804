// Copyright (c) OpenMMLab. All rights reserved.

package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	dterrors "github.com/oliverbrowneprima/dogtail/pkg/errors"
	"github.com/oliverbrowneprima/dogtail/pkg/prom/metrics"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

const (
	// SearchPath is the log events search endpoint
	SearchPath = "/api/v2/logs/events/search"

	DefaultPageSize = 1000
	MaxPageSize     = 5000
)

type searchFilter struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Query string `json:"query"`
}

type searchPage struct {
	Limit int `json:"limit"`
}

type searchRequest struct {
	Filter searchFilter `json:"filter"`
	Page   searchPage   `json:"page"`
	Sort   string       `json:"sort"`
}

// LogOptions configures a LogSource
type LogOptions struct {
	// PageSize is the per-page limit, DefaultPageSize when zero.
	PageSize int
	// SeenCapacity bounds the seen-ID set; zero keeps every id.
	SeenCapacity int
	Logger       *zap.Logger
}

// LogSource searches log events over a sequence of windows
type LogSource struct {
	LinksPager

	baseURL  string
	query    string
	windows  *Windows
	pageSize int
	seen     SeenSet
	logger   *zap.Logger
}

// NewLogSource creates a source for query against the API at baseURL
// (scheme and host, e.g. https://api.datadoghq.eu).
func NewLogSource(baseURL, query string, windows *Windows, opts LogOptions) (*LogSource, error) {
	if windows == nil {
		return nil, dterrors.Config("log source needs a window generator")
	}
	if opts.PageSize == 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.PageSize < 1 || opts.PageSize > MaxPageSize {
		return nil, dterrors.Config("page size %d out of range 1..%d", opts.PageSize, MaxPageSize)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &LogSource{
		baseURL:  strings.TrimRight(baseURL, "/"),
		query:    query,
		windows:  windows,
		pageSize: opts.PageSize,
		seen:     NewSeenSet(opts.SeenCapacity),
		logger:   opts.Logger,
	}, nil
}

// NextRequest implements Source
func (s *LogSource) NextRequest(ctx context.Context) (*http.Request, error) {
	window, ok := s.windows.Next()
	if !ok {
		return nil, ErrExhausted
	}

	payload, err := json.Marshal(searchRequest{
		Filter: searchFilter{
			From:  window.Start.UTC().Format(time.RFC3339),
			To:    window.End.UTC().Format(time.RFC3339),
			Query: s.query,
		},
		Page: searchPage{Limit: s.pageSize},
		Sort: "timestamp",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	// bytes.Reader bodies get GetBody, so the request can be re-sent after a 429
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+SearchPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	s.logger.Debug("Searching window",
		zap.Time("from", window.Start),
		zap.Time("to", window.End))
	return req, nil
}

// ExtractResults implements Source. Tags are unpacked before the dedupe
// check, and ids are recorded as they are accepted.
func (s *LogSource) ExtractResults(body *fastjson.Value) ([]*fastjson.Value, error) {
	data := body.Get("data")
	if data == nil {
		return nil, dterrors.Schema("response has no data field")
	}
	records, err := data.Array()
	if err != nil {
		return nil, dterrors.SchemaCause(err, "response data is not an array")
	}

	// a malformed page must not leave half its ids in the seen set
	for i, record := range records {
		id := record.Get("id")
		if id == nil || id.Type() != fastjson.TypeString {
			return nil, dterrors.Schema("data[%d] has no string id", i)
		}
	}

	// values built by the arena must outlive this call, so no reuse
	var arena fastjson.Arena
	novel := make([]*fastjson.Value, 0, len(records))
	for _, record := range records {
		unpackTags(record, &arena)

		if !s.seen.Add(string(record.GetStringBytes("id"))) {
			metrics.DuplicatesTotal.Inc()
			continue
		}
		novel = append(novel, record)
	}

	s.logger.Debug("Extracted results",
		zap.Int("returned", len(records)),
		zap.Int("novel", len(novel)),
		zap.Int("seen", s.seen.Len()))
	return novel, nil
}

// PageSize implements Source
func (s *LogSource) PageSize() int {
	return s.pageSize
}

// Copyright (c) OpenMMLab. All rights reserved.

package source

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	dterrors "github.com/oliverbrowneprima/dogtail/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fastjson"
	"go.uber.org/zap/zaptest"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func ids(records []*fastjson.Value) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, string(r.GetStringBytes("id")))
	}
	return out
}

func newTestSource(t *testing.T, opts LogOptions) *LogSource {
	t.Helper()
	opts.Logger = zaptest.NewLogger(t)
	src, err := NewLogSource("https://api.example.com/", "service:web", Follow(time.Minute, nil), opts)
	require.NoError(t, err)
	return src
}

func TestWindows_Follow(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	w := Follow(60*time.Second, clock)

	first, ok := w.Next()
	require.True(t, ok)
	assert.Equal(t, now.Add(-60*time.Second), first.Start)
	assert.Equal(t, now, first.End)

	now = now.Add(30 * time.Second)
	second, ok := w.Next()
	require.True(t, ok)
	assert.Equal(t, first.End.Add(-OverlapMargin), second.Start)
	assert.Equal(t, now, second.End)

	// consecutive windows always overlap by the margin
	assert.True(t, second.Start.Before(first.End))
	assert.False(t, w.IsSnapshot())
}

func TestWindows_Snapshot(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	from := now.Add(-time.Hour)

	w, err := Snapshot(from, 60*time.Second, fixedClock(now))
	require.NoError(t, err)
	assert.True(t, w.IsSnapshot())

	win, ok := w.Next()
	require.True(t, ok)
	assert.Equal(t, Window{Start: from, End: from.Add(60 * time.Second)}, win)

	_, ok = w.Next()
	assert.False(t, ok)
	_, ok = w.Next()
	assert.False(t, ok)
}

func TestWindows_SnapshotInFuture(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		from time.Time
	}{
		{name: "equal to now", from: now},
		{name: "after now", from: now.Add(time.Minute)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Snapshot(tt.from, time.Minute, fixedClock(now))
			if !errors.Is(err, ErrInvalidWindow) {
				t.Errorf("Snapshot() error = %v, want %v", err, ErrInvalidWindow)
			}
		})
	}
}

func TestNewLogSource_PageSize(t *testing.T) {
	tests := []struct {
		name     string
		pageSize int
		want     int
		wantErr  bool
	}{
		{name: "default", pageSize: 0, want: DefaultPageSize},
		{name: "custom", pageSize: 250, want: 250},
		{name: "max", pageSize: MaxPageSize, want: MaxPageSize},
		{name: "negative", pageSize: -1, wantErr: true},
		{name: "too large", pageSize: MaxPageSize + 1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := NewLogSource("https://api.example.com", "q", Follow(time.Minute, nil), LogOptions{PageSize: tt.pageSize})
			if tt.wantErr {
				assert.True(t, dterrors.IsKind(err, dterrors.KindConfig))
				return
			}
			require.NoError(t, err)
			if got := src.PageSize(); got != tt.want {
				t.Errorf("PageSize() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLogSource_NextRequest(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	w, err := Snapshot(now.Add(-time.Hour), 2*time.Minute, fixedClock(now))
	require.NoError(t, err)
	src, err := NewLogSource("https://api.example.com/", "service:web status:error", w, LogOptions{PageSize: 10})
	require.NoError(t, err)

	req, err := src.NextRequest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "https://api.example.com/api/v2/logs/events/search", req.URL.String())
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	require.NotNil(t, req.GetBody)

	var body searchRequest
	raw, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "2024-05-01T11:00:00Z", body.Filter.From)
	assert.Equal(t, "2024-05-01T11:02:00Z", body.Filter.To)
	assert.Equal(t, "service:web status:error", body.Filter.Query)
	assert.Equal(t, 10, body.Page.Limit)
	assert.Equal(t, "timestamp", body.Sort)

	// the body can be replayed
	replay, err := req.GetBody()
	require.NoError(t, err)
	again, err := io.ReadAll(replay)
	require.NoError(t, err)
	assert.Equal(t, raw, again)

	_, err = src.NextRequest(context.Background())
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestLogSource_ExtractResults_Dedup(t *testing.T) {
	src := newTestSource(t, LogOptions{})

	page1 := fastjson.MustParse(`{"data":[{"id":"1"},{"id":"2"}]}`)
	page2 := fastjson.MustParse(`{"data":[{"id":"2"},{"id":"3"}]}`)

	got, err := src.ExtractResults(page1)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids(got))

	got, err = src.ExtractResults(page2)
	require.NoError(t, err)
	assert.Equal(t, []string{"3"}, ids(got))

	// feeding the same body again yields nothing
	got, err = src.ExtractResults(fastjson.MustParse(`{"data":[{"id":"1"},{"id":"2"},{"id":"3"}]}`))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLogSource_ExtractResults_DuplicateWithinPage(t *testing.T) {
	src := newTestSource(t, LogOptions{})

	got, err := src.ExtractResults(fastjson.MustParse(`{"data":[{"id":"a"},{"id":"a"},{"id":"b"}]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(got))
}

func TestLogSource_ExtractResults_Schema(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing data", body: `{"meta":{}}`},
		{name: "data not array", body: `{"data":{"id":"1"}}`},
		{name: "missing id", body: `{"data":[{"id":"1"},{"attributes":{}}]}`},
		{name: "numeric id", body: `{"data":[{"id":7}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newTestSource(t, LogOptions{})
			_, err := src.ExtractResults(fastjson.MustParse(tt.body))
			if !dterrors.IsKind(err, dterrors.KindSchema) {
				t.Errorf("ExtractResults() error = %v, want SchemaError", err)
			}
		})
	}
}

func TestLogSource_ExtractResults_SchemaLeavesSeenUntouched(t *testing.T) {
	src := newTestSource(t, LogOptions{})

	_, err := src.ExtractResults(fastjson.MustParse(`{"data":[{"id":"1"},{"nope":true}]}`))
	require.Error(t, err)

	got, err := src.ExtractResults(fastjson.MustParse(`{"data":[{"id":"1"}]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids(got))
}

func TestLogSource_ExtractResults_Empty(t *testing.T) {
	src := newTestSource(t, LogOptions{})
	got, err := src.ExtractResults(fastjson.MustParse(`{"data":[]}`))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUnpackTags(t *testing.T) {
	tests := []struct {
		name   string
		record string
		want   string
	}{
		{
			name:   "key value pairs",
			record: `{"id":"1","attributes":{"tags":["pod:a","env:prod"]}}`,
			want:   `{"id":"1","attributes":{"tags":{"pod":"a","env":"prod"}}}`,
		},
		{
			name:   "tag without colon maps to empty",
			record: `{"id":"1","attributes":{"tags":["solo"]}}`,
			want:   `{"id":"1","attributes":{"tags":{"solo":""}}}`,
		},
		{
			name:   "value keeps further colons",
			record: `{"id":"1","attributes":{"tags":["url:http://x:80"]}}`,
			want:   `{"id":"1","attributes":{"tags":{"url":"http://x:80"}}}`,
		},
		{
			name:   "non-string tags skipped",
			record: `{"id":"1","attributes":{"tags":["a:b",3]}}`,
			want:   `{"id":"1","attributes":{"tags":{"a":"b"}}}`,
		},
		{
			name:   "no tags untouched",
			record: `{"id":"1","attributes":{"message":"m"}}`,
			want:   `{"id":"1","attributes":{"message":"m"}}`,
		},
		{
			name:   "already a map untouched",
			record: `{"id":"1","attributes":{"tags":{"pod":"a"}}}`,
			want:   `{"id":"1","attributes":{"tags":{"pod":"a"}}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var arena fastjson.Arena
			v := fastjson.MustParse(tt.record)
			unpackTags(v, &arena)
			if got := v.String(); got != tt.want {
				t.Errorf("unpackTags() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestLogSource_ExtractResults_UnpacksTags(t *testing.T) {
	src := newTestSource(t, LogOptions{})
	got, err := src.ExtractResults(fastjson.MustParse(`{"data":[{"id":"1","attributes":{"tags":["pod_name:web-1"]}}]}`))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "web-1", string(got[0].GetStringBytes("attributes", "tags", "pod_name")))
}

func TestLinksPager_Continuation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{name: "next link", body: `{"links":{"next":"https://api/x?cursor=abc"}}`, want: "https://api/x?cursor=abc"},
		{name: "no links", body: `{"data":[]}`, want: ""},
		{name: "links without next", body: `{"links":{}}`, want: ""},
		{name: "null next", body: `{"links":{"next":null}}`, want: ""},
		{name: "numeric next", body: `{"links":{"next":5}}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LinksPager{}.Continuation(fastjson.MustParse(tt.body))
			if tt.wantErr {
				assert.True(t, dterrors.IsKind(err, dterrors.KindSchema))
				return
			}
			require.NoError(t, err)
			if got != tt.want {
				t.Errorf("Continuation() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSeenSet(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
	}{
		{name: "unbounded", capacity: 0},
		{name: "lru", capacity: 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSeenSet(tt.capacity)
			assert.True(t, s.Add("a"))
			assert.False(t, s.Add("a"))
			assert.True(t, s.Add("b"))
			assert.Equal(t, 2, s.Len())
		})
	}
}

func TestSeenSet_LRUEvicts(t *testing.T) {
	s := NewSeenSet(2)
	s.Add("a")
	s.Add("b")
	s.Add("a") // touch a, so b is the oldest
	s.Add("c")

	assert.Equal(t, 2, s.Len())
	assert.False(t, s.Add("a"))
	assert.True(t, s.Add("b"))
}

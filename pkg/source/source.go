// Copyright (c) OpenMMLab. All rights reserved.

// Package source turns search windows into API requests and API responses
// into de-duplicated event records.
package source

import (
	"context"
	"errors"
	"net/http"

	dterrors "github.com/oliverbrowneprima/dogtail/pkg/errors"

	"github.com/valyala/fastjson"
)

// ErrExhausted is returned by NextRequest once a source has no further
// windows to search.
var ErrExhausted = errors.New("source exhausted")

// Source is the contract the tailer polls
type Source interface {
	// NextRequest builds the first-page request for the next window.
	NextRequest(ctx context.Context) (*http.Request, error)
	// ExtractResults returns the novel records of a response body.
	ExtractResults(body *fastjson.Value) ([]*fastjson.Value, error)
	// Continuation returns the next page URL, or "" when there is none.
	Continuation(body *fastjson.Value) (string, error)
	PageSize() int
}

// LinksPager reads continuation URLs from links.next. Embed it to get the
// default Continuation.
type LinksPager struct{}

// Continuation implements Source
func (LinksPager) Continuation(body *fastjson.Value) (string, error) {
	next := body.Get("links", "next")
	if next == nil || next.Type() == fastjson.TypeNull {
		return "", nil
	}
	if next.Type() != fastjson.TypeString {
		return "", dterrors.Schema("links.next is %s, want string", next.Type())
	}
	return string(next.GetStringBytes()), nil
}

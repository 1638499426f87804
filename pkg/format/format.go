// Copyright (c) OpenMMLab. All rights reserved.

// Package format renders event records as output lines.
package format

import (
	"strings"

	"github.com/oliverbrowneprima/dogtail/pkg/keypath"

	"github.com/valyala/fastjson"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	// KeyNotFound is rendered in place of a path missing from the record
	KeyNotFound = "KEY_NOT_FOUND"

	DefaultSeparator = " | "
)

// DefaultKeys are the projected paths when no format file is given
var DefaultKeys = []string{
	"attributes.timestamp",
	"attributes.status",
	"attributes.message",
}

// Formatter is an immutable rendering policy, safe to share between sinks.
type Formatter struct {
	structured bool
	sep        string
	keys       []keypath.KeyPath
}

// Structured dumps the whole record as compact JSON
func Structured() Formatter {
	return Formatter{structured: true}
}

// Text projects keys from the record, joined by sep
func Text(sep string, keys []keypath.KeyPath) Formatter {
	k := make([]keypath.KeyPath, len(keys))
	copy(k, keys)
	return Formatter{sep: sep, keys: k}
}

// Default is "timestamp | status | message"
func Default() Formatter {
	return Text(DefaultSeparator, keypath.ParseAll(DefaultKeys))
}

func (f Formatter) IsStructured() bool {
	return f.structured
}

// Format renders one record without a trailing newline
func (f Formatter) Format(event *fastjson.Value) string {
	if f.structured {
		return formatRaw(event)
	}
	return f.formatText(event)
}

// AppendLine appends the rendered record and a newline to dst
func (f Formatter) AppendLine(dst []byte, event *fastjson.Value) []byte {
	if f.structured && event != nil {
		dst = event.MarshalTo(dst)
	} else {
		dst = append(dst, f.Format(event)...)
	}
	return append(dst, '\n')
}

func formatRaw(event *fastjson.Value) string {
	if event == nil {
		return "null"
	}
	return event.String()
}

func (f Formatter) formatText(event *fastjson.Value) string {
	var b strings.Builder
	b.Grow(256)
	for i, key := range f.keys {
		if i > 0 {
			b.WriteString(f.sep)
		}
		b.WriteString(renderValue(key.Get(event)))
	}
	return b.String()
}

// Strings are emitted literally, everything else as its JSON representation.
func renderValue(v *fastjson.Value) string {
	if v == nil {
		return KeyNotFound
	}
	if v.Type() == fastjson.TypeString {
		return cleanUTF8(string(v.GetStringBytes()))
	}
	return v.String()
}

// cleanUTF8 replaces invalid UTF-8 sequences so a bad message cannot corrupt
// an output file.
func cleanUTF8(s string) string {
	utf8bom := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	result, _, err := transform.String(utf8bom, s)
	if err != nil {
		return s
	}
	return result
}

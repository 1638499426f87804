// Copyright (c) OpenMMLab. All rights reserved.

// Package keypath implements dotted-path lookups over event records, e.g.
// "attributes.tags.pod_name". It is close to JSON pointer but uses dots and
// has no escaping.
package keypath

import (
	"strings"

	"github.com/valyala/fastjson"
)

// KeyPath is an immutable sequence of path segments
type KeyPath struct {
	raw      string
	segments []string
}

// Parse splits s on '.' into a KeyPath
func Parse(s string) KeyPath {
	return KeyPath{raw: s, segments: strings.Split(s, ".")}
}

// ParseAll parses every entry of paths
func ParseAll(paths []string) []KeyPath {
	keys := make([]KeyPath, 0, len(paths))
	for _, p := range paths {
		keys = append(keys, Parse(p))
	}
	return keys
}

// Get walks the path through objects and arrays (numeric segments index
// arrays). It returns nil when any segment is absent.
func (k KeyPath) Get(v *fastjson.Value) *fastjson.Value {
	if v == nil || len(k.segments) == 0 {
		return nil
	}
	return v.Get(k.segments...)
}

// GetString returns the value at the path if it exists and is a string
func (k KeyPath) GetString(v *fastjson.Value) (string, bool) {
	found := k.Get(v)
	if found == nil || found.Type() != fastjson.TypeString {
		return "", false
	}
	return string(found.GetStringBytes()), true
}

// Segments returns a copy of the path segments
func (k KeyPath) Segments() []string {
	out := make([]string, len(k.segments))
	copy(out, k.segments)
	return out
}

func (k KeyPath) String() string {
	return k.raw
}

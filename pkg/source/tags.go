// Copyright (c) OpenMMLab. All rights reserved.

package source

import (
	"strings"

	"github.com/valyala/fastjson"
)

// unpackTags rewrites attributes.tags from ["k:v", ...] into {"k": "v"} in
// place, so tags can be addressed by key path. Tags are split on the first
// ':' only; a tag without one maps to "". Records whose tags are not an
// array are left alone.
func unpackTags(event *fastjson.Value, arena *fastjson.Arena) {
	attrs := event.Get("attributes")
	if attrs == nil || attrs.Type() != fastjson.TypeObject {
		return
	}
	tags := attrs.Get("tags")
	if tags == nil || tags.Type() != fastjson.TypeArray {
		return
	}

	unpacked := arena.NewObject()
	for _, tag := range tags.GetArray() {
		if tag.Type() != fastjson.TypeString {
			continue
		}
		key, value, _ := strings.Cut(string(tag.GetStringBytes()), ":")
		unpacked.Set(key, arena.NewString(value))
	}
	attrs.Set("tags", unpacked)
}

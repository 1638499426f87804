// Copyright (c) OpenMMLab. All rights reserved.

package sink

import (
	dterrors "github.com/oliverbrowneprima/dogtail/pkg/errors"
	"github.com/oliverbrowneprima/dogtail/pkg/keypath"

	"github.com/valyala/fastjson"
)

// StdoutKey is the single partition used in stdout mode
const StdoutKey = "stdout"

// Partitioner derives partition keys. Embed it in a SinkSet.
type Partitioner struct {
	key      *keypath.KeyPath
	fallback string
}

// ByKey partitions on the string found at key. Records where it is absent,
// empty or not a string go to fallback, which therefore must not be empty.
func ByKey(key keypath.KeyPath, fallback string) (Partitioner, error) {
	if fallback == "" {
		return Partitioner{}, dterrors.PartitionKey("split key %q needs a non-empty default output", key.String())
	}
	return Partitioner{key: &key, fallback: fallback}, nil
}

// Fixed sends every record to the same partition
func Fixed(key string) Partitioner {
	return Partitioner{fallback: key}
}

// PartitionKey implements SinkSet
func (p Partitioner) PartitionKey(event *fastjson.Value) string {
	if p.key == nil {
		return p.fallback
	}
	if s, ok := p.key.GetString(event); ok && s != "" {
		return s
	}
	return p.fallback
}

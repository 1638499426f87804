// Copyright (c) OpenMMLab. All rights reserved.

package sink

import (
	"io"
	"os"
)

// StdoutSet sends every record to a single writer, os.Stdout by default
type StdoutSet struct {
	Partitioner

	w io.Writer
}

// NewStdoutSet writes to w, or os.Stdout when w is nil
func NewStdoutSet(w io.Writer) *StdoutSet {
	if w == nil {
		w = os.Stdout
	}
	return &StdoutSet{Partitioner: Fixed(StdoutKey), w: w}
}

// Open implements SinkSet
func (s *StdoutSet) Open(string) (Output, error) {
	return &writerOutput{w: s.w}, nil
}

// writerOutput does not own w, so Close leaves it open
type writerOutput struct {
	w io.Writer
}

func (o *writerOutput) WriteRecord(line []byte) error {
	_, err := o.w.Write(line)
	return err
}

func (o *writerOutput) Close() error {
	return nil
}

// Copyright (c) OpenMMLab. All rights reserved.

package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// ZstdSuffix is appended to file names when compression is on
const ZstdSuffix = ".zst"

// FileSet writes each partition to an append-only file named after its key
type FileSet struct {
	Partitioner

	dir      string
	compress bool
}

// NewFileSet creates file outputs under dir. With compress, each run
// appends one zstd frame per file.
func NewFileSet(p Partitioner, dir string, compress bool) *FileSet {
	if dir == "" {
		dir = "."
	}
	return &FileSet{Partitioner: p, dir: dir, compress: compress}
}

// Path returns the file a partition key is written to
func (s *FileSet) Path(key string) string {
	name := fileName(key)
	if s.compress {
		name += ZstdSuffix
	}
	return filepath.Join(s.dir, name)
}

// Open implements SinkSet
func (s *FileSet) Open(key string) (Output, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	path := s.Path(key)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	if !s.compress {
		return &fileOutput{file: file}, nil
	}

	enc, err := zstd.NewWriter(file, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	return &zstdOutput{file: file, enc: enc}, nil
}

// fileName keeps partition keys inside the output directory
func fileName(key string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, key)
	if name == "" || name == "." || name == ".." {
		name = "_" + name
	}
	return name
}

type fileOutput struct {
	file *os.File
}

func (o *fileOutput) WriteRecord(line []byte) error {
	_, err := o.file.Write(line)
	return err
}

func (o *fileOutput) Close() error {
	return o.file.Close()
}

type zstdOutput struct {
	file *os.File
	enc  *zstd.Encoder
}

func (o *zstdOutput) WriteRecord(line []byte) error {
	if _, err := o.enc.Write(line); err != nil {
		return err
	}
	return o.enc.Flush()
}

func (o *zstdOutput) Close() error {
	encErr := o.enc.Close()
	if err := o.file.Close(); err != nil {
		return err
	}
	return encErr
}

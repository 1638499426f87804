// Copyright (c) OpenMMLab. All rights reserved.

package format

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oliverbrowneprima/dogtail/pkg/keypath"

	"gopkg.in/yaml.v3"
)

// Layout is the YAML form of a format file
type Layout struct {
	Separator string   `yaml:"separator"`
	Keys      []string `yaml:"keys"`
}

// LoadFile reads a text format from path.
//
// Files ending in .yaml or .yml are decoded as a Layout. Anything else is read
// as one key path per line, joined with DefaultSeparator.
//
// Returns:
//   - Formatter: the text formatter.
//   - error: if the file cannot be read or lists no keys.
func LoadFile(path string) (Formatter, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return loadYAML(path)
	default:
		return loadKeyList(path)
	}
}

func loadKeyList(path string) (Formatter, error) {
	file, err := os.Open(path)
	if err != nil {
		return Formatter{}, fmt.Errorf("unable to open format file: %w", err)
	}
	defer file.Close()

	var keys []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		keys = append(keys, line)
	}
	if err := scanner.Err(); err != nil {
		return Formatter{}, fmt.Errorf("error reading format file: %w", err)
	}
	if len(keys) == 0 {
		return Formatter{}, fmt.Errorf("format file %s lists no keys", path)
	}

	return Text(DefaultSeparator, keypath.ParseAll(keys)), nil
}

func loadYAML(path string) (Formatter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Formatter{}, fmt.Errorf("unable to open format file: %w", err)
	}

	var layout Layout
	if err := yaml.Unmarshal(data, &layout); err != nil {
		return Formatter{}, fmt.Errorf("invalid format file %s: %w", path, err)
	}
	if len(layout.Keys) == 0 {
		return Formatter{}, fmt.Errorf("format file %s lists no keys", path)
	}
	if layout.Separator == "" {
		layout.Separator = DefaultSeparator
	}

	return Text(layout.Separator, keypath.ParseAll(layout.Keys)), nil
}

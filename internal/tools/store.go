package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var _ Store = (*FileStore)(nil)

// FileStore persists tool records in a single file. Files ending in ".json"
// are JSON (written with two-space indentation); anything else is YAML.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path. The file need not exist yet.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) isJSON() bool {
	return strings.EqualFold(filepath.Ext(s.path), ".json")
}

// Load implements [Store]. A missing file yields an error wrapping
// [os.ErrNotExist].
func (s *FileStore) Load(_ context.Context) ([]Spec, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("tools: read %q: %w", s.path, err)
	}
	var specs []Spec
	if s.isJSON() {
		err = json.Unmarshal(data, &specs)
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		err = dec.Decode(&specs)
	}
	if err != nil {
		return nil, fmt.Errorf("tools: parse %q: %w", s.path, err)
	}
	return specs, nil
}

// Save implements [Store]. The file is replaced atomically through a
// temporary sibling and a rename.
func (s *FileStore) Save(_ context.Context, specs []Spec) error {
	if specs == nil {
		specs = []Spec{}
	}
	var (
		data []byte
		err  error
	)
	if s.isJSON() {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		err = enc.Encode(specs)
		data = buf.Bytes()
	} else {
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		err = enc.Encode(specs)
		if cerr := enc.Close(); err == nil {
			err = cerr
		}
		data = buf.Bytes()
	}
	if err != nil {
		return fmt.Errorf("tools: encode %q: %w", s.path, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("tools: create %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tools-*.tmp")
	if err != nil {
		return fmt.Errorf("tools: write %q: %w", s.path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tools: write %q: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tools: write %q: %w", s.path, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("tools: write %q: %w", s.path, err)
	}
	return nil
}

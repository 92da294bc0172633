package history

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

var _ Store = (*FileStore)(nil)

// FileStore appends exchanges and feedback as JSON lines to two files:
// the configured path and path + ".feedback". Thread-safe.
//
// Reads scan the whole file, which is fine for a single household
// assistant. Use [PostgresStore] for anything larger.
type FileStore struct {
	mu           sync.Mutex
	path         string
	feedbackPath string
}

// NewFileStore creates a FileStore for path. Files are created on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, feedbackPath: path + ".feedback"}
}

// SaveExchange implements [Store].
func (fs *FileStore) SaveExchange(_ context.Context, e Exchange) error {
	return fs.appendLine(fs.path, e)
}

// SaveFeedback implements [Store].
func (fs *FileStore) SaveFeedback(_ context.Context, f Feedback) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if f.Time.IsZero() {
		f.Time = time.Now().UTC()
	}
	return fs.appendLine(fs.feedbackPath, f)
}

// Exchanges implements [Store].
func (fs *FileStore) Exchanges(ctx context.Context, since time.Time) ([]Exchange, error) {
	return readLines(ctx, fs, fs.path, func(e Exchange) bool { return !e.Time.Before(since) })
}

// Feedback implements [Store].
func (fs *FileStore) Feedback(ctx context.Context, since time.Time) ([]Feedback, error) {
	return readLines(ctx, fs, fs.feedbackPath, func(f Feedback) bool { return !f.Time.Before(since) })
}

func (fs *FileStore) appendLine(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("history: marshal: %w", err)
	}
	data = append(data, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("history: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("history: write: %w", err)
	}
	return nil
}

// readLines decodes path line by line. Corrupt lines are logged and skipped
// so one torn write does not hide the rest of the log.
func readLines[T any](ctx context.Context, s *FileStore, path string, keep func(T) bool) ([]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: open file: %w", err)
	}
	defer f.Close()

	var out []T
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for n := 1; sc.Scan(); n++ {
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if len(sc.Bytes()) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			logDropped(path, n, err)
			continue
		}
		if keep(v) {
			out = append(out, v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("history: read %s: %w", path, err)
	}
	return out, nil
}

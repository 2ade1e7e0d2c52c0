package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"depsync/internal/data"
)

// EmitSink writes additional structured outputs.
//
// Formats:
//   - json: writes the run report as one JSON document on Close
//   - ndjson: streams Event values (one JSON object per line)
type EmitSink struct {
	writer io.Writer
	format string // "json" | "ndjson"
	mu     sync.Mutex
	report *data.RunReport
}

func NewEmitSink(w io.Writer, format string) (*EmitSink, error) {
	if w == nil {
		return nil, fmt.Errorf("emit sink writer must not be nil")
	}
	if format != "json" && format != "ndjson" {
		return nil, fmt.Errorf("unsupported emit format: %s", format)
	}
	return &EmitSink{writer: w, format: format}, nil
}

func (s *EmitSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.format == "json" {
		if r, ok := v.(*data.RunReport); ok {
			s.report = r
		}
		return nil
	}
	handled, err := encodeStreamed(json.NewEncoder(s.writer), v)
	if err != nil || !handled {
		return err
	}
	return flushIfPossible(s.writer)
}

func (s *EmitSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.format != "json" || s.report == nil {
		return nil
	}
	encoder := json.NewEncoder(s.writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(s.report); err != nil {
		return err
	}
	return flushIfPossible(s.writer)
}

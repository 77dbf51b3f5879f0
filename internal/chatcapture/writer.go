// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package chatcapture

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// resumeScanWindow bounds how far back into an existing archive resume
// scanning looks for the last complete message.
const resumeScanWindow = 5 * 1024

// Writer appends Messages to a JSON array file using a seek-to-end,
// rewind-2-bytes, splice technique: the file is always a complete,
// parseable JSON array between writes, so a concurrent reader (or a
// process that crashes mid-write) never observes a torn document from
// any prior successful append. Grounded on writer.py's
// JSONWriter._actual_write.
type Writer struct {
	f *os.File
}

// NewWriter opens path for incremental writing. If resume is false any
// existing file is truncated; if true, existing array contents are
// preserved and new messages are appended after them.
func NewWriter(path string, resume bool) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("chatcapture: create archive dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("chatcapture: open archive: %w", err)
	}
	if !resume {
		if err := f.Truncate(0); err != nil {
			f.Close()
			return nil, fmt.Errorf("chatcapture: truncate archive: %w", err)
		}
	}
	return &Writer{f: f}, nil
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	return w.f.Close()
}

// Write appends one message, keeping the file a well-formed JSON array
// at every point a concurrent reader might open it.
func (w *Writer) Write(msg Message) error {
	encoded, err := json.MarshalIndent(msg, "  ", "  ")
	if err != nil {
		return fmt.Errorf("chatcapture: marshal message: %w", err)
	}

	info, err := w.f.Stat()
	if err != nil {
		return fmt.Errorf("chatcapture: stat archive: %w", err)
	}

	if info.Size() == 0 {
		if _, err := w.f.WriteString("[\n  " + string(encoded) + "\n]"); err != nil {
			return fmt.Errorf("chatcapture: write first message: %w", err)
		}
		return w.f.Sync()
	}

	if _, err := w.f.Seek(-2, io.SeekEnd); err != nil {
		return fmt.Errorf("chatcapture: seek archive: %w", err)
	}
	if _, err := w.f.WriteString(",\n  " + string(encoded) + "\n]"); err != nil {
		return fmt.Errorf("chatcapture: append message: %w", err)
	}
	return w.f.Sync()
}

// resumeOffset backtracks through the final resumeScanWindow bytes of
// an existing archive, one byte at a time, closing each candidate
// prefix with "]" and attempting to parse it as a JSON array. The
// longest prefix that parses is the last point at which a full write
// had completed; its final message's timestamp is the resume point.
// This tolerates a file left mid-splice by a crash, which the plain
// "parse the whole file" path cannot.
func resumeOffset(path string) (float64, bool) {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return 0, false
	}

	start := 0
	if len(data) > resumeScanWindow {
		start = len(data) - resumeScanWindow
	}

	for i := len(data); i >= start; i-- {
		candidate := make([]byte, 0, i+2)
		candidate = append(candidate, data[:i]...)
		candidate = append(candidate, '\n', ']')

		var msgs []Message
		if err := json.Unmarshal(candidate, &msgs); err == nil && len(msgs) > 0 {
			return msgs[len(msgs)-1].Timestamp, true
		}
	}
	return 0, false
}

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// StreamDebugger captures the raw provider chunks of one stream under
// debug/chunks for offline inspection. All writes are best-effort; a failed
// setup degrades to a disabled debugger rather than failing the stream.
type StreamDebugger struct {
	file    *os.File
	enabled bool
}

// NewStreamDebugger opens the capture file for one stream. The context may
// carry a DebugDirContextKey suffix so every stream of one agentic loop lands
// in the same folder.
func NewStreamDebugger(ctx context.Context, provider string, enabled bool) *StreamDebugger {
	if !enabled {
		return &StreamDebugger{enabled: false}
	}

	debugDir := filepath.Join("debug", "chunks", provider)
	if val := ctx.Value(DebugDirContextKey); val != nil {
		if dirStr, ok := val.(string); ok && dirStr != "" {
			debugDir = filepath.Join("debug", "chunks", dirStr, provider)
		}
	}

	if err := os.MkdirAll(debugDir, 0755); err != nil {
		slog.Error("failed to create debug directory", "dir", debugDir, "err", err)
		return &StreamDebugger{enabled: false}
	}

	timestamp := time.Now().Format("20060102_150405")
	filename := filepath.Join(debugDir, fmt.Sprintf("%s.log", timestamp))

	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		slog.Error("failed to open debug file", "file", filename, "err", err)
		return &StreamDebugger{enabled: false}
	}

	slog.Debug("stream debug capture on", "provider", provider, "file", filename)
	return &StreamDebugger{file: f, enabled: true}
}

// Write appends one raw chunk followed by a newline.
func (d *StreamDebugger) Write(data []byte) {
	if !d.enabled || d.file == nil {
		return
	}
	if _, err := d.file.Write(data); err != nil {
		slog.Warn("failed to write debug chunk", "err", err)
	}
	d.file.WriteString("\n")
}

// WriteString appends one raw chunk string followed by a newline.
func (d *StreamDebugger) WriteString(s string) {
	if !d.enabled || d.file == nil {
		return
	}
	if _, err := d.file.WriteString(s); err != nil {
		slog.Warn("failed to write debug chunk", "err", err)
	}
	d.file.WriteString("\n")
}

// Close releases the capture file.
func (d *StreamDebugger) Close() {
	if d.file != nil {
		d.file.Close()
		d.file = nil
	}
}

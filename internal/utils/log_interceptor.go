// Package utils provides filesystem and logging helpers shared by the syftcrypt packages.
package utils

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// maxBufferSize is the maximum size of a partial line that will be buffered
	maxBufferSize = 1024 * 1024 // 1MB
)

// LogInterceptor implements io.Writer and intercepts output to add structured logging information.
// It adds a sequence number and timestamp to each line of output.
type LogInterceptor struct {
	target         io.Writer
	sequenceNumber *atomic.Uint64
	pending        bytes.Buffer
	mu             sync.Mutex
}

// NewLogInterceptor creates a new LogInterceptor that adds structured logging information to each line.
// The interceptor will write to the provided target writer, adding a sequence number and timestamp
// to each line of output.
func NewLogInterceptor(target io.Writer) *LogInterceptor {
	return &LogInterceptor{
		target:         target,
		sequenceNumber: &atomic.Uint64{},
	}
}

// writeFormattedLine writes a line with sequence number and timestamp to the target writer.
func (i *LogInterceptor) writeFormattedLine(line []byte) error {
	lineNum := i.sequenceNumber.Add(1)

	var buf bytes.Buffer
	buf.WriteString(slog.Uint64("line", lineNum).String())
	buf.WriteByte(' ')
	buf.WriteString(slog.String("time", time.Now().Format(time.RFC3339)).String())
	buf.WriteByte(' ')
	buf.Write(bytes.TrimRight(line, "\r"))
	buf.WriteByte('\n')

	_, err := i.target.Write(buf.Bytes())
	return err
}

// Write implements io.Writer. Complete lines are forwarded immediately, a trailing
// partial line is held back until the next newline or Close.
func (i *LogInterceptor) Write(p []byte) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.pending.Write(p)
	for {
		idx := bytes.IndexByte(i.pending.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := i.pending.Next(idx + 1)
		if err := i.writeFormattedLine(line[:idx]); err != nil {
			return len(p), err
		}
	}

	// never let a runaway partial line grow without bound
	if i.pending.Len() > maxBufferSize {
		if err := i.writeFormattedLine(i.pending.Bytes()); err != nil {
			return len(p), err
		}
		i.pending.Reset()
	}

	return len(p), nil
}

// Close flushes any remaining buffered data to the target writer.
func (i *LogInterceptor) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.pending.Len() == 0 {
		return nil
	}
	err := i.writeFormattedLine(i.pending.Bytes())
	i.pending.Reset()
	return err
}

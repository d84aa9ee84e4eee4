package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type StreamMode string

const (
	StreamInstant StreamMode = "instant"
	StreamSmooth  StreamMode = "smooth"
	StreamQuiet   StreamMode = "quiet"
)

// StreamWriter handles buffered chunk streaming with configurable modes.
// Instant flushes every chunk; smooth batches chunks and paces flushes
// with a rate limiter; quiet accumulates and prints nothing until Flush.
type StreamWriter struct {
	mode   StreamMode
	output io.Writer
	buffer *bufio.Writer

	mu      sync.Mutex
	batch   strings.Builder
	limiter *rate.Limiter

	accumulator strings.Builder
}

// NewStreamWriter creates a new streaming output handler.
func NewStreamWriter(mode StreamMode) *StreamWriter {
	return &StreamWriter{
		mode:    mode,
		output:  os.Stdout,
		buffer:  bufio.NewWriterSize(os.Stdout, 4096),
		limiter: rate.NewLimiter(rate.Every(50*time.Millisecond), 1),
	}
}

// Write handles a single text chunk from the pipeline.
func (w *StreamWriter) Write(chunk string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.accumulator.WriteString(chunk)

	switch w.mode {
	case StreamInstant:
		_, _ = w.buffer.WriteString(chunk)
		_ = w.buffer.Flush()
	case StreamSmooth:
		w.batch.WriteString(chunk)
		if w.limiter.Allow() {
			w.flushBatch()
		}
	case StreamQuiet:
		// accumulate only
	}
}

// Flush ensures all buffered content is written and returns the full
// accumulated text.
func (w *StreamWriter) Flush() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.mode {
	case StreamQuiet:
		result := w.accumulator.String()
		fmt.Fprint(w.output, result)
		return result
	case StreamSmooth:
		w.flushBatch()
		_ = w.buffer.Flush()
		return w.accumulator.String()
	default:
		_ = w.buffer.Flush()
		return w.accumulator.String()
	}
}

// flushBatch writes the accumulated batch to output (must hold lock).
func (w *StreamWriter) flushBatch() {
	if w.batch.Len() == 0 {
		return
	}
	_, _ = w.buffer.WriteString(w.batch.String())
	_ = w.buffer.Flush()
	w.batch.Reset()
}

// Copyright (c) 2025-2026 Counselkit
// SPDX-License-Identifier: AGPL-3.0-or-later

package inference

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
)

// =============================================================================
// STREAM READER
// =============================================================================

// ChunkCallback is called for each parsed chunk, in stream order.
type ChunkCallback func(chunk StreamChunk)

// StreamReader handles line-by-line JSON parsing of streaming responses.
type StreamReader struct {
	reader *bufio.Reader
}

// NewStreamReader creates a new stream reader from an io.Reader.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{reader: bufio.NewReader(r)}
}

// Process reads the stream and calls the callback for each chunk.
// Blocks until a terminal chunk (done or error) arrives, the stream ends,
// or the context is cancelled.
func (s *StreamReader) Process(ctx context.Context, callback ChunkCallback) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			chunk, err := s.readChunk()
			if err != nil {
				if err == io.EOF {
					return nil
				}
				return err
			}

			if chunk != nil {
				callback(*chunk)
				if chunk.Type == chunkDone || chunk.Type == chunkError {
					return nil
				}
			}
		}
	}
}

// readChunk reads and parses a single line from the stream.
// Returns (nil, nil) for blank or malformed lines, which are skipped.
func (s *StreamReader) readChunk() (*StreamChunk, error) {
	line, err := s.reader.ReadBytes('\n')
	if err != nil {
		if err == io.EOF && len(line) == 0 {
			return nil, io.EOF
		}
		// Process a trailing line without a newline before surfacing EOF.
		if len(line) == 0 {
			return nil, err
		}
	}

	if len(trimSpace(line)) == 0 {
		return nil, nil
	}

	var chunk StreamChunk
	if err := json.Unmarshal(line, &chunk); err != nil {
		// Skip malformed lines rather than killing the stream.
		return nil, nil
	}

	return &chunk, nil
}

// trimSpace strips leading/trailing ASCII whitespace without allocating.
func trimSpace(b []byte) []byte {
	start := 0
	for start < len(b) && isSpace(b[start]) {
		start++
	}
	end := len(b)
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

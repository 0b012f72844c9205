// Package rag implements the retrieval-augmented generation pipeline:
// chunking, retrieval with score filtering, prompt assembly under the
// strict/advisory citation policy, conversation state and index maintenance.
package rag

import (
	"errors"
	"strings"
)

const (
	DefaultChunkSize    = 900
	DefaultChunkOverlap = 150
)

// ChunkText splits text into overlapping character windows, order-preserving.
// The final partial window is emitted too. overlap must be smaller than
// chunkSize or the window would never advance.
func ChunkText(text string, chunkSize, overlap int) ([]string, error) {
	if chunkSize <= 0 {
		return nil, errors.New("chunk size must be positive")
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, errors.New("overlap must be non-negative and smaller than chunk size")
	}

	text = strings.TrimSpace(strings.ReplaceAll(text, "\x00", ""))
	if text == "" {
		return nil, nil
	}

	// Windows count characters, not bytes; slicing bytes would split
	// multi-byte runes at the boundaries.
	runes := []rune(text)
	var chunks []string
	n := len(runes)
	i := 0
	for i < n {
		j := i + chunkSize
		if j > n {
			j = n
		}
		chunks = append(chunks, string(runes[i:j]))
		if j >= n {
			break
		}
		i = j - overlap
		if i < 0 {
			i = 0
		}
	}
	return chunks, nil
}

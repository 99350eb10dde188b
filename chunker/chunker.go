package chunker

import (
	"fmt"
	"strings"
)

// Chunker splits raw text into overlapping segments, preferring to end each
// segment at a sentence boundary.
type Chunker struct {
	chunkSize int
	overlap   int
}

// New validates the window geometry up front. Overlap must stay strictly
// below the chunk size, otherwise the scan could stop advancing.
func New(chunkSize, overlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("overlap must not be negative, got %d", overlap)
	}
	if overlap >= chunkSize {
		return nil, fmt.Errorf("overlap %d must be less than chunk size %d", overlap, chunkSize)
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap}, nil
}

// Split scans the text left to right. Each window ends at most chunkSize
// characters after its start; if the window does not reach the end of the
// text, the cut is moved back to just past the last period inside the
// window. Windows are measured in runes, so multibyte text never gets cut
// mid-character. Empty input yields no chunks.
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	var chunks []string
	start := 0
	textLen := len(runes)

	for start < textLen {
		end := start + c.chunkSize
		if end > textLen {
			end = textLen
		}

		if end < textLen {
			if sentenceEnd := lastPeriod(runes[start:end]); sentenceEnd > 0 {
				end = start + sentenceEnd + 1
			}
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end < textLen {
			next := end - c.overlap
			if next <= start {
				// Sentence snapping produced a window shorter than the
				// overlap; skip the overlap for this step so the scan
				// keeps moving forward.
				next = end
			}
			start = next
		} else {
			start = textLen
		}
	}

	return chunks
}

func lastPeriod(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == '.' {
			return i
		}
	}
	return -1
}

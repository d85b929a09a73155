// ABOUTME: Splits document text into overlapping chunks for embedding
// ABOUTME: Paragraph-first splitting with a hard size cap and rune-safe cuts

package documents

import "strings"

const (
	// defaultChunkSize is the target chunk length in runes.
	defaultChunkSize = 1000
	// defaultOverlap is how many trailing runes repeat into the next chunk,
	// so sentences cut at a boundary stay searchable.
	defaultOverlap = 150
)

// Chunker splits text into embedding-sized pieces.
type Chunker struct {
	chunkSize int
	overlap   int
}

// NewChunker creates a chunker. Non-positive arguments select defaults.
func NewChunker(chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = defaultOverlap
		if overlap >= chunkSize {
			overlap = chunkSize / 4
		}
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap}
}

// Split breaks text into chunks. Paragraph boundaries are preferred; a
// paragraph longer than the chunk size is cut with overlap.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		runes := []rune(para)
		if len(runes) > c.chunkSize {
			flush()
			chunks = append(chunks, c.splitLong(runes)...)
			continue
		}

		if current.Len() > 0 && len([]rune(current.String()))+len(runes)+2 > c.chunkSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()
	return chunks
}

// splitLong cuts an oversized paragraph into fixed windows with overlap.
func (c *Chunker) splitLong(runes []rune) []string {
	var chunks []string
	step := c.chunkSize - c.overlap
	for start := 0; start < len(runes); start += step {
		end := start + c.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, strings.TrimSpace(string(runes[start:end])))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

package semantic

import (
	"fmt"
	"strings"
)

// Chunk is a window of consecutive lines from one file.
type Chunk struct {
	ID        string
	Path      string
	StartLine int // 1-based
	EndLine   int
	Content   string
}

// chunkFile splits content into windows of size lines that overlap by
// size/4 lines. Blank windows are skipped.
func chunkFile(path, content string, size int) []Chunk {
	lines := strings.Split(content, "\n")
	step := size - size/4
	if step <= 0 {
		step = 1
	}
	var out []Chunk
	for start := 0; start < len(lines); start += step {
		end := min(start+size, len(lines))
		body := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(body) != "" {
			out = append(out, Chunk{
				ID:        fmt.Sprintf("%s:%d", path, start+1),
				Path:      path,
				StartLine: start + 1,
				EndLine:   end,
				Content:   body,
			})
		}
		if end == len(lines) {
			break
		}
	}
	return out
}

// bestLine picks the line of the chunk sharing the most tokens with the
// query, falling back to the first non-blank line.
func bestLine(c Chunk, queryTokens map[string]struct{}, tokenize func(string) []string) (int, string) {
	lines := strings.Split(c.Content, "\n")
	best, bestHits := -1, 0
	for i, line := range lines {
		if best < 0 && strings.TrimSpace(line) != "" {
			best = i
		}
		hits := 0
		for _, tok := range tokenize(line) {
			if _, ok := queryTokens[tok]; ok {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = i, hits
		}
	}
	if best < 0 {
		best = 0
	}
	return c.StartLine + best, strings.TrimSpace(lines[best])
}

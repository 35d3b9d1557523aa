package memory

import "strings"

const (
	defaultChunkMaxLines = 40
	headingPathSeparator = " > "
)

// Chunk is a contiguous slice of source content together with the
// heading lineage it falls under.
type Chunk struct {
	Path    string
	Content string
}

type headingFrame struct {
	level int
	title string
}

// SplitChunks splits content into chunks of roughly maxLines lines.
// A heading line always starts a new chunk and carries the full heading
// lineage in Path. Between headings, chunks only break at paragraph
// boundaries, so a single paragraph longer than maxLines stays whole.
// Joining the returned Content values with newlines reproduces the
// input up to trailing whitespace. Empty content yields no chunks.
func SplitChunks(content string, maxLines int) []Chunk {
	if content == "" {
		return nil
	}
	if maxLines <= 0 {
		maxLines = defaultChunkMaxLines
	}

	lines := strings.Split(content, "\n")

	var (
		chunks  []Chunk
		cur     []string
		stack   []headingFrame
		curPath string
	)

	hasText := func(ls []string) bool {
		for _, l := range ls {
			if strings.TrimSpace(l) != "" {
				return true
			}
		}
		return false
	}

	flush := func() {
		if len(cur) == 0 {
			return
		}
		chunks = append(chunks, Chunk{Path: curPath, Content: strings.Join(cur, "\n")})
		cur = nil
	}

	for _, line := range lines {
		if level, title := parseHeading(line); level > 0 {
			// A heading starts a new chunk; blank lines accumulated
			// before it stay attached so nothing is lost.
			if hasText(cur) {
				flush()
			}
			for len(stack) > 0 && stack[len(stack)-1].level >= level {
				stack = stack[:len(stack)-1]
			}
			stack = append(stack, headingFrame{level: level, title: title})
			curPath = joinHeadingPath(stack)
			cur = append(cur, line)
			continue
		}

		cur = append(cur, line)

		// Flush at a paragraph boundary once the chunk is full.
		if len(cur) >= maxLines && strings.TrimSpace(line) == "" && hasText(cur) {
			flush()
			curPath = joinHeadingPath(stack)
		}
	}

	if hasText(cur) {
		flush()
	} else if len(cur) > 0 && len(chunks) > 0 {
		// Trailing blank run folds into the last chunk.
		last := &chunks[len(chunks)-1]
		last.Content = last.Content + "\n" + strings.Join(cur, "\n")
	}

	return chunks
}

// parseHeading returns the markdown heading level (1-6) and title, or
// level 0 for a non-heading line.
func parseHeading(line string) (int, string) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "#") {
		return 0, ""
	}
	level := 0
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level > 6 {
		return 0, ""
	}
	rest := trimmed[level:]
	if rest != "" && !strings.HasPrefix(rest, " ") && !strings.HasPrefix(rest, "\t") {
		return 0, ""
	}
	return level, strings.TrimSpace(rest)
}

func joinHeadingPath(stack []headingFrame) string {
	if len(stack) == 0 {
		return ""
	}
	titles := make([]string, 0, len(stack))
	for _, frame := range stack {
		titles = append(titles, frame.title)
	}
	return strings.Join(titles, headingPathSeparator)
}

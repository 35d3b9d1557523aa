package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MarkdownStore is a plain-file backend. Memories land in daily
// journal files under <workspace>/memory/, one markdown section per
// record, so the whole store stays readable and diffable without any
// tooling. Recall is token overlap over every section; there is no
// vector stream.
type MarkdownStore struct {
	workspace string

	mu     sync.Mutex
	nextID int64
}

// NewMarkdownStore opens the store rooted at workspace and resumes id
// allocation from the highest id already on disk.
func NewMarkdownStore(workspace string) (*MarkdownStore, error) {
	ms := &MarkdownStore{workspace: workspace}
	entries, err := ms.loadAll()
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.id >= ms.nextID {
			ms.nextID = entry.id + 1
		}
	}
	if ms.nextID == 0 {
		ms.nextID = 1
	}
	return ms, nil
}

func (ms *MarkdownStore) memoryDir() string {
	return filepath.Join(ms.workspace, "memory")
}

func (ms *MarkdownStore) dayFile(day time.Time) string {
	return filepath.Join(ms.memoryDir(), day.Format("2006-01-02")+".md")
}

type markdownEntry struct {
	id        int64
	content   string
	tags      string
	createdAt time.Time
	file      string
}

func (ms *MarkdownStore) header(e markdownEntry) string {
	h := fmt.Sprintf("## r%d %s", e.id, e.createdAt.UTC().Format(time.RFC3339))
	if e.tags != "" {
		h += " [" + e.tags + "]"
	}
	return h
}

// Store appends each chunk of content as a section of today's journal
// file.
func (ms *MarkdownStore) Store(ctx context.Context, content string, tags []string) ([]int64, error) {
	chunks := SplitChunks(content, defaultChunkMaxLines)
	if len(chunks) == 0 {
		return nil, nil
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if err := os.MkdirAll(ms.memoryDir(), 0755); err != nil {
		return nil, fmt.Errorf("markdown store: %w", err)
	}
	now := time.Now()
	f, err := os.OpenFile(ms.dayFile(now), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("markdown store: %w", err)
	}
	defer f.Close()

	ids := make([]int64, 0, len(chunks))
	for _, chunk := range chunks {
		entry := markdownEntry{
			id:        ms.nextID,
			tags:      strings.Join(tags, ","),
			createdAt: now,
		}
		ms.nextID++

		if _, err := fmt.Fprintf(f, "%s\n%s\n\n", ms.header(entry), indexText(chunk.Path, chunk.Content)); err != nil {
			return ids, fmt.Errorf("markdown store: %w", err)
		}
		ids = append(ids, entry.id)
	}
	return ids, nil
}

// Recall scores every entry by how many query tokens its text shares,
// newest first among equals.
func (ms *MarkdownStore) Recall(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	tokens := tokenizeQuery(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	entries, err := ms.loadAll()
	if err != nil {
		return nil, err
	}

	var results []SearchResult
	for _, entry := range entries {
		text := strings.ToLower(entry.content)
		overlap := 0
		for _, tok := range tokens {
			if strings.Contains(text, tok) {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		score := float64(overlap) / float64(len(tokens))
		results = append(results, SearchResult{
			Record: Record{
				ID:        entry.id,
				Content:   entry.content,
				Source:    entry.tags,
				CreatedAt: entry.createdAt,
			},
			Score: score,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].Record.CreatedAt.Equal(results[j].Record.CreatedAt) {
			return results[i].Record.CreatedAt.After(results[j].Record.CreatedAt)
		}
		return results[i].Record.ID < results[j].Record.ID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Forget removes the entry's section and rewrites its journal file.
func (ms *MarkdownStore) Forget(ctx context.Context, id int64) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	entries, err := ms.loadAll()
	if err != nil {
		return false, err
	}

	var file string
	for _, entry := range entries {
		if entry.id == id {
			file = entry.file
			break
		}
	}
	if file == "" {
		return false, nil
	}

	var keep []markdownEntry
	for _, entry := range entries {
		if entry.file == file && entry.id != id {
			keep = append(keep, entry)
		}
	}

	if len(keep) == 0 {
		if err := os.Remove(file); err != nil {
			return false, fmt.Errorf("markdown forget: %w", err)
		}
		return true, nil
	}

	var b strings.Builder
	for _, entry := range keep {
		fmt.Fprintf(&b, "%s\n%s\n\n", ms.header(entry), entry.content)
	}
	if err := os.WriteFile(file, []byte(b.String()), 0644); err != nil {
		return false, fmt.Errorf("markdown forget: %w", err)
	}
	return true, nil
}

// Reindex has no derived state to rebuild here; it reports what a scan
// of the files sees.
func (ms *MarkdownStore) Reindex(ctx context.Context) (ReindexSummary, error) {
	entries, err := ms.loadAll()
	if err != nil {
		return ReindexSummary{}, err
	}
	return ReindexSummary{Rebuilt: len(entries)}, nil
}

func (ms *MarkdownStore) Stats(ctx context.Context) (Stats, error) {
	entries, err := ms.loadAll()
	if err != nil {
		return Stats{}, err
	}
	return Stats{Records: len(entries), MissingEmbeddings: len(entries)}, nil
}

func (ms *MarkdownStore) Close() error { return nil }

// loadAll parses every journal file into entries, oldest file first.
func (ms *MarkdownStore) loadAll() ([]markdownEntry, error) {
	files, err := filepath.Glob(filepath.Join(ms.memoryDir(), "*.md"))
	if err != nil {
		return nil, fmt.Errorf("markdown scan: %w", err)
	}
	sort.Strings(files)

	var entries []markdownEntry
	for _, file := range files {
		parsed, err := parseJournal(file)
		if err != nil {
			return nil, err
		}
		entries = append(entries, parsed...)
	}
	return entries, nil
}

func parseJournal(path string) ([]markdownEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("markdown read %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	var entries []markdownEntry
	var current *markdownEntry
	var body []string

	flush := func() {
		if current == nil {
			return
		}
		current.content = strings.TrimRight(strings.Join(body, "\n"), "\n")
		current.file = path
		entries = append(entries, *current)
		current = nil
		body = nil
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if entry, ok := parseEntryHeader(line); ok {
			flush()
			current = &entry
			continue
		}
		if current != nil {
			body = append(body, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("markdown read %s: %w", filepath.Base(path), err)
	}
	flush()
	return entries, nil
}

// parseEntryHeader matches "## r<id> <timestamp> [tags]" lines; the
// tags suffix is optional.
func parseEntryHeader(line string) (markdownEntry, bool) {
	rest, ok := strings.CutPrefix(line, "## r")
	if !ok {
		return markdownEntry{}, false
	}
	fields := strings.SplitN(rest, " ", 3)
	if len(fields) < 2 {
		return markdownEntry{}, false
	}
	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return markdownEntry{}, false
	}
	createdAt, err := time.Parse(time.RFC3339, fields[1])
	if err != nil {
		return markdownEntry{}, false
	}
	entry := markdownEntry{id: id, createdAt: createdAt}
	if len(fields) == 3 {
		tags := strings.TrimSpace(fields[2])
		if strings.HasPrefix(tags, "[") && strings.HasSuffix(tags, "]") {
			entry.tags = tags[1 : len(tags)-1]
		}
	}
	return entry, true
}

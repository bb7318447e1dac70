package logs

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"cratetrail/internal/logging"
)

const pollInterval = 250 * time.Millisecond

// Filter narrows which entries a read returns. Empty fields match everything.
type Filter struct {
	BatchCode string
	EventType string
	// MinLevel is a slog level name such as "warn".
	MinLevel string
}

// Query describes one read of the log file.
type Query struct {
	// Offset < 0 returns the last Limit matching entries.
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
	Filter Filter
}

// Entry is one decoded log line.
type Entry struct {
	Time    time.Time      `json:"ts"`
	Level   string         `json:"level"`
	Message string         `json:"msg"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Page is the result of a read; Offset is where the next read should resume.
type Page struct {
	Entries []Entry
	Offset  int64
}

// Read returns entries from path according to q. A missing file yields an
// empty page.
func Read(ctx context.Context, path string, q Query) (Page, error) {
	page := Page{Offset: q.Offset}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			page.Offset = 0
			return page, nil
		}
		return page, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return page, fmt.Errorf("log path %q is a directory", path)
	}
	q.Wait = max(q.Wait, 0)

	if q.Offset < 0 {
		page, err = readLast(path, q.Limit, q.Filter)
	} else {
		offset := q.Offset
		if offset > info.Size() {
			offset = info.Size()
		}
		page, err = readForward(path, offset, q.Filter)
	}
	if err != nil {
		return page, err
	}
	if q.Follow && q.Wait > 0 && len(page.Entries) == 0 {
		return waitForEntries(ctx, path, page.Offset, q.Wait, q.Filter)
	}
	return page, nil
}

// readLast keeps a ring of the last limit matching entries.
func readLast(path string, limit int, filter Filter) (Page, error) {
	file, err := os.Open(path)
	if err != nil {
		return Page{}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if limit <= 0 {
		end, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			return Page{}, fmt.Errorf("seek log file: %w", err)
		}
		return Page{Offset: end}, nil
	}

	ring := make([]Entry, limit)
	count, next := 0, 0
	end, err := scanEntries(file, filter, func(e Entry) {
		ring[next] = e
		next = (next + 1) % limit
		count = min(count+1, limit)
	})
	if err != nil {
		return Page{}, err
	}

	entries := make([]Entry, count)
	start := 0
	if count == limit {
		start = next
	}
	for i := range count {
		entries[i] = ring[(start+i)%limit]
	}
	return Page{Entries: entries, Offset: end}, nil
}

func readForward(path string, offset int64, filter Filter) (Page, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Page{}, nil
		}
		return Page{}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return Page{}, fmt.Errorf("seek log file: %w", err)
	}
	var entries []Entry
	end, err := scanEntries(file, filter, func(e Entry) { entries = append(entries, e) })
	if err != nil {
		return Page{}, err
	}
	return Page{Entries: entries, Offset: end}, nil
}

func waitForEntries(ctx context.Context, path string, offset int64, wait time.Duration, filter Filter) (Page, error) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		page, err := readForward(path, offset, filter)
		if err != nil {
			return Page{Offset: offset}, err
		}
		// Filtered-out lines still advance the offset.
		offset = max(offset, page.Offset)
		if len(page.Entries) > 0 || time.Now().After(deadline) {
			page.Offset = offset
			return page, nil
		}
		select {
		case <-ctx.Done():
			return Page{Offset: offset}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// scanEntries decodes every complete line from r and reports the offset just
// past the last one consumed.
func scanEntries(file *os.File, filter Filter, emit func(Entry)) (int64, error) {
	start, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("determine log offset: %w", err)
	}
	reader := bufio.NewReaderSize(file, 64*1024)
	consumed := start
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 && line[len(line)-1] == '\n' {
			consumed += int64(len(line))
			if entry, ok := decode(line); ok && filter.matches(entry) {
				emit(entry)
			}
		}
		if errors.Is(err, io.EOF) {
			// A partial trailing line is left for the next read.
			return consumed, nil
		}
		if err != nil {
			return consumed, fmt.Errorf("read log file: %w", err)
		}
	}
}

func decode(line []byte) (Entry, bool) {
	var raw map[string]any
	if err := json.Unmarshal(line, &raw); err != nil {
		return Entry{}, false
	}
	entry := Entry{Fields: map[string]any{}}
	for key, value := range raw {
		switch key {
		case "ts":
			if s, ok := value.(string); ok {
				entry.Time, _ = time.Parse(time.RFC3339Nano, s)
			}
		case "level":
			entry.Level, _ = value.(string)
		case "msg":
			entry.Message, _ = value.(string)
		default:
			entry.Fields[key] = value
		}
	}
	return entry, true
}

func (f Filter) matches(e Entry) bool {
	if minimum := strings.TrimSpace(f.MinLevel); minimum != "" {
		var floor, level slog.Level
		if floor.UnmarshalText([]byte(minimum)) == nil && level.UnmarshalText([]byte(e.Level)) == nil && level < floor {
			return false
		}
	}
	if code := strings.TrimSpace(f.BatchCode); code != "" && fieldString(e, logging.FieldBatchCode) != code {
		return false
	}
	if event := strings.TrimSpace(f.EventType); event != "" && fieldString(e, logging.FieldEventType) != event {
		return false
	}
	return true
}

func fieldString(e Entry, key string) string {
	s, _ := e.Fields[key].(string)
	return s
}

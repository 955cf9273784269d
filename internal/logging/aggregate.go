package logging

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"
)

// LogEntry is one parsed JSON log record.
type LogEntry struct {
	Timestamp time.Time      `json:"time"`
	Level     string         `json:"level"`
	Message   string         `json:"msg"`
	Component string         `json:"component,omitempty"`
	Unit      string         `json:"unit,omitempty"`
	CycleID   string         `json:"cycle_id,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// LogFilter defines criteria for filtering log entries. Zero fields match
// everything; set fields are combined with AND.
type LogFilter struct {
	// Level keeps entries at or above this level (DEBUG < INFO < WARN < ERROR)
	Level string

	StartTime time.Time
	EndTime   time.Time

	Component string
	Unit      string
	CycleID   string

	// MessageContains keeps entries whose message contains this substring
	MessageContains string
}

// levelOrder defines the ordering of log levels for filtering.
var levelOrder = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// standardFields are the record keys lifted into LogEntry fields.
var standardFields = map[string]bool{
	"time":      true,
	"level":     true,
	"msg":       true,
	"logger":    true,
	"component": true,
	"unit":      true,
	"cycle_id":  true,
}

// ReadLogs parses every JSON record in the log file at logPath. Lines that
// are not JSON records are skipped. Entries are sorted by timestamp.
func ReadLogs(logPath string) ([]LogEntry, error) {
	file, err := os.Open(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no log file at %s: %w", logPath, err)
		}
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	return ParseLogs(file)
}

// ParseLogs parses JSON log records from r, one per line.
func ParseLogs(r io.Reader) ([]LogEntry, error) {
	var entries []LogEntry
	scanner := bufio.NewScanner(r)

	// Increase buffer size for potentially long log lines
	const maxScanTokenSize = 1024 * 1024 // 1MB
	buf := make([]byte, maxScanTokenSize)
	scanner.Buffer(buf, maxScanTokenSize)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		entry, err := parseLogEntry(line)
		if err != nil {
			// Skip corrupted lines and keep going
			continue
		}
		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading log file: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})

	return entries, nil
}

// parseLogEntry parses a single JSON log line into a LogEntry.
func parseLogEntry(line string) (LogEntry, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return LogEntry{}, fmt.Errorf("invalid JSON: %w", err)
	}

	entry := LogEntry{
		Attrs: make(map[string]any),
	}

	if timeStr, ok := raw["time"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, timeStr); err == nil {
			entry.Timestamp = t
		}
	}
	entry.Level, _ = raw["level"].(string)
	entry.Message, _ = raw["msg"].(string)
	entry.Component, _ = raw["component"].(string)
	entry.Unit, _ = raw["unit"].(string)
	entry.CycleID, _ = raw["cycle_id"].(string)

	for k, v := range raw {
		if !standardFields[k] {
			entry.Attrs[k] = v
		}
	}

	return entry, nil
}

// FilterLogs returns the entries matching filter.
func FilterLogs(entries []LogEntry, filter LogFilter) []LogEntry {
	if filter == (LogFilter{}) {
		return entries
	}

	var filtered []LogEntry
	for _, entry := range entries {
		if matchesFilter(entry, filter) {
			filtered = append(filtered, entry)
		}
	}

	return filtered
}

// matchesFilter checks if an entry matches all filter criteria.
func matchesFilter(entry LogEntry, filter LogFilter) bool {
	// Level filter: entry level must be >= filter level
	if filter.Level != "" {
		filterLevelOrder, filterOk := levelOrder[strings.ToUpper(filter.Level)]
		entryLevelOrder, entryOk := levelOrder[entry.Level]
		if filterOk && entryOk && entryLevelOrder < filterLevelOrder {
			return false
		}
	}

	if !filter.StartTime.IsZero() && entry.Timestamp.Before(filter.StartTime) {
		return false
	}
	if !filter.EndTime.IsZero() && entry.Timestamp.After(filter.EndTime) {
		return false
	}

	if filter.Component != "" && entry.Component != filter.Component {
		return false
	}
	if filter.Unit != "" && entry.Unit != filter.Unit {
		return false
	}
	if filter.CycleID != "" && entry.CycleID != filter.CycleID {
		return false
	}

	if filter.MessageContains != "" && !strings.Contains(entry.Message, filter.MessageContains) {
		return false
	}

	return true
}

// ExportFormats returns the formats accepted by ExportLogEntries.
func ExportFormats() []string {
	return []string{"json", "text", "csv"}
}

// ExportLogEntries writes entries to w in the given format.
func ExportLogEntries(w io.Writer, entries []LogEntry, format string) error {
	switch strings.ToLower(format) {
	case "json":
		return exportJSON(w, entries)
	case "text":
		return exportText(w, entries)
	case "csv":
		return exportCSV(w, entries)
	default:
		return fmt.Errorf("unsupported export format: %s (supported: %s)", format, strings.Join(ExportFormats(), ", "))
	}
}

// exportJSON writes entries as a JSON array.
func exportJSON(w io.Writer, entries []LogEntry) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(entries)
}

// formatEntryText renders one entry as a human-readable line without a newline.
func formatEntryText(entry LogEntry) string {
	// Format: [TIMESTAMP] LEVEL - MESSAGE (context) {attrs}
	parts := []string{
		fmt.Sprintf("[%s]", entry.Timestamp.Format("2006-01-02 15:04:05.000")),
		entry.Level,
		"-",
		entry.Message,
	}

	var context []string
	if entry.Component != "" {
		context = append(context, "component="+entry.Component)
	}
	if entry.Unit != "" {
		context = append(context, "unit="+entry.Unit)
	}
	if entry.CycleID != "" {
		context = append(context, "cycle="+entry.CycleID)
	}
	if len(context) > 0 {
		parts = append(parts, fmt.Sprintf("(%s)", strings.Join(context, ", ")))
	}

	if len(entry.Attrs) > 0 {
		attrsJSON, _ := json.Marshal(entry.Attrs)
		parts = append(parts, string(attrsJSON))
	}

	return strings.Join(parts, " ")
}

// exportText writes entries in a human-readable text format.
func exportText(w io.Writer, entries []LogEntry) error {
	for _, entry := range entries {
		if _, err := io.WriteString(w, formatEntryText(entry)+"\n"); err != nil {
			return fmt.Errorf("failed to write text entry: %w", err)
		}
	}
	return nil
}

// exportCSV writes entries as CSV with headers.
func exportCSV(w io.Writer, entries []LogEntry) error {
	writer := csv.NewWriter(w)

	headers := []string{"timestamp", "level", "message", "component", "unit", "cycle_id", "attrs"}
	if err := writer.Write(headers); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, entry := range entries {
		attrsJSON := ""
		if len(entry.Attrs) > 0 {
			if b, err := json.Marshal(entry.Attrs); err == nil {
				attrsJSON = string(b)
			}
		}

		record := []string{
			entry.Timestamp.Format(time.RFC3339Nano),
			entry.Level,
			entry.Message,
			entry.Component,
			entry.Unit,
			entry.CycleID,
			attrsJSON,
		}

		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/livepatch/internal/config"
	"github.com/Iron-Ham/livepatch/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View the log file written by livepatch run",
	Long: `View and filter the JSON log file written by 'livepatch run' when
logging.file is set.

Examples:
  # Show the last 50 records
  livepatch logs

  # Everything about one unit
  livepatch logs --unit greeter -n 0

  # Failed reloads in the last hour
  livepatch logs --level error --since 1h

  # Export one cycle as CSV
  livepatch logs --cycle 4b0c... --format csv > cycle.csv`,
	RunE: runLogs,
}

var (
	logsFile   string
	logsTail   int
	logsLevel  string
	logsSince  string
	logsUnit   string
	logsCycle  string
	logsGrep   string
	logsFormat string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().StringVar(&logsFile, "file", "", "log file (default: logging.file)")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of records to show (0 for all)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show records since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsUnit, "unit", "", "Filter by unit name")
	logsCmd.Flags().StringVar(&logsCycle, "cycle", "", "Filter by reload cycle id")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Filter records whose message contains this text")
	logsCmd.Flags().StringVar(&logsFormat, "format", "", "Output format: json, text or csv (default: colored text)")
}

func runLogs(cmd *cobra.Command, args []string) error {
	path := logsFile
	if path == "" {
		path = config.Get().Logging.File
	}
	if path == "" {
		return fmt.Errorf("no log file configured; set logging.file or pass --file")
	}

	filter := logging.LogFilter{
		Level:           logsLevel,
		Unit:            logsUnit,
		CycleID:         logsCycle,
		MessageContains: logsGrep,
	}
	if logsSince != "" {
		d, err := time.ParseDuration(logsSince)
		if err != nil {
			return fmt.Errorf("invalid --since duration: %w", err)
		}
		filter.StartTime = time.Now().Add(-d)
	}

	entries, err := logging.ReadLogs(path)
	if err != nil {
		return err
	}
	entries = tailEntries(logging.FilterLogs(entries, filter), logsTail)

	out := cmd.OutOrStdout()
	if logsFormat != "" {
		return logging.ExportLogEntries(out, entries, logsFormat)
	}
	printLogEntries(out, stylesFor(out), entries)
	return nil
}

// tailEntries keeps the last n entries; n <= 0 keeps all of them.
func tailEntries(entries []logging.LogEntry, n int) []logging.LogEntry {
	if n > 0 && len(entries) > n {
		return entries[len(entries)-n:]
	}
	return entries
}

// printLogEntries writes one line per entry for terminal reading.
func printLogEntries(w io.Writer, st styles, entries []logging.LogEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No matching log entries found.")
		return
	}
	for _, entry := range entries {
		fmt.Fprintln(w, formatLogEntry(st, entry))
	}
}

// formatLogEntry formats a log entry for terminal output
func formatLogEntry(st styles, entry logging.LogEntry) string {
	var sb strings.Builder

	sb.WriteString(st.muted.Render("[" + entry.Timestamp.Format("15:04:05.000") + "]"))
	sb.WriteString(" ")
	sb.WriteString(st.level(entry.Level).Render("[" + strings.ToUpper(entry.Level) + "]"))
	sb.WriteString(" ")
	sb.WriteString(entry.Message)

	context := []struct{ key, value string }{
		{"component", entry.Component},
		{"unit", entry.Unit},
		{"cycle", entry.CycleID},
	}
	for _, kv := range context {
		if kv.value != "" {
			sb.WriteString(" ")
			sb.WriteString(st.class.Render(kv.key + "=" + kv.value))
		}
	}

	// Extra fields in a stable order
	keys := make([]string, 0, len(entry.Attrs))
	for k := range entry.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(" ")
		sb.WriteString(st.muted.Render(k + "="))
		sb.WriteString(fmt.Sprintf("%v", entry.Attrs[k]))
	}

	return sb.String()
}

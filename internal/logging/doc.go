// Package logging provides structured logging for livepatch.
//
// This package wraps Go's log/slog. It is the logging sink that receives the
// reload engine's status and error messages, and the destination for Starlark
// print() output from units.
//
// # Features
//
//   - JSON (default) or text records via slog
//   - Configurable log levels (DEBUG, INFO, WARN, ERROR)
//   - Context propagation (component, unit, cycle id)
//   - Size-based rotation with optional gzip compression for long-running hosts
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers created
// via With* methods share the underlying handler and writer.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/var/log/livepatch/livepatch.log", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.WithComponent("reload").WithUnit("greeter").Info("unit reloaded")
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"unit reloaded","logger":"livepatch","component":"reload","unit":"greeter"}
//
// # Log Rotation
//
//	logger, err := logging.NewLoggerWithRotation(path, "INFO", logging.RotationConfig{
//	    MaxSizeMB:  10,
//	    MaxBackups: 3,
//	    Compress:   true,
//	})
//
// Rotated files are named livepatch.log.1, livepatch.log.2, etc., where .1 is the
// most recent backup.
//
// # Reading Logs
//
// [ReadLogs] parses a JSON log file back into [LogEntry] values, [FilterLogs]
// narrows them by level, time, component, unit or cycle, and
// [ExportLogEntries] writes them as json, text or csv. The `livepatch logs`
// command is built on these.
//
// # Testing
//
// Use [NopLogger] to discard output, or [NewWriterLogger] with a bytes.Buffer
// to assert on records.
package logging

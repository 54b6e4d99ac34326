package engine

import "log/slog"

// LoggingObserver logs every table event using structured logging
type LoggingObserver struct {
	logger *slog.Logger
}

// NewLoggingObserver creates a logging observer; a nil logger means slog.Default()
func NewLoggingObserver(logger *slog.Logger) *LoggingObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{logger: logger}
}

// OnEvent implements the Observer interface
func (lo *LoggingObserver) OnEvent(event Event) {
	attrs := []any{
		"event", event.Type,
		"op_id", event.OpID,
		"database", event.Database,
		"table", event.Table,
		"records", event.Records,
	}
	if event.RecordID != nil {
		attrs = append(attrs, "record_id", uint64(*event.RecordID))
	}
	if event.Data != nil {
		attrs = append(attrs, "data", event.Data)
	}

	// record-level events are noisy
	if event.RecordID != nil {
		lo.logger.Debug("table_lifecycle", attrs...)
		return
	}
	lo.logger.Info("table_lifecycle", attrs...)
}

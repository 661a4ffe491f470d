package main

import (
	"io"
	"log/slog"

	"github.com/shelfsense/shelf-monitor/models"
)

// newLogger writes JSON records, or human-readable text with debug enabled.
func newLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	if debug {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func logTimings(logger *slog.Logger, t *models.ProcessingTimings) {
	logger.Debug("processing times",
		"request_id", t.RequestID,
		"read", t.Read,
		"verify", t.Verify,
		"wait", t.Wait,
		"inference", t.Inference,
		"report", t.Report,
		"total", t.Total,
	)
}

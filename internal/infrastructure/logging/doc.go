// Package logging provides structured logging for the AirCat gateway.
//
// It wraps Go's log/slog so every component logs the same way: JSON in
// production, text for local work, with service and version fields on
// every entry.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("gateway listening", "addr", ":9000")
//	logger.Warn("frame too short", "conn_id", id, "bytes", n)
//
// Components do not import this package; they accept a small Logger
// interface (Debug/Info/Warn/Error) that *Logger satisfies.
package logging

// Package logx configures shopwatch's structured logging.
//
// Logger is a small value type on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional operator chat sink (min-level + rate limiting)
//
// Loggers derived from a Service stay live across Service.Apply() calls, so a
// hot-reloaded level or sink takes effect without re-wiring components.
package logx

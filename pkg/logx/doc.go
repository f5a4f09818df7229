// Package logx configures signalbot's structured logging.
//
// It wraps zerolog behind a small Logger type to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional Telegram sink that mirrors warnings/errors to the admin chat
//     (min-level filtered, rate limited)
package logx

// Package logx configures linkrelay's structured logging.
//
// Logger is a small value type on top of zerolog:
//   - console output stays readable (short timestamp + short caller)
//   - file output is JSON, one event per line
//   - an optional Telegram sink forwards WARN+ lines to a log chat (rate limited)
package logx

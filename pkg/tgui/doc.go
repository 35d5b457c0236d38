// Package tgui holds small Telegram UI helpers:
//   - HTML escaping and formatting for ParseMode="HTML"
//   - a line builder for status blocks
//   - inline keyboard conversion from transport buttons
//   - Telegram size limits
package tgui

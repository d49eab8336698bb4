// Package logx is fcfswatch's structured logging layer.
//
// logx.Logger wraps zerolog so call sites stay short:
//   - console output is human readable (short timestamp + file:line caller)
//   - file output is JSON, one event per line
//   - an optional Telegram sink forwards WARN+ events to an ops chat,
//     bounded by a token bucket so a failing scan loop cannot flood it
package logx

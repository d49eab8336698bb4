package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	logx "fcfswatch/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] runs first.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// slowCommand is the duration above which a successful command is logged
// at INFO instead of DEBUG.
const slowCommand = 750 * time.Millisecond

func requestLogger(fallback logx.Logger, req *Request) logx.Logger {
	if req != nil && !req.Logger.IsZero() {
		return req.Logger
	}
	return fallback
}

// MWTimeout bounds a handler. When the deadline fires before the handler
// replied, the chat is told the command timed out. d <= 0 disables it.
func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			err := next(cctx, req)
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil && req.Replier != nil {
				_ = req.Reply(ctx, fmt.Sprintf("⏱ /%s timed out after %s", req.Command, d))
			}
			return err
		}
	}
}

// MWPanicRecover turns a handler panic into an error so the worker
// survives.
func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				requestLogger(log, req).Error("command panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				err = fmt.Errorf("command panicked: %v", r)
			}()
			return next(ctx, req)
		}
	}
}

// MWRequestLog logs every finished command with its duration.
func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)

			l := requestLogger(log, req).With(
				logx.Int("thread_id", req.Chat.ThreadID),
				logx.Int("args", len(req.Args)),
				logx.Duration("took", took),
			)
			switch {
			case err != nil:
				l.Warn("command failed", logx.Err(err))
			case took >= slowCommand:
				l.Info("command done")
			default:
				l.Debug("command done")
			}
			return err
		}
	}
}

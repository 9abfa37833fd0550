package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"dealbot/internal/metrics"
	"dealbot/internal/ratelimit"
	"dealbot/internal/transport"
	"dealbot/pkg/logx"
)

// Request is one inbound command or callback, parsed and ready to handle.
type Request struct {
	Update  transport.Update
	ChatID  int64
	FromID  int64
	IsGroup bool

	Command string
	// Args is the free text after the command, e.g. the game name.
	Args string
	// Payload is the raw callback data for callback updates.
	Payload string

	Log logx.Logger
}

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic recovered",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(mets *metrics.Collector) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)
			mets.Command(req.Command, err == nil)

			fields := []logx.Field{
				logx.String("cmd", req.Command),
				logx.Int64("chat", req.ChatID),
				logx.Int64("from", req.FromID),
				logx.Duration("took", took),
			}
			if err != nil {
				req.Log.Warn("request failed", append(fields, logx.Err(err))...)
			} else {
				req.Log.Debug("request ok", fields...)
			}
			return err
		}
	}
}

// MWRateLimit gates commands per (user, command). The window is stamped
// inside TryAcquire before the handler runs, so side effects never precede
// the stamp. Denied requests are dropped silently.
func MWRateLimit(limiter *ratelimit.Limiter) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if !limiter.TryAcquire(req.FromID, req.Command) {
				req.Log.Debug("rate limited",
					logx.Int64("from", req.FromID),
					logx.String("cmd", req.Command),
				)
				return nil
			}
			return next(ctx, req)
		}
	}
}

// ParseCommand splits "/subscribe@somebot Hollow Knight" into ("subscribe",
// "Hollow Knight"). Returns ok=false for non-command text.
func ParseCommand(text string) (cmd, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	if at := strings.IndexByte(head, '@'); at >= 0 {
		head = head[:at]
	}
	head = strings.ToLower(head)
	if head == "" {
		return "", "", false
	}
	return head, strings.TrimSpace(rest), true
}

package bot

import (
	"context"
	"strings"

	"fcfswatch/internal/transport/telegram/router"
	logx "fcfswatch/pkg/logx"
)

const genericFailure = "❌ Something went wrong, please try again later."

// fail logs err and tells the chat the command failed without leaking
// internals.
func fail(ctx context.Context, req *router.Request, what string, err error) error {
	req.Logger.Warn(what+" failed", logx.Err(err))
	_ = req.Reply(ctx, genericFailure)
	return err
}

func (h *Handlers) cmdStart(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, welcomeText)
}

func (h *Handlers) cmdMonitor(ctx context.Context, req *router.Request) error {
	was, err := h.mon.StartMonitoring(ctx, req.Chat.ChatID)
	if err != nil {
		return fail(ctx, req, "start monitoring", err)
	}
	st, err := h.mon.Status(ctx, req.Chat.ChatID)
	if err != nil {
		return fail(ctx, req, "status", err)
	}
	return req.Reply(ctx, monitorStartedText(was, st))
}

func (h *Handlers) cmdStop(ctx context.Context, req *router.Request) error {
	was, err := h.mon.StopMonitoring(ctx, req.Chat.ChatID)
	if err != nil {
		return fail(ctx, req, "stop monitoring", err)
	}
	return req.Reply(ctx, monitorStoppedText(was))
}

func (h *Handlers) cmdStatus(ctx context.Context, req *router.Request) error {
	st, err := h.mon.Status(ctx, req.Chat.ChatID)
	if err != nil {
		return fail(ctx, req, "status", err)
	}
	return req.Reply(ctx, statusText(st, h.now()))
}

func (h *Handlers) cmdAdd(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return req.Reply(ctx, addUsageText())
	}
	ref := strings.TrimSpace(req.Args[0])
	sp, err := h.mon.AddWatchedSpace(ctx, req.Chat.ChatID, ref)
	if err != nil {
		if text, ok := addErrorText(ref, err); ok {
			return req.Reply(ctx, text)
		}
		return fail(ctx, req, "add space", err)
	}
	st, err := h.mon.Status(ctx, req.Chat.ChatID)
	if err != nil {
		return fail(ctx, req, "status", err)
	}
	return req.Reply(ctx, addedText(sp, st.Active))
}

func (h *Handlers) cmdRemove(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return req.Reply(ctx, "Usage: <code>/remove &lt;space_id&gt;</code>")
	}
	ref := strings.TrimSpace(req.Args[0])
	removed, err := h.mon.RemoveWatchedSpace(ctx, req.Chat.ChatID, ref)
	if err != nil {
		if text, ok := addErrorText(ref, err); ok {
			return req.Reply(ctx, text)
		}
		return fail(ctx, req, "remove space", err)
	}
	return req.Reply(ctx, removedText(ref, removed))
}

func (h *Handlers) cmdList(ctx context.Context, req *router.Request) error {
	subs, err := h.mon.ListSpaces(ctx, req.Chat.ChatID)
	if err != nil {
		return fail(ctx, req, "list spaces", err)
	}
	return req.Reply(ctx, listText(subs, int(h.limit.Load()), h.now()))
}

func (h *Handlers) cmdTestScan(ctx context.Context, req *router.Request) error {
	_ = req.Reply(ctx, "🧪 Running test scan…")
	rep, err := h.mon.TestScan(ctx)
	if err != nil {
		return fail(ctx, req, "test scan", err)
	}
	return req.Reply(ctx, testScanText(rep))
}

func (h *Handlers) cmdStats(ctx context.Context, req *router.Request) error {
	st, err := h.mon.Stats(ctx)
	if err != nil {
		return fail(ctx, req, "stats", err)
	}
	return req.Reply(ctx, statsText(st, h.now()))
}

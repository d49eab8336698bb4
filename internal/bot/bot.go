// Package bot holds the chat command handlers. Each recipient is the chat
// a command was sent from; handlers call the monitor facade and render
// Telegram HTML replies.
package bot

import (
	"context"
	"sync/atomic"
	"time"

	"fcfswatch/internal/campaign"
	"fcfswatch/internal/monitor"
	"fcfswatch/internal/storage"
	"fcfswatch/internal/transport/telegram/router"
)

// Monitor is the command-facing part of monitor.Service.
type Monitor interface {
	StartMonitoring(ctx context.Context, recipient int64) (bool, error)
	StopMonitoring(ctx context.Context, recipient int64) (bool, error)
	Status(ctx context.Context, recipient int64) (monitor.Status, error)
	AddWatchedSpace(ctx context.Context, recipient int64, ref string) (campaign.Space, error)
	RemoveWatchedSpace(ctx context.Context, recipient int64, ref string) (bool, error)
	ListSpaces(ctx context.Context, recipient int64) ([]storage.Subscription, error)
	HealthCheck(ctx context.Context) monitor.Health
	TestScan(ctx context.Context) (monitor.TestReport, error)
	Stats(ctx context.Context) (monitor.Stats, error)
}

type Options struct {
	// Supervisors is shown to owners by /health. May be nil.
	Supervisors *router.SupervisorRegistry
	Now         func() time.Time
	StartedAt   time.Time
	// SpaceLimit is shown next to /list counts when positive.
	SpaceLimit int
}

type Handlers struct {
	mon  Monitor
	sups *router.SupervisorRegistry
	now  func() time.Time

	startedAt time.Time
	limit     atomic.Int64
}

func New(mon Monitor, opts Options) *Handlers {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	started := opts.StartedAt
	if started.IsZero() {
		started = now()
	}
	h := &Handlers{mon: mon, sups: opts.Supervisors, now: now, startedAt: started}
	h.SetSpaceLimit(opts.SpaceLimit)
	return h
}

// SetSpaceLimit updates the cap shown by /list. Safe during hot-reload.
func (h *Handlers) SetSpaceLimit(n int) { h.limit.Store(int64(n)) }

// Commands is the command table registered with the router.
func (h *Handlers) Commands() []router.Command {
	return []router.Command{
		{Route: "start", Description: "welcome and command overview", Usage: "/start", Handle: h.cmdStart},
		{Route: "monitor", Description: "start FCFS alerts in this chat", Usage: "/monitor", Handle: h.cmdMonitor},
		{Route: "stop", Description: "stop alerts in this chat", Usage: "/stop", Handle: h.cmdStop},
		{Route: "status", Description: "monitoring status", Usage: "/status", Handle: h.cmdStatus},
		{Route: "add", Aliases: []string{"watch"}, Description: "watch a space", Usage: "/add <space_id|quest url>", Handle: h.cmdAdd},
		{Route: "remove", Aliases: []string{"unwatch", "rm"}, Description: "stop watching a space", Usage: "/remove <space_id>", Handle: h.cmdRemove},
		{Route: "list", Aliases: []string{"ls"}, Description: "watched spaces", Usage: "/list", Handle: h.cmdList},
		{Route: "health", Description: "catalog source health", Usage: "/health", Timeout: 45 * time.Second, Handle: h.cmdHealth},
		{Route: "testscan", Description: "dry-run scan, nothing is sent or saved", Usage: "/testscan", Access: router.AccessOwnerOnly, Timeout: 2 * time.Minute, Handle: h.cmdTestScan},
		{Route: "stats", Description: "bot counters", Usage: "/stats", Access: router.AccessOwnerOnly, Handle: h.cmdStats},
	}
}

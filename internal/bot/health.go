package bot

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"fcfswatch/internal/monitor"
	"fcfswatch/internal/runtime/supervisor"
	"fcfswatch/internal/transport/telegram/router"
	"fcfswatch/pkg/tgui"
)

// cmdHealth probes every catalog source. Owners also get runtime and
// supervisor details.
func (h *Handlers) cmdHealth(ctx context.Context, req *router.Request) error {
	// Probes are bounded even if a source hangs.
	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	hc := h.mon.HealthCheck(cctx)
	cancel()

	var b strings.Builder
	b.WriteString(healthText(hc, h.now()))

	if req.IsOwner() {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		b.WriteString("\n\n")
		b.WriteString(runtimeText(h.now().Sub(h.startedAt), m, h.sups.Snapshots()))
	}
	return req.Reply(ctx, b.String())
}

func healthText(hc monitor.Health, now time.Time) string {
	status := "✅ Healthy"
	if !hc.Healthy {
		status = "❌ Degraded (no source reachable)"
	}
	lines := []tgui.H{
		tgui.B("🏥 Catalog Health"),
		tgui.Raw("Status: " + status),
		"",
	}
	if len(hc.Sources) == 0 {
		lines = append(lines, tgui.Raw("  • (no sources configured)"))
	}
	for _, s := range hc.Sources {
		line := fmt.Sprintf("  • %s %s", sourceIcon(s.Up), tgui.Esc(s.Name))
		if s.Tier != "" {
			line += " " + tgui.I(s.Tier).String()
		}
		if s.Up {
			line += " " + s.Latency.Round(time.Millisecond).String()
		} else if s.Err != "" {
			line += ": " + tgui.Esc(tgui.TruncRunes(s.Err, 120)).String()
		}
		lines = append(lines, tgui.Raw(line))
	}
	st := hc.State
	lines = append(lines,
		"",
		tgui.Raw("🕒 Last scan: "+ago(st.LastScan, now)),
		tgui.Raw("✅ Last success: "+ago(st.LastSuccess, now)),
	)
	if st.ConsecutiveFailures > 0 {
		lines = append(lines, tgui.Raw(fmt.Sprintf("⚠️ Consecutive failures: %d", st.ConsecutiveFailures)))
	}
	if st.AdvisoryActive {
		lines = append(lines, tgui.Raw("🚨 Health advisory active"))
	}
	return tgui.Lines(lines...).String()
}

func sourceIcon(up bool) string {
	if up {
		return "✅"
	}
	return "❌"
}

func runtimeText(uptime time.Duration, m runtime.MemStats, sups map[string]supervisor.Snapshot) string {
	lines := []tgui.H{
		tgui.B("🤖 Runtime"),
		tgui.Raw("  • Uptime: " + uptime.Round(time.Second).String()),
		tgui.Raw("  • Go: " + runtime.Version()),
		tgui.Raw(fmt.Sprintf("  • Goroutines: %d", runtime.NumGoroutine())),
		tgui.Raw("  • Heap in use: " + humanize.IBytes(m.HeapInuse)),
		tgui.Raw("  • System: " + humanize.IBytes(m.Sys)),
		tgui.Raw(fmt.Sprintf("  • GC runs: %d", m.NumGC)),
	}
	if len(sups) == 0 {
		return tgui.Lines(lines...).String()
	}
	lines = append(lines, "", tgui.B("🧵 Supervisors"))
	names := make([]string, 0, len(sups))
	for name := range sups {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		snap := sups[name]
		var active int64
		var restarts, panics uint64
		for _, g := range snap.Goroutines {
			active += g.Active
			restarts += g.Restarts
			panics += g.Panics
		}
		line := fmt.Sprintf("  • %s: %d active, %d restarts, %d panics", tgui.Esc(name), active, restarts, panics)
		if snap.FirstError != "" {
			line += " (" + tgui.Esc(tgui.TruncRunes(snap.FirstError, 80)).String() + ")"
		}
		lines = append(lines, tgui.Raw(line))
	}
	return tgui.Lines(lines...).String()
}

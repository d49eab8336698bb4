package bot

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"fcfswatch/internal/campaign"
	"fcfswatch/internal/monitor"
	"fcfswatch/internal/storage"
	"fcfswatch/pkg/tgui"
)

const welcomeText = `🚀 <b>Galxe FCFS Monitor Bot</b>

This bot watches Galxe for first-come-first-served rewards and alerts this chat in real time.

<b>Commands:</b>
/monitor - start monitoring
/stop - stop monitoring
/status - monitoring status
/add &lt;space_id&gt; - watch a space
/remove &lt;space_id&gt; - stop watching a space
/list - watched spaces
/health - catalog health
/help - help

<b>Adding a space:</b>
<code>/add Za7zYyykeFvi9KYGmxWSrb</code>`

// maxTestScanItems caps how many campaigns /testscan lists.
const maxTestScanItems = 10

func ago(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func every(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.String()
}

func monitorStartedText(was bool, st monitor.Status) string {
	if was {
		return "ℹ️ Monitoring is already active in this chat."
	}
	lines := []tgui.H{
		tgui.Raw(fmt.Sprintf("✅ Monitoring started! Checking every %s for new FCFS rewards.", every(st.Interval))),
	}
	if st.Mode == monitor.ModeSpaces && len(st.Spaces) == 0 {
		lines = append(lines, "", tgui.Raw("No spaces watched yet. Add one with <code>/add &lt;space_id&gt;</code> to receive alerts."))
	}
	return tgui.Lines(lines...).String()
}

func monitorStoppedText(was bool) string {
	if !was {
		return "ℹ️ Monitoring was not active in this chat."
	}
	return "⏹️ Monitoring stopped!"
}

func statusText(st monitor.Status, now time.Time) string {
	active := "❌ Inactive"
	if st.Active {
		active = "✅ Active"
	}
	scan := st.State
	lines := []tgui.H{
		tgui.B("📊 Monitor Status"),
		tgui.Raw("🔄 Monitoring: " + active),
		tgui.Raw(fmt.Sprintf("📁 Spaces monitored: %d/%d", len(st.Spaces), st.Limit)),
		tgui.Raw(fmt.Sprintf("⚙️ Mode: %s (every %s)", tgui.Esc(string(st.Mode)), every(st.Interval))),
		tgui.Raw("🕒 Last scan: " + ago(scan.LastScan, now)),
		tgui.Raw("✅ Last success: " + ago(scan.LastSuccess, now)),
	}
	if scan.ConsecutiveFailures > 0 {
		lines = append(lines, tgui.Raw(fmt.Sprintf("⚠️ Consecutive failures: %d", scan.ConsecutiveFailures)))
	}
	if scan.Running {
		lines = append(lines, tgui.Raw("⏳ Scan in progress"))
	}
	lines = append(lines,
		tgui.Raw("🎯 Campaigns detected: "+humanize.Comma(st.Counts.Detected)),
		tgui.Raw("📨 Notifications sent: "+humanize.Comma(st.Counts.Notified)),
	)
	return tgui.Lines(lines...).String()
}

func addUsageText() string {
	return "Usage: <code>/add &lt;space_id&gt;</code> or <code>/add https://app.galxe.com/quest/&lt;space_id&gt;</code>"
}

func addErrorText(ref string, err error) (string, bool) {
	var capErr *monitor.CapError
	switch {
	case errors.Is(err, monitor.ErrInvalidSpace):
		return "❌ Invalid space id " + tgui.Code(ref).String() + ". Expected 15-25 letters or digits, or an app.galxe.com/quest link.", true
	case errors.Is(err, monitor.ErrAlreadyWatched):
		return "⚠️ Space " + tgui.Code(ref).String() + " is already in your monitoring list.", true
	case errors.As(err, &capErr):
		return fmt.Sprintf("⚠️ You already watch the maximum of %d spaces. Remove one with /remove first.", capErr.Limit), true
	}
	return "", false
}

func addedText(sp campaign.Space, active bool) string {
	lines := []tgui.H{tgui.Raw("✅ Space " + tgui.Code(sp.ID).String() + " added for monitoring!")}
	if !active {
		lines = append(lines, tgui.Raw("Send /monitor to start receiving alerts."))
	}
	return tgui.Lines(lines...).String()
}

func removedText(id string, removed bool) string {
	if !removed {
		return "⚠️ Space " + tgui.Code(id).String() + " is not in your monitoring list."
	}
	return "🗑️ Space " + tgui.Code(id).String() + " removed."
}

func listText(subs []storage.Subscription, limit int, now time.Time) string {
	if len(subs) == 0 {
		return "📝 No spaces monitored yet. Use <code>/add &lt;space_id&gt;</code> to add one."
	}
	count := strconv.Itoa(len(subs))
	if limit > 0 {
		count += "/" + strconv.Itoa(limit)
	}
	lines := []tgui.H{tgui.Raw("📋 <b>Monitored spaces</b> (" + count + ")"), ""}
	for i, s := range subs {
		line := strconv.Itoa(i+1) + ". " + tgui.Code(s.Space.ID).String()
		if s.Space.Name != "" {
			line += " " + tgui.Esc(s.Space.Name).String()
		}
		if !s.CreatedAt.IsZero() {
			line += " (added " + ago(s.CreatedAt, now) + ")"
		}
		lines = append(lines, tgui.Raw(line))
	}
	return tgui.Lines(lines...).String()
}

func testScanText(rep monitor.TestReport) string {
	lines := []tgui.H{
		tgui.B("🧪 Test scan (dry run)"),
		tgui.Raw(fmt.Sprintf("Mode: %s, scopes: %d", tgui.Esc(string(rep.Mode)), len(rep.Scopes))),
		tgui.Raw(fmt.Sprintf("Records: %s, merged: %s", humanize.Comma(int64(rep.Records)), humanize.Comma(int64(rep.Merged)))),
		tgui.Raw(fmt.Sprintf("FCFS found: %d, not yet notified: %d", len(rep.Campaigns), rep.Unseen)),
		tgui.Raw("Took: " + rep.Duration.Round(time.Millisecond).String()),
	}
	if rep.Anomalies > 0 {
		lines = append(lines, tgui.Raw(fmt.Sprintf("⚠️ Malformed records skipped: %d", rep.Anomalies)))
	}
	if len(rep.Errors) > 0 {
		lines = append(lines, tgui.Raw(fmt.Sprintf("⚠️ Source errors: %d", len(rep.Errors))))
		for _, err := range rep.Errors {
			lines = append(lines, tgui.Raw("  • "+tgui.Esc(tgui.TruncRunes(err.Error(), 160)).String()))
		}
	}
	if len(rep.Campaigns) > 0 {
		lines = append(lines, "")
		for i, c := range rep.Campaigns {
			if i == maxTestScanItems {
				lines = append(lines, tgui.Raw(fmt.Sprintf("… and %d more", len(rep.Campaigns)-maxTestScanItems)))
				break
			}
			title := c.Name
			if title == "" {
				title = c.ID
			}
			lines = append(lines, tgui.Raw("• "+tgui.Link(tgui.TruncRunes(title, 80), campaign.URL("", c)).String()))
		}
	}
	return tgui.Lines(lines...).String()
}

func statsText(st monitor.Stats, now time.Time) string {
	c := st.Counts
	s := st.State
	return tgui.Lines(
		tgui.B("📈 Bot statistics"),
		tgui.Raw("👥 Active chats: "+humanize.Comma(c.ActiveRecipients)),
		tgui.Raw("📁 Distinct spaces: "+humanize.Comma(c.Spaces)),
		tgui.Raw("🎯 Campaigns detected: "+humanize.Comma(c.Detected)),
		tgui.Raw("📨 Notifications sent: "+humanize.Comma(c.Notified)),
		"",
		tgui.Raw(fmt.Sprintf("🔁 Scans: %s (skipped ticks: %s)", humanize.Comma(int64(s.Scans)), humanize.Comma(int64(s.Skipped)))),
		tgui.Raw(fmt.Sprintf("📤 This run: %d sent, %d failed", s.Sent, s.Failed)),
		tgui.Raw("✅ Last success: "+ago(s.LastSuccess, now)),
	).String()
}

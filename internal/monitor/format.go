package monitor

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"fcfswatch/internal/campaign"
	"fcfswatch/pkg/tgui"
)

const (
	timeLayout     = "02/01/2006 15:04:05"
	maxDescription = 600
)

func statusEmoji(s campaign.Status) string {
	switch s {
	case campaign.StatusActive:
		return "🟢"
	case campaign.StatusReady:
		return "🟡"
	default:
		return "🔴"
	}
}

// FormatCampaign renders the detection message in Telegram HTML.
func FormatCampaign(c campaign.Campaign, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	status := string(c.Status)
	if status == "" {
		status = "Unknown"
	}
	desc := strings.TrimSpace(c.Description)
	if desc == "" {
		desc = "No description available"
	}
	spaceID := c.Space.ID

	lines := []tgui.H{
		"🎯 " + tgui.B("NEW FCFS REWARD DETECTED!"),
		"",
		"📝 " + tgui.KV("Campaign", tgui.Esc(c.Name)),
	}
	if c.Space.Name != "" {
		lines = append(lines, "🏠 "+tgui.KV("Space", tgui.Esc(c.Space.Name)))
	}
	if c.NumberID > 0 {
		lines = append(lines, "🆔 "+tgui.KV("ID", tgui.Esc("#"+strconv.FormatInt(c.NumberID, 10))))
	}
	lines = append(lines,
		tgui.H(statusEmoji(c.Status))+" "+tgui.KV("Status", tgui.Esc(status)),
		"⏰ "+tgui.KV("Start", tgui.Esc(formatTime(c.Start(), loc))),
		"⏰ "+tgui.KV("End", tgui.Esc(formatTime(c.End(), loc))),
		"⏳ "+tgui.KV("Duration", tgui.Esc(FormatSpan(c.Start(), c.End()))),
		"",
		"📋 "+tgui.B("Description:"),
		tgui.Esc(tgui.TruncRunes(desc, maxDescription)),
		"",
		"🔗 "+tgui.BH(tgui.Link("CLAIM NOW", campaign.URL(spaceID, c))),
		"",
		tgui.JoinH(" ", "#GalxeFCFS", "#CryptoReward", tgui.Hashtag(spaceID)),
	)
	return tgui.Lines(lines...).String()
}

func formatTime(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "TBA"
	}
	return t.In(loc).Format(timeLayout)
}

// FormatSpan renders end-start as "Xd Yh Zm", omitting zero units.
// Spans under a minute are "< 1m"; unknown or inverted spans are "Unknown".
func FormatSpan(start, end time.Time) string {
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return "Unknown"
	}
	d := end.Sub(start)
	if d < time.Minute {
		return "< 1m"
	}
	days := int64(d / (24 * time.Hour))
	hours := int64(d%(24*time.Hour)) / int64(time.Hour)
	mins := int64(d%time.Hour) / int64(time.Minute)

	parts := make([]string, 0, 3)
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if mins > 0 {
		parts = append(parts, fmt.Sprintf("%dm", mins))
	}
	return strings.Join(parts, " ")
}

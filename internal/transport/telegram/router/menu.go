package router

import (
	"sort"
	"strings"

	kit "fcfswatch/internal/transport"
)

const (
	maxMenuEntries  = 100
	maxCommandName  = 32
	maxMenuDescLen  = 256
	ownerOnlyMarker = "🔒 "
)

// sanitizeTelegramCommand maps a route or alias onto Telegram's command
// alphabet [a-z0-9_]{1,32}. Separators become one underscore, other
// runes are dropped and a leading digit gets a "cmd_" prefix.
func sanitizeTelegramCommand(s string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		case r == '_', r == '-', r == '/', r == ' ', r == '\t':
			pendingSep = true
		}
	}
	name := b.String()
	if name == "" {
		return ""
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "cmd_" + name
	}
	if len(name) > maxCommandName {
		name = strings.TrimRight(name[:maxCommandName], "_")
	}
	return name
}

// telegramCommandNameFromRoute joins a multi-word route with underscores,
// so "space add" is reachable as /space_add.
func telegramCommandNameFromRoute(route []string) (string, bool) {
	name := sanitizeTelegramCommand(strings.Join(route, "_"))
	return name, name != ""
}

type menuEntry struct {
	name  string
	desc  string
	owner bool
}

// buildTelegramMenuCommands lists every top-level command, public ones
// first, each group alphabetical. Multi-word routes add their joined
// shortcut after the top-level entries.
func buildTelegramMenuCommands(root *cmdNode, cmds []Command) []kit.BotCommand {
	seen := map[string]bool{}
	var top, shortcuts []menuEntry

	if root != nil {
		for _, name := range root.childNames() {
			n, _ := root.child(name)
			if e, ok := newMenuEntry(name, summarizeNodeDesc(n), nodeIsOwnerOnly(n)); ok && !seen[e.name] {
				seen[e.name] = true
				top = append(top, e)
			}
		}
	}
	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) < 2 {
			continue
		}
		name, _ := telegramCommandNameFromRoute(route)
		desc := c.Description
		if desc == "" {
			desc = strings.Join(route, " ")
		}
		if e, ok := newMenuEntry(name, desc, c.Access == AccessOwnerOnly); ok && !seen[e.name] {
			seen[e.name] = true
			shortcuts = append(shortcuts, e)
		}
	}

	sort.SliceStable(top, func(i, j int) bool { return !top[i].owner && top[j].owner })
	sort.SliceStable(shortcuts, func(i, j int) bool { return shortcuts[i].name < shortcuts[j].name })

	out := make([]kit.BotCommand, 0, len(top)+len(shortcuts))
	for _, e := range append(top, shortcuts...) {
		if len(out) == maxMenuEntries {
			break
		}
		desc := e.desc
		if e.owner {
			desc = ownerOnlyMarker + desc
		}
		out = append(out, kit.BotCommand{Command: e.name, Description: desc})
	}
	return out
}

func newMenuEntry(name, desc string, owner bool) (menuEntry, bool) {
	name = sanitizeTelegramCommand(name)
	if name == "" {
		return menuEntry{}, false
	}
	desc = strings.Join(strings.Fields(desc), " ")
	if desc == "" {
		desc = name
	}
	if r := []rune(desc); len(r) > maxMenuDescLen-len([]rune(ownerOnlyMarker)) {
		desc = string(r[:maxMenuDescLen-len([]rune(ownerOnlyMarker))])
	}
	return menuEntry{name: name, desc: desc, owner: owner}, true
}

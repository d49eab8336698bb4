package router

import (
	"html"
	"sort"
	"strings"
)

// helpText renders /help (path empty) or /help <cmd> as Telegram HTML.
func (m *CommandManager) helpText(path []string) string {
	m.mu.RLock()
	root, alias := m.root, m.alias
	m.mu.RUnlock()

	if len(path) == 0 {
		return helpIndex(root)
	}

	node, full := root, []string(nil)
	for _, tok := range path {
		tok = strings.ToLower(strings.TrimPrefix(tok, "/"))
		if next, ok := node.child(tok); ok {
			node, full = next, append(full, tok)
			continue
		}
		// "/help watch" resolves the alias to its command.
		if leaf := alias[tok]; leaf != nil && leaf.cmd != nil && len(full) == 0 {
			node, full = leaf, splitRoute(leaf.cmd.Route)
			break
		}
		return "❓ <b>Unknown command</b>\nSend <code>/help</code> for the command list."
	}
	return helpDetail(node, full)
}

func helpIndex(root *cmdNode) string {
	var public, owner []string
	for _, name := range root.childNames() {
		n, _ := root.child(name)
		line := "<code>/" + html.EscapeString(name) + "</code>"
		if d := summarizeNodeDesc(n); d != "" {
			line += " - " + html.EscapeString(d)
		}
		if nodeIsOwnerOnly(n) {
			owner = append(owner, "• 🔒 "+line)
		} else {
			public = append(public, "• "+line)
		}
	}

	var b strings.Builder
	b.WriteString("📚 <b>Commands</b>\nSend <code>/help &lt;cmd&gt;</code> for details.\n\n")
	b.WriteString(strings.Join(public, "\n"))
	if len(owner) > 0 {
		b.WriteString("\n\n<b>Owner only</b>\n")
		b.WriteString(strings.Join(owner, "\n"))
	}
	return b.String()
}

func helpDetail(n *cmdNode, full []string) string {
	lines := []string{"📚 <b>Help</b> <code>/" + html.EscapeString(strings.Join(full, " ")) + "</code>"}

	if c := n.cmd; c != nil {
		if d := strings.TrimSpace(c.Description); d != "" {
			lines = append(lines, html.EscapeString(d))
		}
		if c.Access == AccessOwnerOnly {
			lines = append(lines, "🔒 <i>Owner only</i>")
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			lines = append(lines, "", "<b>Usage</b>", "<code>"+html.EscapeString(u)+"</code>")
		}
		if short := shortcuts(*c); len(short) > 0 {
			lines = append(lines, "", "<b>Shortcuts</b>")
			for _, s := range short {
				lines = append(lines, "• <code>/"+html.EscapeString(s)+"</code>")
			}
		}
	}

	if len(n.children) > 0 {
		lines = append(lines, "", "<b>Subcommands</b>")
		for _, name := range n.childNames() {
			child, _ := n.child(name)
			line := "• <code>/" + html.EscapeString(strings.Join(append(append([]string(nil), full...), name), " ")) + "</code>"
			if d := summarizeNodeDesc(child); d != "" {
				line += " - " + html.EscapeString(d)
			}
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// summarizeNodeDesc is the command description, or for a bare group the
// names of its first subcommands.
func summarizeNodeDesc(n *cmdNode) string {
	if n == nil {
		return ""
	}
	if n.cmd != nil && strings.TrimSpace(n.cmd.Description) != "" {
		return strings.TrimSpace(n.cmd.Description)
	}
	kids := n.childNames()
	if len(kids) == 0 {
		return ""
	}
	if len(kids) > 3 {
		return "subcommands: " + strings.Join(kids[:3], ", ") + ", …"
	}
	return "subcommands: " + strings.Join(kids, ", ")
}

// nodeIsOwnerOnly is true for an owner-only command, or for a group with
// no public command anywhere below it.
func nodeIsOwnerOnly(n *cmdNode) bool {
	if n == nil {
		return false
	}
	if n.cmd != nil {
		return n.cmd.Access == AccessOwnerOnly
	}
	for _, child := range n.children {
		if !nodeIsOwnerOnly(child) {
			return false
		}
	}
	return len(n.children) > 0
}

// shortcuts lists the other names a command answers to.
func shortcuts(c Command) []string {
	set := map[string]struct{}{}
	route := splitRoute(c.Route)
	if name, ok := telegramCommandNameFromRoute(route); ok && (len(route) > 1 || name != route[0]) {
		set[name] = struct{}{}
	}
	for _, a := range c.Aliases {
		if a = strings.TrimSpace(a); a == "" || strings.Contains(a, " ") {
			continue
		}
		set[a] = struct{}{}
		if s := sanitizeTelegramCommand(a); s != "" {
			set[s] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

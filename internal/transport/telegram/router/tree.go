package router

import (
	"slices"
	"strings"
)

// cmdNode is one word of a command route. Leaves (and groups that are
// also commands) carry cmd.
type cmdNode struct {
	cmd      *Command
	children map[string]*cmdNode
}

func newCommandTree() *cmdNode { return &cmdNode{} }

func splitRoute(route string) []string { return strings.Fields(route) }

// insert stores c under route, creating intermediate groups, and returns
// the node it landed on.
func (n *cmdNode) insert(route []string, c Command) *cmdNode {
	for _, word := range route {
		if n.children == nil {
			n.children = map[string]*cmdNode{}
		}
		next := n.children[word]
		if next == nil {
			next = &cmdNode{}
			n.children[word] = next
		}
		n = next
	}
	n.cmd = &c
	return n
}

func (n *cmdNode) child(word string) (*cmdNode, bool) {
	if n == nil {
		return nil, false
	}
	c, ok := n.children[word]
	return c, ok
}

func (n *cmdNode) childNames() []string {
	if n == nil {
		return nil
	}
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

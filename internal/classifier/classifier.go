// Package classifier decides whether a campaign is first-come-first-served.
//
// Matching is a case-folded substring search over name, description and
// info, plus an unconditional match on designated "drop" kinds. It does no
// I/O and is safe for concurrent use.
package classifier

import (
	"strings"

	"golang.org/x/text/cases"

	"fcfswatch/internal/campaign"
)

// DefaultKeywords is the keyword set used when none is configured.
var DefaultKeywords = []string{
	"fcfs",
	"first come first served",
	"first come",
	"limited",
	"limited supply",
	"limited time",
	"limited quantity",
	"grab now",
	"while supplies last",
	"hurry",
	"hurry up",
	"first 100",
}

var DefaultDropKinds = []string{string(campaign.KindDrop)}

type Classifier struct {
	keywords  []string
	dropKinds map[string]struct{}
}

// New builds a classifier. Empty lists select the defaults; non-empty
// lists replace them.
func New(keywords, dropKinds []string) *Classifier {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	if len(dropKinds) == 0 {
		dropKinds = DefaultDropKinds
	}
	c := &Classifier{dropKinds: make(map[string]struct{}, len(dropKinds))}
	for _, k := range keywords {
		if k = fold(strings.TrimSpace(k)); k != "" {
			c.keywords = append(c.keywords, k)
		}
	}
	for _, k := range dropKinds {
		if k = fold(strings.TrimSpace(k)); k != "" {
			c.dropKinds[k] = struct{}{}
		}
	}
	return c
}

var std = New(nil, nil)

// IsFCFS classifies with the default keywords and drop kinds.
func IsFCFS(c campaign.Campaign) bool { return std.IsFCFS(c) }

func (cl *Classifier) IsFCFS(c campaign.Campaign) bool {
	if _, ok := cl.dropKinds[fold(string(c.Kind))]; ok && c.Kind != "" {
		return true
	}
	text := fold(c.Text())
	if text == "" {
		return false
	}
	for _, k := range cl.keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// Filter returns the FCFS campaigns in input order.
func (cl *Classifier) Filter(cs []campaign.Campaign) []campaign.Campaign {
	out := make([]campaign.Campaign, 0, len(cs))
	for _, c := range cs {
		if cl.IsFCFS(c) {
			out = append(out, c)
		}
	}
	return out
}

func (cl *Classifier) Keywords() []string {
	return append([]string(nil), cl.keywords...)
}

// fold builds a Caser per call; Casers carry state and are not shareable.
func fold(s string) string {
	if s == "" {
		return ""
	}
	return cases.Fold().String(s)
}

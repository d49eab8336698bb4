package monitor

import (
	"fmt"
	"strings"
)

// Mode selects what a scan covers.
type Mode string

const (
	// ModeSpaces scans the union of spaces watched by active recipients.
	ModeSpaces Mode = "spaces"
	// ModeAll queries the catalog once with no space filter.
	ModeAll Mode = "all"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeSpaces:
		return ModeSpaces, nil
	case ModeAll:
		return ModeAll, nil
	}
	return "", fmt.Errorf("monitor.mode: unknown mode %q (want spaces or all)", s)
}

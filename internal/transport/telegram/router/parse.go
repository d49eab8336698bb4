package router

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// newReqID tags one command invocation in logs.
func newReqID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:12]
}

// tokenizeCommandLine splits a message into words. Single or double
// quotes group words and a backslash escapes the next rune:
//
//	/add "GCspace..." --force
func tokenizeCommandLine(s string) []string {
	var (
		out     []string
		cur     strings.Builder
		quote   rune
		escaped bool
		started bool
	)
	for _, r := range strings.TrimSpace(s) {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped, started = true, true
		case quote != 0 && r == quote:
			quote = 0
		case quote != 0:
			cur.WriteRune(r)
		case r == '"' || r == '\'':
			quote, started = r, true
		case unicode.IsSpace(r):
			if started {
				out = append(out, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if started {
		out = append(out, cur.String())
	}
	return out
}

// parseFlags separates positionals from flags. Accepted forms:
// --name=value, --name value, --switch, -n value, -n=value and -abc
// (three switches).
func parseFlags(args []string) (pos []string, flags map[string]string, bools map[string]bool) {
	flags, bools = map[string]string{}, map[string]bool{}
	takesValue := func(i int) bool {
		return i+1 < len(args) && !strings.HasPrefix(args[i+1], "-")
	}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, long := strings.CutPrefix(arg, "--")
		if !long {
			var short bool
			if name, short = strings.CutPrefix(arg, "-"); !short || name == "" {
				pos = append(pos, arg)
				continue
			}
		}
		if name == "" {
			pos = append(pos, arg)
			continue
		}
		if k, v, ok := strings.Cut(name, "="); ok {
			flags[k] = v
			continue
		}
		if !long && len(name) > 1 {
			for _, r := range name {
				bools[string(r)] = true
			}
			continue
		}
		if takesValue(i) {
			flags[name] = args[i+1]
			i++
			continue
		}
		bools[name] = true
	}
	return pos, flags, bools
}

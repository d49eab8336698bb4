package campaign

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const (
	questBase = "https://app.galxe.com/quest"
)

var spaceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9]{15,25}$`)

// ValidSpaceID reports whether id looks like a remote space identifier.
func ValidSpaceID(id string) bool {
	return spaceIDPattern.MatchString(id)
}

// ParseSpaceRef accepts a bare space ID or a quest URL
// (app.galxe.com/quest/<space>[/<campaign>]) and returns the space ID.
func ParseSpaceRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("empty space reference")
	}
	if ValidSpaceID(ref) {
		return ref, nil
	}

	raw := ref
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid space reference %q", ref)
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+1 < len(segs); i++ {
		if segs[i] == "quest" && ValidSpaceID(segs[i+1]) {
			return segs[i+1], nil
		}
	}
	return "", fmt.Errorf("invalid space reference %q", ref)
}

// URL is the public quest link for a campaign. spaceID falls back to the
// campaign's own space.
func URL(spaceID string, c Campaign) string {
	if spaceID == "" {
		spaceID = c.Space.ID
	}
	if spaceID == "" {
		return questBase + "/" + url.PathEscape(c.ID)
	}
	return questBase + "/" + url.PathEscape(spaceID) + "/" + url.PathEscape(c.ID)
}

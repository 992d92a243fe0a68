package constants

import "strings"

// HeadingLevel is the outline level a paragraph role maps to ("h1".."h6").
type HeadingLevel string

const (
	H1 HeadingLevel = "h1"
	H2 HeadingLevel = "h2"
	H3 HeadingLevel = "h3"
	H4 HeadingLevel = "h4"
	H5 HeadingLevel = "h5"
	H6 HeadingLevel = "h6"
)

var allLevels = []HeadingLevel{H1, H2, H3, H4, H5, H6}

// AllHeadingLevels returns the levels in outline order.
func AllHeadingLevels() []HeadingLevel {
	out := make([]HeadingLevel, len(allLevels))
	copy(out, allLevels)
	return out
}

// HeadingLevelForRole returns the heading level for a paragraph role.
// ok is false when the role is not a title or heading.
func HeadingLevelForRole(role string) (HeadingLevel, bool) {
	normalized := strings.ToLower(strings.TrimSpace(role))
	if normalized == "" {
		return "", false
	}
	if !strings.Contains(normalized, "title") && !strings.Contains(normalized, "heading") {
		return "", false
	}
	if strings.Contains(normalized, "title") {
		return H1, true
	}
	for _, lvl := range allLevels {
		if strings.Contains(normalized, string(lvl)) {
			return lvl, true
		}
	}
	// sectionHeading carries no explicit level.
	return H1, true
}

package links

import (
	"regexp"
	"strings"
)

// wikiLink matches [[Name]] and [[Name|Display]] tokens. The display suffix
// is presentation only and never participates in resolution.
var wikiLink = regexp.MustCompile(`\[\[([^\[\]]+)\]\]`)

// ExtractTargets returns the distinct trimmed target names referenced by the
// content, in first-appearance order.
func ExtractTargets(content string) []string {
	matches := wikiLink.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	var targets []string
	for _, m := range matches {
		name := m[1]
		if i := strings.IndexByte(name, '|'); i >= 0 {
			name = name[:i]
		}
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		targets = append(targets, name)
	}
	return targets
}

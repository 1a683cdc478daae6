package fingerprint

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// adSelector is a tiny subset of CSS selector semantics sufficient for
// ad-container patterns: exact class tokens (".ad"), exact ids
// ("#ad-banner"), and substring-in-class-or-id matches (the bare pattern
// "ad-", used for "any id or class containing the substring `ad-`").
type adSelector struct {
	kind  string // "class", "id", "contains"
	value string
}

func compileAdSelectors(patterns []string) []adSelector {
	out := make([]adSelector, 0, len(patterns))
	for _, p := range patterns {
		switch {
		case strings.HasPrefix(p, "."):
			out = append(out, adSelector{kind: "class", value: p[1:]})
		case strings.HasPrefix(p, "#"):
			out = append(out, adSelector{kind: "id", value: p[1:]})
		default:
			out = append(out, adSelector{kind: "contains", value: p})
		}
	}
	return out
}

func (s adSelector) matches(_ int, sel *goquery.Selection) bool {
	switch s.kind {
	case "class":
		for _, tok := range strings.Fields(sel.AttrOr("class", "")) {
			if tok == s.value {
				return true
			}
		}
		return false
	case "id":
		return sel.AttrOr("id", "") == s.value
	default: // contains
		if strings.Contains(sel.AttrOr("id", ""), s.value) {
			return true
		}
		return strings.Contains(sel.AttrOr("class", ""), s.value)
	}
}

// Package detector decides when a fetched page needs a headless render.
package detector

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/seo-auditor/internal/audit"
)

// DefaultFrameworkHints are script-src fragments that mark client-rendered pages.
var DefaultFrameworkHints = []string{"react", "next"}

var spaRoots = []string{"#__next", "#root", "#app", "[data-reactroot]"}

// Heuristic promotes pages that load a rendering framework or ship an empty app shell.
type Heuristic struct {
	BodyLengthThreshold int
	FrameworkHints      []string
}

// NewHeuristic creates a detector. threshold is the body size under which script-heavy pages are promoted.
func NewHeuristic(threshold int, hints ...string) *Heuristic {
	if threshold <= 0 {
		threshold = 2048
	}
	if len(hints) == 0 {
		hints = DefaultFrameworkHints
	}
	return &Heuristic{BodyLengthThreshold: threshold, FrameworkHints: hints}
}

// ShouldPromote decides whether a headless fetch is required.
func (h *Heuristic) ShouldPromote(resp audit.FetchResponse) bool {
	if resp.StatusCode != 200 || resp.UsedHeadless {
		return false
	}
	body := resp.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	if h.loadsFramework(doc) {
		return true
	}
	for _, sel := range spaRoots {
		if root := doc.Find(sel).First(); root.Length() > 0 && strings.TrimSpace(root.Text()) == "" {
			return true
		}
	}
	return len(body) < h.BodyLengthThreshold && scriptDensityHigh(doc, len(body))
}

func (h *Heuristic) loadsFramework(doc *goquery.Document) bool {
	found := false
	doc.Find("script[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src := strings.ToLower(s.AttrOr("src", ""))
		for _, hint := range h.FrameworkHints {
			if strings.Contains(src, hint) {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

// scriptDensityHigh reports whether inline script text makes up at least a quarter of the document.
func scriptDensityHigh(doc *goquery.Document, total int) bool {
	if total == 0 {
		return false
	}
	coverage := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		coverage += len(s.Text()) + len("<script></script>")
	})
	return coverage*100/total >= 25
}

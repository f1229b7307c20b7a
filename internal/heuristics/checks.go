package heuristics

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/seo-auditor/internal/audit"
)

func (e *Engine) checkTitle(page Page, in Inputs) audit.CheckResult {
	title := page.Title
	if title == "" {
		return audit.Fail(0, "no title")
	}
	if n := utf8.RuneCountInString(title); n < e.cfg.TitleMin || n > e.cfg.TitleMax {
		return audit.Warn(50, fmt.Sprintf("title length %d (expected %d-%d)", n, e.cfg.TitleMin, e.cfg.TitleMax))
	}
	if primary := primaryKeyword(in.Keywords); primary != "" &&
		!strings.Contains(strings.ToLower(title), strings.ToLower(primary)) {
		return audit.Warn(70, fmt.Sprintf("primary keyword %q not in title", primary))
	}
	if in.Seen.SimilarTitle(title) {
		return audit.Warn(60, "similar title already used on another page")
	}
	return audit.Pass("good")
}

func (e *Engine) checkMetaDescription(page Page, in Inputs) audit.CheckResult {
	desc := page.MetaDescription
	if desc == "" {
		return audit.Fail(0, "no meta description")
	}
	if n := utf8.RuneCountInString(desc); n < e.cfg.DescriptionMin || n > e.cfg.DescriptionMax {
		return audit.Warn(50, fmt.Sprintf("description length %d (expected %d-%d)",
			n, e.cfg.DescriptionMin, e.cfg.DescriptionMax))
	}
	if in.Seen.SimilarDescription(desc) {
		return audit.Warn(60, "similar description already used on another page")
	}
	return audit.Pass("good")
}

func checkHeadings(page Page) audit.CheckResult {
	if page.H1Count != 1 {
		return audit.Fail(20, fmt.Sprintf("%d H1 elements", page.H1Count))
	}
	return audit.Pass("single H1")
}

func checkCanonical(page Page) audit.CheckResult {
	if page.Canonical == "" {
		return audit.Fail(0, "canonical missing")
	}
	if page.Canonical != page.URL {
		return audit.Fail(0, fmt.Sprintf("canonical %s does not match %s", page.Canonical, page.URL))
	}
	return audit.Pass("canonical matches")
}

func checkStructuredData(page Page) audit.CheckResult {
	if len(page.JSONLD) == 0 {
		return audit.Warn(30, "no JSON-LD")
	}
	for i, raw := range page.JSONLD {
		if !validJSONLD(raw) {
			return audit.Fail(20, fmt.Sprintf("JSON-LD block %d is malformed or has no @type", i+1))
		}
	}
	return audit.Pass(fmt.Sprintf("%d valid JSON-LD blocks", len(page.JSONLD)))
}

func validJSONLD(raw string) bool {
	var doc any
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &doc); err != nil {
		return false
	}
	switch v := doc.(type) {
	case map[string]any:
		if hasType(v) {
			return true
		}
		graph, ok := v["@graph"].([]any)
		return ok && allTyped(graph)
	case []any:
		return allTyped(v)
	default:
		return false
	}
}

func allTyped(items []any) bool {
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok || !hasType(obj) {
			return false
		}
	}
	return true
}

func hasType(obj map[string]any) bool {
	switch t := obj["@type"].(type) {
	case string:
		return strings.TrimSpace(t) != ""
	case []any:
		return len(t) > 0
	default:
		return false
	}
}

func (e *Engine) checkHreflang(page Page, in Inputs) audit.CheckResult {
	lang := strings.ToLower(firstNonEmpty(in.Lang, page.Lang, "en"))
	alts := page.Alternates
	self, ok := alts[lang]
	if !ok {
		if primary, _, found := strings.Cut(lang, "-"); found {
			lang = primary
			self, ok = alts[lang]
		}
	}
	if !ok || self != page.URL {
		return audit.Fail(0, fmt.Sprintf("self hreflang for %q missing or incorrect", lang))
	}

	var missing []string
	for _, locale := range e.cfg.RequiredLocales {
		if _, ok := alts[strings.ToLower(locale)]; !ok {
			missing = append(missing, locale)
		}
	}
	if len(missing) > 0 {
		return audit.Warn(50, "missing hreflang for "+strings.Join(missing, ", "))
	}
	if _, ok := alts["x-default"]; !ok {
		return audit.Warn(70, "no x-default hreflang")
	}

	var relative []string
	for _, locale := range slices.Sorted(maps.Keys(alts)) {
		if !isAbsoluteHTTP(alts[locale]) {
			relative = append(relative, locale)
		}
	}
	if len(relative) > 0 {
		return audit.Warn(75, "relative hreflang URLs for "+strings.Join(relative, ", "))
	}

	if rec := in.Reciprocal; rec != nil {
		if rec.Err != nil {
			return audit.Warn(50, fmt.Sprintf("could not verify reciprocal hreflang on %s: %v", rec.URL, rec.Err))
		}
		if rec.Alternates[lang] != page.URL {
			return audit.Warn(60, fmt.Sprintf("%s does not link back with hreflang %q", rec.URL, lang))
		}
	}
	return audit.Pass("hreflang complete")
}

func checkOpenGraph(page Page) audit.CheckResult {
	var missing []string
	for _, tag := range []string{"og:title", "og:description", "og:image", "og:url", "og:type"} {
		if page.OpenGraph[tag] == "" {
			missing = append(missing, tag)
		}
	}
	if len(missing) > 0 {
		return audit.Fail(0, "missing "+strings.Join(missing, ", "))
	}
	return audit.Pass("all Open Graph tags present")
}

func checkAccessibility(page Page) audit.CheckResult {
	if page.ImagesMissingAlt > 0 {
		return audit.Warn(50, fmt.Sprintf("%d of %d images missing alt text", page.ImagesMissingAlt, page.ImageCount))
	}
	return audit.Pass("all images have alt text")
}

func (e *Engine) checkKeywordDensity(page Page, keywords []string) (audit.CheckResult, bool) {
	var terms []string
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			terms = append(terms, k)
		}
	}
	if len(terms) == 0 {
		return audit.CheckResult{}, false
	}
	if page.WordCount == 0 {
		return audit.Pass("no text"), true
	}
	text := strings.ToLower(page.Text)
	occurrences := 0
	for _, k := range terms {
		occurrences += strings.Count(text, k)
	}
	density := float64(occurrences) / float64(page.WordCount) * 100
	if density > e.cfg.MaxKeywordDensity {
		return audit.Warn(50, fmt.Sprintf("keyword density %.2f%%", density)), true
	}
	return audit.Pass(fmt.Sprintf("keyword density %.2f%%", density)), true
}

func (e *Engine) checkContentDepth(page Page) audit.CheckResult {
	if page.WordCount < e.cfg.MinWords {
		return audit.Warn(50, fmt.Sprintf("content length %d words", page.WordCount))
	}
	return audit.Pass(fmt.Sprintf("content length %d words", page.WordCount))
}

func (e *Engine) checkInternalLinks(page Page) audit.CheckResult {
	n := countInternalLinks(page.URL, page.Links)
	if n < e.cfg.MinInternalLinks {
		return audit.Warn(50, fmt.Sprintf("only %d internal links", n))
	}
	return audit.Pass(fmt.Sprintf("%d internal links", n))
}

func countInternalLinks(pageURL string, links []string) int {
	base, err := url.Parse(pageURL)
	if err != nil || base.Host == "" {
		base = nil
	}
	count := 0
	for _, href := range links {
		switch {
		case href == "", strings.HasPrefix(href, "#"):
			continue
		case strings.HasPrefix(href, "/") && !strings.HasPrefix(href, "//"):
			count++
			continue
		}
		if base == nil {
			continue
		}
		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		resolved := base.ResolveReference(ref)
		if (resolved.Scheme == "http" || resolved.Scheme == "https") &&
			strings.EqualFold(resolved.Hostname(), base.Hostname()) {
			count++
		}
	}
	return count
}

func checkRobots(page Page) audit.CheckResult {
	if strings.Contains(strings.ToLower(page.Robots), "noindex") {
		return audit.Fail(0, "noindex directive present")
	}
	return audit.Pass("indexable")
}

func checkMobileViewport(page Page) audit.CheckResult {
	compact := strings.ReplaceAll(strings.ToLower(page.Viewport), " ", "")
	if !page.HasViewport || !strings.Contains(compact, "width=device-width") {
		return audit.Fail(0, "no responsive viewport")
	}
	return audit.Pass("responsive viewport")
}

func checkPerformance(perf *audit.PerformanceReport) (audit.CheckResult, bool) {
	if perf == nil || perf.PerformanceScore == nil {
		return audit.CheckResult{}, false
	}
	score := int(*perf.PerformanceScore + 0.5)
	notes := fmt.Sprintf("performance score %d", score)
	switch {
	case score >= 90:
		return audit.Pass(notes), true
	case score >= 50:
		return audit.Warn(score, notes), true
	default:
		return audit.Fail(score, notes), true
	}
}

func primaryKeyword(keywords []string) string {
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			return k
		}
	}
	return ""
}

func isAbsoluteHTTP(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

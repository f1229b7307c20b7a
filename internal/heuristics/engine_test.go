package heuristics

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/seo-auditor/internal/audit"
)

const pageURL = "https://example.com/en/"

type fixture struct {
	title      string
	desc       string
	h1s        int
	canonical  string
	jsonLD     []string
	hreflang   map[string]string
	robots     string
	viewport   string
	body       string
	images     string
	links      int
	scriptSrcs []string
}

func goodFixture() fixture {
	return fixture{
		title:     "Acme widgets for every workshop and every budget now",
		desc:      strings.Repeat("d", 130),
		h1s:       1,
		canonical: pageURL,
		jsonLD:    []string{`{"@context":"https://schema.org","@type":"Organization","name":"Acme"}`},
		hreflang: map[string]string{
			"en":        pageURL,
			"fr":        "https://example.com/fr/",
			"de":        "https://example.com/de/",
			"es":        "https://example.com/es/",
			"it":        "https://example.com/it/",
			"id":        "https://example.com/id/",
			"x-default": pageURL,
		},
		viewport: "width=device-width, initial-scale=1",
		body:     strings.Repeat("word ", 1600),
		images:   `<img src="a.png" alt="a">`,
		links:    3,
	}
}

func (f fixture) html() []byte {
	var b strings.Builder
	b.WriteString(`<html lang="en"><head>`)
	if f.title != "" {
		fmt.Fprintf(&b, "<title>%s</title>", f.title)
	}
	if f.desc != "" {
		fmt.Fprintf(&b, `<meta name="description" content="%s">`, f.desc)
	}
	if f.canonical != "" {
		fmt.Fprintf(&b, `<link rel="canonical" href="%s">`, f.canonical)
	}
	for lang, href := range f.hreflang {
		fmt.Fprintf(&b, `<link rel="alternate" hreflang="%s" href="%s">`, lang, href)
	}
	for _, block := range f.jsonLD {
		fmt.Fprintf(&b, `<script type="application/ld+json">%s</script>`, block)
	}
	if f.robots != "" {
		fmt.Fprintf(&b, `<meta name="robots" content="%s">`, f.robots)
	}
	if f.viewport != "" {
		fmt.Fprintf(&b, `<meta name="viewport" content="%s">`, f.viewport)
	}
	for _, prop := range []string{"og:title", "og:description", "og:image", "og:url", "og:type"} {
		fmt.Fprintf(&b, `<meta property="%s" content="x">`, prop)
	}
	for _, src := range f.scriptSrcs {
		fmt.Fprintf(&b, `<script src="%s"></script>`, src)
	}
	b.WriteString("</head><body>")
	for i := 0; i < f.h1s; i++ {
		b.WriteString("<h1>Heading</h1>")
	}
	for i := 0; i < f.links; i++ {
		fmt.Fprintf(&b, `<a href="/page-%d">link</a>`, i)
	}
	b.WriteString(f.images)
	fmt.Fprintf(&b, "<p>%s</p><script>var hidden = 'not counted';</script>", f.body)
	b.WriteString("</body></html>")
	return []byte(b.String())
}

func evaluate(t *testing.T, f fixture, in Inputs) Report {
	t.Helper()
	page, err := Parse(f.html(), pageURL, nil)
	require.NoError(t, err)
	return NewEngine(DefaultConfig()).Evaluate(page, in)
}

func TestEvaluate_AllPassing(t *testing.T) {
	t.Parallel()

	report := evaluate(t, goodFixture(), Inputs{})
	for name, res := range report.Checks {
		require.Equal(t, audit.CheckPass, res.Status, "%s: %s", name, res.Notes)
	}
	require.NotContains(t, report.Checks, CheckKeywordDensity)
	require.NotContains(t, report.Checks, CheckPerformance)
	require.InDelta(t, 100, report.OverallScore, 0.001)
}

func TestEvaluate_ShortTitleCitesLength(t *testing.T) {
	t.Parallel()

	f := goodFixture()
	f.title = "Home"
	res := evaluate(t, f, Inputs{}).Checks[CheckTitle]
	require.Equal(t, audit.CheckWarn, res.Status)
	require.Equal(t, 50, res.Score)
	require.Contains(t, res.Notes, "title length 4")
}

func TestEvaluate_TitleThresholds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		title  string
		status audit.CheckStatus
		score  int
	}{
		{strings.Repeat("a", 55), audit.CheckPass, 100},
		{strings.Repeat("a", 50), audit.CheckPass, 100},
		{strings.Repeat("a", 60), audit.CheckPass, 100},
		{strings.Repeat("a", 61), audit.CheckWarn, 50},
		{strings.Repeat("a", 49), audit.CheckWarn, 50},
		{"", audit.CheckFail, 0},
	}
	for _, tc := range cases {
		f := goodFixture()
		f.title = tc.title
		res := evaluate(t, f, Inputs{}).Checks[CheckTitle]
		require.Equal(t, tc.status, res.Status, "len %d", len(tc.title))
		require.Equal(t, tc.score, res.Score, "len %d", len(tc.title))
	}
}

func TestEvaluate_TitleKeywordAndSimilarity(t *testing.T) {
	t.Parallel()

	f := goodFixture()
	res := evaluate(t, f, Inputs{Keywords: []string{"gadgets"}}).Checks[CheckTitle]
	require.Equal(t, audit.Warn(70, `primary keyword "gadgets" not in title`), res)

	seen := NewSeenTracker(0.8)
	seen.Record(f.title, f.desc)
	report := evaluate(t, f, Inputs{Keywords: []string{"WIDGETS"}, Seen: seen})
	require.Equal(t, 60, report.Checks[CheckTitle].Score)
	require.Equal(t, 60, report.Checks[CheckMetaDescription].Score)
}

func TestEvaluate_HreflangMissingLocales(t *testing.T) {
	t.Parallel()

	f := goodFixture()
	f.hreflang = map[string]string{"en": pageURL, "fr": "https://example.com/fr/"}
	res := evaluate(t, f, Inputs{}).Checks[CheckHreflang]
	require.Equal(t, audit.CheckWarn, res.Status)
	require.Equal(t, 50, res.Score)
	require.Equal(t, "missing hreflang for de, es, it, id, x-default", res.Notes)
}

func TestEvaluate_HreflangSelfAndReciprocal(t *testing.T) {
	t.Parallel()

	f := goodFixture()
	f.hreflang["en"] = "https://example.com/other/"
	require.Equal(t, 0, evaluate(t, f, Inputs{}).Checks[CheckHreflang].Score)

	f = goodFixture()
	f.hreflang["fr"] = "/fr/"
	require.Equal(t, 75, evaluate(t, f, Inputs{}).Checks[CheckHreflang].Score)

	f = goodFixture()
	back := &Reciprocal{URL: "https://example.com/de/", Alternates: map[string]string{"en": pageURL}}
	require.Equal(t, audit.CheckPass, evaluate(t, f, Inputs{Reciprocal: back}).Checks[CheckHreflang].Status)

	noBack := &Reciprocal{URL: "https://example.com/de/", Alternates: map[string]string{"de": "https://example.com/de/"}}
	require.Equal(t, 60, evaluate(t, f, Inputs{Reciprocal: noBack}).Checks[CheckHreflang].Score)

	failed := &Reciprocal{URL: "https://example.com/de/", Err: errors.New("timeout")}
	require.Equal(t, 50, evaluate(t, f, Inputs{Reciprocal: failed}).Checks[CheckHreflang].Score)
}

func TestEvaluate_XDefaultOptionalLocales(t *testing.T) {
	t.Parallel()

	f := goodFixture()
	delete(f.hreflang, "x-default")
	page, err := Parse(f.html(), pageURL, nil)
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.RequiredLocales = []string{"en", "fr"}
	res := NewEngine(cfg).Evaluate(page, Inputs{}).Checks[CheckHreflang]
	require.Equal(t, audit.Warn(70, "no x-default hreflang"), res)
}

func TestEvaluate_RobotsNoindex(t *testing.T) {
	t.Parallel()

	f := goodFixture()
	f.robots = "noindex, nofollow"
	res := evaluate(t, f, Inputs{}).Checks[CheckRobots]
	require.Equal(t, audit.CheckFail, res.Status)
	require.Equal(t, 0, res.Score)

	page, err := Parse(goodFixture().html(), pageURL, http.Header{"X-Robots-Tag": {"noindex"}})
	require.NoError(t, err)
	require.Equal(t, audit.CheckFail, NewEngine(Config{}).Evaluate(page, Inputs{}).Checks[CheckRobots].Status)
}

func TestEvaluate_StructuredData(t *testing.T) {
	t.Parallel()

	cases := []struct {
		blocks []string
		score  int
	}{
		{nil, 30},
		{[]string{`{"name":"x"}`}, 20},
		{[]string{`{not json`}, 20},
		{[]string{`[{"@type":"Thing"},{"@type":"Other"}]`}, 100},
		{[]string{`{"@context":"https://schema.org","@graph":[{"@type":"WebPage"}]}`}, 100},
		{[]string{`{"@type":"Thing"}`, `{"@graph":[{"name":"untyped"}]}`}, 20},
	}
	for _, tc := range cases {
		f := goodFixture()
		f.jsonLD = tc.blocks
		require.Equal(t, tc.score, evaluate(t, f, Inputs{}).Checks[CheckStructuredData].Score, "%v", tc.blocks)
	}
}

func TestEvaluate_ContentLinksImagesViewport(t *testing.T) {
	t.Parallel()

	f := goodFixture()
	f.body = "short text"
	f.links = 2
	f.images = `<img src="a.png"><img src="b.png" alt="">`
	f.viewport = "initial-scale=1"
	f.h1s = 2
	f.canonical = ""
	report := evaluate(t, f, Inputs{})

	require.Equal(t, 50, report.Checks[CheckContentDepth].Score)
	require.Equal(t, audit.Warn(50, "only 2 internal links"), report.Checks[CheckInternalLinks])
	require.Equal(t, audit.Warn(50, "2 of 2 images missing alt text"), report.Checks[CheckAccessibility])
	require.Equal(t, audit.CheckFail, report.Checks[CheckMobileViewport].Status)
	require.Equal(t, audit.Fail(20, "2 H1 elements"), report.Checks[CheckHeadings])
	require.Equal(t, 0, report.Checks[CheckCanonical].Score)
}

func TestEvaluate_KeywordDensity(t *testing.T) {
	t.Parallel()

	f := goodFixture()
	f.body = strings.Repeat("widget filler filler filler filler ", 400)
	res := evaluate(t, f, Inputs{Keywords: []string{"widget"}}).Checks[CheckKeywordDensity]
	require.Equal(t, audit.CheckWarn, res.Status)

	f.body = strings.Repeat("filler ", 1600)
	res = evaluate(t, f, Inputs{Keywords: []string{"widget"}}).Checks[CheckKeywordDensity]
	require.Equal(t, audit.CheckPass, res.Status)
}

func TestEvaluate_PerformanceCheck(t *testing.T) {
	t.Parallel()

	score := 42.0
	report := evaluate(t, goodFixture(), Inputs{Performance: &audit.PerformanceReport{PerformanceScore: &score}})
	require.Equal(t, audit.Fail(42, "performance score 42"), report.Checks[CheckPerformance])

	report = evaluate(t, goodFixture(), Inputs{Performance: &audit.PerformanceReport{}})
	require.NotContains(t, report.Checks, CheckPerformance)
}

func TestEvaluate_Idempotent(t *testing.T) {
	t.Parallel()

	f := goodFixture()
	f.title = "Home"
	page, err := Parse(f.html(), pageURL, nil)
	require.NoError(t, err)
	engine := NewEngine(DefaultConfig())
	in := Inputs{Keywords: []string{"acme"}, Seen: NewSeenTracker(0.8)}
	first := engine.Evaluate(page, in)
	second := engine.Evaluate(page, in)
	require.Equal(t, first, second)
}

func TestEvaluate_ScoresWithinBounds(t *testing.T) {
	t.Parallel()

	page, err := Parse([]byte("<html></html>"), "not a url", nil)
	require.NoError(t, err)
	report := NewEngine(DefaultConfig()).Evaluate(page, Inputs{Keywords: []string{"x"}})
	for name, res := range report.Checks {
		require.GreaterOrEqual(t, res.Score, 0, name)
		require.LessOrEqual(t, res.Score, 100, name)
		if res.Status == audit.CheckPass {
			require.Equal(t, 100, res.Score, name)
		}
	}
	require.GreaterOrEqual(t, report.OverallScore, 0.0)
}

func TestOverallScoreMean(t *testing.T) {
	t.Parallel()

	require.Zero(t, OverallScore(nil))
	checks := map[string]audit.CheckResult{
		"a": audit.Pass(""),
		"b": audit.Warn(50, ""),
		"c": audit.Fail(0, ""),
	}
	require.InDelta(t, 50, OverallScore(checks), 0.001)
}

func TestEngineSeenTrackerUsesConfiguredThreshold(t *testing.T) {
	t.Parallel()

	const recorded = "Acme Widgets Store Home"
	const candidate = "Acme Widgets Store Hone"

	loose := NewEngine(Config{}).NewSeenTracker()
	loose.Record(recorded, "")
	require.True(t, loose.SimilarTitle(candidate))

	strict := NewEngine(Config{SimilarityThreshold: 0.99}).NewSeenTracker()
	strict.Record(recorded, "")
	require.False(t, strict.SimilarTitle(candidate))
	require.True(t, strict.SimilarTitle(recorded))
}

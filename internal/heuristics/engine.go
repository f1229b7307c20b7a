package heuristics

import (
	"github.com/JakeFAU/seo-auditor/internal/audit"
)

// Check names, in report order.
const (
	CheckTitle           = "title"
	CheckMetaDescription = "meta_description"
	CheckHeadings        = "headings"
	CheckCanonical       = "canonical"
	CheckStructuredData  = "structured_data"
	CheckHreflang        = "hreflang"
	CheckOpenGraph       = "open_graph"
	CheckAccessibility   = "accessibility"
	CheckKeywordDensity  = "keyword_density"
	CheckContentDepth    = "content_depth"
	CheckInternalLinks   = "internal_links"
	CheckRobots          = "robots"
	CheckMobileViewport  = "mobile_viewport"
	CheckPerformance     = "performance"
)

// CheckOrder lists every check in report order.
var CheckOrder = []string{
	CheckTitle,
	CheckMetaDescription,
	CheckHeadings,
	CheckCanonical,
	CheckStructuredData,
	CheckHreflang,
	CheckOpenGraph,
	CheckAccessibility,
	CheckKeywordDensity,
	CheckContentDepth,
	CheckInternalLinks,
	CheckRobots,
	CheckMobileViewport,
	CheckPerformance,
}

// Config holds the thresholds the checks use.
type Config struct {
	TitleMin            int
	TitleMax            int
	DescriptionMin      int
	DescriptionMax      int
	SimilarityThreshold float64
	MaxKeywordDensity   float64
	MinWords            int
	MinInternalLinks    int
	RequiredLocales     []string
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		TitleMin:            50,
		TitleMax:            60,
		DescriptionMin:      120,
		DescriptionMax:      155,
		SimilarityThreshold: 0.8,
		MaxKeywordDensity:   2,
		MinWords:            1500,
		MinInternalLinks:    3,
		RequiredLocales:     []string{"en", "fr", "de", "es", "it", "id", "x-default"},
	}
}

// Reciprocal carries the hreflang alternates found on the counterpart-language page.
// Err is set when that page could not be fetched or parsed.
type Reciprocal struct {
	URL        string
	Alternates map[string]string
	Err        error
}

// Inputs are the per-page values the checks need beyond the parsed page.
type Inputs struct {
	Keywords    []string
	Lang        string
	Seen        *SeenTracker
	Reciprocal  *Reciprocal
	Performance *audit.PerformanceReport
}

// Report is the engine output for one page.
type Report struct {
	Checks       map[string]audit.CheckResult
	OverallScore float64
}

// Engine evaluates pages. It holds no mutable state.
type Engine struct {
	cfg Config
}

// NewSeenTracker returns an empty duplicate tracker using the engine's similarity threshold.
func (e *Engine) NewSeenTracker() *SeenTracker {
	return NewSeenTracker(e.cfg.SimilarityThreshold)
}

// NewEngine builds an Engine, filling zero thresholds from DefaultConfig.
func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.TitleMin <= 0 {
		cfg.TitleMin = def.TitleMin
	}
	if cfg.TitleMax <= 0 {
		cfg.TitleMax = def.TitleMax
	}
	if cfg.DescriptionMin <= 0 {
		cfg.DescriptionMin = def.DescriptionMin
	}
	if cfg.DescriptionMax <= 0 {
		cfg.DescriptionMax = def.DescriptionMax
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = def.SimilarityThreshold
	}
	if cfg.MaxKeywordDensity <= 0 {
		cfg.MaxKeywordDensity = def.MaxKeywordDensity
	}
	if cfg.MinWords <= 0 {
		cfg.MinWords = def.MinWords
	}
	if cfg.MinInternalLinks <= 0 {
		cfg.MinInternalLinks = def.MinInternalLinks
	}
	if len(cfg.RequiredLocales) == 0 {
		cfg.RequiredLocales = def.RequiredLocales
	}
	return &Engine{cfg: cfg}
}

// Evaluate runs every applicable check. Checks that cannot run are left out of the map and the score.
func (e *Engine) Evaluate(page Page, in Inputs) Report {
	checks := map[string]audit.CheckResult{
		CheckTitle:           e.checkTitle(page, in),
		CheckMetaDescription: e.checkMetaDescription(page, in),
		CheckHeadings:        checkHeadings(page),
		CheckCanonical:       checkCanonical(page),
		CheckStructuredData:  checkStructuredData(page),
		CheckHreflang:        e.checkHreflang(page, in),
		CheckOpenGraph:       checkOpenGraph(page),
		CheckAccessibility:   checkAccessibility(page),
		CheckContentDepth:    e.checkContentDepth(page),
		CheckInternalLinks:   e.checkInternalLinks(page),
		CheckRobots:          checkRobots(page),
		CheckMobileViewport:  checkMobileViewport(page),
	}
	if res, ok := e.checkKeywordDensity(page, in.Keywords); ok {
		checks[CheckKeywordDensity] = res
	}
	if res, ok := checkPerformance(in.Performance); ok {
		checks[CheckPerformance] = res
	}
	return Report{Checks: checks, OverallScore: OverallScore(checks)}
}

// OverallScore is the arithmetic mean of the check scores, 0 when there are none.
func OverallScore(checks map[string]audit.CheckResult) float64 {
	if len(checks) == 0 {
		return 0
	}
	total := 0
	for _, c := range checks {
		total += c.Score
	}
	return float64(total) / float64(len(checks))
}

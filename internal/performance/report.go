package performance

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"google.golang.org/api/pagespeedonline/v5"

	"github.com/JakeFAU/seo-auditor/internal/audit"
)

// Lighthouse audit ids and CrUX metric keys.
const (
	auditLCP = "largest-contentful-paint"
	auditCLS = "cumulative-layout-shift"
	auditINP = "interaction-to-next-paint"
	auditFCP = "first-contentful-paint"
	auditTBT = "total-blocking-time"
	auditSI  = "speed-index"

	fieldLCP = "LARGEST_CONTENTFUL_PAINT_MS"
	fieldCLS = "CUMULATIVE_LAYOUT_SHIFT_SCORE"
	fieldINP = "INTERACTION_TO_NEXT_PAINT_MS"

	maxDiagnostics = 10
)

var metricAudits = map[string]bool{
	auditLCP: true, auditCLS: true, auditINP: true, auditFCP: true, auditTBT: true, auditSI: true,
}

// target is the "good" threshold for one metric, in the unit the report uses.
type target struct {
	id, title, unit string
	limit           float64
	toMs            float64
}

func buildReport(resp *pagespeedonline.PagespeedApiPagespeedResponseV5, strategy string) *audit.PerformanceReport {
	report := &audit.PerformanceReport{Strategy: strategy, Notes: []string{}}
	if resp == nil {
		return report
	}

	// LCP, FCP and SI are seconds; CLS unitless; INP and TBT milliseconds.
	report.LCP = firstOf(field(resp, fieldLCP, 1000), lab(resp, auditLCP, 1000))
	report.CLS = firstOf(field(resp, fieldCLS, 100), lab(resp, auditCLS, 1))
	report.INP = firstOf(field(resp, fieldINP, 1), lab(resp, auditINP, 1))
	report.FCP = lab(resp, auditFCP, 1000)
	report.TBT = lab(resp, auditTBT, 1)
	report.SpeedIndex = lab(resp, auditSI, 1000)
	report.PerformanceScore = performanceScore(resp)

	report.Notes = notes(report)
	report.Opportunities = opportunities(report)
	report.Diagnostics = diagnostics(resp)
	return report
}

func field(resp *pagespeedonline.PagespeedApiPagespeedResponseV5, key string, divisor float64) *float64 {
	if resp.LoadingExperience == nil {
		return nil
	}
	m, ok := resp.LoadingExperience.Metrics[key]
	if !ok || m.Percentile == 0 {
		return nil
	}
	v := float64(m.Percentile) / divisor
	return &v
}

func lab(resp *pagespeedonline.PagespeedApiPagespeedResponseV5, id string, divisor float64) *float64 {
	if resp.LighthouseResult == nil {
		return nil
	}
	a, ok := resp.LighthouseResult.Audits[id]
	if !ok || a.NumericValue == 0 {
		return nil
	}
	v := a.NumericValue / divisor
	return &v
}

func firstOf(values ...*float64) *float64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func performanceScore(resp *pagespeedonline.PagespeedApiPagespeedResponseV5) *float64 {
	lr := resp.LighthouseResult
	if lr == nil || lr.Categories == nil || lr.Categories.Performance == nil {
		return nil
	}
	raw, ok := asFloat(lr.Categories.Performance.Score)
	if !ok {
		return nil
	}
	v := math.Round(raw * 100)
	return &v
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func notes(r *audit.PerformanceReport) []string {
	out := []string{}
	if s := r.PerformanceScore; s != nil {
		switch {
		case *s >= 90:
			out = append(out, fmt.Sprintf("Excellent performance score: %.0f/100", *s))
		case *s >= 70:
			out = append(out, fmt.Sprintf("Good performance score: %.0f/100", *s))
		case *s >= 50:
			out = append(out, fmt.Sprintf("Fair performance score: %.0f/100 - consider optimization", *s))
		default:
			out = append(out, fmt.Sprintf("Poor performance score: %.0f/100 - significant optimization needed", *s))
		}
	}
	out = appendBand(out, "LCP", r.LCP, 2.5, 4.0, "%.2fs", "≤2.5s")
	out = appendBand(out, "CLS", r.CLS, 0.1, 0.25, "%.3f", "≤0.1")
	out = appendBand(out, "INP", r.INP, 200, 500, "%.0fms", "≤200ms")
	if r.FCP != nil && *r.FCP > 1.8 {
		out = append(out, fmt.Sprintf("First Contentful Paint is slow: %.2fs (target: ≤1.8s)", *r.FCP))
	}
	if r.TBT != nil && *r.TBT > 200 {
		out = append(out, fmt.Sprintf("Total Blocking Time is high: %.0fms (target: ≤200ms)", *r.TBT))
	}
	if r.SpeedIndex != nil && *r.SpeedIndex > 3.4 {
		out = append(out, fmt.Sprintf("Speed Index is slow: %.2fs (target: ≤3.4s)", *r.SpeedIndex))
	}
	return out
}

func appendBand(out []string, name string, v *float64, good, poor float64, format, goal string) []string {
	if v == nil {
		return out
	}
	value := fmt.Sprintf(format, *v)
	switch {
	case *v <= good:
		return append(out, fmt.Sprintf("%s is excellent: %s (target: %s)", name, value, goal))
	case *v <= poor:
		return append(out, fmt.Sprintf("%s needs improvement: %s (target: %s)", name, value, goal))
	default:
		return append(out, fmt.Sprintf("%s is poor: %s (target: %s)", name, value, goal))
	}
}

func opportunities(r *audit.PerformanceReport) []audit.Opportunity {
	targets := []struct {
		target
		value *float64
	}{
		{target{auditLCP, "Optimize Largest Contentful Paint", "s", 2.5, 1000}, r.LCP},
		{target{auditCLS, "Reduce Cumulative Layout Shift", "", 0.1, 0}, r.CLS},
		{target{auditINP, "Improve Interaction to Next Paint", "ms", 200, 1}, r.INP},
		{target{auditFCP, "Optimize First Contentful Paint", "s", 1.8, 1000}, r.FCP},
		{target{auditTBT, "Reduce Total Blocking Time", "ms", 200, 1}, r.TBT},
		{target{auditSI, "Improve Speed Index", "s", 3.4, 1000}, r.SpeedIndex},
	}
	var out []audit.Opportunity
	for _, t := range targets {
		if t.value == nil || *t.value <= t.limit {
			continue
		}
		out = append(out, audit.Opportunity{
			ID:          t.id,
			Title:       t.title,
			SavingsMs:   math.Round((*t.value - t.limit) * t.toMs),
			Description: fmt.Sprintf("currently %s, target ≤%s", formatValue(*t.value, t.unit), formatValue(t.limit, t.unit)),
		})
	}
	return out
}

func formatValue(v float64, unit string) string {
	switch unit {
	case "s":
		return fmt.Sprintf("%.2fs", v)
	case "ms":
		return fmt.Sprintf("%.0fms", v)
	default:
		return fmt.Sprintf("%.3f", v)
	}
}

// diagnostics lists the worst-scoring non-metric Lighthouse audits.
func diagnostics(resp *pagespeedonline.PagespeedApiPagespeedResponseV5) []audit.Diagnostic {
	if resp.LighthouseResult == nil {
		return nil
	}
	var out []audit.Diagnostic
	for id, a := range resp.LighthouseResult.Audits {
		if metricAudits[id] {
			continue
		}
		score, ok := asFloat(a.Score)
		if !ok || score >= 0.5 {
			continue
		}
		title := a.Title
		if title == "" {
			title = id
		}
		out = append(out, audit.Diagnostic{ID: id, Title: title, DisplayValue: a.DisplayValue})
	}
	slices.SortFunc(out, func(a, b audit.Diagnostic) int { return strings.Compare(a.ID, b.ID) })
	if len(out) > maxDiagnostics {
		out = out[:maxDiagnostics]
	}
	return out
}

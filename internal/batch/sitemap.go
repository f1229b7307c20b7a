package batch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/seo-auditor/internal/audit"
)

// SitemapEntry is one <url> of a sitemap.
type SitemapEntry struct {
	Loc        string
	LastMod    string
	ChangeFreq string
	Priority   *float64
}

// Sitemap indexes entries by location.
type Sitemap map[string]SitemapEntry

// ParseSitemap reads a urlset document.
func ParseSitemap(r io.Reader) (Sitemap, error) {
	doc, err := xmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse sitemap: %w", err)
	}
	nodes, err := xmlquery.QueryAll(doc, "//url")
	if err != nil {
		return nil, fmt.Errorf("query sitemap: %w", err)
	}
	out := make(Sitemap, len(nodes))
	for _, node := range nodes {
		entry := SitemapEntry{
			Loc:        childText(node, "loc"),
			LastMod:    childText(node, "lastmod"),
			ChangeFreq: childText(node, "changefreq"),
		}
		if entry.Loc == "" {
			continue
		}
		if raw := childText(node, "priority"); raw != "" {
			if p, err := strconv.ParseFloat(raw, 64); err == nil {
				entry.Priority = &p
			}
		}
		out[entry.Loc] = entry
	}
	return out, nil
}

// FetchSitemap downloads <baseURL>/sitemap.xml. Any failure is logged and yields an empty sitemap.
func FetchSitemap(ctx context.Context, fetcher audit.Fetcher, baseURL string, logger *zap.Logger) Sitemap {
	if baseURL == "" {
		return Sitemap{}
	}
	target := strings.TrimRight(baseURL, "/") + "/sitemap.xml"
	resp, err := fetcher.Fetch(ctx, audit.FetchRequest{URL: target})
	if err != nil {
		logger.Warn("fetch sitemap failed", zap.String("url", target), zap.Error(err))
		return Sitemap{}
	}
	sm, err := ParseSitemap(bytes.NewReader(resp.Body))
	if err != nil {
		logger.Warn("parse sitemap failed", zap.String("url", target), zap.Error(err))
		return Sitemap{}
	}
	logger.Info("sitemap loaded", zap.String("url", target), zap.Int("entries", len(sm)))
	return sm
}

func childText(node *xmlquery.Node, name string) string {
	child := node.SelectElement(name)
	if child == nil {
		return ""
	}
	return strings.TrimSpace(child.InnerText())
}

// Package heuristics scores parsed pages against SEO checks without performing I/O.
package heuristics

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Page is the parsed structure the checks run against.
type Page struct {
	URL              string
	Lang             string
	Title            string
	MetaDescription  string
	H1Count          int
	Canonical        string
	JSONLD           []string
	Alternates       map[string]string
	OpenGraph        map[string]string
	ImageCount       int
	ImagesMissingAlt int
	Links            []string
	Robots           string
	Viewport         string
	HasViewport      bool
	Text             string
	WordCount        int
	ScriptSources    []string
}

// Parse extracts a Page from raw HTML. pageURL is the audited URL, headers the response headers (may be nil).
func Parse(html []byte, pageURL string, headers http.Header) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return Page{}, fmt.Errorf("parse html: %w", err)
	}

	page := Page{
		URL:        pageURL,
		Lang:       strings.TrimSpace(doc.Find("html").AttrOr("lang", "")),
		Title:      strings.TrimSpace(doc.Find("title").First().Text()),
		H1Count:    doc.Find("h1").Length(),
		Alternates: alternates(doc),
		OpenGraph:  map[string]string{},
	}
	if href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok {
		page.Canonical = strings.TrimSpace(href)
	}

	var robots []string
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		content := strings.TrimSpace(s.AttrOr("content", ""))
		name := strings.ToLower(strings.TrimSpace(s.AttrOr("name", "")))
		switch name {
		case "description":
			if page.MetaDescription == "" {
				page.MetaDescription = content
			}
		case "robots", "googlebot":
			robots = append(robots, content)
		case "viewport":
			page.HasViewport = true
			page.Viewport = content
		}
		if prop := strings.ToLower(strings.TrimSpace(s.AttrOr("property", ""))); strings.HasPrefix(prop, "og:") {
			if _, seen := page.OpenGraph[prop]; !seen && content != "" {
				page.OpenGraph[prop] = content
			}
		}
	})
	if headers != nil {
		robots = append(robots, headers.Values("X-Robots-Tag")...)
	}
	page.Robots = strings.Join(robots, ", ")

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		page.JSONLD = append(page.JSONLD, s.Text())
	})
	doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
		page.ScriptSources = append(page.ScriptSources, s.AttrOr("src", ""))
	})
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		page.ImageCount++
		if strings.TrimSpace(s.AttrOr("alt", "")) == "" {
			page.ImagesMissingAlt++
		}
	})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		page.Links = append(page.Links, strings.TrimSpace(s.AttrOr("href", "")))
	})

	doc.Find("script, style, noscript, template").Remove()
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	words := strings.Fields(body.Text())
	page.Text = strings.Join(words, " ")
	page.WordCount = len(words)
	return page, nil
}

// ParseAlternates extracts only the hreflang alternates, keyed by lower-cased language.
func ParseAlternates(html []byte) (map[string]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return alternates(doc), nil
}

func alternates(doc *goquery.Document) map[string]string {
	out := map[string]string{}
	doc.Find(`link[rel="alternate"][hreflang]`).Each(func(_ int, s *goquery.Selection) {
		lang := strings.ToLower(strings.TrimSpace(s.AttrOr("hreflang", "")))
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if lang == "" || href == "" {
			return
		}
		if _, seen := out[lang]; !seen {
			out[lang] = href
		}
	})
	return out
}

// UsesClientFramework reports whether any script source references a client-side rendering framework.
func (p Page) UsesClientFramework() bool {
	for _, src := range p.ScriptSources {
		lower := strings.ToLower(src)
		if strings.Contains(lower, "react") || strings.Contains(lower, "next") {
			return true
		}
	}
	return false
}

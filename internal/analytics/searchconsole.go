package analytics

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	"google.golang.org/api/searchconsole/v1"

	"github.com/JakeFAU/seo-auditor/internal/audit"
)

// Query is a search analytics request for one property.
type Query struct {
	StartDate string
	EndDate   string
	RowLimit  int64
}

// SearchConsole is the subset of the Search Console API the fetcher uses.
type SearchConsole interface {
	ListSites(ctx context.Context) ([]string, error)
	QueryByQuery(ctx context.Context, siteURL string, q Query) ([]audit.QueryRow, error)
}

// ClientFactory builds a SearchConsole client authorised by ts.
type ClientFactory func(ctx context.Context, ts oauth2.TokenSource) (SearchConsole, error)

// GoogleFactory returns a ClientFactory backed by google.golang.org/api/searchconsole/v1.
// opts are appended after the token source.
func GoogleFactory(opts ...option.ClientOption) ClientFactory {
	return func(ctx context.Context, ts oauth2.TokenSource) (SearchConsole, error) {
		all := append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)
		svc, err := searchconsole.NewService(ctx, all...)
		if err != nil {
			return nil, fmt.Errorf("create search console service: %w", err)
		}
		return &googleClient{svc: svc}, nil
	}
}

type googleClient struct {
	svc *searchconsole.Service
}

func (c *googleClient) ListSites(ctx context.Context) ([]string, error) {
	resp, err := c.svc.Sites.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	sites := make([]string, 0, len(resp.SiteEntry))
	for _, entry := range resp.SiteEntry {
		if entry != nil && entry.SiteUrl != "" {
			sites = append(sites, entry.SiteUrl)
		}
	}
	return sites, nil
}

func (c *googleClient) QueryByQuery(ctx context.Context, siteURL string, q Query) ([]audit.QueryRow, error) {
	req := &searchconsole.SearchAnalyticsQueryRequest{
		StartDate:  q.StartDate,
		EndDate:    q.EndDate,
		Dimensions: []string{"query"},
		RowLimit:   q.RowLimit,
	}
	resp, err := c.svc.Searchanalytics.Query(siteURL, req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("query search analytics: %w", err)
	}
	rows := make([]audit.QueryRow, 0, len(resp.Rows))
	for _, r := range resp.Rows {
		if r == nil {
			continue
		}
		row := audit.QueryRow{
			Clicks:      r.Clicks,
			Impressions: r.Impressions,
			CTR:         r.Ctr,
			Position:    r.Position,
		}
		if len(r.Keys) > 0 {
			row.Query = r.Keys[0]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/seo-auditor/internal/batch"
	"github.com/JakeFAU/seo-auditor/internal/config"
)

func stubRuntime(t *testing.T, mutate func(*config.Config)) {
	t.Helper()
	orig := newRuntime
	t.Cleanup(func() { newRuntime = orig })
	newRuntime = func(path string) (*Runtime, error) {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		if mutate != nil {
			mutate(&cfg)
		}
		return &Runtime{Config: cfg, Logger: zap.NewNop()}, nil
	}
}

func TestBatchCommandWritesReports(t *testing.T) {
	stubRuntime(t, nil)

	mux := http.NewServeMux()
	var srvURL string
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html lang="en"><head><title>Coffee Shop</title></head><body><h1>Coffee</h1></body></html>`))
	})
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(`<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9"><url><loc>` +
			srvURL + `/</loc><changefreq>daily</changefreq></url></urlset>`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	srvURL = srv.URL

	dir := t.TempDir()
	urlsPath := filepath.Join(dir, "urls.csv")
	require.NoError(t, os.WriteFile(urlsPath, []byte("url,lang\n"+srv.URL+"/,en\n"+srv.URL+"/gone,en\n"+srv.URL+"/fr,fr\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keywords.txt"), []byte("coffee\n"), 0o600))
	out := filepath.Join(dir, "out")

	root := newRootCmd()
	root.SetArgs([]string{
		"batch",
		"--urls", urlsPath,
		"--keywords-dir", dir,
		"--output", out,
		"--base-url", srv.URL,
		"--langs", "en",
		"--delay", "0s",
	})
	require.NoError(t, root.ExecuteContext(context.Background()))

	f, err := os.Open(filepath.Join(out, batch.ResultsObject))
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, srv.URL+"/", records[1][0])
	require.Equal(t, srv.URL+"/gone", records[2][0])

	data, err := os.ReadFile(filepath.Join(out, batch.SummaryObject))
	require.NoError(t, err)
	var summary batch.Summary
	require.NoError(t, json.Unmarshal(data, &summary))
	require.Equal(t, 2, summary.TotalPages)
	require.Equal(t, 1, summary.FailedPages)
	require.Positive(t, summary.AvgScore)
}

func TestBatchCommandNoURLs(t *testing.T) {
	stubRuntime(t, nil)

	dir := t.TempDir()
	urlsPath := filepath.Join(dir, "urls.csv")
	require.NoError(t, os.WriteFile(urlsPath, []byte("url,lang\nhttps://shop.example.com/de/,de\n"), 0o600))

	root := newRootCmd()
	root.SetArgs([]string{"batch", "--urls", urlsPath, "--langs", "en", "--output", filepath.Join(dir, "out")})
	require.ErrorContains(t, root.ExecuteContext(context.Background()), "no URLs to audit")
}

func TestApplyBatchFlagsOnlyOverridesChangedFlags(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	cmd := newBatchCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--subset", "5", "--langs", "en,fr", "--delay", "250ms"}))
	got := applyBatchFlags(cmd, &batchFlags{subset: 5, langs: []string{"en", "fr"}, delay: 250 * time.Millisecond}, cfg)

	require.Equal(t, 5, got.Batch.Subset)
	require.Equal(t, []string{"en", "fr"}, got.Batch.Langs)
	require.Equal(t, 250, got.Batch.DelayMs)
	require.Equal(t, cfg.Batch.Concurrency, got.Batch.Concurrency)
	require.Equal(t, cfg.Batch.URLsFile, got.Batch.URLsFile)
}

func TestBatchHelpExplainsRetryScope(t *testing.T) {
	cmd := newBatchCmd()
	require.Contains(t, cmd.Long, "Only transient fetch failures")
	require.Contains(t, cmd.Flags().Lookup("retry-limit").Usage, "transient")
}

func TestNormalizeLangs(t *testing.T) {
	require.Equal(t, []string{"en", "fr"}, normalizeLangs([]string{" EN", "fr", ""}))
	require.Nil(t, normalizeLangs([]string{"en", "all"}))
	require.Nil(t, normalizeLangs(nil))
}

func TestMigrateCommandValidation(t *testing.T) {
	stubRuntime(t, nil)

	root := newRootCmd()
	root.SetArgs([]string{"migrate", "sideways"})
	require.Error(t, root.ExecuteContext(context.Background()))

	root = newRootCmd()
	root.SetArgs([]string{"migrate", "up"})
	require.ErrorContains(t, root.ExecuteContext(context.Background()), "db.dsn")
}

func TestRootRejectsMissingConfigFile(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "migrate"})
	require.ErrorContains(t, root.ExecuteContext(context.Background()), "load config")
}

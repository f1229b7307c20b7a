package batch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadURLs(t *testing.T) {
	t.Parallel()

	in := "lang,url\nen, https://shop.example.com/en/\nFR,https://shop.example.com/fr/\nde,\n,https://shop.example.com/\n"
	rows, err := LoadURLs(strings.NewReader(in))
	require.NoError(t, err)
	require.Equal(t, []Target{
		{URL: "https://shop.example.com/en/", Lang: "en"},
		{URL: "https://shop.example.com/fr/", Lang: "fr"},
		{URL: "https://shop.example.com/"},
	}, rows)
}

func TestLoadURLsWithoutLangColumn(t *testing.T) {
	t.Parallel()

	rows, err := LoadURLs(strings.NewReader("url\nhttps://a.example.com/\n"))
	require.NoError(t, err)
	require.Equal(t, []Target{{URL: "https://a.example.com/"}}, rows)
}

func TestLoadURLsRequiresURLColumn(t *testing.T) {
	t.Parallel()

	_, err := LoadURLs(strings.NewReader("page,lang\nhttps://a.example.com/,en\n"))
	require.ErrorContains(t, err, "no url column")

	_, err = LoadURLs(strings.NewReader(""))
	require.Error(t, err)
}

func TestFilterURLs(t *testing.T) {
	t.Parallel()

	rows := []Target{
		{URL: "https://x/en/1", Lang: "en"},
		{URL: "https://x/fr/1", Lang: "fr"},
		{URL: "https://x/en/2", Lang: "en"},
		{URL: "https://x/de/1", Lang: "de"},
	}

	tests := []struct {
		name   string
		langs  []string
		subset int
		want   []string
	}{
		{name: "all", want: []string{"https://x/en/1", "https://x/fr/1", "https://x/en/2", "https://x/de/1"}},
		{name: "by lang", langs: []string{"en", "de"}, want: []string{"https://x/en/1", "https://x/en/2", "https://x/de/1"}},
		{name: "subset", langs: []string{"en", "fr"}, subset: 2, want: []string{"https://x/en/1", "https://x/fr/1"}},
		{name: "subset larger than input", subset: 10, want: []string{"https://x/en/1", "https://x/fr/1", "https://x/en/2", "https://x/de/1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got []string
			for _, row := range FilterURLs(rows, tt.langs, tt.subset) {
				got = append(got, row.URL)
			}
			require.Equal(t, tt.want, got)
		})
	}
}

func TestLoadKeywordsFallsBack(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keywords_fr.txt"), []byte("café\n\n  grains \n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keywords.txt"), []byte("coffee\nbeans\n"), 0o600))

	fr, err := LoadKeywords(dir, "fr")
	require.NoError(t, err)
	require.Equal(t, []string{"café", "grains"}, fr)

	de, err := LoadKeywords(dir, "de")
	require.NoError(t, err)
	require.Equal(t, []string{"coffee", "beans"}, de)

	none, err := LoadKeywords(t.TempDir(), "en")
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestLoadKeywordSets(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keywords_en.txt"), []byte("coffee\n"), 0o600))

	sets, err := LoadKeywordSets(dir, []Target{{URL: "a", Lang: "en"}, {URL: "b", Lang: "en"}, {URL: "c", Lang: "it"}})
	require.NoError(t, err)
	require.Equal(t, []string{"coffee"}, sets["en"])
	require.Contains(t, sets, "it")
	require.Nil(t, sets["it"])
}

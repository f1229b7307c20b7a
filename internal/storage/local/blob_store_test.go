package local_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/seo-auditor/internal/storage/local"
)

func newStore(t *testing.T) (*local.BlobStore, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "reports")
	store, err := local.New(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, dir
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := local.New("  ")
	require.ErrorContains(t, err, "output directory is required")

	file := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	_, err = local.New(file)
	require.Error(t, err)

	_, dir := newStore(t)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	store, dir := newStore(t)
	ctx := context.Background()

	cases := map[string]string{
		"top level": "audit_results.csv",
		"nested":    "2026/10/audit_summary.json",
		"leading /": "/audit_summary.json",
	}
	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			uri, err := store.PutObject(ctx, path, "text/csv", strings.NewReader(name))
			require.NoError(t, err)

			want := filepath.Join(dir, filepath.FromSlash(strings.TrimPrefix(path, "/")))
			require.Equal(t, "file://"+want, uri)
			got, err := os.ReadFile(want)
			require.NoError(t, err)
			require.Equal(t, name, string(got))
		})
	}
}

func TestPutObjectRejectsEscapes(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t)
	for _, path := range []string{"", "../escape.csv", "a/../../escape.csv"} {
		_, err := store.PutObject(context.Background(), path, "text/csv", strings.NewReader("x"))
		require.ErrorContains(t, err, "invalid object path", path)
	}
}

func TestPutObjectLeavesNothingOnReadError(t *testing.T) {
	t.Parallel()

	store, dir := newStore(t)
	_, err := store.PutObject(context.Background(), "broken.csv", "text/csv", iotest.ErrReader(errors.New("disk gone")))
	require.ErrorContains(t, err, "write broken.csv")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

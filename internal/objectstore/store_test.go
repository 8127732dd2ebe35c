package objectstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestFSRoundTrip(t *testing.T) {
	s, err := NewFS(t.TempDir(), "https://cdn.example.com/media/")
	require.NoError(t, err)
	ctx := context.Background()

	uri, err := s.Upload(ctx, "clips/p1/s1.mp4", strings.NewReader("data"))
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/media/clips/p1/s1.mp4", uri)

	rc, err := s.Download(ctx, "clips/p1/s1.mp4")
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "data", string(b))

	require.NoError(t, s.Delete(ctx, "clips/p1/s1.mp4"))
	require.NoError(t, s.Delete(ctx, "clips/p1/s1.mp4"))
	_, err = s.Download(ctx, "clips/p1/s1.mp4")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFSFailedUploadLeavesNothing(t *testing.T) {
	root := t.TempDir()
	s, err := NewFS(root, "")
	require.NoError(t, err)

	_, err = s.Upload(context.Background(), "clips/p1/s1.mp4", failingReader{})
	require.Error(t, err)
	entries, err := os.ReadDir(filepath.Join(root, "clips", "p1"))
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestFSRejectsEscapingKeys(t *testing.T) {
	s, err := NewFS(t.TempDir(), "")
	require.NoError(t, err)
	for _, k := range []string{"", "../x", "/etc/passwd", "a/../../b"} {
		_, err := s.Upload(context.Background(), k, strings.NewReader("x"))
		require.Error(t, err, k)
	}
}

func TestFetchToFile(t *testing.T) {
	s, err := NewFS(t.TempDir(), "")
	require.NoError(t, err)
	_, err = s.Upload(context.Background(), "uploads/p1/source.mp4", strings.NewReader("video"))
	require.NoError(t, err)

	dir := t.TempDir()
	p, err := FetchToFile(context.Background(), s, "uploads/p1/source.mp4", dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "source.mp4"), p)
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	require.Equal(t, "video", string(b))

	_, err = FetchToFile(context.Background(), s, "uploads/p1/missing.mp4", dir)
	require.ErrorIs(t, err, ErrNotFound)
}

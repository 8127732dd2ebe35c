package util

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTimeWindows(t *testing.T) {
	require.Nil(t, TimeWindows(0, 10, 2))
	require.Equal(t, []Window{{Start: 0, End: 8}}, TimeWindows(8, 10, 2))

	got := TimeWindows(25, 10, 2)
	require.Equal(t, []Window{{0, 10}, {8, 18}, {16, 25}}, got)
}

func TestTimeWindowsIgnoresBadOverlap(t *testing.T) {
	got := TimeWindows(20, 10, 10)
	require.Equal(t, []Window{{0, 10}, {10, 20}}, got)
}

func TestSanitizeTextRemovesNulAndControls(t *testing.T) {
	in := "ab\x00cd\x01\x02\n\txy"
	require.Equal(t, "abcd\n\txy", SanitizeText(in))
}

func TestDisplaySnippet(t *testing.T) {
	require.Equal(t, "a b c", DisplaySnippet("  a\n b\t\tc ", 50))
	require.Equal(t, "abc...", DisplaySnippet("abcdef", 3))
}

func TestNormalizeTags(t *testing.T) {
	require.Equal(t, []string{"clutch", "funny"}, NormalizeTags([]string{" Clutch", "funny", "CLUTCH", "", "\x00"}))
}

func TestKindOf(t *testing.T) {
	cases := map[error]string{
		nil: "",
		fmt.Errorf("probe: %w", ErrInvalidMedia):          KindInvalidMedia,
		fmt.Errorf("detect: %w", ErrNoCandidates):         KindNoCandidates,
		fmt.Errorf("reserve: %w", ErrBudgetExceeded):      KindBudgetExceeded,
		fmt.Errorf("analyze: %w", ErrTransientService):    KindTransientService,
		fmt.Errorf("refine: %w", ErrPermanentService):     KindPermanentService,
		fmt.Errorf("embed seg-1: %w", ErrPartialSegment):  KindPartialSegment,
		errors.New("connection reset by database server"): KindInternal,
	}
	for err, want := range cases {
		require.Equal(t, want, KindOf(err), "error %v", err)
	}
	require.True(t, IsFatalKind(KindNoCandidates))
	require.True(t, IsFatalKind(KindPermanentService))
	require.False(t, IsFatalKind(KindTransientService))
}

func TestWriteJSONAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "manifest.json")
	require.NoError(t, WriteJSONAtomic(path, map[string]any{"stage": "done"}))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	require.Equal(t, "done", got["stage"])

	require.Error(t, WriteJSONAtomic(path, map[string]any{"bad": make(chan int)}))
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

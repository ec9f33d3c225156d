package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Shikha320/Heritageshield/internal/analysis"
)

func executeParse(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(append([]string{"parse"}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestParseFromStdin(t *testing.T) {
	out, err := executeParse(t, "loading model...\n{\"totalFrames\": 90, \"analyzedFrames\": 3, \"fps\": 30, \"summary\": {\"person\": 1}}\n")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.EqualValues(t, 90, got["totalFrames"])
	require.Equal(t, map[string]any{"person": float64(1)}, got["summary"])
}

func TestParseFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, os.WriteFile(path, []byte(`{"error": "Cannot open video: missing.mp4"}`), 0o600))

	_, err := executeParse(t, "", path)
	require.ErrorContains(t, err, "Cannot open video: missing.mp4")
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := executeParse(t, "Traceback (most recent call last):\n  oops\n")
	require.Error(t, err)
	require.Equal(t, analysis.KindParse, analysis.KindOf(err))
}

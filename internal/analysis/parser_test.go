package analysis

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestParseNoisyOutput(t *testing.T) {
	result, err := Parse([]byte(noisyOutput))
	require.NoError(t, err)
	require.Equal(t, int64(300), result.TotalFrames)
	require.Equal(t, int64(10), result.AnalyzedFrames)
	require.InDelta(t, 30.0, result.FPS, 1e-9)
	require.Equal(t, map[string]int{"person": 3}, result.Summary)
	require.Empty(t, result.Detections)
	require.Equal(t, []AlertEntry{{
		Type:     "intrusion",
		Message:  "Person detected crossing perimeter",
		Severity: "high",
	}}, result.Alerts)
	require.Empty(t, result.Error)
}

func TestParseMissingOptionalFields(t *testing.T) {
	result, err := Parse([]byte(`{"totalFrames":10,"analyzedFrames":10}`))
	require.NoError(t, err)
	require.NotNil(t, result.Summary)
	require.Empty(t, result.Summary)
	require.NotNil(t, result.Detections)
	require.Empty(t, result.Detections)
	require.NotNil(t, result.Alerts)
	require.Empty(t, result.Alerts)
}

func TestParseWorkerError(t *testing.T) {
	tests := map[string]struct {
		raw  string
		want string
	}{
		"string":        {`{"error":"model load failed"}`, "model load failed"},
		"with frames":   {`{"totalFrames":0,"error":"Cannot open video: x.mp4"}`, "Cannot open video: x.mp4"},
		"null":          {`{"totalFrames":1,"error":null}`, ""},
		"false":         {`{"totalFrames":1,"error":false}`, ""},
		"empty string":  {`{"totalFrames":1,"error":""}`, ""},
		"zero":          {`{"totalFrames":1,"error":0}`, ""},
		"true":          {`{"error":true}`, "true"},
		"object":        {`{"error":{"message":"decoder crashed"}}`, "decoder crashed"},
		"nested object": {`{"error":{"code":7}}`, `{"code":7}`},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			result, err := Parse([]byte(tt.raw))
			require.NoError(t, err)
			require.Equal(t, tt.want, result.Error)
		})
	}
}

func TestParseFailures(t *testing.T) {
	tests := map[string]string{
		"no brace":        "Traceback (most recent call last):\n  ImportError: ultralytics",
		"truncated":       `progress 90%` + "\n" + `{"totalFrames":300,"analyzedFrames":`,
		"negative frames": `{"totalFrames":-1,"analyzedFrames":0}`,
		"fractional":      `{"totalFrames":1.5}`,
		"bad summary":     `{"summary":{"person":"many"}}`,
		"empty":           "",
		"huge frames":     `{"totalFrames":1e30}`,
		"trailing text":   `{"totalFrames":90,"analyzedFrames":3}` + "\nanalysis complete\n",
		"two objects":     `{"totalFrames":90}{"totalFrames":91}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			var aErr *Error
			require.True(t, errors.As(err, &aErr))
			require.Equal(t, KindParse, aErr.Kind)
		})
	}
}

func TestParseExcerptIsBounded(t *testing.T) {
	raw := strings.Repeat("ログ出力", 500)
	_, err := Parse([]byte(raw))
	var aErr *Error
	require.True(t, errors.As(err, &aErr))
	require.Equal(t, excerptLimit, utf8.RuneCountInString(aErr.Details))
	require.True(t, strings.HasPrefix(raw, aErr.Details))
}

func TestParseSkipsBracesInDiagnostics(t *testing.T) {
	raw := "config {interval: 30}\n" +
		"Ultralytics YOLOv8 ready\n" +
		`{"totalFrames":90,"analyzedFrames":3,"fps":25,"alerts":[]}` + "\n"
	result, err := Parse([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, int64(90), result.TotalFrames)
	require.InDelta(t, 25.0, result.FPS, 1e-9)
}

func TestParseIntegralFloatFrames(t *testing.T) {
	result, err := Parse([]byte(`{"totalFrames":300.0,"analyzedFrames":"10"}`))
	require.NoError(t, err)
	require.Equal(t, int64(300), result.TotalFrames)
	require.Equal(t, int64(10), result.AnalyzedFrames)
}

func TestParseSkipsJSONLogLines(t *testing.T) {
	raw := `{"level":"info","msg":"loading model"}` + "\n" +
		`{"level":"info","msg":"model ready","device":"cuda:0"}` + "\n" +
		`{"totalFrames":300,"analyzedFrames":10,"fps":30,"summary":{"person":1},"detections":[],` +
		`"alerts":[{"type":"intrusion","message":"Person detected crossing perimeter","severity":"high"}]}` + "\n"
	result, err := Parse([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, int64(300), result.TotalFrames)
	require.Len(t, result.Alerts, 1)
	require.Equal(t, "intrusion", result.Alerts[0].Type)
}

func TestParseFrameCountOutOfRange(t *testing.T) {
	_, err := Parse([]byte(`{"totalFrames":1e30}`))
	var aErr *Error
	require.True(t, errors.As(err, &aErr))
	require.ErrorContains(t, aErr.Err, "out of range")
}

package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// maxCandidates は JSON として試す開始位置の上限です。
const maxCandidates = 8

// AlertEntry はワーカーが報告したアラート1件です。
type AlertEntry struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// Result はワーカー出力を構造化したものです。
// Error が空でない場合、ワーカー自身が解析の失敗を報告しています。
type Result struct {
	TotalFrames    int64             `json:"totalFrames"`
	AnalyzedFrames int64             `json:"analyzedFrames"`
	FPS            float64           `json:"fps"`
	Summary        map[string]int    `json:"summary"`
	Detections     []json.RawMessage `json:"detections"`
	Alerts         []AlertEntry      `json:"alerts"`
	Error          string            `json:"error,omitempty"`
}

type wireResult struct {
	TotalFrames    json.Number       `json:"totalFrames"`
	AnalyzedFrames json.Number       `json:"analyzedFrames"`
	FPS            float64           `json:"fps"`
	Summary        map[string]int    `json:"summary"`
	Detections     []json.RawMessage `json:"detections"`
	Alerts         []AlertEntry      `json:"alerts"`
	Error          json.RawMessage   `json:"error"`
}

// Parse はワーカーの stdout から結果オブジェクトを取り出します。
// 先頭の診断出力は読み飛ばし、最初の '{' から出力の末尾までを1つの JSON オブジェクトとして読み込みます。
// 失敗した場合は行頭の '{' を順に試します。オブジェクトの後ろに空白以外が続く候補は採用しません。
func Parse(raw []byte) (*Result, error) {
	start := bytes.IndexByte(raw, '{')
	if start < 0 {
		return nil, &Error{
			Kind:    KindParse,
			Message: "no JSON object found in worker output",
			Details: headExcerpt(raw),
		}
	}

	var firstErr error
	for i := 0; i < maxCandidates && start >= 0; i++ {
		result, err := decodeResult(raw[start:])
		if err == nil {
			return result, nil
		}
		if firstErr == nil {
			firstErr = err
		}
		start = nextLineObject(raw, start+1)
	}

	return nil, &Error{
		Kind:    KindParse,
		Message: "worker output is not a valid result object",
		Details: headExcerpt(raw),
		Err:     firstErr,
	}
}

func decodeResult(data []byte) (*Result, error) {
	var wire wireResult
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&wire); err != nil {
		return nil, err
	}
	// 先行する JSON 形式のログ行を結果として取り違えない
	if off := dec.InputOffset(); len(bytes.TrimSpace(data[off:])) > 0 {
		return nil, fmt.Errorf("unexpected output after JSON object at offset %d", off)
	}

	total, err := frameCount("totalFrames", wire.TotalFrames)
	if err != nil {
		return nil, err
	}
	analyzed, err := frameCount("analyzedFrames", wire.AnalyzedFrames)
	if err != nil {
		return nil, err
	}

	result := &Result{
		TotalFrames:    total,
		AnalyzedFrames: analyzed,
		FPS:            wire.FPS,
		Summary:        wire.Summary,
		Detections:     wire.Detections,
		Alerts:         wire.Alerts,
		Error:          workerError(wire.Error),
	}
	if result.Summary == nil {
		result.Summary = map[string]int{}
	}
	if result.Detections == nil {
		result.Detections = []json.RawMessage{}
	}
	if result.Alerts == nil {
		result.Alerts = []AlertEntry{}
	}
	return result, nil
}

// frameCount は0以上の整数を受け付けます。欠落時は0です。
func frameCount(field string, n json.Number) (int64, error) {
	if n == "" {
		return 0, nil
	}
	v, err := n.Int64()
	if err != nil {
		f, ferr := n.Float64()
		if ferr != nil || f != math.Trunc(f) {
			return 0, fmt.Errorf("%s must be an integer (got %s)", field, n)
		}
		if f < 0 {
			return 0, fmt.Errorf("%s must not be negative (got %s)", field, n)
		}
		if f >= math.MaxInt64 {
			return 0, fmt.Errorf("%s is out of range (got %s)", field, n)
		}
		v = int64(f)
	}
	if v < 0 {
		return 0, fmt.Errorf("%s must not be negative (got %d)", field, v)
	}
	return v, nil
}

// workerError は error フィールドを文字列にします。
// null, false, 0, 空文字は失敗として扱いません。
func workerError(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ""
	}
	switch string(trimmed) {
	case "null", "false", `""`:
		return ""
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	var f float64
	if err := json.Unmarshal(trimmed, &f); err == nil && f == 0 {
		return ""
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(trimmed, &obj); err == nil && strings.TrimSpace(obj.Message) != "" {
		return obj.Message
	}
	return string(trimmed)
}

// nextLineObject は from 以降で行頭にある '{' の位置を返します。
func nextLineObject(raw []byte, from int) int {
	for from < len(raw) {
		i := bytes.IndexByte(raw[from:], '\n')
		if i < 0 {
			return -1
		}
		pos := from + i + 1
		if pos < len(raw) && raw[pos] == '{' {
			return pos
		}
		from = pos
	}
	return -1
}


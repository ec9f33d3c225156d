package jobs

import (
	"time"

	"github.com/Shikha320/Heritageshield/internal/analysis"
)

// Status は非同期解析ランの実行状態を表します。
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "done"
	StatusFailed    Status = "error"
)

// ErrorInfo はラン失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Code    string `json:"code"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Record は非同期解析ランの現在状態を表します。
type Record struct {
	RunID     string            `json:"runId"`
	VideoID   string            `json:"videoId"`
	Status    Status            `json:"status"`
	Stage     string            `json:"stage,omitempty"`
	Attempt   int               `json:"attempt"`
	Result    *analysis.Summary `json:"result,omitempty"`
	Error     *ErrorInfo        `json:"error,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// Package store は動画レコードとアラートレコードの永続化を提供します。
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound は指定されたレコードが存在しない場合に返されます。
var ErrNotFound = errors.New("record not found")

// ErrInvalidTransition は許可されていない解析状態の遷移で返されます。
var ErrInvalidTransition = errors.New("invalid video status transition")

// VideoStatus は動画の解析状態を表します。
type VideoStatus string

const (
	StatusUploaded  VideoStatus = "uploaded"
	StatusAnalyzing VideoStatus = "analyzing"
	StatusAnalyzed  VideoStatus = "analyzed"
	StatusError     VideoStatus = "error"
)

// CanTransition は解析状態の遷移が許可されているかを返します。
// 解析済み・失敗からの analyzing への遷移は新しい解析依頼としてのみ発生します。
// analyzing から analyzing は、異常終了で放置された解析を取り直す場合です。
func CanTransition(from, to VideoStatus) bool {
	switch from {
	case StatusUploaded, StatusAnalyzed, StatusError:
		return to == StatusAnalyzing
	case StatusAnalyzing:
		return to == StatusAnalyzing || to == StatusAnalyzed || to == StatusError
	default:
		return false
	}
}

func checkTransition(from, to VideoStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Video はアップロード済みの動画ファイルとその解析状態です。
type Video struct {
	ID           string      `json:"id"`
	Filename     string      `json:"filename"`
	OriginalName string      `json:"originalName"`
	Size         int64       `json:"size"`
	Mimetype     string      `json:"mimetype"`
	Status       VideoStatus `json:"status"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// Severity はアラートの重大度です。
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

const defaultAlertType = "motion"

// Alert は監視イベントとして保存されたアラートです。
type Alert struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Camera    string    `json:"camera,omitempty"`
	Gate      string    `json:"gate,omitempty"`
	Location  string    `json:"location,omitempty"`
	Image     string    `json:"image,omitempty"`
	Severity  Severity  `json:"severity"`
	Resolved  bool      `json:"resolved"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AlertInput はアラート作成時の入力値です。
type AlertInput struct {
	Type     string   `json:"type"`
	Message  string   `json:"message"`
	Camera   string   `json:"camera"`
	Gate     string   `json:"gate"`
	Location string   `json:"location"`
	Image    string   `json:"image"`
	Severity Severity `json:"severity"`
}

// Normalize は既定値を補い、入力を検証します。
// type の既定値は motion、severity の既定値は medium です。
func (in AlertInput) Normalize() (AlertInput, error) {
	in.Type = strings.TrimSpace(in.Type)
	if in.Type == "" {
		in.Type = defaultAlertType
	}
	in.Severity = Severity(strings.ToLower(strings.TrimSpace(string(in.Severity))))
	if in.Severity == "" {
		in.Severity = SeverityMedium
	}
	if strings.TrimSpace(in.Message) == "" {
		return in, &ValidationError{Field: "message", Message: "message is required"}
	}
	if !in.Severity.Valid() {
		return in, &ValidationError{
			Field:   "severity",
			Message: fmt.Sprintf("unknown severity %q (want low, medium, high or critical)", in.Severity),
		}
	}
	return in, nil
}

// AlertSummary はアラート件数の集計です。
type AlertSummary struct {
	Total    int64 `json:"total"`
	Active   int64 `json:"active"`
	Resolved int64 `json:"resolved"`
}

// ValidationError は入力値が保存できない場合に返されます。
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field '%s': %s", e.Field, e.Message)
}

// VideoStore は動画レコードの保存先です。
type VideoStore interface {
	CreateVideo(ctx context.Context, video *Video) error
	GetVideo(ctx context.Context, id string) (*Video, error)
	ListVideos(ctx context.Context) ([]Video, error)
	SetVideoStatus(ctx context.Context, id string, status VideoStatus) error
	DeleteVideo(ctx context.Context, id string) error
}

// AlertStore はアラートレコードの保存先です。
type AlertStore interface {
	CreateAlert(ctx context.Context, input AlertInput) (*Alert, error)
	ListAlerts(ctx context.Context, activeOnly bool) ([]Alert, error)
	ResolveAlert(ctx context.Context, id string) (*Alert, error)
	DeleteAlert(ctx context.Context, id string) error
	AlertSummary(ctx context.Context) (AlertSummary, error)
}

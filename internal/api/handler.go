// Package api は動画・アラート・解析の REST ハンドラーを提供します。
package api

import (
	"context"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Shikha320/Heritageshield/internal/analysis"
	"github.com/Shikha320/Heritageshield/internal/jobs"
	"github.com/Shikha320/Heritageshield/internal/storage"
	"github.com/Shikha320/Heritageshield/internal/store"
)

// VideoFiles はアップロードされた動画ファイルを保存・削除します。
type VideoFiles interface {
	SaveVideo(ctx context.Context, fh *multipart.FileHeader) (*storage.StoredFile, error)
	Delete(ctx context.Context, filename string) error
}

// Analyzer は動画の解析を同期的に実行します。
type Analyzer interface {
	Submit(ctx context.Context, videoID string) (*analysis.Summary, error)
}

// RunQueue は解析を非同期ランとして投入し、その状態を返します。
type RunQueue interface {
	Enqueue(ctx context.Context, videoID string) (string, error)
	GetRecord(ctx context.Context, runID string) (*jobs.Record, error)
}

// Handler は API ハンドラーの依存関係をまとめた構造体です。
type Handler struct {
	videos        store.VideoStore
	alerts        store.AlertStore
	files         VideoFiles
	analyzer      Analyzer
	runs          RunQueue
	maxUploadSize int64
	log           zerolog.Logger
}

// Options は Handler の依存関係です。Runs が nil の場合、非同期解析は 503 を返します。
type Options struct {
	Videos        store.VideoStore
	Alerts        store.AlertStore
	Files         VideoFiles
	Analyzer      Analyzer
	Runs          RunQueue
	MaxUploadSize int64
	Log           zerolog.Logger
}

// NewHandler は Handler を作成します。
func NewHandler(opts Options) *Handler {
	return &Handler{
		videos:        opts.Videos,
		alerts:        opts.Alerts,
		files:         opts.Files,
		analyzer:      opts.Analyzer,
		runs:          opts.Runs,
		maxUploadSize: opts.MaxUploadSize,
		log:           opts.Log,
	}
}

// Register は rg 配下にルートを登録します。protect は保護対象ルートに付けるミドルウェアです。
func (h *Handler) Register(rg *gin.RouterGroup, protect ...gin.HandlerFunc) {
	rg.GET("/health", h.health)

	api := rg.Group("")
	api.Use(protect...)

	videos := api.Group("/videos")
	{
		videos.GET("", h.listVideos)
		videos.POST("", h.uploadVideo)
		videos.GET("/:id", h.getVideo)
		videos.DELETE("/:id", h.deleteVideo)
		videos.POST("/analyze/:id", h.analyzeVideo)
		videos.POST("/:id/analysis", h.enqueueAnalysis)
	}

	api.GET("/analysis/runs/:runId", h.getRun)

	alerts := api.Group("/alerts")
	{
		alerts.GET("", h.listAlerts)
		alerts.GET("/active", h.listActiveAlerts)
		alerts.GET("/summary", h.alertSummary)
		alerts.POST("", h.createAlert)
		alerts.PATCH("/:id/resolve", h.resolveAlert)
		alerts.DELETE("/:id", h.deleteAlert)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"service":   "heritage-shield-api",
		"timestamp": time.Now().UTC(),
	})
}

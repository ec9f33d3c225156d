package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Shikha320/Heritageshield/internal/analysis"
	"github.com/Shikha320/Heritageshield/internal/storage"
	"github.com/Shikha320/Heritageshield/internal/store"
)

// respondWithError はエラーの種類に応じて HTTP ステータスと {code, error, details?} を返します。
func respondWithError(c *gin.Context, err error) {
	var (
		aErr *analysis.Error
		vErr *store.ValidationError
	)
	switch {
	case errors.As(err, &aErr):
		body := gin.H{
			"code":  string(aErr.Kind),
			"error": aErr.Message,
		}
		if aErr.Failure != "" {
			body["reason"] = string(aErr.Failure)
		}
		if aErr.Details != "" {
			body["details"] = aErr.Details
		}
		c.JSON(analysisStatus(aErr.Kind), body)
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_INPUT",
			"error": vErr.Message,
			"field": vErr.Field,
		})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "NOT_FOUND",
			"error": "record not found",
		})
	case errors.Is(err, storage.ErrNotVideo):
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_INPUT",
			"error": "Only video files are allowed",
		})
	case errors.Is(err, storage.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"code":  "LIMIT_EXCEEDED",
			"error": "Video exceeds the upload size limit",
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":  "REQUEST_CANCELED",
			"error": "リクエストがキャンセルされました。",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": "サーバー内部でエラーが発生しました。",
		})
	}
}

func analysisStatus(kind analysis.Kind) int {
	switch kind {
	case analysis.KindNotFound:
		return http.StatusNotFound
	case analysis.KindConflict:
		return http.StatusConflict
	case analysis.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func notFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, gin.H{
		"code":  "NOT_FOUND",
		"error": message,
	})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"code":  "INVALID_INPUT",
		"error": message,
	})
}

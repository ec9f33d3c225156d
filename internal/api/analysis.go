package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// analyzeVideo は POST /api/videos/analyze/:id のハンドラーです。解析が終わるまで応答しません。
func (h *Handler) analyzeVideo(c *gin.Context) {
	summary, err := h.analyzer.Submit(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// enqueueAnalysis は POST /api/videos/:id/analysis のハンドラーです。ランIDを 202 で返します。
func (h *Handler) enqueueAnalysis(c *gin.Context) {
	if h.runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":  "ASYNC_DISABLED",
			"error": "asynchronous analysis is not configured",
		})
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := h.videos.GetVideo(ctx, id); err != nil {
		respondWithError(c, err)
		return
	}

	runID, err := h.runs.Enqueue(ctx, id)
	if err != nil {
		h.log.Error().Err(err).Str("videoId", id).Msg("failed to enqueue analysis")
		respondWithError(c, err)
		return
	}
	c.Header("Location", "/api/analysis/runs/"+runID)
	c.JSON(http.StatusAccepted, gin.H{"runId": runID})
}

func (h *Handler) getRun(c *gin.Context) {
	runID := strings.TrimSpace(c.Param("runId"))
	if runID == "" {
		badRequest(c, "runId is required")
		return
	}
	if h.runs == nil {
		notFound(c, "Analysis run not found")
		return
	}

	record, err := h.runs.GetRecord(c.Request.Context(), runID)
	if err != nil {
		respondWithError(c, err)
		return
	}
	if record == nil {
		notFound(c, "Analysis run not found")
		return
	}
	c.JSON(http.StatusOK, record)
}

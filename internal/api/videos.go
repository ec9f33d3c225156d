package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Shikha320/Heritageshield/internal/store"
)

// multipartOverhead はファイル以外のマルチパート部分に許容するバイト数です。
const multipartOverhead = 1 << 20

func (h *Handler) listVideos(c *gin.Context) {
	videos, err := h.videos.ListVideos(c.Request.Context())
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, videos)
}

func (h *Handler) getVideo(c *gin.Context) {
	video, err := h.videos.GetVideo(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			notFound(c, "Video not found")
			return
		}
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, video)
}

// uploadVideo は POST /api/videos のハンドラーです。フィールド名は video です。
func (h *Handler) uploadVideo(c *gin.Context) {
	if h.maxUploadSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize+multipartOverhead)
	}
	fh, err := c.FormFile("video")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"code":  "LIMIT_EXCEEDED",
				"error": "Video exceeds the upload size limit",
			})
			return
		}
		badRequest(c, "No video file provided")
		return
	}

	ctx := c.Request.Context()
	stored, err := h.files.SaveVideo(ctx, fh)
	if err != nil {
		respondWithError(c, err)
		return
	}

	video := &store.Video{
		Filename:     stored.Filename,
		OriginalName: stored.OriginalName,
		Size:         stored.Size,
		Mimetype:     stored.Mimetype,
		Status:       store.StatusUploaded,
	}
	if err := h.videos.CreateVideo(ctx, video); err != nil {
		if delErr := h.files.Delete(context.WithoutCancel(ctx), stored.Filename); delErr != nil {
			h.log.Warn().Err(delErr).Str("filename", stored.Filename).Msg("failed to remove orphaned upload")
		}
		respondWithError(c, err)
		return
	}

	h.log.Info().Str("videoId", video.ID).Str("originalName", video.OriginalName).Int64("size", video.Size).Msg("video uploaded")
	c.JSON(http.StatusCreated, video)
}

func (h *Handler) deleteVideo(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	video, err := h.videos.GetVideo(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			notFound(c, "Video not found")
			return
		}
		respondWithError(c, err)
		return
	}

	if err := h.videos.DeleteVideo(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			notFound(c, "Video not found")
			return
		}
		respondWithError(c, err)
		return
	}
	// 解析中のワーカーは止めない。ファイルは読み取り専用で開かれているだけなので削除してよい
	if err := h.files.Delete(ctx, video.Filename); err != nil {
		h.log.Warn().Err(err).Str("videoId", id).Msg("failed to remove video file")
	}
	c.JSON(http.StatusOK, gin.H{"message": "Deleted"})
}

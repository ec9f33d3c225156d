package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Shikha320/Heritageshield/internal/store"
)

func (h *Handler) listAlerts(c *gin.Context) {
	alerts, err := h.alerts.ListAlerts(c.Request.Context(), false)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, alerts)
}

func (h *Handler) listActiveAlerts(c *gin.Context) {
	alerts, err := h.alerts.ListAlerts(c.Request.Context(), true)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, alerts)
}

func (h *Handler) alertSummary(c *gin.Context) {
	summary, err := h.alerts.AlertSummary(c.Request.Context())
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) createAlert(c *gin.Context) {
	var input store.AlertInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "request body must be a JSON object")
		return
	}
	alert, err := h.alerts.CreateAlert(c.Request.Context(), input)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, alert)
}

func (h *Handler) resolveAlert(c *gin.Context) {
	alert, err := h.alerts.ResolveAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			notFound(c, "Alert not found")
			return
		}
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (h *Handler) deleteAlert(c *gin.Context) {
	if err := h.alerts.DeleteAlert(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			notFound(c, "Alert not found")
			return
		}
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Deleted"})
}

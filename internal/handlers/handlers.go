package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/food-vision/internal/imageprocessor"
	"github.com/example/food-vision/internal/prediction"
	"github.com/example/food-vision/internal/registry"
	"github.com/example/food-vision/internal/repository"
	"github.com/example/food-vision/internal/usecase"
)

// MaxUploadSize caps the image body accepted by the classify route.
const MaxUploadSize = 8 << 20

var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

// ClassificationService is the use case surface the routes depend on.
type ClassificationService interface {
	Models() []usecase.ModelInfo
	Classify(ctx context.Context, selector string, imageBytes []byte) (*usecase.Classification, error)
	GetResult(ctx context.Context, requestID string) (*usecase.Classification, error)
	SubmitFeedback(ctx context.Context, requestID string, correct bool, userLabel *string) (*usecase.Classification, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

type feedbackRequest struct {
	Correct   *bool   `json:"correct" binding:"required"`
	UserLabel *string `json:"user_label"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc ClassificationService) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1")

	v1.GET("/models", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"models": svc.Models()})
	})

	v1.POST("/classify", func(c *gin.Context) {
		selector := strings.TrimSpace(c.Query("model"))
		if selector == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "model query parameter is required"})
			return
		}

		if !allowedContentTypes[c.ContentType()] {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "content type must be image/jpeg, image/png or image/gif"})
			return
		}

		data, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read image"})
			return
		}
		if len(data) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image body is required"})
			return
		}

		result, err := svc.Classify(c.Request.Context(), selector, data)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	v1.GET("/classifications/:id", func(c *gin.Context) {
		result, err := svc.GetResult(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	v1.POST("/classifications/:id/feedback", func(c *gin.Context) {
		var req feedbackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "correct is required"})
			return
		}
		if req.UserLabel != nil && strings.TrimSpace(*req.UserLabel) == "" {
			req.UserLabel = nil
		}

		result, err := svc.SubmitFeedback(c.Request.Context(), c.Param("id"), *req.Correct, req.UserLabel)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	v1.GET("/metrics/summary", func(c *gin.Context) {
		summary, err := svc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

// RegisterMetricsRoute exposes the Prometheus collectors gathered by g.
func RegisterMetricsRoute(router *gin.Engine, g prometheus.Gatherer) {
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	var remoteErr *prediction.RemoteError
	switch {
	case errors.Is(err, registry.ErrUnknownModel), errors.Is(err, usecase.ErrInvalidLabel):
		return http.StatusBadRequest
	case errors.Is(err, imageprocessor.ErrDecode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &remoteErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Package api exposes the pipeline over HTTP.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"invoice-split/pkg/metrics"
	"invoice-split/pkg/models"
	"invoice-split/pkg/services/queue"
	"invoice-split/pkg/services/records"
)

// InvoiceLister serves stored invoices.
type InvoiceLister interface {
	List(ctx context.Context, f records.ListFilter) ([]models.Invoice, error)
}

// Handler holds the collaborators of the HTTP routes. Invoices may be nil
// when records are not kept in a database.
type Handler struct {
	Processor   queue.Processor
	Invoices    InvoiceLister
	Metrics     *metrics.Metrics
	Concurrency int
	Logger      zerolog.Logger
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.Logger))

	r.GET("/healthz", h.health)
	if h.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.Metrics.Handler()))
	}
	r.POST("/attachments/:id/process", h.processAttachment)
	r.POST("/attachments/batch", h.processBatch)
	r.GET("/invoices", h.getInvoices)
	return r
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) processAttachment(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "attachment id must be a positive integer"})
		return
	}
	// A started attachment runs to completion even if the client goes away.
	res, _ := h.Processor.ProcessAttachment(context.WithoutCancel(c.Request.Context()), id)
	status := http.StatusOK
	if !res.OK() {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, res)
}

type batchRequest struct {
	AttachmentIDs []int64 `json:"attachment_ids" binding:"required,min=1,dive,gt=0"`
}

func (h *Handler) processBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	summary := queue.ProcessBatch(context.WithoutCancel(c.Request.Context()), h.Processor, req.AttachmentIDs, h.Concurrency)
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) getInvoices(c *gin.Context) {
	if h.Invoices == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "invoice listing requires the db records backend"})
		return
	}
	var f records.ListFilter
	if v := c.Query("attachment_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attachment_id"})
			return
		}
		f.AttachmentID = id
	}
	f.InvoiceNumber = c.Query("invoice_number")
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		f.Limit = n
	}
	invoices, err := h.Invoices.List(c.Request.Context(), f)
	if err != nil {
		h.Logger.Error().Err(err).Msg("list invoices")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list invoices"})
		return
	}
	c.JSON(http.StatusOK, invoices)
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		ev := log.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = log.Error()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"cs-paralegal-bot/internal/integrations/twilio"
)

const maxWebhookBody = 1 << 20

// NewRouter exposes the same routes as Handle over plain HTTP, for running the
// bot outside Lambda.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.correlate)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.POST("/webhook", h.ginWebhook)
	r.GET("/files/:filename", h.ginFile)
	return r
}

func (h *Handler) correlate(c *gin.Context) {
	id := correlationID(map[string]string{correlationHeader: c.GetHeader(correlationHeader)})
	c.Set(correlationHeader, id)
	c.Header(correlationHeader, id)
	c.Next()
}

func (h *Handler) ginWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.logger.WarnContext(c.Request.Context(), "failed to read webhook body", "err", err)
	}
	write(c, h.webhook(c.Request.Context(), c.GetString(correlationHeader), delivery{
		body:      string(body),
		url:       requestURL(c),
		signature: c.GetHeader(twilio.SignatureHeader),
	}))
}

func requestURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if p := c.GetHeader("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	return scheme + "://" + c.Request.Host + c.Request.URL.RequestURI()
}

func (h *Handler) ginFile(c *gin.Context) {
	write(c, h.file(c.Request.Context(), c.GetString(correlationHeader), c.Param("filename")))
}

func write(c *gin.Context, res result) {
	for k, v := range res.headers {
		c.Header(k, v)
	}
	c.Data(res.status, res.contentType, res.body)
}

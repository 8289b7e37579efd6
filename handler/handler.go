package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"cs-paralegal-bot/internal/domain"
	"cs-paralegal-bot/internal/integrations/twilio"
	"cs-paralegal-bot/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	fileNotFound      = "File not found."
	forbidden         = "Forbidden."
)

type UseCase interface {
	Reply(ctx context.Context, msg domain.InboundMessage) (string, error)
	Document(ctx context.Context, name string) (domain.Document, bool, error)
}

// SignatureVerifier authenticates a webhook delivery. *twilio.SignatureVerifier
// satisfies it.
type SignatureVerifier interface {
	Verify(ctx context.Context, webhookURL string, form url.Values, signature string) error
}

// Handler serves the webhook and file download routes. Lambda events and the
// gin router share the same route logic.
type Handler struct {
	uc         UseCase
	logger     *slog.Logger
	verifier   SignatureVerifier
	webhookURL string
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithSignatureVerifier rejects webhook deliveries that v does not accept.
// webhookURL is the URL the provider signs; when empty it is rebuilt from the
// request's Host header and path.
func WithSignatureVerifier(v SignatureVerifier, webhookURL string) Option {
	return func(h *Handler) {
		h.verifier = v
		h.webhookURL = strings.TrimSpace(webhookURL)
	}
}

func NewHandler(uc UseCase, opts ...Option) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	h := &Handler{uc: uc, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// delivery is a webhook request as received by either transport.
type delivery struct {
	body      string
	url       string
	signature string
}

// result is a transport-neutral response.
type result struct {
	status      int
	contentType string
	body        []byte
	headers     map[string]string
}

// Handle is the Lambda entry point for API Gateway proxy events.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(req.Headers)
	path := strings.TrimRight(req.Path, "/")

	var res result
	switch {
	case req.HTTPMethod == http.MethodPost && strings.HasSuffix(path, "/webhook"):
		body := req.Body
		if req.IsBase64Encoded {
			decoded, err := base64.StdEncoding.DecodeString(body)
			if err != nil {
				h.logger.WarnContext(ctx, "undecodable webhook body", "correlation_id", corrID, "err", err)
				body = ""
			} else {
				body = string(decoded)
			}
		}
		res = h.webhook(ctx, corrID, delivery{
			body:      body,
			url:       lambdaURL(req),
			signature: headerValue(req.Headers, twilio.SignatureHeader),
		})
	case req.HTTPMethod == http.MethodGet && strings.Contains(path, "/files/"):
		name := req.PathParameters["filename"]
		if name == "" {
			name = path[strings.LastIndex(path, "/files/")+len("/files/"):]
		}
		res = h.file(ctx, corrID, name)
	default:
		res = textResult(http.StatusNotFound, "Not found.")
	}

	headers := map[string]string{
		"Content-Type":    res.contentType,
		correlationHeader: corrID,
	}
	for k, v := range res.headers {
		headers[k] = v
	}
	resp := events.APIGatewayProxyResponse{StatusCode: res.status, Headers: headers}
	if strings.HasPrefix(res.contentType, "text/") {
		resp.Body = string(res.body)
	} else {
		resp.Body = base64.StdEncoding.EncodeToString(res.body)
		resp.IsBase64Encoded = true
	}
	return resp, nil
}

// webhook answers 200 with TwiML for every authenticated delivery so the
// provider never retries one that already produced a reply. Deliveries failing
// the signature check get 403 and never reach the use case.
func (h *Handler) webhook(ctx context.Context, corrID string, d delivery) result {
	form, parseErr := url.ParseQuery(d.body)
	if h.verifier != nil {
		target := h.webhookURL
		if target == "" {
			target = d.url
		}
		err := parseErr
		if err == nil {
			err = h.verifier.Verify(ctx, target, form, d.signature)
		}
		if err != nil {
			h.logger.WarnContext(ctx, "rejected unauthenticated webhook", "correlation_id", corrID, "url", target, "err", err)
			return textResult(http.StatusForbidden, forbidden)
		}
	}
	if parseErr != nil {
		h.logger.WarnContext(ctx, "rejected webhook payload", "correlation_id", corrID, "err", parseErr)
		return twimlResult("")
	}
	msg, err := twilio.FromValues(form)
	if err != nil {
		h.logger.WarnContext(ctx, "rejected webhook payload", "correlation_id", corrID, "err", err)
		return twimlResult("")
	}

	reply, err := h.uc.Reply(ctx, msg)
	attrs := []any{
		"correlation_id", corrID,
		"sender", msg.Sender,
		"question_len", len(msg.Body),
		"has_media", msg.MediaURL != "",
		"reply_len", len(reply),
	}
	if err != nil {
		code, reason := classify(err)
		attrs = append(attrs, "code", code, "reason", reason, "err", err)
		if code == usecase.ErrorInternal {
			h.logger.ErrorContext(ctx, "reply fell back", attrs...)
		} else {
			h.logger.WarnContext(ctx, "reply fell back", attrs...)
		}
	} else {
		h.logger.InfoContext(ctx, "reply sent", attrs...)
	}
	return twimlResult(reply)
}

func (h *Handler) file(ctx context.Context, corrID, name string) result {
	doc, ok, err := h.uc.Document(ctx, name)
	if err != nil {
		h.logger.ErrorContext(ctx, "document lookup failed", "correlation_id", corrID, "name", name, "err", err)
		return textResult(http.StatusInternalServerError, "Internal error.")
	}
	if !ok {
		return textResult(http.StatusNotFound, fileNotFound)
	}
	contentType := doc.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return result{
		status:      http.StatusOK,
		contentType: contentType,
		body:        doc.Body,
		headers: map[string]string{
			"Content-Disposition": fmt.Sprintf("attachment; filename=%q", doc.Name),
		},
	}
}

func twimlResult(reply string) result {
	return result{
		status:      http.StatusOK,
		contentType: twilio.ContentType,
		body:        []byte(twilio.RenderTwiML(reply)),
	}
}

func textResult(status int, msg string) result {
	return result{status: status, contentType: "text/plain; charset=utf-8", body: []byte(msg)}
}

func classify(err error) (usecase.ErrorCode, string) {
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		return ucErr.Code, ucErr.Reason
	}
	return usecase.ErrorInternal, "unexpected_error"
}

func correlationID(headers map[string]string) string {
	if v := headerValue(headers, correlationHeader); v != "" {
		return v
	}
	return uuid.NewString()
}

// headerValue looks name up case-insensitively; API Gateway passes headers as
// the client sent them.
func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// lambdaURL rebuilds the public URL of an API Gateway request. The default
// execute-api host carries the stage in the path.
func lambdaURL(req events.APIGatewayProxyRequest) string {
	host := headerValue(req.Headers, "Host")
	if host == "" {
		return ""
	}
	scheme := headerValue(req.Headers, "X-Forwarded-Proto")
	if scheme == "" {
		scheme = "https"
	}
	path := req.Path
	if stage := req.RequestContext.Stage; stage != "" && stage != "$default" && strings.HasSuffix(host, ".amazonaws.com") {
		path = "/" + stage + path
	}
	return scheme + "://" + host + path
}

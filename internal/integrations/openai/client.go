package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"cs-paralegal-bot/internal/domain"
)

const (
	defaultBaseURL     = "https://api.openai.com/v1"
	defaultMaxTokens   = 900
	defaultTemperature = 0.7
)

// tokenPayload is the expected JSON shape stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	Op         string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.Op, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client wraps the OpenAI SDK for chat completions, moderation and audio
// transcription. The SDK client is built lazily once the API key has been read
// from the parameter store.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	maxTokens   int64
	temperature float64
	getter      Getter
	paramPrefix string

	sdkMu sync.Mutex
	sdk   *oai.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithMaxRetries sets how often the SDK retries 429 and 5xx responses.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// NewClient creates a new Client backed by the given Getter for API key
// retrieval. The key is fetched on the first upstream call and reused for the
// lifetime of the process.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("openai: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("openai: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: 20 * time.Second},
		maxRetries:  1,
		maxTokens:   defaultMaxTokens,
		temperature: defaultTemperature,
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/open-ai-token"
}

// apiBaseURL normalizes a configured base URL to the SDK's expected form,
// ending in "/v1/".
func apiBaseURL(baseURL string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return base + "/"
}

// resolveSDK builds the SDK client on first use. A failed key lookup is not
// cached, so the next request tries the parameter store again.
func (c *Client) resolveSDK(ctx context.Context) (*oai.Client, error) {
	c.sdkMu.Lock()
	defer c.sdkMu.Unlock()
	if c.sdk != nil {
		return c.sdk, nil
	}

	key, err := fetchAPIKeyFromParamStore(ctx, c.getter, c.tokenParameterName())
	if err != nil {
		return nil, err
	}
	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithBaseURL(apiBaseURL(c.baseURL)),
		option.WithMaxRetries(c.maxRetries),
	}
	if c.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(c.httpClient))
	}
	sdk := oai.NewClient(opts...)
	c.sdk = &sdk
	return c.sdk, nil
}

// Chat sends messages to the chat completions endpoint and returns the first
// choice's content.
func (c *Client) Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error) {
	if model == "" {
		return "", errors.New("openai: model must not be empty")
	}
	sdk, err := c.resolveSDK(ctx)
	if err != nil {
		return "", err
	}

	resp, err := sdk.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model:       model,
		Messages:    toSDKMessages(messages),
		MaxTokens:   oai.Int(c.maxTokens),
		Temperature: oai.Float(c.temperature),
	})
	if err != nil {
		return "", fmt.Errorf("openai: request failed: %w", statusError("chat", err))
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

func toSDKMessages(msgs []domain.ChatMessage) []oai.ChatCompletionMessageParamUnion {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, oai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, oai.AssistantMessage(m.Content))
		default:
			out = append(out, oai.UserMessage(m.Content))
		}
	}
	return out
}

// Moderate calls the moderations endpoint and returns true if the input is flagged.
func (c *Client) Moderate(ctx context.Context, input string) (bool, error) {
	sdk, err := c.resolveSDK(ctx)
	if err != nil {
		return false, err
	}

	resp, err := sdk.Moderations.New(ctx, oai.ModerationNewParams{
		Input: oai.ModerationNewParamsInputUnion{OfString: oai.String(input)},
	})
	if err != nil {
		return false, fmt.Errorf("openai: moderation request failed: %w", statusError("moderation", err))
	}
	if len(resp.Results) == 0 {
		return false, errors.New("openai: no results in moderation response")
	}
	return resp.Results[0].Flagged, nil
}

// namedAudio gives the multipart encoder a filename and MIME type; the
// transcription endpoint infers the codec from the file extension.
type namedAudio struct {
	io.Reader
	name        string
	contentType string
}

func (a namedAudio) Filename() string    { return a.name }
func (a namedAudio) Name() string        { return a.name }
func (a namedAudio) ContentType() string { return a.contentType }

// Transcribe converts a voice note to text with the Whisper model.
func (c *Client) Transcribe(ctx context.Context, filename, contentType string, audio io.Reader) (string, error) {
	if audio == nil {
		return "", errors.New("openai: audio must not be nil")
	}
	sdk, err := c.resolveSDK(ctx)
	if err != nil {
		return "", err
	}

	resp, err := sdk.Audio.Transcriptions.New(ctx, oai.AudioTranscriptionNewParams{
		File:  namedAudio{Reader: audio, name: filename, contentType: contentType},
		Model: oai.AudioModelWhisper1,
	})
	if err != nil {
		return "", fmt.Errorf("openai: transcription request failed: %w", statusError("transcription", err))
	}
	return strings.TrimSpace(resp.Text), nil
}

// statusError converts SDK API errors into HTTPStatusError so callers can
// classify them without importing the SDK.
func statusError(op string, err error) error {
	var apiErr *oai.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	body := apiErr.Message
	if body == "" {
		body = apiErr.Error()
	}
	return &HTTPStatusError{StatusCode: apiErr.StatusCode, Op: op, Body: body}
}

func fetchAPIKeyFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("openai: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("openai: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("openai: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("openai: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", fmt.Errorf("openai: API token is empty")
	}
	return tp.Token, nil
}

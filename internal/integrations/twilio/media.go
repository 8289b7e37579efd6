package twilio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"cs-paralegal-bot/internal/domain"
)

const (
	defaultMaxMediaBytes = 16 << 20
	defaultMediaTimeout  = 15 * time.Second
)

// MediaFetcher downloads inbound attachments. Twilio media URLs require basic
// auth when the account enforces it, so the account credentials are sent when
// configured.
type MediaFetcher struct {
	httpClient *http.Client
	creds      *CredentialSource
	maxBytes   int64
}

type MediaOption func(*MediaFetcher)

func WithMediaHTTPClient(c *http.Client) MediaOption {
	return func(f *MediaFetcher) {
		f.httpClient = c
	}
}

func WithMaxMediaBytes(n int64) MediaOption {
	return func(f *MediaFetcher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

func NewMediaFetcher(creds *CredentialSource, opts ...MediaOption) (*MediaFetcher, error) {
	if creds == nil {
		return nil, errors.New("twilio: credential source must not be nil")
	}
	f := &MediaFetcher{
		httpClient: &http.Client{Timeout: defaultMediaTimeout},
		creds:      creds,
		maxBytes:   defaultMaxMediaBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Fetch downloads the attachment at mediaURL. declaredType is the content type
// reported in the webhook and wins over the response header.
func (f *MediaFetcher) Fetch(ctx context.Context, mediaURL, declaredType string) (domain.Media, error) {
	if strings.TrimSpace(mediaURL) == "" {
		return domain.Media{}, errors.New("twilio: media url is empty")
	}
	creds, err := f.creds.load(ctx)
	if err != nil {
		return domain.Media{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return domain.Media{}, fmt.Errorf("twilio: build media request: %w", err)
	}
	if creds != nil {
		req.SetBasicAuth(creds.AccountSID, creds.AuthToken)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return domain.Media{}, fmt.Errorf("twilio: fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return domain.Media{}, fmt.Errorf("twilio: fetch media: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return domain.Media{}, fmt.Errorf("twilio: read media: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return domain.Media{}, fmt.Errorf("twilio: media exceeds %d bytes", f.maxBytes)
	}

	contentType := strings.TrimSpace(declaredType)
	if contentType == "" {
		contentType = resp.Header.Get("Content-Type")
	}
	return domain.Media{
		Filename:    mediaFilename(mediaURL, contentType),
		ContentType: contentType,
		Body:        body,
	}, nil
}

// mediaFilename derives a filename with an extension the transcription
// endpoint recognises. Twilio media URLs end in an opaque SID.
func mediaFilename(mediaURL, contentType string) string {
	base := "voice"
	if p := path.Base(mediaURL); p != "" && p != "." && p != "/" {
		if i := strings.IndexAny(p, "?#"); i >= 0 {
			p = p[:i]
		}
		if p != "" {
			base = strings.TrimSuffix(p, path.Ext(p))
		}
	}
	return base + audioExt(contentType)
}

func audioExt(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".ogg"
	}
	switch strings.ToLower(mediaType) {
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4", "audio/aac", "audio/x-m4a":
		return ".m4a"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/webm":
		return ".webm"
	case "audio/amr":
		return ".amr"
	default:
		return ".ogg"
	}
}

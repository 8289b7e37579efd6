package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"cs-paralegal-bot/internal/abuse"
	"cs-paralegal-bot/internal/chunk"
	"cs-paralegal-bot/internal/docgen"
	"cs-paralegal-bot/internal/domain"
	"cs-paralegal-bot/internal/integrations/paramstore"
)

// Replies sent to the user. An empty reply is replaced by the transport's own
// fallback text.
const (
	ContinueHint     = "\n\n...(message truncated)\nReply 'continue' to read more."
	ReplyUnclear     = "Sorry, I couldn’t understand that. Please try rephrasing."
	ReplyChatFailed  = "Sorry, something went wrong while answering your query."
	ReplyDraftFailed = "Sorry, I couldn't generate the draft document."
	ReplyVoiceFailed = "Sorry, I couldn't understand the voice note. Please try again or type your question."
	draftReadyPrefix = "✅ Draft ready:\n"
)

const (
	continueCommand    = "continue"
	draftPrefix        = "draft"
	defaultModel       = "gpt-3.5-turbo"
	defaultMaxContext  = 10
	defaultMaxQuestion = 2000
	minAnswerRunes     = 2
)

var documentName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*(\.[A-Za-z0-9]+)?$`)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
	Moderate(ctx context.Context, input string) (bool, error)
	Transcribe(ctx context.Context, filename, contentType string, audio io.Reader) (string, error)
}

type MediaFetcher interface {
	Fetch(ctx context.Context, mediaURL, declaredType string) (domain.Media, error)
}

type TurnStore interface {
	GetHistory(ctx context.Context, sender string, limit int) ([]domain.Message, error)
	SaveTurn(ctx context.Context, sender, question, answer string) error
}

type AbuseLogger interface {
	LogAbuse(ctx context.Context, sender, message, term string) error
}

type DocumentStore interface {
	PutDocument(ctx context.Context, doc domain.Document) error
	GetDocument(ctx context.Context, name string) (domain.Document, bool, error)
}

// Continuations pages long answers. *continuation.Controller satisfies it.
type Continuations interface {
	Deliver(ctx context.Context, sender, fullText string, maxLength int) (string, bool)
	Next(ctx context.Context, sender string) string
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

type Deps struct {
	Params        ParamGetter
	LLM           LLMClient
	Media         MediaFetcher
	Turns         TurnStore
	Abuse         AbuseLogger
	Documents     DocumentStore
	Continuations Continuations
	Logger        *slog.Logger
}

type Settings struct {
	ParamPrefix       string
	ChunkMaxLength    int
	MaxContextItems   int
	MaxQuestionLength int
	PublicBaseURL     string
	DefaultModel      string
	Moderation        bool
}

// ReplyService turns one inbound message into one reply text.
type ReplyService struct {
	params     ParamGetter
	llm        LLMClient
	media      MediaFetcher
	turns      TurnStore
	abuseLog   AbuseLogger
	docs       DocumentStore
	cont       Continuations
	logger     *slog.Logger
	now        func() time.Time
	settings   Settings
	moderation bool

	// defaultGate screens messages while runtime config cannot be loaded.
	defaultGate *abuse.Gate

	cacheMu      sync.RWMutex
	cacheLoaded  bool
	pinnedPrompt string
	openaiModel  string
	gate         *abuse.Gate
}

func NewReplyService(d Deps, s Settings) (*ReplyService, error) {
	switch {
	case d.Params == nil:
		return nil, errors.New("usecase: param getter must not be nil")
	case d.LLM == nil:
		return nil, errors.New("usecase: llm client must not be nil")
	case d.Media == nil:
		return nil, errors.New("usecase: media fetcher must not be nil")
	case d.Turns == nil:
		return nil, errors.New("usecase: turn store must not be nil")
	case d.Abuse == nil:
		return nil, errors.New("usecase: abuse logger must not be nil")
	case d.Documents == nil:
		return nil, errors.New("usecase: document store must not be nil")
	case d.Continuations == nil:
		return nil, errors.New("usecase: continuations must not be nil")
	}
	s.ParamPrefix = strings.TrimRight(strings.TrimSpace(s.ParamPrefix), "/")
	if s.ParamPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if s.ChunkMaxLength <= 0 {
		s.ChunkMaxLength = chunk.DefaultMaxLength
	}
	if s.MaxContextItems <= 0 {
		s.MaxContextItems = defaultMaxContext
	}
	if s.MaxQuestionLength <= 0 {
		s.MaxQuestionLength = defaultMaxQuestion
	}
	s.PublicBaseURL = strings.TrimRight(strings.TrimSpace(s.PublicBaseURL), "/")
	if s.DefaultModel == "" {
		s.DefaultModel = defaultModel
	}
	defaultGate, err := abuse.NewGate(abuse.DefaultTerms)
	if err != nil {
		return nil, fmt.Errorf("usecase: build default abuse gate: %w", err)
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ReplyService{
		params:      d.Params,
		llm:         d.LLM,
		media:       d.Media,
		turns:       d.Turns,
		abuseLog:    d.Abuse,
		docs:        d.Documents,
		cont:        d.Continuations,
		logger:      logger,
		now:         time.Now,
		settings:    s,
		moderation:  s.Moderation,
		defaultGate: defaultGate,
	}, nil
}

// Reply routes msg and returns the text to send back. A non-nil error is a
// *Error explaining a fallback reply; the returned text is still meant to be
// delivered.
//
// Paging through a stored answer does not depend on runtime config: when it
// cannot be loaded, messages are screened with the default terms and
// "continue" is still served.
func (s *ReplyService) Reply(ctx context.Context, msg domain.InboundMessage) (string, error) {
	sender := strings.TrimSpace(msg.Sender)
	if sender == "" {
		return "", newError(ErrorInvalidInput, "missing_sender", nil)
	}
	gate := s.defaultGate
	cfgErr := s.ensureConfig(ctx)
	if cfgErr != nil {
		s.logger.WarnContext(ctx, "runtime config unavailable, using default abuse terms", "err", cfgErr)
	} else {
		gate = s.gate
	}

	text := strings.TrimSpace(msg.Body)
	if text == "" && msg.HasAudio() {
		transcript, err := s.transcribe(ctx, msg)
		if err != nil {
			return ReplyVoiceFailed, err
		}
		text = transcript
	}
	if text == "" {
		return ReplyUnclear, newError(ErrorInvalidInput, "empty_message", nil)
	}

	if term, hit := gate.Check(text); hit {
		s.recordAbuse(ctx, sender, text, term)
		return abuse.Notice, newError(ErrorBlocked, "banned_term", nil)
	}
	if strings.EqualFold(text, continueCommand) {
		return s.cont.Next(ctx, sender), nil
	}
	if cfgErr != nil {
		return ReplyChatFailed, newError(ErrorInternal, "ssm_load_error", cfgErr)
	}
	if utf8.RuneCountInString(text) > s.settings.MaxQuestionLength {
		return fmt.Sprintf("Please keep your question under %d characters.", s.settings.MaxQuestionLength),
			newError(ErrorInvalidInput, "question_too_long", nil)
	}
	if s.moderation {
		flagged, err := s.llm.Moderate(ctx, text)
		if err != nil {
			return ReplyChatFailed, upstreamError("moderation", err)
		}
		if flagged {
			s.recordAbuse(ctx, sender, text, "moderation")
			return abuse.Notice, newError(ErrorBlocked, "moderation_flagged", nil)
		}
	}

	if strings.HasPrefix(strings.ToLower(text), draftPrefix) {
		return s.draft(ctx, text)
	}
	return s.answer(ctx, sender, text)
}

// Document returns a generated file by name. Names that could not have been
// generated are reported as missing.
func (s *ReplyService) Document(ctx context.Context, name string) (domain.Document, bool, error) {
	if !documentName.MatchString(name) {
		return domain.Document{}, false, nil
	}
	doc, ok, err := s.docs.GetDocument(ctx, name)
	if err != nil {
		return domain.Document{}, false, newError(ErrorInternal, "document_read_error", err)
	}
	return doc, ok, nil
}

func (s *ReplyService) answer(ctx context.Context, sender, question string) (string, error) {
	history, err := s.turns.GetHistory(ctx, sender, s.settings.MaxContextItems)
	if err != nil {
		s.logger.WarnContext(ctx, "history unavailable, answering without context", "sender", sender, "err", err)
		history = nil
	}

	raw, err := s.llm.Chat(ctx, s.openaiModel, buildChatMessages(s.pinnedPrompt, question, history))
	if err != nil {
		return ReplyChatFailed, upstreamError("openai", err)
	}
	answer := strings.TrimSpace(raw)
	if utf8.RuneCountInString(answer) < minAnswerRunes {
		return ReplyUnclear, newError(ErrorUpstream, "answer_too_short", nil)
	}

	if err := s.turns.SaveTurn(ctx, sender, question, answer); err != nil {
		s.logger.WarnContext(ctx, "failed to save turn", "sender", sender, "err", err)
	}

	head, hasMore := s.cont.Deliver(ctx, sender, answer, s.settings.ChunkMaxLength)
	if hasMore {
		head += ContinueHint
	}
	return head, nil
}

func (s *ReplyService) draft(ctx context.Context, request string) (string, error) {
	raw, err := s.llm.Chat(ctx, s.openaiModel, buildDraftMessages(s.pinnedPrompt, request))
	if err != nil {
		return ReplyDraftFailed, upstreamError("draft", err)
	}
	body := docgen.CleanDraft(raw)
	if body == "" {
		return ReplyDraftFailed, newError(ErrorUpstream, "draft_empty", nil)
	}
	file, err := docgen.RenderResolution(body)
	if err != nil {
		return ReplyDraftFailed, newError(ErrorInternal, "docgen_error", err)
	}

	name := fmt.Sprintf("resolution-%d-%s.docx", s.now().UnixMilli(), newUUID()[:8])
	if err := s.docs.PutDocument(ctx, domain.Document{
		Name:        name,
		ContentType: docgen.ContentType,
		Body:        file,
	}); err != nil {
		return ReplyDraftFailed, newError(ErrorInternal, "document_write_error", err)
	}
	return draftReadyPrefix + s.settings.PublicBaseURL + "/files/" + name, nil
}

func (s *ReplyService) transcribe(ctx context.Context, msg domain.InboundMessage) (string, error) {
	media, err := s.media.Fetch(ctx, msg.MediaURL, msg.MediaType)
	if err != nil {
		return "", newError(ErrorUpstream, "media_fetch_error", err)
	}
	text, err := s.llm.Transcribe(ctx, media.Filename, media.ContentType, bytes.NewReader(media.Body))
	if err != nil {
		return "", upstreamError("transcription", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", newError(ErrorUpstream, "transcription_empty", nil)
	}
	return text, nil
}

func (s *ReplyService) recordAbuse(ctx context.Context, sender, message, term string) {
	s.logger.WarnContext(ctx, "blocked message", "sender", sender, "term", term, "message", message)
	if err := s.abuseLog.LogAbuse(ctx, sender, message, term); err != nil {
		s.logger.ErrorContext(ctx, "failed to log abuse", "sender", sender, "err", err)
	}
}

func (s *ReplyService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	pinnedPrompt, openaiModel, gate, err := s.loadSSMParams(ctx)
	if err != nil {
		return err
	}

	s.pinnedPrompt = pinnedPrompt
	s.openaiModel = openaiModel
	s.gate = gate
	s.cacheLoaded = true
	return nil
}

// loadSSMParams reads the runtime settings. Every parameter is optional and
// falls back to a built-in default.
func (s *ReplyService) loadSSMParams(ctx context.Context) (pinnedPrompt, openaiModel string, gate *abuse.Gate, err error) {
	prefix := s.settings.ParamPrefix

	pinnedPrompt, _, err = paramstore.GetOptional(ctx, s.params, prefix+"/pinned_prompt")
	if err != nil {
		return "", "", nil, fmt.Errorf("usecase: load pinned prompt: %w", err)
	}
	openaiModel, _, err = paramstore.GetOptional(ctx, s.params, prefix+"/config/openai_model")
	if err != nil {
		return "", "", nil, fmt.Errorf("usecase: load openai model: %w", err)
	}
	openaiModel = strings.TrimSpace(openaiModel)
	if openaiModel == "" {
		openaiModel = s.settings.DefaultModel
	}

	terms := abuse.DefaultTerms
	raw, ok, err := paramstore.GetOptional(ctx, s.params, prefix+"/abuse_patterns")
	if err != nil {
		return "", "", nil, fmt.Errorf("usecase: load abuse patterns: %w", err)
	}
	if ok {
		parsed, err := abuse.ParseTerms(raw)
		if err != nil {
			return "", "", nil, fmt.Errorf("usecase: load abuse patterns: %w", err)
		}
		if len(parsed) > 0 {
			terms = parsed
		}
	}
	gate, err = abuse.NewGate(terms)
	if err != nil {
		return "", "", nil, fmt.Errorf("usecase: build abuse gate: %w", err)
	}
	return pinnedPrompt, openaiModel, gate, nil
}

func upstreamError(op string, err error) *Error {
	if status, ok := upstreamStatusCode(err); ok && status == 429 {
		return newError(ErrorRateLimited, op+"_rate_limited", err)
	}
	return newError(ErrorUpstream, op+"_error", err)
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}

// Package app wires configuration, AWS clients and stores into a ready
// Handler. Both binaries build through it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/redis/go-redis/v9"

	"cs-paralegal-bot/handler"
	"cs-paralegal-bot/internal/config"
	"cs-paralegal-bot/internal/continuation"
	"cs-paralegal-bot/internal/integrations/openai"
	"cs-paralegal-bot/internal/integrations/paramstore"
	"cs-paralegal-bot/internal/integrations/twilio"
	"cs-paralegal-bot/internal/repository"
	"cs-paralegal-bot/internal/usecase"
)

const redisKeyPrefix = "continuation:"

// App is the assembled bot. Close releases connections held by the chosen
// continuation backend.
type App struct {
	Handler      *handler.Handler
	Controller   *continuation.Controller
	ReplyService *usecase.ReplyService

	closers []io.Closer
}

func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Build assembles the bot from cfg. awsCfg is used for SSM and, when a state
// table is configured, DynamoDB.
func Build(ctx context.Context, cfg config.Config, awsCfg aws.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a, stateClient, err := buildController(ctx, cfg, awsCfg, logger)
	if err != nil {
		return nil, err
	}

	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, fmt.Errorf("app: create SSM client: %w", err)
	}
	llm, err := openai.NewClient(params, cfg.ParamPrefix)
	if err != nil {
		return nil, fmt.Errorf("app: create OpenAI client: %w", err)
	}
	twilioCreds, err := twilio.NewCredentialSource(params, cfg.ParamPrefix)
	if err != nil {
		return nil, fmt.Errorf("app: create twilio credential source: %w", err)
	}
	media, err := twilio.NewMediaFetcher(twilioCreds)
	if err != nil {
		return nil, fmt.Errorf("app: create media fetcher: %w", err)
	}

	deps := usecase.Deps{
		Params:        params,
		LLM:           llm,
		Media:         media,
		Continuations: a.Controller,
		Logger:        logger,
	}
	if stateClient != nil {
		deps.Turns, deps.Abuse, deps.Documents = stateClient, stateClient, stateClient
	} else {
		logger.Warn("no state table configured, keeping turns and documents in memory")
		mem := repository.NewMemoryState()
		deps.Turns, deps.Abuse, deps.Documents = mem, mem, mem
	}

	svc, err := usecase.NewReplyService(deps, usecase.Settings{
		ParamPrefix:       cfg.ParamPrefix,
		ChunkMaxLength:    cfg.ChunkMaxLength,
		MaxContextItems:   cfg.MaxContextItems,
		MaxQuestionLength: cfg.MaxQuestionLength,
		PublicBaseURL:     cfg.PublicBaseURL,
		DefaultModel:      cfg.OpenAIModel,
		Moderation:        cfg.ModerationEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("app: create reply service: %w", err)
	}
	handlerOpts := []handler.Option{handler.WithLogger(logger)}
	if cfg.VerifySignature {
		verifier, err := twilio.NewSignatureVerifier(twilioCreds)
		if err != nil {
			return nil, fmt.Errorf("app: create signature verifier: %w", err)
		}
		handlerOpts = append(handlerOpts, handler.WithSignatureVerifier(verifier, cfg.WebhookURL))
	} else {
		logger.Warn("webhook signature verification is disabled")
	}
	h, err := handler.NewHandler(svc, handlerOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: create handler: %w", err)
	}

	a.Handler = h
	a.ReplyService = svc
	return a, nil
}

// BuildController assembles only the continuation controller, for operator
// commands that do not talk to the model.
func BuildController(ctx context.Context, cfg config.Config, awsCfg aws.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a, _, err := buildController(ctx, cfg, awsCfg, logger)
	return a, err
}

func buildController(ctx context.Context, cfg config.Config, awsCfg aws.Config, logger *slog.Logger) (*App, *repository.Client, error) {
	a := &App{}
	var stateClient *repository.Client
	if cfg.StateTable != "" {
		c, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
		if err != nil {
			return nil, nil, fmt.Errorf("app: create state client: %w", err)
		}
		stateClient = c
	}

	store, err := a.chunkStore(ctx, cfg, stateClient, logger)
	if err != nil {
		return nil, nil, err
	}
	ctrl, err := continuation.NewController(store,
		continuation.WithStoreTimeout(cfg.StoreTimeout),
		continuation.WithLogger(logger),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("app: create continuation controller: %w", err)
	}
	a.Controller = ctrl
	return a, stateClient, nil
}

func (a *App) chunkStore(ctx context.Context, cfg config.Config, stateClient *repository.Client, logger *slog.Logger) (continuation.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendDynamo:
		if stateClient == nil {
			return nil, errors.New("app: dynamodb backend requires a state table")
		}
		return stateClient.ChunkStore(cfg.ContinuationTTL, logger), nil
	case config.BackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("app: parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not reachable at startup", "err", err)
		}
		a.closers = append(a.closers, client)
		return repository.NewRedisChunkStore(client, redisKeyPrefix, cfg.ContinuationTTL, logger)
	case config.BackendMemory:
		return continuation.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("app: unknown store backend %q", cfg.StoreBackend)
	}
}

func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

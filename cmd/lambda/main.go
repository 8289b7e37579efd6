package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"cs-paralegal-bot/internal/app"
	"cs-paralegal-bot/internal/config"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	logger := app.NewLogger(os.Stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	bot, err := app.Build(ctx, cfg, awsCfg, logger)
	if err != nil {
		logger.Error("failed to build bot", "err", err)
		os.Exit(1)
	}
	defer bot.Close()

	lambda.Start(bot.Handler.Handle)
}

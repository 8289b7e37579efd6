package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"cs-paralegal-bot/handler"
	"cs-paralegal-bot/internal/app"
	"cs-paralegal-bot/internal/chunk"
	"cs-paralegal-bot/internal/config"
)

const shutdownTimeout = 10 * time.Second

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "chatbot",
		Short:        "Company Secretary paralegal bot for WhatsApp",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().String("env-file", ".env", "Optional .env file loaded before reading the environment.")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newClearCmd())
	cmd.AddCommand(newSplitCmd())
	return cmd
}

func loadConfig(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.Load(envFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := app.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the webhook over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = ":" + cfg.Port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				return fmt.Errorf("load AWS config: %w", err)
			}
			bot, err := app.Build(ctx, cfg, awsCfg, logger)
			if err != nil {
				return err
			}
			defer bot.Close()

			gin.SetMode(gin.ReleaseMode)
			srv := &http.Server{
				Addr:              addr,
				Handler:           handler.NewRouter(bot.Handler),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("listening", "addr", addr, "backend", cfg.StoreBackend)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			logger.Info("shutting down")
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().String("addr", "", "Listen address (default \":$PORT\").")
	return cmd
}

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <sender>",
		Short: "Drop a sender's pending continuation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			awsCfg, err := awsconfig.LoadDefaultConfig(cmd.Context())
			if err != nil {
				return fmt.Errorf("load AWS config: %w", err)
			}
			bot, err := app.BuildController(cmd.Context(), cfg, awsCfg, logger)
			if err != nil {
				return err
			}
			defer bot.Close()

			sender := strings.TrimSpace(args[0])
			if err := bot.Controller.Clear(cmd.Context(), sender); err != nil {
				return fmt.Errorf("clear %s: %w", sender, err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", sender)
			return nil
		},
	}
}

func newSplitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "split",
		Short: "Show how text read from stdin would be paged",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			maxLength, _ := cmd.Flags().GetInt("max")
			raw, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			return printChunks(cmd.OutOrStdout(), chunk.Split(string(raw), maxLength))
		},
	}
	cmd.Flags().Int("max", chunk.DefaultMaxLength, "Maximum runes per message.")
	return cmd
}

func printChunks(w io.Writer, pieces []string) error {
	for i, p := range pieces {
		if _, err := fmt.Fprintf(w, "--- %d/%d (%d runes) ---\n%s\n", i+1, len(pieces), utf8.RuneCountInString(p), p); err != nil {
			return err
		}
	}
	return nil
}

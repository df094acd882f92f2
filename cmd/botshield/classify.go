package main

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/qaforge/botshield/infrastructure/cache"
	"github.com/qaforge/botshield/infrastructure/middleware"
	"github.com/qaforge/botshield/internal/domain"
)

func newClassifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify a single request and print the verdict",
		Long: `Classify a single detection request and print the consensus verdict
as JSON. The request is read from --file (or stdin with "-"); for quick
checks, --content classifies a bare comment body without metadata.`,
		Example: `  # Classify a request document
  botshield classify --file request.json

  # Pipe a request through stdin
  cat request.json | botshield classify --file -

  # Quick check of a bare comment body
  botshield classify --content "I am a bot, and this action was performed automatically."`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			file, _ := cmd.Flags().GetString("file")
			content, _ := cmd.Flags().GetString("content")
			priority, _ := cmd.Flags().GetString("priority")

			req, err := readRequest(file, content)
			if err != nil {
				return err
			}
			if priority != "" {
				req.Priority = domain.Priority(priority)
			}
			if req.ClientID == "" {
				req.ClientID = "cli"
			}

			memCache := cache.NewMemoryCache()
			defer memCache.Close()
			limiter, err := middleware.NewSlidingWindowLimiter(middleware.RateLimiterConfig{
				RequestsPerMinute: cfg.RequestsPerMinute,
				RequestsPerHour:   cfg.RequestsPerHour,
				Burst:             cfg.Burst,
			})
			if err != nil {
				return err
			}

			engine, err := buildEngine(cfg.Engine, memCache, limiter,
				middleware.NewPrometheusMetrics(), zap.NewNop())
			if err != nil {
				return err
			}

			verdict, err := engine.Classify(cmd.Context(), req)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(verdict, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().String("file", "", `request JSON file ("-" for stdin)`)
	cmd.Flags().String("content", "", "bare comment body to classify")
	cmd.Flags().String("priority", "", "priority override (low, medium, high, critical)")
	return cmd
}

func readRequest(file, content string) (*domain.DetectionRequest, error) {
	if content != "" {
		return &domain.DetectionRequest{Content: content}, nil
	}
	if file == "" {
		return nil, fmt.Errorf("either --file or --content is required")
	}

	var data []byte
	var err error
	if file == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return nil, fmt.Errorf("reading request: %w", err)
	}

	var req domain.DetectionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parsing request: %w", err)
	}
	return &req, nil
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"gemini-gateway/internal/config"
	"gemini-gateway/internal/logging"
	"gemini-gateway/internal/metrics"
	"gemini-gateway/internal/provider/gemini"
	"gemini-gateway/internal/server"
)

type serveOptions struct {
	Config string `short:"c" long:"config" value-name:"PATH" description:"Path to YAML configuration file; environment variables override it"`
	Port   int    `short:"p" long:"port" value-name:"PORT" description:"Override server port from configuration"`
}

// parseServeOptions returns help=true when usage was printed and the command
// should exit without starting.
func parseServeOptions(args []string) (opts serveOptions, help bool, err error) {
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.Name = "gemini-gateway serve"

	rest, err := parser.ParseArgs(args)
	if err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			parser.WriteHelp(os.Stdout)
			return opts, true, nil
		}
		return opts, false, fmt.Errorf("parse serve flags: %w", err)
	}
	if len(rest) > 0 {
		return opts, false, fmt.Errorf("unexpected arguments: %v", rest)
	}
	if opts.Port < 0 || opts.Port > 65535 {
		return opts, false, fmt.Errorf("port override %d must be a valid TCP port", opts.Port)
	}
	return opts, false, nil
}

func loadConfig(opts serveOptions) (config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return config.Config{}, err
	}
	if opts.Port != 0 {
		cfg.Server.Port = opts.Port
	}
	return cfg, nil
}

func serve(ctx context.Context, args []string) error {
	opts, help, err := parseServeOptions(args)
	if err != nil || help {
		return err
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	client, err := gemini.New(cfg.Upstream, gemini.NewHTTPClient(), logging.Component(logger, "gemini"))
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, client, logger, metrics.New())
	if err != nil {
		return err
	}

	logger.Info("configuration loaded",
		zap.String("config_file", opts.Config),
		zap.Int("port", cfg.Server.Port),
		zap.String("base_url", cfg.Upstream.BaseURL),
		zap.String("model", cfg.Upstream.Model),
	)
	return srv.Run(ctx)
}

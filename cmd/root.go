package cmd

import (
	"context"
	"fmt"
	"strings"
)

const usage = `gemini-gateway serves the OpenAI chat-completions API on top of Gemini.

Usage:
  gemini-gateway serve [flags]

Commands:
  serve    Start the HTTP server

Flags:
  -h, --help  Show this help message

Environment:
  GEMINI_API_KEY   Upstream API key (required)
  GEMINI_BASE_URL  Upstream API root
  GEMINI_MODEL     Upstream model name
  PORT             Listening port
  LOG_LEVEL        debug, info, warn or error`

// Execute runs the CLI dispatcher with the provided arguments.
func Execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return printUsage()
	}

	switch args[0] {
	case "serve":
		return serve(ctx, args[1:])
	case "help", "-h", "--help":
		return printUsage()
	default:
		return fmt.Errorf("unknown command %q\n\n%s", args[0], usage)
	}
}

func printUsage() error {
	fmt.Println(strings.TrimSpace(usage))
	return nil
}

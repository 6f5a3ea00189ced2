package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mmeerrkkaa/openrouter-kit/internal/orchestrator"
	"github.com/mmeerrkkaa/openrouter-kit/pkg/orkit"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "chat":
		runChat(os.Args[2:])
	case "stream":
		runStream(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: orkit-example <chat|stream> [options]")
}

func runChat(args []string) {
	flags := flag.NewFlagSet("chat", flag.ExitOnError)
	prompt := flags.String("prompt", "Say hello in one sentence.", "User prompt")
	model := flags.String("model", "openai/gpt-4o-mini", "Model slug")
	_ = flags.Parse(args)

	client := newClient()
	defer client.Close()

	result, err := client.Chat(context.Background(), orkit.ChatRequest{
		Model:  *model,
		Prompt: *prompt,
	})
	if err != nil {
		fail(err)
	}
	printResult(result)
}

func runStream(args []string) {
	flags := flag.NewFlagSet("stream", flag.ExitOnError)
	prompt := flags.String("prompt", "Count from one to five.", "User prompt")
	model := flags.String("model", "openai/gpt-4o-mini", "Model slug")
	_ = flags.Parse(args)

	client := newClient()
	defer client.Close()

	result, err := client.ChatStream(context.Background(), orkit.ChatRequest{
		Model:  *model,
		Prompt: *prompt,
	}, streamCallbacksToStdout())
	if err != nil {
		fail(err)
	}
	fmt.Println()
	printResult(result)
}

func newClient() *orkit.Client {
	apiKey := os.Getenv("OPENROUTER_API_KEY")
	if apiKey == "" {
		fail(fmt.Errorf("OPENROUTER_API_KEY must be set"))
	}

	client, err := orkit.NewClient(context.Background(), orkit.Config{
		APIKey:               apiKey,
		BaseURL:              envOr("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		DefaultModel:         envOr("OPENROUTER_MODEL", "openai/gpt-4o-mini"),
		Referer:              "https://github.com/mmeerrkkaa/openrouter-kit",
		Title:                "orkit-example",
		Timeout:              60 * time.Second,
		MaxToolCalls:         8,
		PriceRefreshInterval: 30 * time.Minute,
		Logger:               slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	})
	if err != nil {
		fail(err)
	}
	return client
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func streamCallbacksToStdout() orchestrator.StreamCallbacks {
	return orchestrator.StreamCallbacks{
		OnContent: func(delta string) { fmt.Print(delta) },
		OnToolCallExecuting: func(name, args string) {
			fmt.Fprintf(os.Stderr, "\n[tool call] %s(%s)\n", name, args)
		},
		OnError: func(err error) { fail(err) },
	}
}

func printResult(result *orkit.ChatCompletionResult) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(summary{
		Model:        result.Model,
		FinishReason: result.FinishReason,
		ToolCalls:    result.ToolCallsCount,
		Usage:        result.Usage,
		Cost:         result.Cost,
		DurationMs:   result.DurationMs,
	})
}

type summary struct {
	Model        string      `json:"model"`
	FinishReason string      `json:"finishReason"`
	ToolCalls    int         `json:"toolCalls"`
	Usage        orkit.Usage `json:"usage"`
	Cost         *float64    `json:"cost,omitempty"`
	DurationMs   int64       `json:"durationMs"`
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

// Command chat is an interactive terminal client for the sales assistant.
// It wires the full stack locally (Redis vector store, OpenRouter embeddings
// and completions) and keeps the conversation history across turns, which
// makes it the quickest way to exercise the assistant without the API server.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/BusinessTrucks/btagent/engine/chat"
	"github.com/BusinessTrucks/btagent/engine/retrieval"
	"github.com/BusinessTrucks/btagent/engine/semantic"
	"github.com/BusinessTrucks/btagent/pkg/openrouter"
)

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	redisURL := envOr("REDIS_URL", "redis://localhost:6379/0")
	embedModel := envOr("EMBED_MODEL", "text-embedding-3-large")
	chatModel := envOr("CHAT_MODEL", "google/gemini-2.5-pro")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad REDIS_URL:", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		fmt.Fprintln(os.Stderr, "redis unavailable:", err)
		os.Exit(1)
	}

	provider := openrouter.New(openrouter.Config{
		APIKey:     os.Getenv("OPENROUTER_API_KEY"),
		EmbedModel: embedModel,
		ChatModel:  chatModel,
	})

	store := semantic.NewRedisStore(rdb, semantic.DefaultPrefix)
	pipeline := retrieval.New(provider, store, retrieval.DefaultOptions(), logger, nil)
	assistant := chat.New(pipeline, provider, chat.DefaultOptions(), logger)

	count, err := store.Count(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "vector store unavailable:", err)
		os.Exit(1)
	}
	fmt.Printf("Business Trucks assistant. %d vehicles in stock. Empty line exits.\n\n", count)

	var history []openrouter.Message
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("you> ")
		if !scanner.Scan() {
			break
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			break
		}

		answer, err := assistant.Ask(ctx, question, history)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		fmt.Printf("\nanna> %s\n", answer.Text)
		if len(answer.Matches) > 0 {
			fmt.Println("\nmatched inventory:")
			for _, m := range answer.Matches {
				rec := m.Record
				fmt.Printf("  - %s %s (%s) score=%.2f\n",
					rec.Attr("make"), rec.Attr("model"), rec.Attr("price"), m.Score)
			}
		}
		fmt.Println()

		history = append(history,
			openrouter.Message{Role: "user", Content: question},
			openrouter.Message{Role: "assistant", Content: answer.Text},
		)
		// Keep the prompt bounded on long sessions.
		if len(history) > 20 {
			history = history[len(history)-20:]
		}
	}
}
